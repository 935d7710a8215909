package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"secwatch/syslog"
)

// maxConcurrentConnections caps simultaneous TCP connections with a
// semaphore; connections beyond the cap wait in Accept order.
const maxConcurrentConnections = 100

const readDeadline = 1 * time.Second

// TCPListener accepts syslog over TCP. Each connection runs in its own
// goroutine; messages within one connection are framed and processed
// sequentially, in receive order, so channel statistics for a single sender
// never go backwards.
type TCPListener struct {
	port     int
	ingestor Ingestor

	mu    sync.Mutex
	state State
	ln    net.Listener

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewTCPListener(port int, ingestor Ingestor) *TCPListener {
	return &TCPListener{
		port:     port,
		ingestor: ingestor,
		state:    StateStopped,
		quit:     make(chan struct{}),
	}
}

// Start binds the port and begins accepting. A bind failure leaves the
// listener stopped and is returned to the supervisor.
func (l *TCPListener) Start(ctx context.Context) error {
	l.setState(StateStarting)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", l.port))
	if err != nil {
		l.setState(StateStopped)
		return fmt.Errorf("bind tcp port %d: %w", l.port, err)
	}
	l.ln = ln
	l.setState(StateRunning)

	logrus.WithField("port", l.port).Info("TCP listener is running")

	l.wg.Add(1)
	go l.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and waits for active connections to flush their
// buffers and finish.
func (l *TCPListener) Stop() {
	l.setState(StateStopping)
	close(l.quit)
	l.ln.Close()
	l.wg.Wait()
	l.setState(StateStopped)

	logrus.WithField("port", l.port).Info("TCP listener stopped")
}

// Addr reports the bound address, useful when starting on port 0.
func (l *TCPListener) Addr() net.Addr {
	return l.ln.Addr()
}

// State reports the listener lifecycle state.
func (l *TCPListener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *TCPListener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *TCPListener) acceptLoop(ctx context.Context) {
	defer l.wg.Done()

	semaphore := make(chan struct{}, maxConcurrentConnections)

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithError(err).Error("Error accepting TCP connection")
			continue
		}

		semaphore <- struct{}{}
		l.wg.Add(1)

		go func(c net.Conn) {
			defer func() {
				<-semaphore
				l.wg.Done()
			}()
			l.handleConnection(ctx, c)
		}(conn)
	}
}

// handleConnection drives one connection through the framer until the peer
// disconnects or the listener stops. The framer's close-flush makes sure a
// final message without a trailing delimiter still gets through.
func (l *TCPListener) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sender := conn.RemoteAddr().String()
	framer := syslog.NewFramer()
	parser := syslog.NewParser()
	buf := make([]byte, 64*1024)

	flush := func() {
		if msg, ok := framer.Flush(); ok {
			l.process(ctx, parser, msg, sender)
		}
	}

	for {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, err := conn.Read(buf)

		if n > 0 {
			for _, msg := range framer.Push(buf[:n]) {
				l.process(ctx, parser, msg, sender)
			}
		}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				select {
				case <-l.quit:
					flush()
					return
				default:
					continue
				}
			}
			// EOF or a real socket error: either way the connection is done.
			flush()
			return
		}

		select {
		case <-l.quit:
			flush()
			return
		default:
		}
	}
}

func (l *TCPListener) process(ctx context.Context, parser *syslog.Parser, message, sender string) {
	parsed := parser.Parse(message, sender)
	if _, err := l.ingestor.IngestParsed(ctx, parsed); err != nil {
		logrus.WithError(err).WithField("source", parsed.Source).
			Error("Failed to ingest TCP message")
	}
}
