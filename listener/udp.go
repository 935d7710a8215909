package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"secwatch/syslog"
)

// maxConcurrentDatagrams caps the datagram-processing goroutines; at
// capacity further datagrams are dropped, which matches syslog's
// fire-and-forget transport semantics.
const maxConcurrentDatagrams = 100

// UDPListener receives syslog datagrams. One datagram is one message; no
// framing and no ordering guarantee, by design.
type UDPListener struct {
	port     int
	ingestor Ingestor

	mu    sync.Mutex
	state State
	conn  *net.UDPConn

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewUDPListener(port int, ingestor Ingestor) *UDPListener {
	return &UDPListener{
		port:     port,
		ingestor: ingestor,
		state:    StateStopped,
		quit:     make(chan struct{}),
	}
}

// Start binds the port and begins receiving. A bind failure leaves the
// listener stopped and is returned to the supervisor.
func (l *UDPListener) Start(ctx context.Context) error {
	l.setState(StateStarting)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: l.port})
	if err != nil {
		l.setState(StateStopped)
		return fmt.Errorf("bind udp port %d: %w", l.port, err)
	}
	l.conn = conn
	l.setState(StateRunning)

	logrus.WithField("port", l.port).Info("UDP listener is running")

	l.wg.Add(1)
	go l.readLoop(ctx)
	return nil
}

// Stop closes the socket and waits for in-flight datagram handlers.
func (l *UDPListener) Stop() {
	l.setState(StateStopping)
	close(l.quit)
	l.conn.Close()
	l.wg.Wait()
	l.setState(StateStopped)

	logrus.WithField("port", l.port).Info("UDP listener stopped")
}

// Addr reports the bound address, useful when starting on port 0.
func (l *UDPListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// State reports the listener lifecycle state.
func (l *UDPListener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *UDPListener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *UDPListener) readLoop(ctx context.Context) {
	defer l.wg.Done()

	semaphore := make(chan struct{}, maxConcurrentDatagrams)
	buf := make([]byte, 64*1024)

	for {
		l.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				select {
				case <-l.quit:
					return
				default:
					continue
				}
			}
			select {
			case <-l.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithError(err).Error("Error reading from UDP")
			continue
		}

		message := string(buf[:n])
		if strings.TrimSpace(message) == "" {
			continue
		}
		sender := addr.String()

		select {
		case semaphore <- struct{}{}:
			l.wg.Add(1)
			go func() {
				defer func() {
					<-semaphore
					l.wg.Done()
				}()
				parsed := syslog.NewParser().Parse(message, sender)
				if _, err := l.ingestor.IngestParsed(ctx, parsed); err != nil {
					logrus.WithError(err).WithField("source", parsed.Source).
						Error("Failed to ingest UDP message")
				}
			}()
		default:
			logrus.Warn("UDP datagram processing at capacity, dropping datagram")
		}
	}
}
