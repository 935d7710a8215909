// Package listener owns the syslog network intake: the TCP and UDP
// listeners and the supervisor that manages their lifecycles.
package listener

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"secwatch/config"
	"secwatch/models"
)

// State of one protocol listener.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Ingestor is the downstream pipeline a listener feeds parsed messages into.
type Ingestor interface {
	IngestParsed(ctx context.Context, parsed models.ParsedMessage) (string, error)
}

// SettingsSource provides the listener configuration from the settings
// store.
type SettingsSource interface {
	FindSettings(ctx context.Context, keys []string) (map[string]string, error)
}

// Supervisor owns the TCP and UDP listener lifecycles. The two protocols
// are independent: a bind failure on one is logged and leaves only that
// listener stopped.
type Supervisor struct {
	settings SettingsSource
	ingestor Ingestor

	mu  sync.Mutex
	tcp *TCPListener
	udp *UDPListener
}

func NewSupervisor(settings SettingsSource, ingestor Ingestor) *Supervisor {
	return &Supervisor{settings: settings, ingestor: ingestor}
}

// Start loads the listener settings and starts the enabled listeners.
// Unreadable settings fall back to defaults (port 514, both protocols on)
// rather than blocking intake.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.loadSettings(ctx)

	if cfg.TCPEnabled {
		tcp := NewTCPListener(cfg.TCPPort, s.ingestor)
		if err := tcp.Start(ctx); err != nil {
			logrus.WithError(err).WithField("port", cfg.TCPPort).
				Error("Failed to start TCP listener")
		} else {
			s.tcp = tcp
		}
	}

	if cfg.UDPEnabled {
		udp := NewUDPListener(cfg.UDPPort, s.ingestor)
		if err := udp.Start(ctx); err != nil {
			logrus.WithError(err).WithField("port", cfg.UDPPort).
				Error("Failed to start UDP listener")
		} else {
			s.udp = udp
		}
	}
}

// Stop shuts both listeners down. In-flight connections get to finish their
// current message; trailing partial TCP buffers are flushed on the way out.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tcp != nil {
		s.tcp.Stop()
		s.tcp = nil
	}
	if s.udp != nil {
		s.udp.Stop()
		s.udp = nil
	}
}

// Restart applies changed settings by stopping and starting again.
func (s *Supervisor) Restart(ctx context.Context) {
	s.Stop()
	s.Start(ctx)
}

// TCPState reports the TCP listener state.
func (s *Supervisor) TCPState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcp == nil {
		return StateStopped
	}
	return s.tcp.State()
}

// UDPState reports the UDP listener state.
func (s *Supervisor) UDPState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udp == nil {
		return StateStopped
	}
	return s.udp.State()
}

func (s *Supervisor) loadSettings(ctx context.Context) config.ListenerSettings {
	values, err := s.settings.FindSettings(ctx, config.ListenerSettingKeys)
	if err != nil {
		logrus.WithError(err).Warn("Could not read listener settings; using defaults")
		return config.DefaultListenerSettings()
	}
	return config.ListenerSettingsFrom(values)
}
