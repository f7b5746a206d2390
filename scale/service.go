package scale

import (
	"sync"
	"time"

	"github.com/scalewire/go-weighbridge/serialport"
	"github.com/scalewire/go-weighbridge/weight"
)

// Service is the surface consumed by HTTP handlers and the daemon. It owns
// one session at a time and exposes exactly the operations collaborators
// need, so they never touch the device directly.
type Service struct {
	mu      sync.RWMutex
	cfg     *SessionConfig
	session *Session
}

// NewService creates a service around a fresh session for cfg.
func NewService(cfg *SessionConfig) *Service {
	return &Service{
		cfg:     cfg,
		session: NewSession(cfg),
	}
}

// current returns the session currently serving requests.
func (svc *Service) current() *Session {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	return svc.session
}

// Open acquires the device without starting the continuous loop, for
// one-shot sampling deployments.
func (svc *Service) Open() error {
	return svc.current().Open()
}

// Start acquires the device and launches the continuous read loop.
func (svc *Service) Start() error {
	session := svc.current()
	if err := session.Open(); err != nil {
		return err
	}

	return session.StartLoop()
}

// Stop closes the current session. The service must be reconfigured with
// ApplySessionConfig before it can serve again.
func (svc *Service) Stop() error {
	return svc.current().Close()
}

// LatestCached returns the most recently published reading, if any.
func (svc *Service) LatestCached() (weight.Reading, bool) {
	return svc.current().LatestCached()
}

// Fresh samples a new reading, waiting at most timeout. A nonpositive
// timeout uses the configured default.
func (svc *Service) Fresh(timeout time.Duration) (weight.Reading, error) {
	return svc.current().Fresh(timeout)
}

// Health probes the current session with the configured probe timeout.
func (svc *Service) Health() Health {
	return svc.current().Health(0)
}

// Restart tears down and reopens the device on the current session.
func (svc *Service) Restart() error {
	return svc.current().Restart()
}

// State snapshots the current session.
func (svc *Service) State() SessionState {
	return svc.current().State()
}

// GetMetrics returns the current session's metrics.
func (svc *Service) GetMetrics() *SessionMetrics {
	return svc.current().GetMetrics()
}

// ListPorts enumerates the serial devices visible to the host.
func (svc *Service) ListPorts() ([]serialport.PortInfo, error) {
	return serialport.List()
}

// ApplySessionConfig replaces the session with one built from cfg, closing
// the old session first. The continuous loop is restarted when the replaced
// session was meant to run it. Used by the daemon when the config file
// changes.
func (svc *Service) ApplySessionConfig(cfg *SessionConfig) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	old := svc.session
	wasRunning := old.loopIntended.Load()
	_ = old.Close()

	svc.cfg = cfg
	svc.session = NewSession(cfg)

	if err := svc.session.Open(); err != nil {
		return err
	}
	if wasRunning {
		return svc.session.StartLoop()
	}

	return nil
}
