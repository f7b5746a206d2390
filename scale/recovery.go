package scale

import (
	"errors"

	"github.com/scalewire/go-weighbridge/internal/pool"
)

// Restart forces a full teardown and reopen of the device. The continuous
// loop comes back with it whenever StartLoop is in effect, even if a failed
// recovery stopped it earlier. Only one recovery runs at a time; overlapping
// triggers return ErrRecoveryInProgress.
func (s *Session) Restart() error {
	return s.tryRecover(errors.New("manual restart"))
}

// tryRecover performs one ordered teardown and reinitialization: stop the
// read loop with a bounded wait, close the device, pause, reopen the same
// identifier, and restart the loop when the session is meant to run one.
//
// It never retries internally. A failed attempt leaves the session closed
// with the error recorded, surfacing through health until the next trigger.
func (s *Session) tryRecover(cause error) error {
	if !s.recovering.CompareAndSwap(false, true) {
		return ErrRecoveryInProgress
	}
	defer s.recovering.Store(false)

	if s.isDone() {
		return ErrSessionClosed
	}

	restartLoop := s.loopIntended.Load()

	s.metrics.incRecoveryCount()
	s.logger.Warn("session recovery started",
		"port", s.cfg.portName,
		"cause", cause,
		"restartLoop", restartLoop)

	// A session failing while open moves to Errored; the reopen below
	// carries it onwards. Already Errored or Closed sessions pass through.
	s.opState.ToErrored()

	if err := s.stopLoop(s.cfg.closeTimeout); err != nil {
		s.logger.Warn("read loop did not stop in time", "port", s.cfg.portName, "error", err)
	}

	// Exclude direct readers while the handle swaps.
	s.readNowMu.Lock()
	defer s.readNowMu.Unlock()

	s.closePort()

	if s.cfg.recoveryPause > 0 {
		timer := pool.GetTimer(s.cfg.recoveryPause)

		select {
		case <-s.done:
			pool.PutTimer(timer)

			return ErrSessionClosed
		case <-timer.C:
			pool.PutTimer(timer)
		}
	}

	if s.isDone() {
		return ErrSessionClosed
	}

	if err := s.Open(); err != nil {
		s.logger.Error("session recovery failed to reopen", "port", s.cfg.portName, "error", err)

		return err
	}

	if restartLoop {
		if err := s.StartLoop(); err != nil {
			s.logger.Error("session recovery failed to restart read loop", "port", s.cfg.portName, "error", err)

			return err
		}
	}

	s.logger.Info("session recovered", "port", s.cfg.portName)

	return nil
}
