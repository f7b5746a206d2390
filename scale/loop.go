package scale

import (
	"errors"
	"fmt"

	"github.com/scalewire/go-weighbridge/internal/pool"
	"github.com/scalewire/go-weighbridge/serialport"
)

// readLoopTaskName identifies the continuous loop in task manager logs.
const readLoopTaskName = "readLoop"

// StartLoop launches the continuous read loop on a managed background task.
// The session must be open. Starting an already running loop is a no-op.
//
// While the loop runs it is the only device reader; use Fresh rather than
// ReadOnce to sample synchronously.
func (s *Session) StartLoop() error {
	if !s.opState.IsOpened() {
		return fmt.Errorf("%w: start loop in state %s", ErrDeviceUnavailable, s.opState.String())
	}
	if !s.loopRunning.CompareAndSwap(false, true) {
		return nil
	}

	buf := make([]byte, s.cfg.readChunkSize)
	err := s.taskMgr.StartWithCleanup(readLoopTaskName,
		func() bool { return s.readLoopStep(buf) },
		func() { s.loopRunning.Store(false) },
	)
	if err != nil {
		s.loopRunning.Store(false)

		return err
	}

	s.loopIntended.Store(true)
	s.logger.Info("read loop started", "port", s.cfg.portName)

	return nil
}

// readLoopStep performs one poll cycle: a bounded device read, buffer
// merge, and an extract/decode drain that publishes every decodable
// reading. Returning false stops the loop task.
func (s *Session) readLoopStep(buf []byte) bool {
	port := s.getPort()
	if port == nil {
		s.logger.Warn("read loop: device handle gone", "port", s.cfg.portName)

		return false
	}

	n, err := port.Read(buf)
	s.metrics.incReadCount()

	if err != nil {
		return s.handleReadError(err)
	}

	s.noteReadSuccess()

	if n == 0 {
		// Nothing arrived within the read timeout; idle briefly.
		s.sleepIdle()

		return true
	}

	s.ingest(buf[:n])

	return true
}

// ingest merges one chunk into the accumulation buffer, drains every
// complete frame out of it and publishes each reading that decodes.
func (s *Session) ingest(data []byte) {
	s.stateMu.Lock()
	s.accum = append(s.accum, data...)

	var tokens []string
	for {
		token, rest, ok := s.cfg.extractor.Extract(s.accum)
		s.accum = rest
		if !ok {
			break
		}
		tokens = append(tokens, token)
	}
	s.stateMu.Unlock()

	for _, token := range tokens {
		s.metrics.incTokenCount()

		reading, err := s.cfg.decoder.Decode(token)
		if err != nil {
			s.noteReject(token)
			s.logger.Debug("token rejected", "port", s.cfg.portName, "token", token, "error", err)

			continue
		}

		s.publish(reading)
	}
}

// handleReadError counts a device failure and decides whether the loop
// continues. Crossing the configured threshold fails the session and hands
// it to recovery.
func (s *Session) handleReadError(err error) bool {
	s.metrics.incReadErrorCount()

	if errors.Is(err, serialport.ErrPortClosed) {
		// Closed underneath the loop: Close or recovery owns the handle
		// now. Exit without escalating.
		s.logger.Debug("read loop: port closed", "port", s.cfg.portName)

		return false
	}

	count := s.recordError(err)
	s.logger.Error("device read failed",
		"port", s.cfg.portName,
		"error", err,
		"consecutive", count,
		"threshold", s.cfg.errorThreshold)

	if count >= s.cfg.errorThreshold {
		fatal := fmt.Errorf("%w: %d in a row on %s", ErrConsecutiveFailures, count, s.cfg.portName)
		s.setLastError(fatal)
		s.opState.ToErrored()

		s.logger.Error("session failed, handing off to recovery", "port", s.cfg.portName, "error", fatal)

		// Recovery stops this loop; run it on its own goroutine and let
		// the loop exit.
		go func() {
			if rerr := s.tryRecover(fatal); rerr != nil && !errors.Is(rerr, ErrRecoveryInProgress) {
				s.logger.Error("recovery failed", "port", s.cfg.portName, "error", rerr)
			}
		}()

		return false
	}

	// A single failure is retried after a short backoff.
	timer := pool.GetTimer(s.cfg.retryDelay)
	defer pool.PutTimer(timer)

	select {
	case <-s.done:
		return false
	case <-timer.C:
	}

	return true
}

// sleepIdle pauses one poll interval, waking early when the session closes.
func (s *Session) sleepIdle() {
	timer := pool.GetTimer(s.cfg.pollInterval)
	defer pool.PutTimer(timer)

	select {
	case <-s.done:
	case <-timer.C:
	}
}
