package scale

import (
	"errors"
	"fmt"
	"time"

	"github.com/scalewire/go-weighbridge/internal/pool"
	"github.com/scalewire/go-weighbridge/serialport"
	"github.com/scalewire/go-weighbridge/weight"
)

// Fresh returns a reading sampled after the call, waiting at most timeout.
// A nonpositive timeout uses the configured default.
//
// With the continuous loop running the device stays owned by the loop and
// Fresh waits for its next published reading. Otherwise stale device bytes
// are drained and the pipeline is driven directly through ReadOnce.
//
// Failures are distinct outcomes: ErrNoData when nothing arrived,
// ErrParseFailure when bytes arrived but no token decoded,
// ErrDeviceUnavailable for device errors, ErrSessionClosed after Close.
func (s *Session) Fresh(timeout time.Duration) (weight.Reading, error) {
	if timeout <= 0 {
		timeout = s.cfg.freshTimeout
	}

	if !s.LoopRunning() {
		if err := s.ClearBuffer(); err != nil {
			s.maybeRecoverAfter(err)

			return weight.Reading{}, err
		}

		return s.ReadOnce(timeout)
	}

	rejBefore := s.metrics.DecodeRejectCount.Load()

	id, ch := s.addWaiter()
	defer s.removeWaiter(id)

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case r := <-ch:
		return r, nil
	case <-s.done:
		return weight.Reading{}, ErrSessionClosed
	case <-timer.C:
		return weight.Reading{}, s.classifyFreshTimeout(rejBefore, timeout)
	}
}

// classifyFreshTimeout distinguishes why a bounded wait produced no reading.
func (s *Session) classifyFreshTimeout(rejBefore uint64, timeout time.Duration) error {
	if !s.opState.IsOpened() {
		return fmt.Errorf("%w: session in state %s", ErrDeviceUnavailable, s.opState.String())
	}
	if s.metrics.DecodeRejectCount.Load() > rejBefore {
		return fmt.Errorf("%w: token %q", ErrParseFailure, s.lastRejectToken())
	}

	return fmt.Errorf("%w within %v", ErrNoData, timeout)
}

// ReadOnce drives the extract/decode pipeline directly against the device
// until one reading decodes or the timeout elapses. A device failure on an
// open session hands off to recovery before returning.
//
// Prefer Fresh while the continuous loop runs; a direct read competes with
// the loop for bytes.
func (s *Session) ReadOnce(timeout time.Duration) (weight.Reading, error) {
	r, err := s.readOnce(timeout)
	s.maybeRecoverAfter(err)

	return r, err
}

// readOnce is the direct sampling primitive. It tightens the per-read bound
// to one poll interval for the duration of the call and restores the
// configured read timeout on every exit path.
func (s *Session) readOnce(timeout time.Duration) (weight.Reading, error) {
	s.readNowMu.Lock()
	defer s.readNowMu.Unlock()

	port := s.getPort()
	if port == nil {
		if s.isDone() {
			return weight.Reading{}, ErrSessionClosed
		}

		return weight.Reading{}, fmt.Errorf("%w: session not open", ErrDeviceUnavailable)
	}

	if err := port.SetReadTimeout(s.cfg.pollInterval); err != nil {
		s.recordError(err)

		return weight.Reading{}, s.deviceErr("set read timeout", err)
	}
	defer func() {
		if err := port.SetReadTimeout(s.cfg.readTimeout); err != nil {
			s.logger.Warn("failed to restore read timeout", "port", s.cfg.portName, "error", err)
		}
	}()

	deadline := time.Now().Add(timeout)
	buf := make([]byte, s.cfg.readChunkSize)

	var (
		acc        []byte
		lastReject string
		sawReject  bool
	)

	for {
		n, err := port.Read(buf)
		s.metrics.incReadCount()

		if err != nil {
			s.metrics.incReadErrorCount()

			if errors.Is(err, serialport.ErrPortClosed) && s.isDone() {
				return weight.Reading{}, ErrSessionClosed
			}
			s.recordError(err)

			return weight.Reading{}, s.deviceErr("read", err)
		}

		s.noteReadSuccess()

		if n > 0 {
			acc = append(acc, buf[:n]...)

			for {
				token, rest, ok := s.cfg.extractor.Extract(acc)
				acc = rest
				if !ok {
					break
				}

				s.metrics.incTokenCount()

				reading, derr := s.cfg.decoder.Decode(token)
				if derr != nil {
					s.noteReject(token)
					lastReject, sawReject = token, true

					continue
				}

				return s.publish(reading), nil
			}
		}

		if !time.Now().Before(deadline) {
			if sawReject {
				return weight.Reading{}, fmt.Errorf("%w: token %q", ErrParseFailure, lastReject)
			}

			return weight.Reading{}, fmt.Errorf("%w within %v", ErrNoData, timeout)
		}
	}
}

// ClearBuffer discards bytes the device has buffered but the session has
// not consumed, plus any partial frame retained from earlier cycles. Use it
// before ReadOnce so a fresh sample cannot be served from stale data.
func (s *Session) ClearBuffer() error {
	port := s.getPort()
	if port == nil {
		if s.isDone() {
			return ErrSessionClosed
		}

		return fmt.Errorf("%w: session not open", ErrDeviceUnavailable)
	}

	s.stateMu.Lock()
	s.accum = nil
	s.stateMu.Unlock()

	if err := port.ResetInputBuffer(); err != nil {
		s.recordError(err)

		return s.deviceErr("reset input buffer", err)
	}

	return nil
}

// maybeRecoverAfter hands a device failure observed on a request path to
// recovery. Sessions that never opened, or that were closed deliberately,
// are left alone.
func (s *Session) maybeRecoverAfter(err error) {
	if err == nil || !errors.Is(err, ErrDeviceUnavailable) {
		return
	}
	if !s.opState.IsOpened() && !s.opState.IsErrored() {
		return
	}

	if rerr := s.tryRecover(err); rerr != nil && !errors.Is(rerr, ErrRecoveryInProgress) {
		s.logger.Error("recovery after request failure did not restore the session",
			"port", s.cfg.portName,
			"error", rerr)
	}
}
