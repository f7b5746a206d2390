package scale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/scalewire/go-weighbridge/internal/pool"
	"github.com/scalewire/go-weighbridge/internal/task"
	"github.com/scalewire/go-weighbridge/logger"
	"github.com/scalewire/go-weighbridge/serialport"
	"github.com/scalewire/go-weighbridge/weight"
)

// Session owns one serial weighing-indicator device and drives the
// extract/decode pipeline over its byte stream.
//
// Readings publish into the session and are served through LatestCached,
// Fresh and ReadOnce. The continuous loop (StartLoop) keeps the published
// state current in the background; recovery reopens the device after a run
// of consecutive failures. Close retires the session permanently.
type Session struct {
	cfg    *SessionConfig
	logger logger.Logger

	opState AtomicOpState

	// Device handle. I/O runs on the value taken under the read lock, never
	// while holding it.
	portMu sync.RWMutex
	port   serialport.Port

	// Observable state and the accumulation buffer. Held only for field and
	// buffer mutations, never across device I/O.
	stateMu     sync.Mutex
	accum       []byte
	lastReading weight.Reading
	hasReading  bool
	consecErrs  int
	lastErr     error
	lastReject  string

	// readNowMu serializes direct device readers (ReadOnce, ClearBuffer)
	// and excludes them while recovery swaps the handle.
	readNowMu sync.Mutex

	taskMgr     *task.Manager
	loopRunning atomic.Bool

	// loopIntended records that StartLoop is in effect, surviving loop
	// exits so recovery knows to bring the loop back.
	loopIntended atomic.Bool

	recovering atomic.Bool

	// Fresh callers waiting for the loop's next published reading.
	waiters   *xsync.MapOf[uint64, chan weight.Reading]
	waiterSeq atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once

	metrics SessionMetrics
}

// NewSession creates a session from the given configuration. The device is
// not touched until Open.
func NewSession(cfg *SessionConfig) *Session {
	return &Session{
		cfg:     cfg,
		logger:  cfg.logger,
		taskMgr: task.NewManager(context.Background(), cfg.logger),
		waiters: xsync.NewMapOf[uint64, chan weight.Reading](),
		done:    make(chan struct{}),
	}
}

// Open acquires the configured serial device and readies the session. It
// does not start the continuous loop; see StartLoop. Opening an already
// open session is a no-op.
func (s *Session) Open() error {
	if s.isDone() {
		return ErrSessionClosed
	}
	if s.opState.IsOpened() {
		return nil
	}
	if !s.opState.ToOpening() {
		return fmt.Errorf("scale: open %s in state %s", s.cfg.portName, s.opState.String())
	}

	return s.openPort()
}

// openPort performs the device acquisition half of Open. The caller has
// already won the transition to Opening.
func (s *Session) openPort() error {
	port, err := s.cfg.opener(s.cfg.portName, serialport.DefaultConfig(s.cfg.baudRate))
	if err != nil {
		s.opState.Set(ClosedState)
		werr := s.deviceErr("open", err)
		s.setLastError(werr)

		return werr
	}

	if err := port.SetReadTimeout(s.cfg.readTimeout); err != nil {
		_ = port.Close()
		s.opState.Set(ClosedState)
		werr := s.deviceErr("set read timeout", err)
		s.setLastError(werr)

		return werr
	}

	s.setPort(port)
	s.resetState()

	if !s.opState.ToOpened() {
		// Close raced the open; release what was just acquired.
		s.closePort()

		return fmt.Errorf("scale: open %s interrupted in state %s", s.cfg.portName, s.opState.String())
	}

	s.logger.Info("session opened", "port", s.cfg.portName, "baud", s.cfg.baudRate)

	return nil
}

// Close stops the continuous loop, releases the device and permanently
// retires the session. It is idempotent; later calls return nil.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.closeSession()
	})

	return err
}

func (s *Session) closeSession() error {
	s.logger.Debug("closing session", "port", s.cfg.portName, "opState", s.opState.String())

	// Wakes Fresh waiters, idle sleeps and retry backoffs.
	close(s.done)

	if !s.opState.IsClosed() && !s.opState.ToClosing() {
		s.logger.Warn("unexpected state while closing", "port", s.cfg.portName, "opState", s.opState.String())
	}

	err := s.stopLoop(s.cfg.closeTimeout)

	s.closePort()
	s.waiters.Clear()

	if !s.opState.ToClosed() {
		s.logger.Warn("unexpected state after close", "port", s.cfg.portName, "opState", s.opState.String())
	}

	s.logger.Info("session closed", "port", s.cfg.portName)

	return err
}

// stopLoop cancels the read loop task and waits up to timeout for it to
// exit. Safe to call when the loop never started.
func (s *Session) stopLoop(timeout time.Duration) error {
	s.taskMgr.Stop()

	waitCh := make(chan struct{})
	go func() {
		s.taskMgr.Wait()
		close(waitCh)
	}()

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case <-waitCh:
		return nil
	case <-timer.C:
		return fmt.Errorf("scale: read loop on %s did not stop within %v", s.cfg.portName, timeout)
	}
}

// LatestCached returns the most recently published reading, if any.
func (s *Session) LatestCached() (weight.Reading, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.lastReading, s.hasReading
}

// State returns a point-in-time snapshot of the observable session state.
func (s *Session) State() SessionState {
	st := SessionState{
		ConnectionOpen: s.opState.IsOpened() && s.getPort() != nil,
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.hasReading {
		r := s.lastReading
		st.LastReading = &r
	}
	st.ConsecutiveErrors = s.consecErrs
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}

	return st
}

// LoopRunning reports whether the continuous read loop is active.
func (s *Session) LoopRunning() bool {
	return s.loopRunning.Load()
}

// GetMetrics returns the metrics associated with the session.
func (s *Session) GetMetrics() *SessionMetrics {
	return &s.metrics
}

// GetLogger returns the logger associated with the session.
func (s *Session) GetLogger() logger.Logger {
	return s.logger
}

// --- Device handle management ---

func (s *Session) setPort(p serialport.Port) {
	s.portMu.Lock()
	defer s.portMu.Unlock()

	s.port = p
}

func (s *Session) getPort() serialport.Port {
	s.portMu.RLock()
	defer s.portMu.RUnlock()

	return s.port
}

// closePort releases the device handle. Subsequent calls are no-ops.
func (s *Session) closePort() {
	s.portMu.Lock()
	port := s.port
	if port == nil {
		s.portMu.Unlock()

		return
	}

	// Nil the reference under the write lock so subsequent calls are no-ops.
	s.port = nil
	s.portMu.Unlock()

	if err := port.Close(); err != nil && !errors.Is(err, serialport.ErrPortClosed) {
		s.logger.Error("failed to close port", "port", s.cfg.portName, "error", err)
	}
}

// --- State bookkeeping ---

// resetState restores the observable state to its just-opened shape. The
// previous reading does not survive a reconnect.
func (s *Session) resetState() {
	s.stateMu.Lock()
	s.accum = nil
	s.lastReading = weight.Reading{}
	s.hasReading = false
	s.consecErrs = 0
	s.lastErr = nil
	s.lastReject = ""
	s.stateMu.Unlock()

	s.metrics.resetConsecutiveErrGauge()
}

// recordError notes a device error and returns the current consecutive run.
func (s *Session) recordError(err error) int {
	s.stateMu.Lock()
	s.consecErrs++
	s.lastErr = err
	n := s.consecErrs
	s.stateMu.Unlock()

	s.metrics.incConsecutiveErrGauge()

	return n
}

// noteReadSuccess ends the current consecutive-error run.
func (s *Session) noteReadSuccess() {
	s.stateMu.Lock()
	s.consecErrs = 0
	s.stateMu.Unlock()

	s.metrics.resetConsecutiveErrGauge()
}

// noteReject remembers the latest undecodable token so bounded waits can
// report a parse failure instead of a bare timeout.
func (s *Session) noteReject(token string) {
	s.metrics.incDecodeRejectCount()

	s.stateMu.Lock()
	s.lastReject = token
	s.stateMu.Unlock()
}

func (s *Session) lastRejectToken() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.lastReject
}

func (s *Session) setLastError(err error) {
	s.stateMu.Lock()
	s.lastErr = err
	s.stateMu.Unlock()
}

func (s *Session) deviceErr(op string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrDeviceUnavailable, op, s.cfg.portName, err)
}

func (s *Session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// --- Publishing ---

// publish stamps a decoded reading, stores it as the latest session state
// and hands it to every registered waiter. It returns the stamped reading.
func (s *Session) publish(r weight.Reading) weight.Reading {
	r.ID = ulid.Make()
	r.ObservedAt = time.Now().UTC()

	s.stateMu.Lock()
	s.lastReading = r
	s.hasReading = true
	s.stateMu.Unlock()

	s.metrics.incPublishCount()
	s.notifyWaiters(r)

	s.logger.Debug("reading published",
		"port", s.cfg.portName,
		"kilograms", r.Kilograms,
		"stable", r.Stable,
		"id", r.ID.String())

	return r
}

// --- Waiter management ---

func (s *Session) addWaiter() (uint64, chan weight.Reading) {
	id := s.waiterSeq.Add(1)
	ch := make(chan weight.Reading, 1)
	s.waiters.Store(id, ch)

	return id, ch
}

func (s *Session) removeWaiter(id uint64) {
	s.waiters.Delete(id)
}

func (s *Session) notifyWaiters(r weight.Reading) {
	s.waiters.Range(func(id uint64, ch chan weight.Reading) bool {
		select {
		case ch <- r:
		default:
			// Waiter already has an undelivered reading buffered.
		}

		return true
	})
}
