package scale

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/scalewire/go-weighbridge/frame"
	"github.com/scalewire/go-weighbridge/logger"
	"github.com/scalewire/go-weighbridge/serialport"
	"github.com/scalewire/go-weighbridge/weight"
)

const testPortName = "/dev/ttyWB0"

func TestMain(m *testing.M) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "error"
	}

	var level logger.Level

	switch logLevel {
	case "debug":
		level = logger.DebugLevel
	case "info":
		level = logger.InfoLevel
	case "warn":
		level = logger.WarnLevel
	case "error":
		level = logger.ErrorLevel
	default:
		level = logger.ErrorLevel
	}

	logger.SetLevel(level)

	os.Exit(m.Run())
}

// --- Test helpers ---

// framed wraps one token in the markers the default extractor expects.
func framed(token string) string {
	return string(frame.STX) + token + string(frame.ETX)
}

// portScript scripts the outcome of successive device opens. Recovery tests
// queue a fresh port per reopen; an exhausted script fails the open.
type portScript struct {
	mu       sync.Mutex
	outcomes []portOutcome
	opens    int
}

type portOutcome struct {
	port *serialport.MockPort
	err  error
}

func newPortScript() *portScript {
	return &portScript{}
}

func (ps *portScript) push(port *serialport.MockPort) *portScript {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.outcomes = append(ps.outcomes, portOutcome{port: port})

	return ps
}

func (ps *portScript) pushErr(err error) *portScript {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.outcomes = append(ps.outcomes, portOutcome{err: err})

	return ps
}

func (ps *portScript) open(_ string, _ serialport.Config) (serialport.Port, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.opens++

	if len(ps.outcomes) == 0 {
		return nil, errors.New("port script exhausted")
	}

	out := ps.outcomes[0]
	ps.outcomes = ps.outcomes[1:]

	if out.err != nil {
		return nil, out.err
	}

	return out.port, nil
}

func (ps *portScript) openCalls() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	return ps.opens
}

// fastSessionConfig builds a config with timings short enough for tests,
// opening devices through the given script.
func fastSessionConfig(t testing.TB, script *portScript, extra ...SessionOption) *SessionConfig {
	t.Helper()

	opts := []SessionOption{
		WithReadTimeout(5 * time.Millisecond),
		WithPollInterval(10 * time.Millisecond),
		WithRetryDelay(time.Millisecond),
		WithRecoveryPause(5 * time.Millisecond),
		WithCloseTimeout(2 * time.Second),
		WithOpener(script.open),
	}
	opts = append(opts, extra...)

	cfg, err := NewSessionConfig(testPortName, 9600, opts...)
	require.NoError(t, err)

	return cfg
}

// newTestSession creates an unopened session backed by a single mock port.
func newTestSession(t testing.TB, extra ...SessionOption) (*Session, *serialport.MockPort) {
	t.Helper()

	port := serialport.NewMockPort()
	script := newPortScript().push(port)

	return NewSession(fastSessionConfig(t, script, extra...)), port
}

// feedFrames queues one framed token onto port every interval until the
// returned stop function is called.
func feedFrames(port *serialport.MockPort, token string, interval time.Duration) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}

			port.QueueString(framed(token))
			time.Sleep(interval)
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// --- Lifecycle tests ---

func TestSession_OpenClose(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)

	r.True(s.opState.IsClosed())
	r.NoError(s.Open())
	r.True(s.opState.IsOpened())

	st := s.State()
	r.True(st.ConnectionOpen)
	r.Nil(st.LastReading)
	r.Zero(st.ConsecutiveErrors)
	r.Empty(st.LastError)

	// Open installs the configured read timeout on the device.
	r.Equal([]time.Duration{5 * time.Millisecond}, port.TimeoutHistory())

	r.NoError(s.Close())
	r.True(s.opState.IsClosed())
	r.True(port.Closed())
	r.False(s.State().ConnectionOpen)
}

func TestSession_Close_Idempotent(t *testing.T) {
	r := require.New(t)
	s, _ := newTestSession(t)
	r.NoError(s.Open())

	for i := 0; i < 5; i++ {
		r.NoError(s.Close())
	}
}

func TestSession_Close_BeforeOpen(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)

	r.NoError(s.Close())
	r.False(port.Closed()) // never acquired

	// Close retires the session permanently.
	r.ErrorIs(s.Open(), ErrSessionClosed)
}

func TestSession_Open_AlreadyOpened(t *testing.T) {
	r := require.New(t)
	port := serialport.NewMockPort()
	script := newPortScript().push(port)
	s := NewSession(fastSessionConfig(t, script))
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	r.NoError(s.Open())
	r.Equal(1, script.openCalls())
}

func TestSession_Open_OpenerFails(t *testing.T) {
	r := require.New(t)
	script := newPortScript().pushErr(errors.New("no such device"))
	s := NewSession(fastSessionConfig(t, script))

	err := s.Open()
	r.Error(err)
	r.ErrorIs(err, ErrDeviceUnavailable)
	r.True(s.opState.IsClosed())

	st := s.State()
	r.False(st.ConnectionOpen)
	r.Contains(st.LastError, "no such device")
}

func TestSession_Open_RetryAfterFailure(t *testing.T) {
	r := require.New(t)
	script := newPortScript().
		pushErr(errors.New("device busy")).
		push(serialport.NewMockPort())
	s := NewSession(fastSessionConfig(t, script))
	defer func() { r.NoError(s.Close()) }()

	r.Error(s.Open())
	r.True(s.opState.IsClosed())

	r.NoError(s.Open())
	r.True(s.opState.IsOpened())
	r.Equal(2, script.openCalls())

	// A successful open clears the recorded failure.
	r.Empty(s.State().LastError)
}

func TestSession_Open_SetReadTimeoutFails(t *testing.T) {
	r := require.New(t)
	port := serialport.NewMockPort()
	r.NoError(port.Close()) // a closed port rejects SetReadTimeout
	script := newPortScript().push(port)
	s := NewSession(fastSessionConfig(t, script))

	err := s.Open()
	r.Error(err)
	r.ErrorIs(err, ErrDeviceUnavailable)
	r.True(s.opState.IsClosed())
	r.NotEmpty(s.State().LastError)
}

// --- Continuous loop tests ---

func TestSession_LoopPublishesReadings(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	r.NoError(s.StartLoop())
	r.True(s.LoopRunning())

	port.QueueString(framed("+0012502B"))

	r.Eventually(func() bool {
		_, ok := s.LatestCached()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	reading, ok := s.LatestCached()
	r.True(ok)
	r.InDelta(12.5, reading.Kilograms, 1e-9)
	r.True(reading.Stable)
	r.Equal("+0012502B", reading.RawToken)
	r.NotEqual(ulid.ULID{}, reading.ID)
	r.False(reading.ObservedAt.IsZero())

	st := s.State()
	r.NotNil(st.LastReading)
	r.Equal(reading.ID, st.LastReading.ID)

	r.GreaterOrEqual(s.GetMetrics().PublishCount.Load(), uint64(1))
	r.GreaterOrEqual(s.GetMetrics().TokenCount.Load(), uint64(1))
}

func TestSession_LoopAssemblesSplitFrames(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	r.NoError(s.StartLoop())

	// One frame torn across three chunks, wrapped in line noise.
	port.QueueString("noise\x02+003")
	port.QueueString("2001B")
	port.QueueString("\x03more")

	r.Eventually(func() bool {
		_, ok := s.LatestCached()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	reading, ok := s.LatestCached()
	r.True(ok)
	r.Equal("+0032001B", reading.RawToken)
	r.InDelta(320.0, reading.Kilograms, 1e-9)
	r.Equal(uint64(1), s.GetMetrics().PublishCount.Load())
}

func TestSession_LoopDropsRejectedTokens(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	r.NoError(s.StartLoop())

	// An undecodable frame followed by a good one: the bad token is
	// dropped, the good one publishes, the loop keeps running.
	port.QueueString(framed("WEIGH") + framed("+0012502B"))

	r.Eventually(func() bool {
		_, ok := s.LatestCached()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	reading, _ := s.LatestCached()
	r.Equal("+0012502B", reading.RawToken)
	r.True(s.LoopRunning())
	r.True(s.opState.IsOpened())

	r.Equal(uint64(1), s.GetMetrics().DecodeRejectCount.Load())
	r.Equal(uint64(2), s.GetMetrics().TokenCount.Load())
	r.Equal(uint64(1), s.GetMetrics().PublishCount.Load())
}

func TestSession_StartLoop_NotOpened(t *testing.T) {
	r := require.New(t)
	s, _ := newTestSession(t)

	err := s.StartLoop()
	r.Error(err)
	r.ErrorIs(err, ErrDeviceUnavailable)
	r.False(s.LoopRunning())
}

func TestSession_StartLoop_AlreadyRunning(t *testing.T) {
	r := require.New(t)
	s, _ := newTestSession(t)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	r.NoError(s.StartLoop())
	r.NoError(s.StartLoop())
	r.Equal(1, s.taskMgr.TaskCount())
}

func TestSession_CloseStopsLoop(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)

	r.NoError(s.Open())
	r.NoError(s.StartLoop())

	start := time.Now()
	r.NoError(s.Close())

	r.False(s.LoopRunning())
	r.True(port.Closed())
	r.Less(time.Since(start), 2*time.Second, "Close took too long")
}

func TestSession_CloseUnblocksFresh(t *testing.T) {
	r := require.New(t)
	s, _ := newTestSession(t)

	r.NoError(s.Open())
	r.NoError(s.StartLoop())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Fresh(10 * time.Second)
		errCh <- err
	}()

	// Let the waiter register before pulling the session down.
	time.Sleep(30 * time.Millisecond)
	r.NoError(s.Close())

	select {
	case err := <-errCh:
		r.ErrorIs(err, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		r.Fail("Fresh did not unblock on Close")
	}
}

// --- Device error tests ---

func TestSession_LoopRetriesSingleError(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t,
		WithErrorThreshold(MaxErrorThreshold),
		WithRetryDelay(5*time.Millisecond),
	)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	r.NoError(s.StartLoop())

	port.FailReads(errors.New("input/output error"))

	r.Eventually(func() bool {
		return s.GetMetrics().ReadErrorCount.Load() >= 2
	}, 2*time.Second, time.Millisecond)

	// Failures below the threshold never fail the session.
	r.True(s.opState.IsOpened())
	r.True(s.LoopRunning())
	r.Positive(s.State().ConsecutiveErrors)

	port.FailReads(nil)
	port.QueueString(framed("+0012502B"))

	r.Eventually(func() bool {
		_, ok := s.LatestCached()
		return ok
	}, 2*time.Second, time.Millisecond)

	// A successful read ends the consecutive-error run.
	r.Zero(s.State().ConsecutiveErrors)
	r.Equal(uint64(0), s.GetMetrics().RecoveryCount.Load())
	r.Equal(1, s.taskMgr.TaskCount())
}

func TestSession_ThresholdFailsSessionAndRecovers(t *testing.T) {
	r := require.New(t)

	portA := serialport.NewMockPort()
	portB := serialport.NewMockPort()
	script := newPortScript().push(portA).push(portB)

	s := NewSession(fastSessionConfig(t, script, WithErrorThreshold(3)))
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	r.NoError(s.StartLoop())

	portA.FailReads(errors.New("device yanked"))

	// The loop crosses the threshold; recovery reopens and restarts it.
	r.Eventually(func() bool {
		return script.openCalls() == 2 && s.opState.IsOpened() && s.LoopRunning()
	}, 5*time.Second, 5*time.Millisecond)

	r.True(portA.Closed())
	r.Equal(uint64(1), s.GetMetrics().RecoveryCount.Load())

	// Reconnecting resets the observable state.
	st := s.State()
	r.Zero(st.ConsecutiveErrors)
	r.Empty(st.LastError)
	r.Nil(st.LastReading)

	// The recovered loop reads from the fresh handle.
	portB.QueueString(framed("+0032001B"))

	r.Eventually(func() bool {
		reading, ok := s.LatestCached()
		return ok && reading.RawToken == "+0032001B"
	}, 2*time.Second, 5*time.Millisecond)

	// One trigger, one recovery.
	r.Equal(2, script.openCalls())
}

func TestSession_RecoveryFailureLeavesSessionDown(t *testing.T) {
	r := require.New(t)

	portA := serialport.NewMockPort()
	script := newPortScript().push(portA).pushErr(errors.New("still unplugged"))

	s := NewSession(fastSessionConfig(t, script, WithErrorThreshold(1)))
	defer func() { _ = s.Close() }()

	r.NoError(s.Open())
	r.NoError(s.StartLoop())

	portA.FailReads(errors.New("device yanked"))

	r.Eventually(func() bool {
		return script.openCalls() == 2 && s.opState.IsClosed()
	}, 5*time.Second, 5*time.Millisecond)

	r.False(s.LoopRunning())
	r.Contains(s.State().LastError, "still unplugged")

	// No internal retry: the failed recovery stays put until a new trigger.
	time.Sleep(50 * time.Millisecond)
	r.Equal(2, script.openCalls())
}

// --- Concurrency tests ---

func TestSession_ConcurrentReadersSeeConsistentReadings(t *testing.T) {
	// A reader must never observe a reading whose value disagrees with its
	// raw token, no matter how the cache churns underneath it.
	r := require.New(t)
	s, port := newTestSession(t)
	defer func() { _ = s.Close() }()

	r.NoError(s.Open())
	r.NoError(s.StartLoop())

	decoder := s.cfg.decoder

	checkConsistent := func(reading weight.Reading) {
		expect, err := decoder.Decode(reading.RawToken)
		if err != nil {
			t.Errorf("reading carries undecodable token %q", reading.RawToken)

			return
		}
		if expect.Kilograms != reading.Kilograms || expect.Stable != reading.Stable {
			t.Errorf("torn reading: token %q decodes to %v/%v, observed %v/%v",
				reading.RawToken, expect.Kilograms, expect.Stable, reading.Kilograms, reading.Stable)
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup

	// Feeder cycles distinct values so the cache keeps changing.
	wg.Add(1)
	go func() {
		defer wg.Done()

		tokens := []string{"+0012502B", "+0032001B", "-0005001C", "+0000000U"}
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}

			port.QueueString(framed(tokens[i%len(tokens)]))
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for {
				select {
				case <-stop:
					return
				default:
				}

				if reading, ok := s.LatestCached(); ok {
					checkConsistent(reading)
				}
				if st := s.State(); st.LastReading != nil {
					checkConsistent(*st.LastReading)
				}
			}
		}()
	}

	// A bounded sampler runs alongside the pollers.
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case <-stop:
				return
			default:
			}

			if reading, err := s.Fresh(time.Second); err == nil {
				checkConsistent(reading)
			}
		}
	}()

	time.Sleep(300 * time.Millisecond)
	close(stop)
	wg.Wait()
}
