package scale

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scalewire/go-weighbridge/serialport"
	"github.com/scalewire/go-weighbridge/weight"
)

// --- ReadOnce tests ---

func TestReadOnce_DecodesAcrossChunks(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())

	port.QueueString("\x02+00")
	port.QueueString("12502B\x03")

	reading, err := s.ReadOnce(2 * time.Second)
	r.NoError(err)
	r.InDelta(12.5, reading.Kilograms, 1e-9)
	r.True(reading.Stable)
	r.Equal("+0012502B", reading.RawToken)

	// A direct read feeds the cache like the loop does.
	cached, ok := s.LatestCached()
	r.True(ok)
	r.Equal(reading.ID, cached.ID)
}

func TestReadOnce_NoData_TimingBounds(t *testing.T) {
	r := require.New(t)
	s, _ := newTestSession(t,
		WithReadTimeout(5*time.Millisecond),
		WithPollInterval(50*time.Millisecond),
	)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())

	timeout := 200 * time.Millisecond
	start := time.Now()
	_, err := s.ReadOnce(timeout)
	elapsed := time.Since(start)

	r.Error(err)
	r.ErrorIs(err, ErrNoData)

	// The deadline is honored within one poll interval of slack.
	r.GreaterOrEqual(elapsed, timeout, "returned before the deadline")
	r.Less(elapsed, 400*time.Millisecond, "overshot the deadline by more than one poll")
}

func TestReadOnce_RestoresReadTimeout(t *testing.T) {
	readTimeout := 5 * time.Millisecond
	pollInterval := 10 * time.Millisecond

	t.Run("AfterSuccess", func(t *testing.T) {
		r := require.New(t)
		s, port := newTestSession(t)
		defer func() { r.NoError(s.Close()) }()

		r.NoError(s.Open())
		port.QueueString(framed("+0012502B"))

		_, err := s.ReadOnce(time.Second)
		r.NoError(err)

		// Open, tighten for the direct read, restore.
		r.Equal([]time.Duration{readTimeout, pollInterval, readTimeout}, port.TimeoutHistory())
		r.Equal(readTimeout, port.ReadTimeout())
	})

	t.Run("AfterNoData", func(t *testing.T) {
		r := require.New(t)
		s, port := newTestSession(t)
		defer func() { r.NoError(s.Close()) }()

		r.NoError(s.Open())

		_, err := s.ReadOnce(30 * time.Millisecond)
		r.ErrorIs(err, ErrNoData)
		r.Equal(readTimeout, port.ReadTimeout())
	})

	t.Run("AfterDeviceError", func(t *testing.T) {
		r := require.New(t)
		s, port := newTestSession(t)
		defer func() { r.NoError(s.Close()) }()

		r.NoError(s.Open())
		port.FailReads(errors.New("input/output error"))

		_, err := s.readOnce(30 * time.Millisecond)
		r.ErrorIs(err, ErrDeviceUnavailable)
		r.Equal(readTimeout, port.ReadTimeout())
	})
}

func TestReadOnce_ParseFailure(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	port.QueueString(framed("HELLO"))

	_, err := s.ReadOnce(50 * time.Millisecond)
	r.Error(err)
	r.ErrorIs(err, ErrParseFailure)
	r.Contains(err.Error(), "HELLO")

	_, ok := s.LatestCached()
	r.False(ok)
}

func TestReadOnce_RejectThenValid(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	port.QueueString(framed("HELLO") + framed("+0012502B"))

	reading, err := s.ReadOnce(2 * time.Second)
	r.NoError(err)
	r.InDelta(12.5, reading.Kilograms, 1e-9)
	r.Equal(uint64(1), s.GetMetrics().DecodeRejectCount.Load())
}

func TestReadOnce_NotOpen(t *testing.T) {
	r := require.New(t)
	s, _ := newTestSession(t)

	_, err := s.ReadOnce(50 * time.Millisecond)
	r.Error(err)
	r.ErrorIs(err, ErrDeviceUnavailable)
}

func TestReadOnce_AfterClose(t *testing.T) {
	r := require.New(t)
	s, _ := newTestSession(t)

	r.NoError(s.Open())
	r.NoError(s.Close())

	_, err := s.ReadOnce(50 * time.Millisecond)
	r.ErrorIs(err, ErrSessionClosed)
}

func TestReadOnce_DeviceErrorTriggersRecovery(t *testing.T) {
	r := require.New(t)

	portA := serialport.NewMockPort()
	portB := serialport.NewMockPort()
	script := newPortScript().push(portA).push(portB)

	s := NewSession(fastSessionConfig(t, script))
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())

	portA.FailReads(errors.New("input/output error"))

	_, err := s.ReadOnce(50 * time.Millisecond)
	r.Error(err)
	r.ErrorIs(err, ErrDeviceUnavailable)

	// Recovery runs before ReadOnce returns: the dead handle is swapped
	// for a fresh one and the session is usable again.
	r.Equal(2, script.openCalls())
	r.True(portA.Closed())
	r.True(s.opState.IsOpened())
	r.False(s.LoopRunning())

	portB.QueueString(framed("+0032001B"))

	reading, err := s.ReadOnce(2 * time.Second)
	r.NoError(err)
	r.Equal("+0032001B", reading.RawToken)
	r.Equal(uint64(1), s.GetMetrics().RecoveryCount.Load())
}

// --- ClearBuffer tests ---

func TestClearBuffer_DiscardsDeviceAndPartialBytes(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())

	// Stale bytes on the device plus a torn frame already accumulated.
	port.QueueString(framed("+0099902B"))
	s.stateMu.Lock()
	s.accum = []byte("\x02+00")
	s.stateMu.Unlock()

	r.NoError(s.ClearBuffer())

	r.Zero(port.PendingChunks())
	r.Equal(1, port.ResetCount())

	s.stateMu.Lock()
	accumLen := len(s.accum)
	s.stateMu.Unlock()
	r.Zero(accumLen)

	// Nothing stale survives to satisfy a direct read.
	_, err := s.ReadOnce(30 * time.Millisecond)
	r.ErrorIs(err, ErrNoData)
}

func TestClearBuffer_NotOpen(t *testing.T) {
	r := require.New(t)
	s, _ := newTestSession(t)

	r.Error(s.ClearBuffer())
}

func TestClearBuffer_AfterClose(t *testing.T) {
	r := require.New(t)
	s, _ := newTestSession(t)

	r.NoError(s.Open())
	r.NoError(s.Close())
	r.ErrorIs(s.ClearBuffer(), ErrSessionClosed)
}

// --- Fresh tests ---

func TestFresh_LoopRunning_WaitsForNextReading(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	r.NoError(s.StartLoop())

	type result struct {
		reading weight.Reading
		err     error
	}

	resCh := make(chan result, 1)
	go func() {
		reading, err := s.Fresh(2 * time.Second)
		resCh <- result{reading: reading, err: err}
	}()

	// Register the waiter first, then let the device produce.
	time.Sleep(30 * time.Millisecond)
	port.QueueString(framed("+0012502B"))

	select {
	case res := <-resCh:
		r.NoError(res.err)
		r.Equal("+0012502B", res.reading.RawToken)

		cached, ok := s.LatestCached()
		r.True(ok)
		r.Equal(cached.ID, res.reading.ID)
	case <-time.After(3 * time.Second):
		r.Fail("Fresh did not return")
	}
}

func TestFresh_LoopRunning_NoData(t *testing.T) {
	r := require.New(t)
	s, _ := newTestSession(t)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	r.NoError(s.StartLoop())

	timeout := 80 * time.Millisecond
	start := time.Now()
	_, err := s.Fresh(timeout)

	r.Error(err)
	r.ErrorIs(err, ErrNoData)
	r.GreaterOrEqual(time.Since(start), timeout)
}

func TestFresh_LoopRunning_ParseFailure(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	r.NoError(s.StartLoop())

	go func() {
		time.Sleep(20 * time.Millisecond)
		port.QueueString(framed("JUNK"))
	}()

	_, err := s.Fresh(300 * time.Millisecond)
	r.Error(err)
	r.ErrorIs(err, ErrParseFailure)
	r.Contains(err.Error(), "JUNK")
}

func TestFresh_LoopStopped_DrainsStaleThenReadsDirect(t *testing.T) {
	r := require.New(t)
	s, port := newTestSession(t)
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())

	// Stale bytes sitting on the device must not satisfy a freshness
	// request; they are flushed before the direct read starts.
	port.QueueString(framed("+0099902B"))

	_, err := s.Fresh(50 * time.Millisecond)
	r.ErrorIs(err, ErrNoData)
	r.Equal(1, port.ResetCount())

	// Bytes arriving after the flush are genuinely fresh.
	go func() {
		time.Sleep(20 * time.Millisecond)
		port.QueueString(framed("+0012502B"))
	}()

	reading, err := s.Fresh(2 * time.Second)
	r.NoError(err)
	r.Equal("+0012502B", reading.RawToken)
	r.Equal(2, port.ResetCount())
}

func TestFresh_DefaultTimeout(t *testing.T) {
	r := require.New(t)
	s, _ := newTestSession(t, WithFreshTimeout(50*time.Millisecond))
	defer func() { r.NoError(s.Close()) }()

	r.NoError(s.Open())
	r.NoError(s.StartLoop())

	start := time.Now()
	_, err := s.Fresh(0)

	r.ErrorIs(err, ErrNoData)
	r.GreaterOrEqual(time.Since(start), 50*time.Millisecond)
}
