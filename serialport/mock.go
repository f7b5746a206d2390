package serialport

import (
	"sync"
	"time"

	"github.com/scalewire/go-weighbridge/internal/pool"
)

// MockPort is a scriptable in-memory Port for tests.
//
// Data is queued as discrete chunks; each Read consumes at most one chunk,
// letting tests exercise arbitrary chunk boundaries. Reads honor the installed
// read timeout and return (0, nil) when it elapses with no data queued. A zero
// or negative timeout makes Read return immediately instead of blocking
// forever; the session always installs a positive timeout.
type MockPort struct {
	mu          sync.Mutex
	chunks      [][]byte
	readTimeout time.Duration
	readErr     error
	closed      bool
	written     []byte
	resets      int
	timeoutLog  []time.Duration

	dataCh  chan struct{}
	closeCh chan struct{}
}

var _ Port = (*MockPort)(nil)

// NewMockPort creates an open MockPort with no queued data.
func NewMockPort() *MockPort {
	return &MockPort{
		dataCh:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// QueueChunk schedules b to be returned by a later Read as a single chunk.
func (m *MockPort) QueueChunk(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	buf := make([]byte, len(b))
	copy(buf, b)
	m.chunks = append(m.chunks, buf)
	m.wakeReader()
}

// QueueString is QueueChunk for string data.
func (m *MockPort) QueueString(s string) {
	m.QueueChunk([]byte(s))
}

// FailReads forces every subsequent Read to return err.
func (m *MockPort) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readErr = err
	m.wakeReader()
}

// wakeReader nudges a reader blocked waiting for data. Callers must hold mu.
func (m *MockPort) wakeReader() {
	select {
	case m.dataCh <- struct{}{}:
	default:
	}
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	timeout := m.readTimeout
	m.mu.Unlock()

	deadline := time.Now().Add(timeout)

	for {
		m.mu.Lock()
		switch {
		case m.closed:
			m.mu.Unlock()
			return 0, ErrPortClosed

		case m.readErr != nil:
			err := m.readErr
			m.mu.Unlock()
			return 0, err

		case len(m.chunks) > 0:
			n := copy(p, m.chunks[0])
			if n < len(m.chunks[0]) {
				m.chunks[0] = m.chunks[0][n:]
			} else {
				m.chunks = m.chunks[1:]
			}
			m.mu.Unlock()
			return n, nil
		}
		m.mu.Unlock()

		if timeout <= 0 {
			return 0, nil
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return 0, nil
		}

		timer := pool.GetTimer(remain)
		select {
		case <-m.dataCh:
			pool.PutTimer(timer)
		case <-m.closeCh:
			pool.PutTimer(timer)
			return 0, ErrPortClosed
		case <-timer.C:
			pool.PutTimer(timer)
			return 0, nil
		}
	}
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrPortClosed
	}

	m.written = append(m.written, p...)

	return len(p), nil
}

// Close marks the port closed and unblocks any pending Read. It is a no-op
// when called again.
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)

	return nil
}

func (m *MockPort) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrPortClosed
	}
	m.readTimeout = d
	m.timeoutLog = append(m.timeoutLog, d)

	return nil
}

func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrPortClosed
	}
	m.chunks = nil
	m.resets++

	return nil
}

// ReadTimeout returns the currently installed read timeout.
func (m *MockPort) ReadTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.readTimeout
}

// TimeoutHistory returns every value passed to SetReadTimeout, in order.
func (m *MockPort) TimeoutHistory() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist := make([]time.Duration, len(m.timeoutLog))
	copy(hist, m.timeoutLog)

	return hist
}

// ResetCount returns the number of ResetInputBuffer calls so far.
func (m *MockPort) ResetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.resets
}

// PendingChunks returns the number of queued-but-unread chunks.
func (m *MockPort) PendingChunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.chunks)
}

// Written returns a copy of all bytes written to the port.
func (m *MockPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := make([]byte, len(m.written))
	copy(w, m.written)

	return w
}

// Closed reports whether Close has been called.
func (m *MockPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}
