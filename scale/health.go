package scale

import "time"

// Status classifies session responsiveness.
type Status string

const (
	// StatusHealthy means the device is open, the continuous loop runs and
	// a fresh probe produced a reading.
	StatusHealthy Status = "healthy"
	// StatusDegraded means the device is open but the loop is down or the
	// probe produced nothing.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy means the device handle is not open.
	StatusUnhealthy Status = "unhealthy"
)

// Health reports the composite session status and the observations behind it.
type Health struct {
	Status Status `json:"status"`

	PortOpen    bool `json:"port_open"`
	LoopRunning bool `json:"loop_running"`
	ProbeOK     bool `json:"probe_ok"`

	ProbeError        string    `json:"probe_error,omitempty"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
	LastReadingAt     time.Time `json:"last_reading_at"`
}

// Health probes the session and classifies it. A nonpositive probeTimeout
// uses the configured default.
//
// The probe is a fresh bounded read sharing the regular publish path, so a
// successful probe also refreshes the cached reading. No other session
// state is touched.
func (s *Session) Health(probeTimeout time.Duration) Health {
	if probeTimeout <= 0 {
		probeTimeout = s.cfg.probeTimeout
	}

	h := Health{
		PortOpen:    s.opState.IsOpened() && s.getPort() != nil,
		LoopRunning: s.LoopRunning(),
	}

	st := s.State()
	h.ConsecutiveErrors = st.ConsecutiveErrors
	h.LastError = st.LastError
	if st.LastReading != nil {
		h.LastReadingAt = st.LastReading.ObservedAt
	}

	if !h.PortOpen {
		h.Status = StatusUnhealthy

		return h
	}

	if _, err := s.Fresh(probeTimeout); err != nil {
		h.ProbeError = err.Error()
	} else {
		h.ProbeOK = true
	}

	if h.ProbeOK && h.LoopRunning {
		h.Status = StatusHealthy
	} else {
		h.Status = StatusDegraded
	}

	return h
}
