package scale

import (
	"sync/atomic"
)

// SessionMetrics contains atomic metrics for a port session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type SessionMetrics struct {
	// ReadCount indicates the number of device reads issued.
	ReadCount atomic.Uint64
	// ReadErrorCount indicates the number of device reads that failed.
	ReadErrorCount atomic.Uint64

	// TokenCount indicates the number of candidate tokens extracted.
	TokenCount atomic.Uint64
	// DecodeRejectCount indicates the number of tokens the decoder rejected.
	DecodeRejectCount atomic.Uint64
	// PublishCount indicates the number of readings published.
	PublishCount atomic.Uint64

	// RecoveryCount indicates the number of recovery attempts.
	RecoveryCount atomic.Uint64

	// ConsecutiveErrGauge indicates the current run of consecutive device
	// errors without an intervening successful read.
	ConsecutiveErrGauge atomic.Uint32
}

func (m *SessionMetrics) incReadCount() {
	m.ReadCount.Add(1)
}

func (m *SessionMetrics) incReadErrorCount() {
	m.ReadErrorCount.Add(1)
}

func (m *SessionMetrics) incTokenCount() {
	m.TokenCount.Add(1)
}

func (m *SessionMetrics) incDecodeRejectCount() {
	m.DecodeRejectCount.Add(1)
}

func (m *SessionMetrics) incPublishCount() {
	m.PublishCount.Add(1)
}

func (m *SessionMetrics) incRecoveryCount() {
	m.RecoveryCount.Add(1)
}

func (m *SessionMetrics) incConsecutiveErrGauge() {
	m.ConsecutiveErrGauge.Add(1)
}

func (m *SessionMetrics) resetConsecutiveErrGauge() {
	m.ConsecutiveErrGauge.Store(0)
}
