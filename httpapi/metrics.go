package httpapi

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scalewire/go-weighbridge/scale"
)

// apiMetrics owns the server's Prometheus registry: HTTP request metrics plus
// collectors that read the live session's atomic counters at scrape time.
//
// Each server carries its own registry so the session collectors always
// reflect the service the server fronts, including after a config reload
// swaps the session underneath.
type apiMetrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newAPIMetrics(svc *scale.Service) *apiMetrics {
	m := &apiMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "weighbridge",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "weighbridge",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	m.registry.MustRegister(m.requests, m.duration)
	m.registerSessionCollectors(svc)

	return m
}

// registerSessionCollectors exports the session's atomic counters. The
// closures read through the service so a swapped session is picked up on the
// next scrape.
func (m *apiMetrics) registerSessionCollectors(svc *scale.Service) {
	counter := func(name, help string, value func(*scale.SessionMetrics) uint64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "weighbridge",
				Subsystem: "session",
				Name:      name,
				Help:      help,
			},
			func() float64 { return float64(value(svc.GetMetrics())) },
		)
	}

	m.registry.MustRegister(
		counter("reads_total", "Serial reads performed.",
			func(sm *scale.SessionMetrics) uint64 { return sm.ReadCount.Load() }),
		counter("read_errors_total", "Serial reads that failed.",
			func(sm *scale.SessionMetrics) uint64 { return sm.ReadErrorCount.Load() }),
		counter("tokens_total", "Candidate tokens extracted.",
			func(sm *scale.SessionMetrics) uint64 { return sm.TokenCount.Load() }),
		counter("decode_rejects_total", "Candidate tokens the decoder rejected.",
			func(sm *scale.SessionMetrics) uint64 { return sm.DecodeRejectCount.Load() }),
		counter("readings_published_total", "Readings published to the session cache.",
			func(sm *scale.SessionMetrics) uint64 { return sm.PublishCount.Load() }),
		counter("recoveries_total", "Recovery attempts.",
			func(sm *scale.SessionMetrics) uint64 { return sm.RecoveryCount.Load() }),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "weighbridge",
				Subsystem: "session",
				Name:      "consecutive_errors",
				Help:      "Current run of consecutive read errors.",
			},
			func() float64 { return float64(svc.GetMetrics().ConsecutiveErrGauge.Load()) },
		),
	)
}

func (m *apiMetrics) recordRequest(method, path string, status int, elapsed time.Duration) {
	label := strconv.Itoa(status)
	m.requests.WithLabelValues(method, path, label).Inc()
	m.duration.WithLabelValues(method, path, label).Observe(elapsed.Seconds())
}
