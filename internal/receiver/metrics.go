package receiver

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	BytesReceived     prometheus.Counter
	Submissions       *prometheus.CounterVec
	TransferDuration  prometheus.Histogram
	ActiveConnections prometheus.Gauge
}

// NewMetrics creates the intake metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_bytes_received_total",
			Help: "Total number of submission body bytes received",
		}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_submissions_total",
			Help: "Submissions by outcome",
		}, []string{"outcome"}),
		TransferDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_transfer_duration_seconds",
			Help:    "Histogram of submission transfer durations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intake_active_connections",
			Help: "Current number of active client connections",
		}),
	}
	reg.MustRegister(m.BytesReceived, m.Submissions, m.TransferDuration, m.ActiveConnections)
	return m
}
