package downloader

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the download collectors. A nil *Metrics records nothing.
type Metrics struct {
	attempts    *prometheus.CounterVec
	finished    *prometheus.CounterVec
	queueLength prometheus.Gauge
}

// NewMetrics creates the download collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamvault",
			Name:      "download_attempts_total",
			Help:      "Strategy attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamvault",
			Name:      "downloads_finished_total",
			Help:      "Tasks that reached a terminal status.",
		}, []string{"status"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamvault",
			Name:      "download_queue_length",
			Help:      "Tasks waiting behind the current download.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.finished, m.queueLength)
	}
	return m
}

func (m *Metrics) attempt(name StrategyName, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(name), outcome).Inc()
}

func (m *Metrics) finish(status Status) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) setQueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}
