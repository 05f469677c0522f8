package alerts

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var providerBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20}

// Metrics records detection outcomes. A nil *Metrics records nothing.
type Metrics struct {
	runs             *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	congestedKm      prometheus.Histogram
	dispatchFailures prometheus.Counter
}

// NewMetrics creates the detection collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trafficwatch",
			Subsystem: "detection",
			Name:      "runs_total",
			Help:      "Detection runs by kind and terminal state",
		}, []string{"kind", "state"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trafficwatch",
			Subsystem: "detection",
			Name:      "provider_duration_seconds",
			Help:      "Latency of directions provider calls",
			Buckets:   providerBuckets,
		}, []string{"outcome"}),
		congestedKm: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trafficwatch",
			Subsystem: "detection",
			Name:      "congested_km",
			Help:      "Total congested length of analyzed worst routes",
			Buckets:   []float64{0, 0.5, 1, 1.5, 3, 5, 10, 20},
		}),
		dispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trafficwatch",
			Subsystem: "detection",
			Name:      "dispatch_failures_total",
			Help:      "Notifications that could not be pushed",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.runs, m.providerLatency, m.congestedKm, m.dispatchFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeRun(kind string, state State) {
	if m == nil {
		return
	}
	m.runs.With(prometheus.Labels{"kind": kind, "state": string(state)}).Inc()
}

func (m *Metrics) observeProvider(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerLatency.With(prometheus.Labels{"outcome": outcome}).Observe(d.Seconds())
}

func (m *Metrics) observeCongestion(km float64) {
	if m == nil {
		return
	}
	m.congestedKm.Observe(km)
}

func (m *Metrics) observeDispatchFailure() {
	if m == nil {
		return
	}
	m.dispatchFailures.Inc()
}
