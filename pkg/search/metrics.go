package search

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "stormhunter"

// Metrics are the scan counters exported to prometheus. A nil *Metrics
// records nothing.
type Metrics struct {
	candidates   prometheus.Counter
	invalidSeeds prometheus.Counter
	findings     prometheus.Counter
	fallbacks    prometheus.Counter
	batchSeconds prometheus.Histogram
}

// NewMetrics creates the scan metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "candidates_total",
			Help:      "Candidates run through the derivation pipeline.",
		}),
		invalidSeeds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invalid_seeds_total",
			Help:      "Candidates or keys rejected as invalid seeds.",
		}),
		findings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "findings_total",
			Help:      "Confirmed target matches.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "backend_fallbacks_total",
			Help:      "Failovers from the accelerator to the CPU.",
		}),
		batchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "batch_seconds",
			Help:      "Wall time per scan batch.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.candidates, m.invalidSeeds, m.findings, m.fallbacks,
		m.batchSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) addCandidates(n int) {
	if m != nil {
		m.candidates.Add(float64(n))
	}
}

func (m *Metrics) addInvalid(n int) {
	if m != nil && n > 0 {
		m.invalidSeeds.Add(float64(n))
	}
}

func (m *Metrics) addFindings(n int) {
	if m != nil && n > 0 {
		m.findings.Add(float64(n))
	}
}

func (m *Metrics) addFallback() {
	if m != nil {
		m.fallbacks.Inc()
	}
}

func (m *Metrics) observeBatch(secs float64) {
	if m != nil {
		m.batchSeconds.Observe(secs)
	}
}
