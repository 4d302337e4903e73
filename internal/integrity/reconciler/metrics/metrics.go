package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for integrity reconciliation runs.
type Metrics struct {
	Remediations *prometheus.CounterVec
	Rounds       prometheus.Histogram
}

// New creates a Metrics instance with all reconciler metrics registered.
func New() *Metrics {
	return &Metrics{
		Remediations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicore_integrity_remediations_total",
			Help: "Total remediation actions applied, by entity kind and action",
		}, []string{"kind", "action"}),
		Rounds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clinicore_integrity_reconcile_rounds",
			Help:    "Worklist rounds needed per reconciliation run",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}),
	}
}

// IncrementRemediation records one applied remediation action.
func (m *Metrics) IncrementRemediation(kind, action string) {
	if m != nil {
		m.Remediations.WithLabelValues(kind, action).Inc()
	}
}

// ObserveRounds records how many worklist rounds a run took.
func (m *Metrics) ObserveRounds(rounds int) {
	if m != nil {
		m.Rounds.Observe(float64(rounds))
	}
}
