package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the subscription lifecycle engine.
type Metrics struct {
	Created            prometheus.Counter
	Renewed            prometheus.Counter
	Canceled           prometheus.Counter
	Expired            prometheus.Counter
	DuplicatesCanceled prometheus.Counter
}

// New creates a Metrics instance with all lifecycle metrics registered.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clinicore_subscriptions_created_total",
			Help: "Total subscriptions created",
		}),
		Renewed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clinicore_subscriptions_renewed_total",
			Help: "Total subscription renewals",
		}),
		Canceled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clinicore_subscriptions_canceled_total",
			Help: "Total subscription cancellations",
		}),
		Expired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clinicore_subscriptions_expired_total",
			Help: "Total subscriptions expired by the sweep",
		}),
		DuplicatesCanceled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clinicore_subscription_duplicates_canceled_total",
			Help: "Total duplicate active subscriptions canceled by repair",
		}),
	}
}

func (m *Metrics) IncrementCreated() {
	if m != nil {
		m.Created.Inc()
	}
}

func (m *Metrics) IncrementRenewed() {
	if m != nil {
		m.Renewed.Inc()
	}
}

func (m *Metrics) IncrementCanceled() {
	if m != nil {
		m.Canceled.Inc()
	}
}

func (m *Metrics) IncrementExpired() {
	if m != nil {
		m.Expired.Inc()
	}
}

func (m *Metrics) IncrementDuplicateCanceled() {
	if m != nil {
		m.DuplicatesCanceled.Inc()
	}
}
