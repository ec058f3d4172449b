package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the checkout outcome counters. Aborts are labelled by the
// typed failure code so contention (insufficient_stock, transaction_failed)
// can be told apart from cashier input mistakes.
type Metrics struct {
	CheckoutsCommitted prometheus.Counter
	CheckoutsAborted   *prometheus.CounterVec
	SalesVoided        prometheus.Counter

	registry *prometheus.Registry
}

func New() *Metrics {
	committed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grocerstock",
		Subsystem: "checkout",
		Name:      "committed_total",
		Help:      "Checkouts that committed a sale record.",
	})
	aborted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grocerstock",
		Subsystem: "checkout",
		Name:      "aborted_total",
		Help:      "Checkouts aborted with no side effects, by failure code.",
	}, []string{"code"})
	voided := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grocerstock",
		Subsystem: "sales",
		Name:      "voided_total",
		Help:      "Sales voided with stock restored.",
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(committed, aborted, voided)

	return &Metrics{
		CheckoutsCommitted: committed,
		CheckoutsAborted:   aborted,
		SalesVoided:        voided,
		registry:           registry,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
