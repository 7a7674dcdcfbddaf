// Package metrics registers the prometheus instruments for the billing ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	InvoicesGenerated prometheus.Counter
	PaymentsApplied   prometheus.Counter
	PaymentsRejected  prometheus.Counter
	ReconFindings     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InvoicesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classbill",
			Name:      "invoices_generated_total",
			Help:      "Invoices generated, including batch runs.",
		}),
		PaymentsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classbill",
			Name:      "payments_applied_total",
			Help:      "Payments accepted and allocated.",
		}),
		PaymentsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classbill",
			Name:      "payments_rejected_total",
			Help:      "Payments rejected by precondition checks.",
		}),
		ReconFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classbill",
			Name:      "reconciliation_findings_total",
			Help:      "Reconciliation findings recorded, by severity.",
		}, []string{"severity"}),
	}
	reg.MustRegister(m.InvoicesGenerated, m.PaymentsApplied, m.PaymentsRejected, m.ReconFindings)
	return m
}
