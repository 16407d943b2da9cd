// Package metrics exports escalation engine counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "civicroute"

// Prometheus implements engine.MetricsHook.
type Prometheus struct {
	offers      prometheus.Counter
	accepts     *prometheus.CounterVec
	expirations *prometheus.CounterVec
	completions prometheus.Counter
	overdue     prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the engine collectors on reg. A nil reg uses a fresh
// registry, which keeps tests independent of the global default.
func New(reg *prometheus.Registry) *Prometheus {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	p := &Prometheus{
		offers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offers_opened_total",
			Help:      "Offers opened to a candidate NGO.",
		}),
		accepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_attempts_total",
			Help:      "Accept attempts by result (won or lost).",
		}, []string{"result"}),
		expirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offers_expired_total",
			Help:      "Offers that lapsed, by what happened next (reoffered or exhausted).",
		}, []string{"next"}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_completed_total",
			Help:      "Assignments marked complete.",
		}),
		overdue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_overdue_total",
			Help:      "Assigned NGOs that missed the completion deadline.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(p.offers, p.accepts, p.expirations, p.completions, p.overdue)
	return p
}

// OnOffer is called each time an offer is opened.
func (p *Prometheus) OnOffer(issueID, ngoID string) {
	p.offers.Inc()
}

// OnAccept is called for every accept attempt.
func (p *Prometheus) OnAccept(issueID, ngoID string, won bool) {
	result := "lost"
	if won {
		result = "won"
	}
	p.accepts.WithLabelValues(result).Inc()
}

// OnExpire is called when an offer lapses.
func (p *Prometheus) OnExpire(issueID, ngoID string, exhausted bool) {
	next := "reoffered"
	if exhausted {
		next = "exhausted"
	}
	p.expirations.WithLabelValues(next).Inc()
}

// OnComplete is called when an assignment is completed.
func (p *Prometheus) OnComplete(issueID, ngoID string) {
	p.completions.Inc()
}

// OnOverdue is called when a completion deadline passes.
func (p *Prometheus) OnOverdue(issueID, ngoID string) {
	p.overdue.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
