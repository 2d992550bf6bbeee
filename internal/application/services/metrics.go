package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels
const (
	outcomeSuccess      = "success"
	outcomeNotFound     = "not_found"
	outcomeInsufficient = "insufficient_funds"
	outcomeInvalid      = "invalid"
	outcomeCompensated  = "compensated"
	outcomeFailed       = "failed"
	outcomeResumed      = "resumed"
)

// Metrics holds the domain counters of the credit economy. A nil *Metrics
// records nothing.
type Metrics struct {
	creditsMinted prometheus.Counter
	creditsSpent  prometheus.Counter
	completions   *prometheus.CounterVec
	purchases     *prometheus.CounterVec
}

// NewMetrics creates the domain counters and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		creditsMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sapling_credits_minted_total",
			Help: "Credits minted by task completions",
		}),
		creditsSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sapling_credits_spent_total",
			Help: "Credits debited by tree purchases",
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sapling_task_completions_total",
			Help: "Task completions by outcome",
		}, []string{"outcome"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sapling_tree_purchases_total",
			Help: "Tree purchases by outcome",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.creditsMinted, m.creditsSpent, m.completions, m.purchases)
	}

	return m
}

func (m *Metrics) minted(n int64) {
	if m == nil {
		return
	}
	m.creditsMinted.Add(float64(n))
}

func (m *Metrics) spent(n int64) {
	if m == nil {
		return
	}
	m.creditsSpent.Add(float64(n))
}

func (m *Metrics) completion(outcome string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) purchase(outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(outcome).Inc()
}
