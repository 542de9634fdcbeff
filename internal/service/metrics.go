package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CheckoutsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_checkout_sessions_created_total",
			Help: "Checkout sessions created against the payment provider",
		},
	)
	CreditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_credits_total",
			Help: "Transactions credited to account balances",
		},
		[]string{"currency"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(CheckoutsCreated)
	prometheus.MustRegister(CreditsTotal)
	prometheus.MustRegister(WebhookEvents)
}
