package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_ms",
			Help:    "Duration of HTTP requests in ms",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600},
		},
		[]string{"method", "path"},
	)

	PaymentsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_dispatched_total",
			Help: "Payment attempts by method, provider and normalized status",
		},
		[]string{"method", "provider", "status"},
	)

	ProviderFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_provider_fallbacks_total",
			Help: "Mobile money requests served by a fallback provider",
		},
		[]string{"from", "to"},
	)

	ReconciliationGaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_reconciliation_gaps_total",
			Help: "Provider outcomes that could not be persisted locally",
		},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Provider webhook deliveries by outcome",
		},
		[]string{"provider", "outcome"},
	)

	WalletMovements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_movements_total",
			Help: "Completed wallet ledger entries by type",
		},
		[]string{"type"},
	)
)
