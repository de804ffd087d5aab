package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daloamarket_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daloamarket_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	InvoicesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daloamarket_invoices_created_total",
			Help: "Invoices created at the payment gateway and persisted as pending",
		},
		[]string{"kind"},
	)

	InvoiceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daloamarket_invoice_failures_total",
			Help: "Invoice creation attempts that did not yield a checkout URL",
		},
		[]string{"kind", "reason"},
	)

	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daloamarket_reconciliations_total",
			Help: "Provider notifications processed by outcome",
		},
		[]string{"kind", "outcome"},
	)

	FulfillmentIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daloamarket_fulfillment_issues_total",
			Help: "Completed payments flagged for manual review",
		},
		[]string{"code"},
	)

	CreditOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daloamarket_credit_operations_total",
			Help: "Credit balance changes by operation and result",
		},
		[]string{"op", "result"},
	)

	PublicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daloamarket_publications_total",
			Help: "Listing publish decisions by path",
		},
		[]string{"path"},
	)

	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daloamarket_emails_sent_total",
			Help: "Transactional emails by type and status",
		},
		[]string{"type", "status"},
	)
)

func RecordHTTPRequest(method, route, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}

func RecordInvoiceCreated(kind string) {
	InvoicesCreatedTotal.WithLabelValues(kind).Inc()
}

func RecordInvoiceFailure(kind, reason string) {
	InvoiceFailuresTotal.WithLabelValues(kind, reason).Inc()
}

func RecordReconciliation(kind, outcome string) {
	ReconciliationsTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordFulfillmentIssue(code string) {
	FulfillmentIssuesTotal.WithLabelValues(code).Inc()
}

func RecordCreditOperation(op, result string) {
	CreditOperationsTotal.WithLabelValues(op, result).Inc()
}

func RecordPublication(path string) {
	PublicationsTotal.WithLabelValues(path).Inc()
}

func RecordEmail(emailType, status string) {
	EmailsSentTotal.WithLabelValues(emailType, status).Inc()
}
