package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	Purchases        *prometheus.CounterVec
	PurchaseValue    prometheus.Counter
	Commissions      *prometheus.CounterVec
	CommissionValue  prometheus.Counter
	Withdrawals      *prometheus.CounterVec
	WalletAdjusts    *prometheus.CounterVec
	SweepDeleted     prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPLatency      *prometheus.HistogramVec
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			Purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchases_total",
				Help:      "Total purchase attempts by outcome.",
			}, []string{"status"}),
			PurchaseValue: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchase_value_total",
				Help:      "Cumulative value of completed purchases in currency units.",
			}),
			Commissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commissions_total",
				Help:      "Total commission credit attempts by outcome.",
			}, []string{"status"}),
			CommissionValue: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commission_value_total",
				Help:      "Cumulative value of credited commissions in currency units.",
			}),
			Withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "withdrawals_total",
				Help:      "Total withdrawal requests by method and outcome.",
			}, []string{"method", "status"}),
			WalletAdjusts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallet_adjustments_total",
				Help:      "Total admin wallet adjustments by wallet.",
			}, []string{"wallet"}),
			SweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_sweep_deleted_total",
				Help:      "Total ledger entries removed by retention sweeps.",
			}),
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by route and status code.",
			}, []string{"route", "code"}),
			HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency distribution for HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.Purchases,
			metricsInstance.PurchaseValue,
			metricsInstance.Commissions,
			metricsInstance.CommissionValue,
			metricsInstance.Withdrawals,
			metricsInstance.WalletAdjusts,
			metricsInstance.SweepDeleted,
			metricsInstance.HTTPRequests,
			metricsInstance.HTTPLatency,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
