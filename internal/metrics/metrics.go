package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	RechargeOutcomes *prometheus.CounterVec
	RechargePolls    prometheus.Counter
	WalletMutations  *prometheus.CounterVec
	OfferCacheEvents *prometheus.CounterVec
	RateLimitHits    *prometheus.CounterVec
	Alerts           *prometheus.CounterVec
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
			ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total provider API requests by service and status.",
			}, []string{"service", "status"}),
			ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Latency distribution for provider API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"service", "status"}),
			RechargeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recharge_outcomes_total",
				Help:      "Recharge saga terminal outcomes by type and status.",
			}, []string{"type", "status"}),
			RechargePolls: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recharge_poll_attempts_total",
				Help:      "Total provider status poll attempts.",
			}),
			WalletMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallet_mutations_total",
				Help:      "Wallet ledger mutations by direction and source.",
			}, []string{"direction", "source"}),
			OfferCacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offer_cache_events_total",
				Help:      "Offer cache hits, misses and refreshes.",
			}, []string{"event"}),
			RateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Daily rate limit rejections by transaction type.",
			}, []string{"type"}),
			Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operational_alerts_total",
				Help:      "Operational alerts raised for operator attention.",
			}, []string{"reason"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.ProviderRequests,
			metricsInstance.ProviderLatency,
			metricsInstance.RechargeOutcomes,
			metricsInstance.RechargePolls,
			metricsInstance.WalletMutations,
			metricsInstance.OfferCacheEvents,
			metricsInstance.RateLimitHits,
			metricsInstance.Alerts,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
