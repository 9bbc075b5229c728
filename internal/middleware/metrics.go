package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LLM request metrics
	llmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_llm_requests_total",
		Help: "Total number of LLM requests",
	}, []string{"provider", "kind", "status"})

	llmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_llm_request_duration_seconds",
		Help:    "Duration of LLM requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "kind"})

	// Quota metrics
	quotaBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_quota_blocked_total",
		Help: "Total number of requests blocked by usage quotas",
	}, []string{"provider", "scope"})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_cache_hits_total",
		Help: "Total number of response cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_cache_misses_total",
		Help: "Total number of response cache misses",
	})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_rate_limit_exceeded_total",
		Help: "Total number of API rate limit rejections",
	})

	// HTTP metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_http_requests_total",
		Help: "Total number of host-shell API requests",
	}, []string{"route", "status"})

	// Configured providers gauge
	configuredProviders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assistant_configured_providers",
		Help: "Number of providers with a stored credential",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordLLMRequest records an LLM request
func (m *Metrics) RecordLLMRequest(provider, kind, status string, duration time.Duration) {
	llmRequestsTotal.WithLabelValues(provider, kind, status).Inc()
	llmRequestDuration.WithLabelValues(provider, kind).Observe(duration.Seconds())
}

// RecordQuotaBlocked records a request blocked by a usage quota
func (m *Metrics) RecordQuotaBlocked(provider, scope string) {
	quotaBlocked.WithLabelValues(provider, scope).Inc()
}

// RecordCacheHit records a response cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a response cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordRateLimitExceeded records an API rate limit rejection
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

// RecordHTTPRequest records a host-shell API request
func (m *Metrics) RecordHTTPRequest(route, status string) {
	httpRequests.WithLabelValues(route, status).Inc()
}

// SetConfiguredProviders sets the configured provider count
func (m *Metrics) SetConfiguredProviders(count float64) {
	configuredProviders.Set(count)
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
