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
	// Request metrics
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelserve_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelserve_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// Generation metrics
	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelserve_generation_duration_seconds",
		Help:    "Duration of generation streams",
		Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"backend", "status"})

	chunksStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelserve_chunks_streamed_total",
		Help: "Total number of SSE chunks streamed",
	})

	// Chat metrics
	chatsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelserve_chats_created_total",
		Help: "Total number of chats created",
	})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelserve_cache_hits_total",
		Help: "Total number of answer cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelserve_cache_misses_total",
		Help: "Total number of answer cache misses",
	})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelserve_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	}, []string{"user_id"})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelserve_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "status"})

	// Model readiness gauge
	modelReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "modelserve_model_ready",
		Help: "Whether the model runtime is loaded (1) or not (0)",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRequest records a handled HTTP request
func (m *Metrics) RecordRequest(route, status string, duration time.Duration) {
	requestsTotal.WithLabelValues(route, status).Inc()
	requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordGeneration records one generation stream
func (m *Metrics) RecordGeneration(backend, status string, duration time.Duration) {
	generationDuration.WithLabelValues(backend, status).Observe(duration.Seconds())
}

// RecordChunkStreamed records one streamed SSE chunk
func (m *Metrics) RecordChunkStreamed() {
	chunksStreamed.Inc()
}

// RecordChatCreated records a created chat
func (m *Metrics) RecordChatCreated() {
	chatsCreated.Inc()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded(userID string) {
	rateLimitExceeded.WithLabelValues(userID).Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string) {
	storageOperations.WithLabelValues(operation, status).Inc()
}

// SetModelReady sets the model readiness gauge
func (m *Metrics) SetModelReady(ready bool) {
	if ready {
		modelReady.Set(1)
	} else {
		modelReady.Set(0)
	}
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
