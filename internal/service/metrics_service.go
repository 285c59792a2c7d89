package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/credential-eval-api/internal/models"
	"github.com/noah-isme/credential-eval-api/pkg/jobs"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	extractions     *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	ocrDuration     *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	ruleGenerations *prometheus.CounterVec
	jobsProcessed   *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	llmCount             uint64
	llmDurationTotal     uint64

	mu              sync.Mutex
	transitionCount map[string]uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	extractions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "text_extractions_total",
		Help: "Text extractions by method and outcome",
	}, []string{"method", "outcome"})

	llmDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_call_duration_seconds",
		Help:    "Latency of language model calls",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"operation", "outcome"})

	ocrDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ocr_command_duration_seconds",
		Help:    "Wall time of OCR toolchain commands",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"tool", "outcome"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evaluation_transitions_total",
		Help: "Evaluation request status transitions",
	}, []string{"from", "to"})

	ruleGenerations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rule_generations_total",
		Help: "Country rule set generations by outcome",
	}, []string{"outcome"})

	jobsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_processed_total",
		Help: "Background jobs processed by queue and outcome",
	}, []string{"queue", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheHitRatio, cacheHits, cacheMisses,
		extractions, llmDuration, ocrDuration, transitions, ruleGenerations, jobsProcessed, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		extractions:     extractions,
		llmDuration:     llmDuration,
		ocrDuration:     ocrDuration,
		transitions:     transitions,
		ruleGenerations: ruleGenerations,
		jobsProcessed:   jobsProcessed,
		transitionCount: make(map[string]uint64),
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// RecordExtraction counts a text extraction attempt.
func (m *MetricsService) RecordExtraction(method string, err error) {
	if m == nil {
		return
	}
	if method == "" {
		method = "none"
	}
	m.extractions.WithLabelValues(method, outcome(err)).Inc()
}

// ObserveLLMCall records the latency of a language model call.
func (m *MetricsService) ObserveLLMCall(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.llmDuration.WithLabelValues(operation, outcome(err)).Observe(duration.Seconds())
	atomic.AddUint64(&m.llmCount, 1)
	atomic.AddUint64(&m.llmDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveOCRCommand records the wall time of one OCR toolchain command.
func (m *MetricsService) ObserveOCRCommand(tool string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.ocrDuration.WithLabelValues(tool, outcome(err)).Observe(duration.Seconds())
}

// RecordTransition counts a status change of an evaluation request.
func (m *MetricsService) RecordTransition(from, to models.EvaluationStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
	m.mu.Lock()
	m.transitionCount[string(from)+"->"+string(to)]++
	m.mu.Unlock()
}

// RecordRuleGeneration counts a rule set generation attempt.
func (m *MetricsService) RecordRuleGeneration(err error) {
	if m == nil {
		return
	}
	m.ruleGenerations.WithLabelValues(outcome(err)).Inc()
}

// RecordJob counts a finished background job attempt.
func (m *MetricsService) RecordJob(queue string, err error) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(queue, outcome(err)).Inc()
}

// JobObserver returns a queue OnDone hook counting finished attempts under queue.
func (m *MetricsService) JobObserver(queue string) func(jobs.Job, error, time.Duration) {
	return func(_ jobs.Job, err error, _ time.Duration) {
		m.RecordJob(queue, err)
	}
}

// Snapshot returns aggregated metrics suitable for the summary endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	llmCalls := atomic.LoadUint64(&m.llmCount)
	llmDuration := atomic.LoadUint64(&m.llmDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}
	var avgLLMMs float64
	if llmCalls > 0 {
		avgLLMMs = float64(llmDuration) / float64(llmCalls) / float64(time.Millisecond)
	}

	m.mu.Lock()
	transitions := make(map[string]uint64, len(m.transitionCount))
	for k, v := range m.transitionCount {
		transitions[k] = v
	}
	m.mu.Unlock()

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		LLMCalls:                 llmCalls,
		AverageLLMDurationMs:     avgLLMMs,
		Transitions:              transitions,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
