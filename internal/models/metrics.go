package models

import "time"

// SystemMetrics is a point-in-time summary of the instrumentation counters.
type SystemMetrics struct {
	CacheHitRatio            float64           `json:"cache_hit_ratio"`
	CacheHits                uint64            `json:"cache_hits"`
	CacheMisses              uint64            `json:"cache_misses"`
	RequestsTotal            uint64            `json:"requests_total"`
	AverageRequestDurationMs float64           `json:"average_request_duration_ms"`
	LLMCalls                 uint64            `json:"llm_calls"`
	AverageLLMDurationMs     float64           `json:"average_llm_duration_ms"`
	Transitions              map[string]uint64 `json:"transitions"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generated_at"`
}
