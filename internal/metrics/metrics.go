// Package metrics collects run counters for the downloader and LLM client.
// The collector is created once and injected; nothing here is global.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ModelStats aggregates LLM request outcomes for one model.
type ModelStats struct {
	Requests   int64         `json:"requests"`
	Failed     int64         `json:"failed"`
	AvgLatency time.Duration `json:"avg_latency"`
	MinLatency time.Duration `json:"min_latency"`
	MaxLatency time.Duration `json:"max_latency"`
}

// Snapshot is a point-in-time export of all counters.
type Snapshot struct {
	ArticlesDownloaded int64                 `json:"articles_downloaded_total"`
	ArticlesSummarized int64                 `json:"articles_summarized_total"`
	CacheHits          int64                 `json:"cache_hits_total"`
	CacheMisses        int64                 `json:"cache_misses_total"`
	Models             map[string]ModelStats `json:"models"`
}

// Collector is a mutex-guarded metrics sink shared by all concurrent tasks.
type Collector struct {
	mu sync.Mutex

	articlesDownloaded int64
	articlesSummarized int64
	cacheHits          int64
	cacheMisses        int64

	llmRequests  map[string]int64
	llmFailed    map[string]int64
	llmLatencies map[string][]time.Duration
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		llmRequests:  make(map[string]int64),
		llmFailed:    make(map[string]int64),
		llmLatencies: make(map[string][]time.Duration),
	}
}

// RecordDownload counts one persisted article.
func (c *Collector) RecordDownload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.articlesDownloaded++
}

// RecordSummarize counts one generated summary.
func (c *Collector) RecordSummarize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.articlesSummarized++
}

// RecordLLMRequest counts one endpoint call and its latency for a model.
func (c *Collector) RecordLLMRequest(model string, latency time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.llmRequests[model]++
	if !success {
		c.llmFailed[model]++
	}
	c.llmLatencies[model] = append(c.llmLatencies[model], latency)
}

// RecordCacheHit counts one summarization cache hit.
func (c *Collector) RecordCacheHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheHits++
}

// RecordCacheMiss counts one summarization cache miss.
func (c *Collector) RecordCacheMiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheMisses++
}

// Snapshot exports the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	models := make(map[string]ModelStats, len(c.llmRequests))
	for model, latencies := range c.llmLatencies {
		stats := ModelStats{
			Requests: c.llmRequests[model],
			Failed:   c.llmFailed[model],
		}
		if len(latencies) > 0 {
			var total time.Duration
			stats.MinLatency = latencies[0]
			for _, l := range latencies {
				total += l
				if l < stats.MinLatency {
					stats.MinLatency = l
				}
				if l > stats.MaxLatency {
					stats.MaxLatency = l
				}
			}
			stats.AvgLatency = total / time.Duration(len(latencies))
		}
		models[model] = stats
	}

	return Snapshot{
		ArticlesDownloaded: c.articlesDownloaded,
		ArticlesSummarized: c.articlesSummarized,
		CacheHits:          c.cacheHits,
		CacheMisses:        c.cacheMisses,
		Models:             models,
	}
}

// Prometheus renders the counters in Prometheus text exposition format.
func (c *Collector) Prometheus() string {
	snap := c.Snapshot()

	var sb strings.Builder
	sb.WriteString("# HELP articles_downloaded_total Total articles downloaded\n")
	sb.WriteString("# TYPE articles_downloaded_total counter\n")
	fmt.Fprintf(&sb, "articles_downloaded_total %d\n\n", snap.ArticlesDownloaded)

	sb.WriteString("# HELP articles_summarized_total Total articles summarized\n")
	sb.WriteString("# TYPE articles_summarized_total counter\n")
	fmt.Fprintf(&sb, "articles_summarized_total %d\n\n", snap.ArticlesSummarized)

	names := make([]string, 0, len(snap.Models))
	for model := range snap.Models {
		names = append(names, model)
	}
	sort.Strings(names)

	sb.WriteString("# HELP llm_requests_total Total LLM API requests by model\n")
	sb.WriteString("# TYPE llm_requests_total counter\n")
	for _, model := range names {
		fmt.Fprintf(&sb, "llm_requests_total{model=%q} %d\n", model, snap.Models[model].Requests)
	}
	sb.WriteString("\n# HELP llm_requests_failed Total failed LLM API requests by model\n")
	sb.WriteString("# TYPE llm_requests_failed counter\n")
	for _, model := range names {
		fmt.Fprintf(&sb, "llm_requests_failed{model=%q} %d\n", model, snap.Models[model].Failed)
	}
	sb.WriteString("\n# HELP llm_latency_avg_seconds Average LLM request latency by model\n")
	sb.WriteString("# TYPE llm_latency_avg_seconds gauge\n")
	for _, model := range names {
		fmt.Fprintf(&sb, "llm_latency_avg_seconds{model=%q} %.6f\n", model, snap.Models[model].AvgLatency.Seconds())
	}

	sb.WriteString("\n# HELP cache_hits_total Total cache hits\n")
	sb.WriteString("# TYPE cache_hits_total counter\n")
	fmt.Fprintf(&sb, "cache_hits_total %d\n\n", snap.CacheHits)

	sb.WriteString("# HELP cache_misses_total Total cache misses\n")
	sb.WriteString("# TYPE cache_misses_total counter\n")
	fmt.Fprintf(&sb, "cache_misses_total %d\n", snap.CacheMisses)
	return sb.String()
}
