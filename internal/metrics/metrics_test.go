package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCollectorSnapshot(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.RecordDownload()
	c.RecordDownload()
	c.RecordSummarize()
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordCacheMiss()
	c.RecordLLMRequest("model-a", 100*time.Millisecond, true)
	c.RecordLLMRequest("model-a", 300*time.Millisecond, false)
	c.RecordLLMRequest("model-b", 50*time.Millisecond, true)

	snap := c.Snapshot()
	if snap.ArticlesDownloaded != 2 {
		t.Errorf("downloaded = %d, want 2", snap.ArticlesDownloaded)
	}
	if snap.ArticlesSummarized != 1 {
		t.Errorf("summarized = %d, want 1", snap.ArticlesSummarized)
	}
	if snap.CacheHits != 1 || snap.CacheMisses != 2 {
		t.Errorf("cache hits/misses = %d/%d, want 1/2", snap.CacheHits, snap.CacheMisses)
	}

	a := snap.Models["model-a"]
	if a.Requests != 2 || a.Failed != 1 {
		t.Errorf("model-a requests/failed = %d/%d, want 2/1", a.Requests, a.Failed)
	}
	if a.AvgLatency != 200*time.Millisecond {
		t.Errorf("model-a avg latency = %v, want 200ms", a.AvgLatency)
	}
	if a.MinLatency != 100*time.Millisecond || a.MaxLatency != 300*time.Millisecond {
		t.Errorf("model-a min/max = %v/%v", a.MinLatency, a.MaxLatency)
	}
	if b := snap.Models["model-b"]; b.Requests != 1 || b.Failed != 0 {
		t.Errorf("model-b requests/failed = %d/%d, want 1/0", b.Requests, b.Failed)
	}
}

func TestCollectorConcurrent(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordDownload()
			c.RecordLLMRequest("m", time.Millisecond, true)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.ArticlesDownloaded != 50 {
		t.Errorf("downloaded = %d, want 50", snap.ArticlesDownloaded)
	}
	if snap.Models["m"].Requests != 50 {
		t.Errorf("requests = %d, want 50", snap.Models["m"].Requests)
	}
}

func TestPrometheusFormat(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.RecordDownload()
	c.RecordLLMRequest("gpt-x", 2*time.Second, true)

	out := c.Prometheus()
	for _, want := range []string{
		"articles_downloaded_total 1",
		`llm_requests_total{model="gpt-x"} 1`,
		`llm_latency_avg_seconds{model="gpt-x"} 2.000000`,
		"# TYPE articles_downloaded_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prometheus output missing %q:\n%s", want, out)
		}
	}
}
