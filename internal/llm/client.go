// Package llm wraps an OpenAI-compatible chat endpoint with multi-model
// fallback, per-model circuit breakers and rate limiters, and a disk
// response cache.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AaronShark/RSSTools/internal/content"
	"github.com/AaronShark/RSSTools/internal/metrics"
	"github.com/AaronShark/RSSTools/internal/resilience"
)

// ErrContentFiltered means the endpoint rejected the prompt with a 400.
// It is terminal for the whole fallback chain: a content-policy
// rejection does not depend on which model served the request.
var ErrContentFiltered = errors.New("content filtered (400)")

// ErrNotConfigured means no API key is set.
var ErrNotConfigured = errors.New("llm api_key not set")

const (
	maxBackoff    = 60 * time.Second
	batchSize     = 10
	batchMaxChars = 2000
)

// Scores is the structured response of ScoreAndClassify.
type Scores struct {
	Relevance  int      `json:"relevance"`
	Quality    int      `json:"quality"`
	Timeliness int      `json:"timeliness"`
	Category   string   `json:"category"`
	Keywords   []string `json:"keywords"`
}

// BatchArticle is one input item for SummarizeBatch.
type BatchArticle struct {
	Title   string
	Content string
}

// BatchResult is one output item of SummarizeBatch. Err is set when the
// whole batch containing this article failed.
type BatchResult struct {
	Summary string
	Err     error
}

// Options configures the client.
type Options struct {
	Host            string
	APIKey          string
	Models          []string
	MaxTokens       int
	Temperature     float64
	MaxContentChars int
	RequestDelay    time.Duration
	MaxRetries      int
	Timeout         time.Duration
	SystemPrompt    string
	// UserPromptTemplate may contain {title} and {content} placeholders.
	UserPromptTemplate string
	// ContentOnlyCacheKey keys the cache by user prompt alone, so a
	// response from any model satisfies later calls for the same content.
	ContentOnlyCacheKey bool

	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	BreakerSuccessThreshold int
	// RateLimits maps model name to requests per minute. The "default"
	// entry applies to models without an explicit limit.
	RateLimits map[string]int
}

// DefaultOptions returns options matching the stock configuration.
func DefaultOptions() Options {
	return Options{
		MaxTokens:               500,
		Temperature:             0.3,
		MaxContentChars:         8000,
		RequestDelay:            time.Second,
		MaxRetries:              3,
		Timeout:                 120 * time.Second,
		SystemPrompt:            "You are a helpful assistant that writes concise article summaries.",
		UserPromptTemplate:      "Summarize this article in 2-3 sentences, in the same language as the article.\n\nTitle: {title}\n\n{content}",
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  60 * time.Second,
		BreakerSuccessThreshold: 2,
		RateLimits:              map[string]int{"default": 60},
	}
}

// Client calls the summarization endpoint through an ordered list of
// fallback models. Calls are serialized; the resilience primitives are
// still internally locked because tests and the cache cleaner may touch
// them concurrently.
type Client struct {
	opts     Options
	http     *http.Client
	cache    *Cache
	metrics  *metrics.Collector
	breakers map[string]*resilience.CircuitBreaker
	limiters map[string]*resilience.SlidingWindow

	mu    sync.Mutex
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient wires breakers and limiters for each configured model.
// The metrics collector may be nil.
func NewClient(opts Options, cache *Cache, collector *metrics.Collector) *Client {
	c := &Client{
		opts:     opts,
		http:     &http.Client{},
		cache:    cache,
		metrics:  collector,
		breakers: make(map[string]*resilience.CircuitBreaker, len(opts.Models)),
		limiters: make(map[string]*resilience.SlidingWindow, len(opts.Models)),
		sleep:    sleepCtx,
	}
	defaultRPM := opts.RateLimits["default"]
	if defaultRPM <= 0 {
		defaultRPM = 60
	}
	for _, model := range opts.Models {
		c.breakers[model] = resilience.NewCircuitBreaker(
			opts.BreakerFailureThreshold,
			opts.BreakerRecoveryTimeout,
			opts.BreakerSuccessThreshold,
		)
		rpm := opts.RateLimits[model]
		if rpm <= 0 {
			rpm = defaultRPM
		}
		c.limiters[model] = resilience.NewSlidingWindow(rpm, time.Minute)
	}
	return c
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.opts.APIKey != ""
}

// Summarize generates a short summary for one article.
func (c *Client) Summarize(ctx context.Context, title, articleContent string) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cleaned := truncate(content.Preprocess(articleContent), c.opts.MaxContentChars)
	userMsg := strings.NewReplacer(
		"{title}", title,
		"{content}", cleaned,
	).Replace(c.opts.UserPromptTemplate)

	return c.callWithFallback(ctx, userMsg, nil)
}

// ScoreAndClassify rates an article on relevance, quality and
// timeliness, classifies it and extracts keywords.
func (c *Client) ScoreAndClassify(ctx context.Context, title, articleContent string) (*Scores, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cleaned := truncate(content.Preprocess(articleContent), c.opts.MaxContentChars)
	userMsg := fmt.Sprintf(
		"Rate this article on 3 dimensions (1-10 scale):\n"+
			"- relevance: Value to tech professionals\n"+
			"- quality: Depth and writing quality\n"+
			"- timeliness: Current relevance\n\n"+
			"Classify into exactly one of these categories:\n"+
			"ai-ml (AI/ML), security, engineering, tools, opinion, other\n\n"+
			"Extract 2-4 keywords (single words or short phrases).\n\n"+
			"Article title: %s\n\nArticle content:\n%s\n\n"+
			"Return ONLY valid JSON (no markdown formatting):\n"+
			`{"relevance": <1-10>, "quality": <1-10>, "timeliness": <1-10>, `+
			`"category": "<category>", "keywords": ["keyword1", "keyword2"]}`,
		title, cleaned)

	var scores *Scores
	// validate rejects responses that are not the expected JSON shape;
	// a malformed fresh response fails the call rather than falling
	// through to the next model with the same prompt.
	validate := func(raw string) error {
		var s Scores
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return fmt.Errorf("invalid JSON response: %w", err)
		}
		scores = &s
		return nil
	}
	if _, err := c.callWithFallback(ctx, userMsg, validate); err != nil {
		return nil, err
	}
	return scores, nil
}

// SummarizeBatch summarizes articles in chunks of up to ten per API
// call. A chunk's response must parse and contain exactly one summary
// per article, otherwise the whole chunk is reported failed.
func (c *Client) SummarizeBatch(ctx context.Context, articles []BatchArticle) []BatchResult {
	results := make([]BatchResult, 0, len(articles))
	if len(articles) == 0 {
		return results
	}
	if !c.Enabled() {
		for range articles {
			results = append(results, BatchResult{Err: ErrNotConfigured})
		}
		return results
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for start := 0; start < len(articles); start += batchSize {
		end := start + batchSize
		if end > len(articles) {
			end = len(articles)
		}
		results = append(results, c.summarizeChunk(ctx, articles[start:end])...)
		c.pace(ctx)
	}
	return results
}

func (c *Client) summarizeChunk(ctx context.Context, chunk []BatchArticle) []BatchResult {
	var sb strings.Builder
	for i, a := range chunk {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&sb, "Index %d: %s\n\n%s", i, a.Title,
			content.Preprocess(truncate(a.Content, batchMaxChars)))
	}
	prompt := fmt.Sprintf(
		"Summarize each article in 2-3 sentences, in the same language as the article.\n"+
			"Return ONLY valid JSON (no markdown formatting):\n"+
			`{"results": [{"index": 0, "summary": "..."}, {"index": 1, "summary": "..."}]}`+
			"\n\nArticles:\n%s",
		sb.String())

	type batchItem struct {
		Index   int    `json:"index"`
		Summary string `json:"summary"`
	}
	type batchResponse struct {
		Results []batchItem `json:"results"`
	}

	var parsed []batchItem
	validate := func(raw string) error {
		var resp batchResponse
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return fmt.Errorf("invalid batch JSON: %w", err)
		}
		if len(resp.Results) != len(chunk) {
			return fmt.Errorf("batch count mismatch: got %d summaries for %d articles",
				len(resp.Results), len(chunk))
		}
		parsed = resp.Results
		return nil
	}

	if _, err := c.callWithFallback(ctx, prompt, validate); err != nil {
		failed := make([]BatchResult, len(chunk))
		for i := range failed {
			failed[i] = BatchResult{Err: fmt.Errorf("batch processing failed: %w", err)}
		}
		return failed
	}

	out := make([]BatchResult, len(chunk))
	for _, item := range parsed {
		if item.Index >= 0 && item.Index < len(out) {
			out[item.Index] = BatchResult{Summary: item.Summary}
		}
	}
	return out
}

// callWithFallback walks the model list. validate, when non-nil, checks
// a fresh or cached response body; a validation failure of a fresh
// response fails the call.
func (c *Client) callWithFallback(ctx context.Context, userMsg string, validate func(string) error) (string, error) {
	var lastErr error

	for _, model := range c.opts.Models {
		cb := c.breakers[model]
		if !cb.Allow() {
			log.Warn().
				Str("model", model).
				Str("state", cb.State().String()).
				Msg("Circuit breaker open, skipping model")
			continue
		}

		limiter := c.limiters[model]
		if wait := limiter.WaitTime(); wait > 0 {
			log.Debug().
				Str("model", model).
				Dur("wait", wait).
				Msg("Rate limit wait")
			if err := c.sleep(ctx, wait); err != nil {
				return "", err
			}
		}
		if !limiter.Allow() {
			log.Warn().
				Str("model", model).
				Msg("Rate limit exceeded, skipping model")
			continue
		}

		key := Key(model, c.opts.SystemPrompt, userMsg, c.opts.ContentOnlyCacheKey)
		if cached := c.cache.Get(key); cached != "" {
			if validate == nil || validate(cached) == nil {
				if c.metrics != nil {
					c.metrics.RecordCacheHit()
				}
				return cached, nil
			}
			// Stale malformed entry, fall through to a fresh call.
		}
		if c.metrics != nil {
			c.metrics.RecordCacheMiss()
		}

		result, err := c.callAPI(ctx, model, userMsg)
		if err == nil && validate != nil {
			if verr := validate(result); verr != nil {
				cb.RecordSuccess()
				return "", verr
			}
		}
		if err == nil {
			cb.RecordSuccess()
			if perr := c.cache.Put(key, result); perr != nil {
				log.Warn().Err(perr).Msg("Failed to write LLM cache entry")
			}
			c.pace(ctx)
			return result, nil
		}

		prev := cb.State()
		cb.RecordFailure()
		if cur := cb.State(); cur != prev {
			log.Info().
				Str("model", model).
				Str("from", prev.String()).
				Str("to", cur.String()).
				Msg("Circuit breaker state change")
		}
		if errors.Is(err, ErrContentFiltered) {
			return "", err
		}
		lastErr = err
		log.Warn().
			Str("model", model).
			Err(err).
			Msg("Model failed, trying next")
	}

	c.pace(ctx)
	if lastErr == nil {
		lastErr = errors.New("all models unavailable")
	}
	return "", lastErr
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens        int `json:"completion_tokens"`
		CompletionTokensDetails struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
}

// callAPI issues one chat completion with per-attempt timeout and
// exponential backoff. A 400 is returned as ErrContentFiltered without
// further attempts.
func (c *Client) callAPI(ctx context.Context, model, userMsg string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: c.opts.SystemPrompt},
			{Role: "user", Content: userMsg},
		},
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		result, retryable, err := c.attempt(ctx, model, payload)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err

		backoff := time.Duration(1<<attempt) * 2 * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		log.Warn().
			Str("model", model).
			Err(err).
			Dur("wait", backoff).
			Int("attempt", attempt+1).
			Int("max_retries", c.opts.MaxRetries).
			Msg("API retry")
		if serr := c.sleep(ctx, backoff); serr != nil {
			return "", serr
		}
	}
	return "", fmt.Errorf("gave up after %d retries: %w", c.opts.MaxRetries, lastErr)
}

func (c *Client) attempt(ctx context.Context, model string, payload []byte) (result string, retryable bool, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost,
		c.opts.Host+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordLLMRequest(model, latency, false)
		}
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			if c.metrics != nil {
				c.metrics.RecordLLMRequest(model, latency, false)
			}
			return "", true, fmt.Errorf("failed to read response: %w", err)
		}
		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			if c.metrics != nil {
				c.metrics.RecordLLMRequest(model, latency, false)
			}
			return "", true, fmt.Errorf("failed to decode response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			if c.metrics != nil {
				c.metrics.RecordLLMRequest(model, latency, false)
			}
			return "", true, errors.New("response has no choices")
		}
		reasoning := parsed.Usage.CompletionTokensDetails.ReasoningTokens
		log.Debug().
			Int("reasoning_tokens", reasoning).
			Int("content_tokens", parsed.Usage.CompletionTokens-reasoning).
			Msg("Tokens used")
		text := strings.TrimSpace(parsed.Choices[0].Message.Content)
		if text == "" {
			if c.metrics != nil {
				c.metrics.RecordLLMRequest(model, latency, false)
			}
			return "", false, fmt.Errorf("empty content (reasoning %d/%d)",
				reasoning, parsed.Usage.CompletionTokens)
		}
		if c.metrics != nil {
			c.metrics.RecordLLMRequest(model, latency, true)
		}
		return text, false, nil

	case resp.StatusCode == http.StatusBadRequest:
		if c.metrics != nil {
			c.metrics.RecordLLMRequest(model, latency, false)
		}
		return "", false, ErrContentFiltered

	default:
		if c.metrics != nil {
			c.metrics.RecordLLMRequest(model, latency, false)
		}
		return "", true, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
}

// pace enforces the inter-request delay. Context cancellation cuts the
// wait short; the caller already has its result.
func (c *Client) pace(ctx context.Context) {
	if c.opts.RequestDelay > 0 {
		_ = c.sleep(ctx, c.opts.RequestDelay)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncate limits s to max runes without splitting a multi-byte
// character.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
