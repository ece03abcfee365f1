// Package fetch provides the shared HTTP client used for feed and article
// downloads: pooled connections, per-request retry with linear backoff,
// conditional requests, and tolerant charset decoding.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTooManyRedirects is returned when the redirect cap is exhausted.
// It is permanent; retrying the same URL would loop again.
var ErrTooManyRedirects = errors.New("too many redirects")

// Conditional carries validators for an If-None-Match / If-Modified-Since
// request.
type Conditional struct {
	ETag         string
	LastModified string
}

// Result is a completed fetch. NotModified is set for a 304 response, in
// which case Body is empty; that is a distinct outcome, not a failure.
type Result struct {
	Body         string
	NotModified  bool
	ETag         string
	LastModified string
}

// Options tunes the client; zero values fall back to defaults.
type Options struct {
	ConnectTimeout  time.Duration
	TotalTimeout    time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	MaxRedirects    int
	UserAgent       string
	MaxConnsPerHost int
}

// Client wraps http.Client with the retry and decoding policy shared by feed
// and article downloads.
type Client struct {
	httpClient *http.Client
	opts       Options

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a pooled client from opts.
func NewClient(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.TotalTimeout <= 0 {
		opts.TotalTimeout = 15 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 5
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = 10
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.ConnectTimeout,
		}).DialContext,
		MaxConnsPerHost:     opts.MaxConnsPerHost,
		MaxIdleConnsPerHost: opts.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.TotalTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= opts.MaxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		opts:  opts,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Get fetches rawURL, retrying transient failures with linear backoff
// (retry_delay × attempt). A 4xx other than 429 and a redirect loop fail
// immediately. When cond is non-nil its validators are attached, and a 304
// response yields Result{NotModified: true}.
func (c *Client) Get(ctx context.Context, rawURL string, cond *Conditional) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		res, retryable, err := c.getOnce(ctx, rawURL, cond)
		if err == nil {
			return res, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		if attempt < c.opts.MaxRetries {
			log.Debug().
				Str("url", rawURL).
				Int("attempt", attempt).
				Err(err).
				Msg("Fetch failed, retrying")
			if serr := c.sleep(ctx, c.opts.RetryDelay*time.Duration(attempt)); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", c.opts.MaxRetries, lastErr)
}

// getOnce performs a single attempt. The bool reports whether the error is
// transient and worth retrying.
func (c *Client) getOnce(ctx context.Context, rawURL string, cond *Conditional) (*Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid request: %w", err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if cond != nil {
		if cond.ETag != "" {
			req.Header.Set("If-None-Match", cond.ETag)
		}
		if cond.LastModified != "" {
			req.Header.Set("If-Modified-Since", cond.LastModified)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) && errors.Is(uerr.Err, ErrTooManyRedirects) {
			return nil, false, ErrTooManyRedirects
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, fmt.Errorf("reading body: %w", err)
		}
		return &Result{
			Body:         decodeBody(raw, resp.Header.Get("Content-Type")),
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}, false, nil

	case resp.StatusCode == http.StatusNotModified:
		return &Result{NotModified: true}, false, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		// Permanent request error; retrying will not change the answer.
		return nil, false, fmt.Errorf("HTTP %d", resp.StatusCode)

	default:
		return nil, true, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
}
