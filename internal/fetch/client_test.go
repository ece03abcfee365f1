package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient() *Client {
	c := NewClient(Options{
		TotalTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryDelay:   time.Millisecond,
	})
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestGetSuccessCapturesValidators(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	res, err := testClient().Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.Body != "<html>hello</html>" {
		t.Fatalf("unexpected body %q", res.Body)
	}
	if res.ETag != `"v1"` || res.LastModified == "" {
		t.Fatalf("validators not captured: %+v", res)
	}
}

func TestGetNotModified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != `"v1"` {
			t.Errorf("conditional header missing, got %q", r.Header.Get("If-None-Match"))
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	res, err := testClient().Get(context.Background(), srv.URL, &Conditional{ETag: `"v1"`})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !res.NotModified {
		t.Fatal("expected NotModified result")
	}
}

func TestGetPermanent4xxNoRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := testClient().Get(context.Background(), srv.URL, nil); err == nil {
		t.Fatal("expected error for 404")
	}
	if calls.Load() != 1 {
		t.Fatalf("404 should not be retried, got %d calls", calls.Load())
	}
}

func TestGetRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	res, err := testClient().Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.Body != "ok" {
		t.Fatalf("unexpected body %q", res.Body)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestGet429IsRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if _, err := testClient().Get(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("429 should be retried: %v", err)
	}
}

func TestRedirectLoopFailsImmediately(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL, http.StatusFound)
	}))
	defer srv.Close()

	_, err := testClient().Get(context.Background(), srv.URL, nil)
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
}

func TestDecodeDeclaredCharset(t *testing.T) {
	t.Parallel()

	// "café" in ISO-8859-1: é is 0xE9.
	raw := []byte{'c', 'a', 'f', 0xE9}
	got := decodeBody(raw, "text/html; charset=iso-8859-1")
	if got != "café" {
		t.Fatalf("decoded %q, want café", got)
	}
}

func TestDecodeFallsBackOnBadCharset(t *testing.T) {
	t.Parallel()

	got := decodeBody([]byte("plain ascii"), "text/html; charset=not-a-charset")
	if got != "plain ascii" {
		t.Fatalf("decoded %q", got)
	}
}

func TestDecodeNeverFails(t *testing.T) {
	t.Parallel()

	got := decodeBody([]byte{0xFF, 0xFE, 0xFD}, "")
	if got == "" {
		t.Fatal("decode should always produce output")
	}
}
