package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AaronShark/RSSTools/internal/database"
	"github.com/AaronShark/RSSTools/internal/feed"
	"github.com/AaronShark/RSSTools/internal/fetch"
	"github.com/AaronShark/RSSTools/internal/storage"
)

type repos struct {
	articles *storage.ArticleRepository
	failures *storage.FailureRepository
	etags    *storage.ETagRepository
}

func newTestRepos(t *testing.T) repos {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repos{
		articles: storage.NewArticleRepository(db),
		failures: storage.NewFailureRepository(db),
		etags:    storage.NewETagRepository(db),
	}
}

func newTestDownloader(t *testing.T, r repos) *Downloader {
	t.Helper()
	opts := DefaultOptions(t.TempDir())
	opts.DomainRate = 1000
	d := NewDownloader(opts, fetch.NewClient(fetch.Options{MaxRetries: 1}),
		r.articles, r.failures, r.etags, nil, nil, nil)
	// httptest binds to loopback, which the production URL check rejects.
	d.validate = func(string) error { return nil }
	return d
}

const articlePage = `<html><body><article>%s</article></body></html>`

func longText(seed string) string {
	return seed + " " + strings.Repeat("Substantial article body text. ", 10)
}

func rssFeed(srvURL string, links ...string) string {
	var items strings.Builder
	for i, link := range links {
		fmt.Fprintf(&items, `<item>
			<title>Article %d</title>
			<link>%s</link>
			<pubDate>Mon, 02 Jan 2023 15:04:05 GMT</pubDate>
			<description>Short teaser.</description>
		</item>`, i+1, link)
	}
	return fmt.Sprintf(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>Test Feed</title><link>%s</link>%s</channel></rss>`,
		srvURL, items.String())
}

func TestRunDownloadsArticles(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(srv.URL, srv.URL+"/a1", srv.URL+"/a2"))
	})
	mux.HandleFunc("/a1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, articlePage, longText("first"))
	})
	mux.HandleFunc("/a2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, articlePage, longText("second"))
	})

	r := newTestRepos(t)
	d := newTestDownloader(t, r)

	err := d.Run(context.Background(), []feed.Subscription{{Title: "Test Feed", URL: srv.URL + "/feed.xml"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := d.Downloaded(); got != 2 {
		t.Errorf("Downloaded() = %d, want 2", got)
	}

	ctx := context.Background()
	a, err := r.articles.Get(ctx, srv.URL+"/a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a == nil {
		t.Fatal("article /a1 not persisted")
	}
	if a.SourceName != "Test Feed" {
		t.Errorf("source = %q", a.SourceName)
	}
	if a.ContentSource.String != "page" {
		t.Errorf("content_source = %q", a.ContentSource.String)
	}

	path := filepath.Join(d.opts.BaseDir, a.Filepath.String)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("article file missing: %v", err)
	}
	fm, body := ParseFrontMatter(string(raw))
	if fm == nil {
		t.Fatal("article file has no front matter")
	}
	if fm.URL != srv.URL+"/a1" || fm.Source != "Test Feed" {
		t.Errorf("front matter = %+v", fm)
	}
	if !strings.Contains(body, "first") {
		t.Errorf("body missing extracted content: %q", body)
	}
}

func TestDuplicateURLWrittenOnce(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		// The same article URL listed twice races through the pipeline.
		fmt.Fprint(w, rssFeed(srv.URL, srv.URL+"/dup", srv.URL+"/dup"))
	})
	mux.HandleFunc("/dup", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, articlePage, longText("dup"))
	})

	r := newTestRepos(t)
	d := newTestDownloader(t, r)

	if err := d.Run(context.Background(), []feed.Subscription{{Title: "Feed", URL: srv.URL + "/feed.xml"}}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	count, err := r.articles.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("article rows = %d, want 1", count)
	}
	if got := d.Downloaded(); got != 1 {
		t.Errorf("Downloaded() = %d, want 1", got)
	}
}

func TestFeedFetchFailureRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := newTestRepos(t)
	d := newTestDownloader(t, r)

	feedURL := srv.URL + "/feed.xml"
	if err := d.Run(context.Background(), []feed.Subscription{{Title: "Broken", URL: feedURL}}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec, err := r.failures.GetFeedFailure(context.Background(), feedURL)
	if err != nil {
		t.Fatalf("GetFeedFailure: %v", err)
	}
	if rec == nil {
		t.Fatal("feed failure not recorded")
	}

	grouped := d.GroupedFailures()
	if len(grouped) != 1 {
		t.Errorf("grouped failures = %d groups, want 1", len(grouped))
	}
	for _, fs := range grouped {
		if fs[0].Type != "feed" || fs[0].URL != feedURL {
			t.Errorf("failure = %+v", fs[0])
		}
	}
}

func TestNotModifiedShortCircuits(t *testing.T) {
	var feedHits, articleHits int
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		feedHits++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, rssFeed(srv.URL, srv.URL+"/a1"))
	})
	mux.HandleFunc("/a1", func(w http.ResponseWriter, r *http.Request) {
		articleHits++
		fmt.Fprintf(w, articlePage, longText("first"))
	})

	r := newTestRepos(t)
	d := newTestDownloader(t, r)
	sub := []feed.Subscription{{Title: "Feed", URL: srv.URL + "/feed.xml"}}

	if err := d.Run(context.Background(), sub); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if articleHits != 1 {
		t.Fatalf("articleHits = %d after first run", articleHits)
	}

	// A stale failure record must survive the 304 path untouched.
	if err := r.failures.RecordFeedFailure(context.Background(), sub[0].URL, "old outage"); err != nil {
		t.Fatalf("record feed failure: %v", err)
	}

	// Second run sends the stored validator and stops at the 304.
	d2 := newTestDownloader(t, r)
	d2.opts.BaseDir = d.opts.BaseDir
	if err := d2.Run(context.Background(), sub); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if feedHits != 2 {
		t.Errorf("feedHits = %d, want 2", feedHits)
	}
	if articleHits != 1 {
		t.Errorf("articleHits = %d, want 1 (304 must short-circuit)", articleHits)
	}

	rec, err := r.failures.GetFeedFailure(context.Background(), sub[0].URL)
	if err != nil {
		t.Fatalf("get feed failure: %v", err)
	}
	if rec == nil || rec.Error != "old outage" {
		t.Errorf("failure record altered by 304 response: %+v", rec)
	}
}

func TestFeedContentFallback(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	embedded := "<p>" + longText("embedded") + "</p>"
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>F</title><item>
<title>Embedded</title><link>%s/gone</link>
<description><![CDATA[%s]]></description>
</item></channel></rss>`, srv.URL, embedded)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	r := newTestRepos(t)
	d := newTestDownloader(t, r)

	if err := d.Run(context.Background(), []feed.Subscription{{Title: "F", URL: srv.URL + "/feed.xml"}}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	a, err := r.articles.Get(context.Background(), srv.URL+"/gone")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a == nil {
		t.Fatal("article not persisted from feed content")
	}
	if a.ContentSource.String != "feed" {
		t.Errorf("content_source = %q, want feed", a.ContentSource.String)
	}
}

func TestUnsafeURLDropped(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(srv.URL, srv.URL+"/a1"))
	})
	mux.HandleFunc("/a1", func(w http.ResponseWriter, r *http.Request) {
		t.Error("article fetched despite failing the URL check")
	})

	r := newTestRepos(t)
	d := newTestDownloader(t, r)
	// Production validator: loopback article URLs are policy rejections.
	d.validate = func(string) error { return fmt.Errorf("unsafe URL") }

	if err := d.Run(context.Background(), []feed.Subscription{{Title: "F", URL: srv.URL + "/feed.xml"}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := d.Downloaded(); got != 0 {
		t.Errorf("Downloaded() = %d, want 0", got)
	}
	// Policy rejections are not failures and are never retried.
	if got := d.Failed(); got != 0 {
		t.Errorf("Failed() = %d, want 0", got)
	}
}

func TestFrontMatterRoundTrip(t *testing.T) {
	t.Parallel()

	fm := &FrontMatter{
		Title:         `Quotes "inside" and\backslash`,
		Source:        "Blog",
		FeedURL:       "https://example.com/feed",
		URL:           "https://example.com/a",
		Published:     "Mon, 02 Jan 2023 15:04:05 GMT",
		Downloaded:    "2026-08-30T00:00:00Z",
		ContentSource: "page",
		Summary:       "Line one\nline two",
	}
	text := fm.Render("Body paragraph.\n")

	parsed, body := ParseFrontMatter(text)
	if parsed == nil {
		t.Fatal("front matter not parsed back")
	}
	if parsed.Title != fm.Title {
		t.Errorf("title = %q, want %q", parsed.Title, fm.Title)
	}
	if parsed.Summary != fm.Summary {
		t.Errorf("summary = %q, want %q", parsed.Summary, fm.Summary)
	}
	if body != "Body paragraph.\n" {
		t.Errorf("body = %q", body)
	}
}

func TestParseFrontMatterMissing(t *testing.T) {
	t.Parallel()

	fm, body := ParseFrontMatter("just text, no metadata")
	if fm != nil {
		t.Errorf("fm = %+v, want nil", fm)
	}
	if body != "just text, no metadata" {
		t.Errorf("body = %q", body)
	}
}

func TestSafeDirname(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{`A/B\C:D`, "ABCD"},
		{"Hello World  Blog", "Hello-World-Blog"},
		{"", "unknown"},
		{"///", "unknown"},
	}
	for _, c := range cases {
		if got := SafeDirname(c.in); got != c.want {
			t.Errorf("SafeDirname(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestArticleFilename(t *testing.T) {
	t.Parallel()

	now := func() time.Time { return time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC) }

	name := ArticleFilename("Hello, World!", "https://example.com/a", "Mon, 02 Jan 2023 15:04:05 GMT", now)
	if !strings.HasPrefix(name, "2023-01-02_Hello-World_") {
		t.Errorf("name = %q", name)
	}
	if !strings.HasSuffix(name, ".md") {
		t.Errorf("name = %q", name)
	}

	// Unparseable dates fall back to today.
	name = ArticleFilename("T", "https://example.com/b", "sometime", now)
	if !strings.HasPrefix(name, "2026-08-30_") {
		t.Errorf("name = %q", name)
	}

	// Same title, different URL must not collide.
	a := ArticleFilename("Same", "https://example.com/1", "", now)
	b := ArticleFilename("Same", "https://example.com/2", "", now)
	if a == b {
		t.Errorf("filenames collide: %q", a)
	}
}

func TestRegistrableDomain(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"example.com", "example.com"},
		{"www.example.com", "example.com"},
		{"feeds.blog.example.com", "example.com"},
		{"localhost", "localhost"},
	}
	for _, c := range cases {
		if got := registrableDomain(c.in); got != c.want {
			t.Errorf("registrableDomain(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
