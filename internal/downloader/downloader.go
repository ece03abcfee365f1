// Package downloader runs the feed-to-article pipeline: it fetches
// subscribed feeds, filters candidate article URLs, downloads and
// extracts their content under per-domain throttling, and persists
// articles as markdown files plus database rows.
package downloader

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/AaronShark/RSSTools/internal/content"
	"github.com/AaronShark/RSSTools/internal/feed"
	"github.com/AaronShark/RSSTools/internal/fetch"
	"github.com/AaronShark/RSSTools/internal/metrics"
	"github.com/AaronShark/RSSTools/internal/models"
	"github.com/AaronShark/RSSTools/internal/resilience"
	"github.com/AaronShark/RSSTools/internal/safeurl"
	"github.com/AaronShark/RSSTools/internal/shutdown"
	"github.com/AaronShark/RSSTools/internal/storage"
)

// Summarizer generates inline summaries during download. Optional.
type Summarizer interface {
	Enabled() bool
	Summarize(ctx context.Context, title, content string) (string, error)
}

// Failure is one recorded feed or article failure for the post-run
// report.
type Failure struct {
	Type   string // "feed" or "article"
	URL    string
	Title  string
	Source string
	Err    string
}

// Options tunes a download run.
type Options struct {
	BaseDir             string
	Force               bool
	MaxRetries          int
	FeedRetryAfter      time.Duration
	ETagMaxAge          time.Duration
	ConcurrentFeeds     int64
	ConcurrentDownloads int64
	// DomainRate is the per-domain request rate in requests per second;
	// consecutive requests to one registrable domain are spaced at
	// least 1/DomainRate apart.
	DomainRate float64
	// MinFeedContentChars is the visible-text threshold below which
	// feed-embedded content is not worth keeping as a page fallback.
	MinFeedContentChars int
}

// DefaultOptions returns the stock tuning.
func DefaultOptions(baseDir string) Options {
	return Options{
		BaseDir:             baseDir,
		MaxRetries:          3,
		FeedRetryAfter:      24 * time.Hour,
		ETagMaxAge:          30 * 24 * time.Hour,
		ConcurrentFeeds:     5,
		ConcurrentDownloads: 5,
		DomainRate:          1.0,
		MinFeedContentChars: 50,
	}
}

type candidate struct {
	url         string
	title       string
	published   string
	feedContent string
	sourceName  string
	feedURL     string
}

// Downloader coordinates one download run. Safe for a single Run call
// at a time; internal state is reset by NewDownloader.
type Downloader struct {
	opts      Options
	fetcher   *fetch.Client
	parser    *feed.Parser
	extractor content.Extractor
	validate  func(string) error
	articles  *storage.ArticleRepository
	failrepo  *storage.FailureRepository
	etags     *storage.ETagRepository
	llm       Summarizer
	metrics   *metrics.Collector
	coord     *shutdown.Coordinator

	// dedupMu guards the exists-check immediately before starting work
	// and immediately before the final write, closing the window where
	// two tasks both decide to process the same URL.
	dedupMu sync.Mutex

	// limiterMu also serializes the get-or-create in waitDomain; the LRU
	// bounds memory on runs spanning many distinct domains.
	limiterMu sync.Mutex
	limiters  *resilience.LRU[string, *rate.Limiter]

	downloaded atomic.Int64
	failed     atomic.Int64

	failMu   sync.Mutex
	failures []Failure

	now func() time.Time
}

// NewDownloader wires a run over the given collaborators. llm, metrics
// and coord may be nil.
func NewDownloader(
	opts Options,
	fetcher *fetch.Client,
	articles *storage.ArticleRepository,
	failrepo *storage.FailureRepository,
	etags *storage.ETagRepository,
	llm Summarizer,
	collector *metrics.Collector,
	coord *shutdown.Coordinator,
) *Downloader {
	return &Downloader{
		opts:      opts,
		fetcher:   fetcher,
		parser:    feed.NewParser(),
		extractor: content.NewExtractor(),
		validate:  safeurl.NewValidator().Validate,
		articles:  articles,
		failrepo:  failrepo,
		etags:     etags,
		llm:       llm,
		metrics:   collector,
		coord:     coord,
		limiters:  resilience.NewLRU[string, *rate.Limiter](1024),
		now:       time.Now,
	}
}

// Downloaded returns the number of articles persisted this run.
func (d *Downloader) Downloaded() int64 { return d.downloaded.Load() }

// Failed returns the number of failed articles this run.
func (d *Downloader) Failed() int64 { return d.failed.Load() }

// Failures returns the recorded failures in arrival order.
func (d *Downloader) Failures() []Failure {
	d.failMu.Lock()
	defer d.failMu.Unlock()
	out := make([]Failure, len(d.failures))
	copy(out, d.failures)
	return out
}

// GroupedFailures groups the run's failures by error message for the
// post-run report.
func (d *Downloader) GroupedFailures() map[string][]Failure {
	grouped := make(map[string][]Failure)
	for _, f := range d.Failures() {
		grouped[f.Err] = append(grouped[f.Err], f)
	}
	return grouped
}

func (d *Downloader) addFailure(f Failure) {
	d.failMu.Lock()
	d.failures = append(d.failures, f)
	d.failMu.Unlock()
}

func (d *Downloader) shuttingDown() bool {
	return d.coord != nil && d.coord.ShuttingDown()
}

// Run processes every subscription. Per-feed failures are recorded and
// do not abort the run; the returned error covers only setup problems.
func (d *Downloader) Run(ctx context.Context, feeds []feed.Subscription) error {
	articlesDir := filepath.Join(d.opts.BaseDir, "articles")
	if err := os.MkdirAll(articlesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create articles directory: %w", err)
	}

	sem := semaphore.NewWeighted(d.opts.ConcurrentFeeds)
	var wg sync.WaitGroup
	for i, sub := range feeds {
		if d.shuttingDown() {
			log.Info().Msg("Shutdown in progress, not starting more feeds")
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(idx int, sub feed.Subscription) {
			defer wg.Done()
			defer sem.Release(1)
			d.processFeed(ctx, sub, idx+1, len(feeds))
		}(i, sub)
	}
	wg.Wait()
	return nil
}

func (d *Downloader) processFeed(ctx context.Context, sub feed.Subscription, idx, total int) {
	if d.shuttingDown() {
		return
	}
	release, ok := d.track()
	if !ok {
		return
	}
	defer release()

	tag := sub.Title
	if len(tag) > 25 {
		tag = tag[:25]
	}
	feedLog := log.With().Str("feed", tag).Logger()
	feedLog.Info().
		Int("index", idx).
		Int("total", total).
		Str("url", sub.URL).
		Msg("Processing feed")

	if !d.opts.Force {
		skip, err := d.failrepo.ShouldSkipFeed(ctx, sub.URL, d.opts.MaxRetries, d.opts.FeedRetryAfter)
		if err != nil {
			feedLog.Error().Err(err).Msg("Failed to check feed skip state")
		}
		if skip {
			feedLog.Warn().Msg("Skipped, previously failed, retry later")
			return
		}
	}

	var cond *fetch.Conditional
	entry, err := d.etags.Get(ctx, sub.URL, d.opts.ETagMaxAge)
	if err != nil {
		feedLog.Error().Err(err).Msg("Failed to load feed validators")
	}
	if entry != nil && (entry.ETag != "" || entry.LastModified != "") {
		cond = &fetch.Conditional{ETag: entry.ETag, LastModified: entry.LastModified}
	}

	if err := d.waitDomain(ctx, sub.URL); err != nil {
		return
	}
	res, err := d.fetcher.Get(ctx, sub.URL, cond)
	if err != nil {
		feedLog.Error().Err(err).Msg("Cannot fetch feed")
		if rerr := d.failrepo.RecordFeedFailure(ctx, sub.URL, err.Error()); rerr != nil {
			feedLog.Error().Err(rerr).Msg("Failed to record feed failure")
		}
		d.addFailure(Failure{Type: "feed", URL: sub.URL, Title: sub.Title, Source: sub.Title, Err: err.Error()})
		return
	}
	if res.NotModified {
		feedLog.Info().Msg("Not modified, skipped")
		return
	}

	if _, err := d.failrepo.ClearFeedFailure(ctx, sub.URL); err != nil {
		feedLog.Error().Err(err).Msg("Failed to clear feed failure")
	}
	if res.ETag != "" || res.LastModified != "" {
		if err := d.etags.Set(ctx, sub.URL, res.ETag, res.LastModified); err != nil {
			feedLog.Error().Err(err).Msg("Failed to store feed validators")
		}
	}

	entries, err := d.parser.Parse(res.Body)
	if err != nil {
		feedLog.Error().Err(err).Msg("Cannot parse feed")
		if rerr := d.failrepo.RecordFeedFailure(ctx, sub.URL, err.Error()); rerr != nil {
			feedLog.Error().Err(rerr).Msg("Failed to record feed failure")
		}
		d.addFailure(Failure{Type: "feed", URL: sub.URL, Title: sub.Title, Source: sub.Title, Err: err.Error()})
		return
	}
	if len(entries) == 0 {
		feedLog.Warn().Msg("No entries")
		return
	}
	feedLog.Info().Int("entries", len(entries)).Msg("Feed parsed")

	d.downloadArticles(ctx, entries, sub.Title, sub.URL)
}

// downloadArticles filters candidates and fans them out under the
// per-feed concurrency cap.
func (d *Downloader) downloadArticles(ctx context.Context, entries []feed.Entry, sourceName, feedURL string) {
	var candidates []candidate
	for _, e := range entries {
		u := strings.TrimSpace(e.Link)
		if u == "" || !(strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) {
			continue
		}
		if err := d.validate(u); err != nil {
			// Policy rejection, not a transient error: dropped, never retried.
			log.Warn().Str("url", u).Err(err).Msg("Unsafe URL dropped")
			continue
		}
		if !d.opts.Force {
			exists, err := d.articles.Exists(ctx, u)
			if err != nil {
				log.Error().Str("url", u).Err(err).Msg("Failed to check article existence")
				continue
			}
			if exists {
				continue
			}
			skip, err := d.failrepo.ShouldSkipArticle(ctx, u, d.opts.MaxRetries)
			if err != nil {
				log.Error().Str("url", u).Err(err).Msg("Failed to check article skip state")
			}
			if skip {
				continue
			}
		}
		candidates = append(candidates, candidate{
			url:         u,
			title:       e.Title,
			published:   e.Published,
			feedContent: e.Content,
			sourceName:  sourceName,
			feedURL:     feedURL,
		})
	}
	if len(candidates) == 0 {
		return
	}
	log.Info().
		Str("source", sourceName).
		Int("articles", len(candidates)).
		Msg("Download start")

	sem := semaphore.NewWeighted(d.opts.ConcurrentDownloads)
	var wg sync.WaitGroup
	for _, c := range candidates {
		if d.shuttingDown() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()
			defer sem.Release(1)
			d.downloadOne(ctx, c)
		}(c)
	}
	wg.Wait()
}

func (d *Downloader) downloadOne(ctx context.Context, c candidate) {
	release, ok := d.track()
	if !ok {
		return
	}
	defer release()

	d.dedupMu.Lock()
	exists, err := d.articles.Exists(ctx, c.url)
	d.dedupMu.Unlock()
	if err != nil {
		log.Error().Str("url", c.url).Err(err).Msg("Failed to check article existence")
		return
	}
	if exists && !d.opts.Force {
		return
	}

	mainContent, contentSource, err := d.fetchContent(ctx, c)
	if err != nil {
		d.failed.Add(1)
		if rerr := d.failrepo.RecordArticleFailure(ctx, c.url, err.Error()); rerr != nil {
			log.Error().Str("url", c.url).Err(rerr).Msg("Failed to record article failure")
		}
		d.addFailure(Failure{Type: "article", URL: c.url, Title: c.title, Source: c.sourceName, Err: err.Error()})
		return
	}

	var summary string
	if d.llm != nil && d.llm.Enabled() {
		summary, err = d.llm.Summarize(ctx, c.title, mainContent)
		if err != nil {
			log.Warn().Str("url", c.url).Err(err).Msg("Inline summarization failed")
			summary = ""
		}
	}

	downloaded := d.now().UTC().Format(time.RFC3339)
	relPath, err := d.writeArticleFile(c, mainContent, contentSource, summary, downloaded)
	if err != nil {
		log.Error().Str("url", c.url).Err(err).Msg("Write failed")
		d.failed.Add(1)
		if rerr := d.failrepo.RecordArticleFailure(ctx, c.url, "write error: "+err.Error()); rerr != nil {
			log.Error().Str("url", c.url).Err(rerr).Msg("Failed to record article failure")
		}
		d.addFailure(Failure{Type: "article", URL: c.url, Title: c.title, Source: c.sourceName, Err: err.Error()})
		return
	}

	d.dedupMu.Lock()
	defer d.dedupMu.Unlock()
	exists, err = d.articles.Exists(ctx, c.url)
	if err != nil {
		log.Error().Str("url", c.url).Err(err).Msg("Failed to re-check article existence")
		return
	}
	if exists && !d.opts.Force {
		// A concurrent task won the race; the row already exists.
		return
	}
	article := &models.Article{
		URL:           c.url,
		Title:         c.title,
		SourceName:    c.sourceName,
		FeedURL:       nullString(c.feedURL),
		Published:     nullString(c.published),
		Downloaded:    nullString(downloaded),
		Filepath:      nullString(relPath),
		ContentSource: nullString(contentSource),
		Summary:       nullString(summary),
		Body:          nullString(mainContent),
	}
	if exists {
		upd := &models.ArticleUpdate{
			Title:         &c.title,
			Body:          &mainContent,
			Filepath:      &relPath,
			ContentSource: &contentSource,
			Downloaded:    &downloaded,
			Published:     &c.published,
		}
		if summary != "" {
			upd.Summary = &summary
		}
		if _, err := d.articles.Update(ctx, c.url, upd); err != nil {
			log.Error().Str("url", c.url).Err(err).Msg("Failed to update article")
			return
		}
	} else {
		if _, err := d.articles.Add(ctx, article); err != nil {
			log.Error().Str("url", c.url).Err(err).Msg("Failed to persist article")
			return
		}
	}
	if _, err := d.failrepo.ClearArticleFailure(ctx, c.url); err != nil {
		log.Error().Str("url", c.url).Err(err).Msg("Failed to clear article failure")
	}

	d.downloaded.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDownload()
		if summary != "" {
			d.metrics.RecordSummarize()
		}
	}
}

// fetchContent downloads and extracts the article body, falling back to
// feed-embedded content when the page yields nothing usable.
func (d *Downloader) fetchContent(ctx context.Context, c candidate) (body, source string, err error) {
	var fetchErr error
	var mainContent string

	if werr := d.waitDomain(ctx, c.url); werr != nil {
		return "", "", werr
	}
	res, fetchErr := d.fetcher.Get(ctx, c.url, nil)
	if fetchErr == nil && res.Body != "" {
		sanitized, serr := content.Sanitize(res.Body)
		if serr == nil {
			extracted, eerr := d.extractor.Extract(sanitized, c.url)
			if eerr == nil {
				mainContent = extracted
			}
		}
	}

	if mainContent == "" && c.feedContent != "" {
		if content.VisibleTextLen(c.feedContent) > d.opts.MinFeedContentChars {
			return c.feedContent, models.ContentSourceFeed, nil
		}
	}
	if mainContent == "" {
		if fetchErr != nil {
			return "", "", fetchErr
		}
		return "", "", fmt.Errorf("cannot extract content")
	}
	return mainContent, models.ContentSourcePage, nil
}

func (d *Downloader) writeArticleFile(c candidate, body, contentSource, summary, downloaded string) (string, error) {
	sourceDir := filepath.Join(d.opts.BaseDir, "articles", SafeDirname(c.sourceName))
	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create source directory: %w", err)
	}
	filename := ArticleFilename(c.title, c.url, c.published, d.now)
	path := filepath.Join(sourceDir, filename)

	fm := &FrontMatter{
		Title:         c.title,
		Source:        c.sourceName,
		FeedURL:       c.feedURL,
		URL:           c.url,
		Published:     c.published,
		Downloaded:    downloaded,
		ContentSource: contentSource,
		Summary:       summary,
	}
	if err := os.WriteFile(path, []byte(fm.Render(body)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write article file: %w", err)
	}
	rel, err := filepath.Rel(d.opts.BaseDir, path)
	if err != nil {
		return path, nil
	}
	return rel, nil
}

// waitDomain blocks until the URL's registrable domain is allowed
// another request.
func (d *Downloader) waitDomain(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	domain := registrableDomain(u.Hostname())

	d.limiterMu.Lock()
	limiter, ok := d.limiters.Get(domain)
	if !ok {
		r := d.opts.DomainRate
		if r <= 0 {
			r = 1.0
		}
		limiter = rate.NewLimiter(rate.Limit(r), 1)
		d.limiters.Put(domain, limiter)
	}
	d.limiterMu.Unlock()

	return limiter.Wait(ctx)
}

// registrableDomain approximates eTLD+1 by keeping the last two labels.
// Good enough to group www./feeds./cdn. hosts of one site under a
// shared rate limit.
func registrableDomain(host string) string {
	host = strings.ToLower(host)
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func (d *Downloader) track() (func(), bool) {
	if d.coord == nil {
		return func() {}, true
	}
	return d.coord.Track()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
