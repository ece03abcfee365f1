package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/AaronShark/RSSTools/internal/config"
	"github.com/AaronShark/RSSTools/internal/database"
	"github.com/AaronShark/RSSTools/internal/downloader"
	"github.com/AaronShark/RSSTools/internal/feed"
	"github.com/AaronShark/RSSTools/internal/fetch"
	importfeeds "github.com/AaronShark/RSSTools/internal/import"
	"github.com/AaronShark/RSSTools/internal/llm"
	"github.com/AaronShark/RSSTools/internal/metrics"
	"github.com/AaronShark/RSSTools/internal/models"
	"github.com/AaronShark/RSSTools/internal/server"
	"github.com/AaronShark/RSSTools/internal/shutdown"
	"github.com/AaronShark/RSSTools/internal/storage"
)

// container wires the shared collaborators every command needs.
type container struct {
	db       *database.DB
	articles *storage.ArticleRepository
	failures *storage.FailureRepository
	etags    *storage.ETagRepository
	metrics  *metrics.Collector
}

func newContainer(cfg *config.Config) (*container, error) {
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	db, err := database.NewDB(database.NewConfig(cfg.DBPath()))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &container{
		db:       db,
		articles: storage.NewArticleRepository(db),
		failures: storage.NewFailureRepository(db),
		etags:    storage.NewETagRepository(db),
		metrics:  metrics.NewCollector(),
	}, nil
}

func (c *container) Close() error {
	return c.db.Close()
}

func newFetchClient(cfg *config.Config) *fetch.Client {
	return fetch.NewClient(fetch.Options{
		ConnectTimeout: time.Duration(cfg.Download.ConnectTimeoutSecs) * time.Second,
		TotalTimeout:   time.Duration(cfg.Download.TimeoutSecs) * time.Second,
		MaxRetries:     cfg.Download.MaxRetries,
		RetryDelay:     time.Duration(cfg.Download.RetryDelaySecs) * time.Second,
		MaxRedirects:   cfg.Download.MaxRedirects,
		UserAgent:      cfg.Download.UserAgent,
	})
}

func newLLMClient(cfg *config.Config, collector *metrics.Collector) (*llm.Client, error) {
	cache, err := llm.NewCache(cfg.CacheDir())
	if err != nil {
		return nil, err
	}
	opts := llm.Options{
		Host:                    cfg.LLM.Host,
		APIKey:                  cfg.LLM.APIKey,
		Models:                  cfg.LLM.ModelList(),
		MaxTokens:               cfg.LLM.MaxTokens,
		Temperature:             cfg.LLM.Temperature,
		MaxContentChars:         cfg.LLM.MaxContentChars,
		RequestDelay:            cfg.LLM.RequestDelay(),
		MaxRetries:              cfg.LLM.MaxRetries,
		Timeout:                 time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		SystemPrompt:            cfg.LLM.SystemPrompt,
		UserPromptTemplate:      cfg.LLM.UserPrompt,
		ContentOnlyCacheKey:     cfg.LLM.ContentOnlyCacheKey,
		BreakerFailureThreshold: cfg.LLM.BreakerFailureThreshold,
		BreakerRecoveryTimeout:  time.Duration(cfg.LLM.BreakerRecoverySecs) * time.Second,
		BreakerSuccessThreshold: cfg.LLM.BreakerSuccessThreshold,
		RateLimits:              cfg.LLM.RateLimitRPM,
	}
	return llm.NewClient(opts, cache, collector), nil
}

// runDownload fetches every subscribed feed and downloads new articles.
func runDownload(cfg *config.Config, force bool) error {
	c, err := newContainer(cfg)
	if err != nil {
		return err
	}

	coord := shutdown.NewCoordinator()
	stopSignals := coord.HandleSignals(drainTimeout)
	defer stopSignals()
	coord.RegisterCleanup("database", c.Close)
	defer coord.Shutdown(drainTimeout)

	subs, err := feed.ParseOPML(cfg.OPMLPath)
	if err != nil {
		return fmt.Errorf("failed to read subscriptions: %w", err)
	}
	if len(subs) == 0 {
		log.Warn().Str("path", cfg.OPMLPath).Msg("No feeds found")
		return nil
	}
	log.Info().Int("feeds", len(subs)).Msg("Download started")

	opts := downloader.Options{
		BaseDir:             cfg.BaseDir,
		Force:               force,
		MaxRetries:          cfg.Download.MaxRetries,
		FeedRetryAfter:      time.Duration(cfg.Download.FeedRetryAfterHours) * time.Hour,
		ETagMaxAge:          time.Duration(cfg.Download.ETagMaxAgeDays) * 24 * time.Hour,
		ConcurrentFeeds:     int64(cfg.Download.ConcurrentFeeds),
		ConcurrentDownloads: int64(cfg.Download.ConcurrentDownloads),
		DomainRate:          cfg.Download.DomainRatePerSec,
		MinFeedContentChars: 50,
	}
	d := downloader.NewDownloader(opts, newFetchClient(cfg),
		c.articles, c.failures, c.etags, nil, c.metrics, coord)

	if err := d.Run(coord.Context(), subs); err != nil {
		return err
	}

	ctx := context.Background()
	stats, err := c.articles.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	log.Info().
		Int64("downloaded", d.Downloaded()).
		Int64("failed", d.Failed()).
		Int("total", stats.TotalArticles).
		Int("feed_failures", stats.FeedFailures).
		Msg("Download complete")

	reportFailures(d)
	return nil
}

// reportFailures prints the grouped post-run failure summary.
func reportFailures(d *downloader.Downloader) {
	failures := d.Failures()
	if len(failures) == 0 {
		return
	}
	log.Warn().Int("total", len(failures)).Msg("Failure summary")
	for errMsg, items := range d.GroupedFailures() {
		log.Warn().
			Str("error", errMsg).
			Int("count", len(items)).
			Msg("Failure group")
		for _, f := range items {
			title := f.Title
			if title == "" {
				title = f.URL
			}
			if len(title) > 60 {
				title = title[:60] + "..."
			}
			log.Warn().
				Str("type", f.Type).
				Str("title", title).
				Str("url", f.URL).
				Msg("  failed")
		}
	}
}

// runSummarize batch-generates summaries and scores for stored articles.
func runSummarize(cfg *config.Config, force bool) error {
	c, err := newContainer(cfg)
	if err != nil {
		return err
	}

	coord := shutdown.NewCoordinator()
	stopSignals := coord.HandleSignals(drainTimeout)
	defer stopSignals()
	coord.RegisterCleanup("database", c.Close)
	defer coord.Shutdown(drainTimeout)

	client, err := newLLMClient(cfg, c.metrics)
	if err != nil {
		return err
	}
	if !client.Enabled() {
		return fmt.Errorf("LLM api_key not set (config llm.api_key or env GLM_API_KEY)")
	}

	ctx := coord.Context()
	articles, err := c.articles.ListAll(ctx, 10000, 0)
	if err != nil {
		return fmt.Errorf("failed to list articles: %w", err)
	}

	var pending []models.Article
	for _, a := range articles {
		if !a.Filepath.Valid || a.Filepath.String == "" {
			continue
		}
		if !force && a.Summary.Valid && a.Summary.String != "" {
			continue
		}
		pending = append(pending, a)
	}
	log.Info().
		Int("total", len(articles)).
		Int("pending", len(pending)).
		Msg("Summarize started")
	if len(pending) == 0 {
		log.Info().Msg("All articles already have summaries")
		return nil
	}

	var summarized, scored, failed int
	for start := 0; start < len(pending); start += 10 {
		if coord.ShuttingDown() {
			log.Warn().Msg("Interrupted, stopping before next batch")
			break
		}
		end := start + 10
		if end > len(pending) {
			end = len(pending)
		}

		type item struct {
			article models.Article
			path    string
			fm      *downloader.FrontMatter
			body    string
		}
		var batch []item
		for _, a := range pending[start:end] {
			path := filepath.Join(cfg.BaseDir, a.Filepath.String)
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			fm, body := downloader.ParseFrontMatter(string(raw))
			if fm == nil {
				continue
			}
			batch = append(batch, item{article: a, path: path, fm: fm, body: strings.TrimSpace(body)})
		}
		if len(batch) == 0 {
			continue
		}

		inputs := make([]llm.BatchArticle, len(batch))
		for i, it := range batch {
			inputs[i] = llm.BatchArticle{Title: it.article.Title, Content: it.body}
		}
		results := client.SummarizeBatch(ctx, inputs)

		for i, it := range batch {
			res := results[i]
			if res.Err != nil || res.Summary == "" {
				failed++
				errMsg := "unknown"
				if res.Err != nil {
					errMsg = res.Err.Error()
				}
				log.Warn().
					Str("title", it.article.Title).
					Str("error", errMsg).
					Msg("Summarization failed")
				if rerr := c.failures.RecordSummaryFailure(ctx, it.article.URL, it.article.Title, it.path, errMsg); rerr != nil {
					log.Error().Err(rerr).Msg("Failed to record summary failure")
				}
				continue
			}

			it.fm.Summary = res.Summary
			if err := os.WriteFile(it.path, []byte(it.fm.Render(it.body)), 0o644); err != nil {
				failed++
				log.Error().Err(err).Str("path", it.path).Msg("Write error")
				continue
			}
			summary := res.Summary
			if _, err := c.articles.Update(ctx, it.article.URL, &models.ArticleUpdate{Summary: &summary}); err != nil {
				log.Error().Err(err).Str("url", it.article.URL).Msg("Failed to store summary")
			}
			summarized++
			c.metrics.RecordSummarize()

			scores, err := client.ScoreAndClassify(ctx, it.article.Title, it.body)
			if err != nil {
				log.Warn().
					Str("title", it.article.Title).
					Err(err).
					Msg("Summarized without scores")
				continue
			}
			upd := &models.ArticleUpdate{
				ScoreRelevance:  &scores.Relevance,
				ScoreQuality:    &scores.Quality,
				ScoreTimeliness: &scores.Timeliness,
				Category:        &scores.Category,
				Keywords:        scores.Keywords,
			}
			if _, err := c.articles.Update(ctx, it.article.URL, upd); err != nil {
				log.Error().Err(err).Str("url", it.article.URL).Msg("Failed to store scores")
				continue
			}
			scored++
			log.Info().
				Str("title", it.article.Title).
				Str("category", scores.Category).
				Int("relevance", scores.Relevance).
				Int("quality", scores.Quality).
				Int("timeliness", scores.Timeliness).
				Msg("Article scored")
		}
		log.Info().
			Int("summarized", summarized).
			Int("failed", failed).
			Int("remaining", len(pending)-summarized-failed).
			Msg("Progress")
	}

	log.Info().
		Int("summarized", summarized).
		Int("scored", scored).
		Int("failed", failed).
		Msg("Summarize complete")
	return nil
}

// runFailed writes an OPML of feeds with no successfully downloaded
// articles, split into previously-failed and never-tried sections.
func runFailed(cfg *config.Config) error {
	c, err := newContainer(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	subs, err := feed.ParseOPML(cfg.OPMLPath)
	if err != nil {
		return fmt.Errorf("failed to read subscriptions: %w", err)
	}
	if len(subs) == 0 {
		log.Warn().Str("path", cfg.OPMLPath).Msg("No feeds found")
		return nil
	}
	log.Info().Int("feeds", len(subs)).Msg("Checking subscriptions")

	ctx := context.Background()
	articles, err := c.articles.ListAll(ctx, 10000, 0)
	if err != nil {
		return fmt.Errorf("failed to list articles: %w", err)
	}
	successful := make(map[string]bool)
	for _, a := range articles {
		if a.FeedURL.Valid && a.FeedURL.String != "" {
			successful[a.FeedURL.String] = true
		}
	}

	var failedFeeds, neverTried []feed.Subscription
	for _, s := range subs {
		if successful[s.URL] {
			continue
		}
		rec, err := c.failures.GetFeedFailure(ctx, s.URL)
		if err != nil {
			return fmt.Errorf("failed to look up feed failure: %w", err)
		}
		if rec != nil {
			log.Warn().
				Str("feed", s.Title).
				Str("url", s.URL).
				Str("error", rec.Error).
				Int("retries", rec.Retries).
				Msg("Failed feed")
			failedFeeds = append(failedFeeds, s)
		} else {
			log.Info().
				Str("feed", s.Title).
				Str("url", s.URL).
				Msg("Never tried")
			neverTried = append(neverTried, s)
		}
	}

	outputPath := filepath.Join(cfg.BaseDir, "failed_feeds.opml")
	sections := map[string][]feed.Subscription{
		"Failed Feeds": failedFeeds,
		"Never Tried":  neverTried,
	}
	if err := feed.WriteOPML(outputPath, "Failed and Never Tried Feeds", sections,
		[]string{"Failed Feeds", "Never Tried"}); err != nil {
		return fmt.Errorf("failed to write OPML: %w", err)
	}
	log.Info().
		Int("failed", len(failedFeeds)).
		Int("never_tried", len(neverTried)).
		Str("path", outputPath).
		Msg("OPML written")
	return nil
}

// runStats prints knowledge base statistics.
func runStats(cfg *config.Config) error {
	c, err := newContainer(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	stats, err := c.articles.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}

	articles, err := c.articles.ListAll(ctx, 10000, 0)
	if err != nil {
		return fmt.Errorf("failed to list articles: %w", err)
	}
	var sizes []int64
	sources := make(map[string]int)
	for _, a := range articles {
		sources[a.SourceName]++
		if a.Filepath.Valid && a.Filepath.String != "" {
			if info, err := os.Stat(filepath.Join(cfg.BaseDir, a.Filepath.String)); err == nil {
				sizes = append(sizes, info.Size())
			}
		}
	}

	fmt.Println("RSSKB Statistics")
	fmt.Printf("  Total articles:    %d\n", stats.TotalArticles)
	fmt.Printf("  With summary:      %d\n", stats.WithSummary)
	fmt.Printf("  Without summary:   %d\n", stats.WithoutSummary)
	fmt.Printf("  Feed failures:     %d\n", stats.FeedFailures)
	fmt.Printf("  Article failures:  %d\n", stats.ArticleFailures)
	fmt.Printf("  Summary failures:  %d\n", stats.SummaryFailures)
	if len(sizes) > 0 {
		var total, max int64
		for _, s := range sizes {
			total += s
			if s > max {
				max = s
			}
		}
		fmt.Printf("  Avg article size:  %d bytes\n", total/int64(len(sizes)))
		fmt.Printf("  Max article size:  %d bytes\n", max)
	}
	fmt.Printf("  Unique sources:    %d\n", len(sources))

	if len(sources) > 0 {
		type sourceCount struct {
			name  string
			count int
		}
		top := make([]sourceCount, 0, len(sources))
		for name, count := range sources {
			top = append(top, sourceCount{name, count})
		}
		sort.Slice(top, func(i, j int) bool { return top[i].count > top[j].count })
		if len(top) > 10 {
			top = top[:10]
		}
		fmt.Println("\nTop sources:")
		for _, s := range top {
			name := s.name
			if len(name) > 40 {
				name = name[:40]
			}
			fmt.Printf("  %-40s %d\n", name, s.count)
		}
	}
	return nil
}

// runHealth checks the datastore and reports overall status. Returns
// false when unhealthy.
func runHealth(cfg *config.Config) bool {
	c, err := newContainer(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Health check failed to open database")
		fmt.Println("status: unhealthy")
		return false
	}
	defer c.Close()

	stats, err := c.articles.Stats(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("Health check query failed")
		fmt.Println("status: unhealthy")
		return false
	}

	version, err := c.db.SchemaVersion()
	if err != nil {
		log.Error().Err(err).Msg("Health check schema query failed")
		fmt.Println("status: unhealthy")
		return false
	}

	status := "healthy"
	if stats.TotalArticles == 0 {
		status = "degraded"
	}
	fmt.Printf("status: %s\n", status)
	fmt.Printf("  database: ok (schema v%d, %d articles)\n", version, stats.TotalArticles)
	if stats.TotalArticles == 0 {
		fmt.Println("  articles_exist: warning (empty knowledge base)")
	} else {
		fmt.Println("  articles_exist: ok")
	}
	return true
}

// runCleanCache removes LLM cache entries older than the cutoff.
func runCleanCache(cfg *config.Config, maxAgeDays int, dryRun bool) error {
	cache, err := llm.NewCache(cfg.CacheDir())
	if err != nil {
		return err
	}
	log.Info().
		Int("max_age_days", maxAgeDays).
		Bool("dry_run", dryRun).
		Msg("Cleaning LLM cache")
	removed, freed, err := cache.Clean(time.Duration(maxAgeDays)*24*time.Hour, dryRun)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d cache files, freed %d bytes\n", removed, freed)
	return nil
}

// runServe exposes the knowledge base over a read-only HTTP API.
func runServe(cfg *config.Config, addr, apiKey string) error {
	c, err := newContainer(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	return server.RunServer(c.db, addr, log.Logger, apiKey)
}

// runImport merges a CSV feed list into the OPML subscriptions file.
func runImport(cfg *config.Config, source string) error {
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create base directory: %w", err)
	}
	_, err := importfeeds.NewImporter(cfg.OPMLPath).ImportFeeds(source)
	return err
}

// runShowConfig prints the effective configuration.
func runShowConfig(cfg *config.Config) error {
	shown := *cfg
	if shown.LLM.APIKey != "" {
		shown.LLM.APIKey = "***"
	}
	out, err := yaml.Marshal(&shown)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	fmt.Printf("Config file: %s\n", config.DefaultConfigPath)
	return nil
}
