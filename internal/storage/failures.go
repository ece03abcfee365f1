package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AaronShark/RSSTools/internal/database"
	"github.com/AaronShark/RSSTools/internal/models"
)

// FailureRepository tracks feed, article, and summary failures. Feed failure
// records honor a time-based expiry so transiently-broken feeds are never
// blacklisted forever; article failures have no such expiry.
type FailureRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewFailureRepository creates a repository over an open database.
func NewFailureRepository(db *database.DB) *FailureRepository {
	return &FailureRepository{db: db, now: time.Now}
}

func (r *FailureRepository) recordFailure(ctx context.Context, table, url, errMsg string) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (url, error, timestamp, retries)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(url) DO UPDATE SET
			error = excluded.error,
			timestamp = excluded.timestamp,
			retries = retries + 1`, table),
		url, errMsg, r.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record failure in %s: %w", table, err)
	}
	return nil
}

func (r *FailureRepository) getFailure(ctx context.Context, table, url string) (*models.FailureRecord, error) {
	var rec models.FailureRecord
	err := r.db.GetContext(ctx, &rec, fmt.Sprintf("SELECT * FROM %s WHERE url = ?", table), url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failure from %s: %w", table, err)
	}
	return &rec, nil
}

func (r *FailureRepository) clearFailure(ctx context.Context, table, url string) (bool, error) {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE url = ?", table), url)
	if err != nil {
		return false, fmt.Errorf("failed to clear failure in %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RecordFeedFailure creates or increments the failure record for a feed URL.
func (r *FailureRepository) RecordFeedFailure(ctx context.Context, url, errMsg string) error {
	return r.recordFailure(ctx, "feed_failures", url, errMsg)
}

// GetFeedFailure returns the feed failure record, or nil when absent.
func (r *FailureRepository) GetFeedFailure(ctx context.Context, url string) (*models.FailureRecord, error) {
	return r.getFailure(ctx, "feed_failures", url)
}

// ClearFeedFailure removes the feed failure record on a successful fetch.
func (r *FailureRepository) ClearFeedFailure(ctx context.Context, url string) (bool, error) {
	return r.clearFailure(ctx, "feed_failures", url)
}

// ShouldSkipFeed reports whether a feed has failed at least maxRetries times.
// A record older than retryAfter is deleted entirely so the feed gets one
// fresh attempt instead of staying blacklisted.
func (r *FailureRepository) ShouldSkipFeed(ctx context.Context, url string, maxRetries int, retryAfter time.Duration) (bool, error) {
	rec, err := r.GetFeedFailure(ctx, url)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.Retries < maxRetries {
		return false, nil
	}
	if ts, ok := parseTimestamp(rec.Timestamp); ok {
		if r.now().UTC().Sub(ts) >= retryAfter {
			if _, err := r.ClearFeedFailure(ctx, url); err != nil {
				return false, err
			}
			log.Debug().Str("url", url).Msg("Expired feed failure record cleared")
			return false, nil
		}
	}
	return true, nil
}

// RecordArticleFailure creates or increments the failure record for an
// article URL.
func (r *FailureRepository) RecordArticleFailure(ctx context.Context, url, errMsg string) error {
	return r.recordFailure(ctx, "article_failures", url, errMsg)
}

// GetArticleFailure returns the article failure record, or nil when absent.
func (r *FailureRepository) GetArticleFailure(ctx context.Context, url string) (*models.FailureRecord, error) {
	return r.getFailure(ctx, "article_failures", url)
}

// ClearArticleFailure removes the article failure record after a successful
// download.
func (r *FailureRepository) ClearArticleFailure(ctx context.Context, url string) (bool, error) {
	return r.clearFailure(ctx, "article_failures", url)
}

// ShouldSkipArticle reports whether an article has failed at least maxRetries
// times. Articles are not re-crawled on a schedule, so there is no expiry.
func (r *FailureRepository) ShouldSkipArticle(ctx context.Context, url string, maxRetries int) (bool, error) {
	rec, err := r.GetArticleFailure(ctx, url)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Retries >= maxRetries, nil
}

// RecordSummaryFailure stores the last summarization error for an article,
// replacing any previous record.
func (r *FailureRepository) RecordSummaryFailure(ctx context.Context, url, title, filepath, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO summary_failures (url, title, filepath, error)
		VALUES (?, ?, ?, ?)`,
		url, title, filepath, errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to record summary failure: %w", err)
	}
	return nil
}

// GetSummaryFailure returns the summary failure record, or nil when absent.
func (r *FailureRepository) GetSummaryFailure(ctx context.Context, url string) (*models.SummaryFailure, error) {
	var rec models.SummaryFailure
	err := r.db.GetContext(ctx, &rec, "SELECT * FROM summary_failures WHERE url = ?", url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary failure: %w", err)
	}
	return &rec, nil
}

// ClearSummaryFailure removes the summary failure record.
func (r *FailureRepository) ClearSummaryFailure(ctx context.Context, url string) (bool, error) {
	return r.clearFailure(ctx, "summary_failures", url)
}

// parseTimestamp parses the stored RFC 3339 timestamps, tolerating a couple
// of older layouts.
func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
