package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AaronShark/RSSTools/internal/database"
	"github.com/AaronShark/RSSTools/internal/models"
)

// ETagRepository stores the conditional-fetch validators captured from feed
// responses, so unchanged feeds can be skipped with a 304.
type ETagRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewETagRepository creates a repository over an open database.
func NewETagRepository(db *database.DB) *ETagRepository {
	return &ETagRepository{db: db, now: time.Now}
}

// Get returns the stored validators for a feed URL, or nil when absent or
// older than maxAge.
func (r *ETagRepository) Get(ctx context.Context, url string, maxAge time.Duration) (*models.ETagEntry, error) {
	var entry models.ETagEntry
	err := r.db.GetContext(ctx, &entry, "SELECT * FROM feed_etags WHERE url = ?", url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed etag: %w", err)
	}
	if ts, ok := parseTimestamp(entry.Timestamp); ok {
		if r.now().UTC().Sub(ts) > maxAge {
			return nil, nil
		}
	}
	return &entry, nil
}

// Set stores (replacing) the validators for a feed URL, stamped now.
func (r *ETagRepository) Set(ctx context.Context, url, etag, lastModified string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO feed_etags (url, etag, last_modified, timestamp)
		VALUES (?, ?, ?, ?)`,
		url, etag, lastModified, r.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to set feed etag: %w", err)
	}
	return nil
}
