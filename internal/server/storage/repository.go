package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AaronShark/RSSTools/internal/database"
	"github.com/AaronShark/RSSTools/internal/models"
	"github.com/AaronShark/RSSTools/internal/server/pagination"
)

// ArticlePager defines the read path the API server needs over the
// articles table.
type ArticlePager interface {
	FetchArticles(ctx context.Context, limit int, since *time.Time, cursor *pagination.Cursor) ([]models.Article, error)
}

// sqlxPager implements ArticlePager using sqlx.
type sqlxPager struct {
	db *database.DB
}

// NewPager creates a new pager instance.
func NewPager(db *database.DB) ArticlePager {
	return &sqlxPager{db: db}
}

// FetchArticles retrieves articles based on time or cursor. Ordering is
// (created_at, id) ascending so keyset pagination never skips or repeats a
// row even when several articles share a timestamp.
func (r *sqlxPager) FetchArticles(ctx context.Context, limit int, since *time.Time, cursor *pagination.Cursor) ([]models.Article, error) {
	var articles []models.Article
	var query string
	var args []any

	const baseQuery = `SELECT * FROM articles `
	const orderBy = ` ORDER BY created_at ASC, id ASC LIMIT ?`

	// created_at is stored as CURRENT_TIMESTAMP text while the driver binds
	// time.Time with a zone suffix, so both sides go through datetime() to
	// compare in the same normal form.
	switch {
	case cursor != nil:
		query = baseQuery + `WHERE (datetime(created_at) > datetime(?)) OR (datetime(created_at) = datetime(?) AND id > ?)` + orderBy
		args = append(args, cursor.Timestamp.UTC(), cursor.Timestamp.UTC(), cursor.ID, limit)
	case since != nil:
		query = baseQuery + `WHERE datetime(created_at) > datetime(?)` + orderBy
		args = append(args, since.UTC(), limit)
	default:
		return nil, fmt.Errorf("either 'since' or cursor parameters must be provided")
	}

	err := r.db.SelectContext(ctx, &articles, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.Article{}, nil
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}

	return articles, nil
}
