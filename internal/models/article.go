package models

import (
	"database/sql"
	"time"
)

// ContentSource records where an article body came from.
const (
	ContentSourcePage = "page"
	ContentSourceFeed = "feed"
)

// Article represents a row in the 'articles' table. The canonical URL is the
// unique key; re-processing an existing URL updates the row in place.
type Article struct {
	ID              int64          `db:"id"`
	URL             string         `db:"url"`
	Title           string         `db:"title"`
	SourceName      string         `db:"source_name"`
	FeedURL         sql.NullString `db:"feed_url"`
	Published       sql.NullString `db:"published"` // free-form, parsed lazily
	Downloaded      sql.NullString `db:"downloaded"`
	Filepath        sql.NullString `db:"filepath"` // relative to the base dir
	ContentSource   sql.NullString `db:"content_source"`
	Summary         sql.NullString `db:"summary"`
	Body            sql.NullString `db:"body"`
	Category        sql.NullString `db:"category"`
	ScoreRelevance  sql.NullInt64  `db:"score_relevance"`
	ScoreQuality    sql.NullInt64  `db:"score_quality"`
	ScoreTimeliness sql.NullInt64  `db:"score_timeliness"`
	Keywords        sql.NullString `db:"keywords"` // JSON array
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// ArticleUpdate holds the partial fields the summarization stage writes back.
// Nil pointers are left untouched.
type ArticleUpdate struct {
	Title           *string
	Summary         *string
	Body            *string
	Category        *string
	ScoreRelevance  *int
	ScoreQuality    *int
	ScoreTimeliness *int
	Keywords        []string
	Filepath        *string
	ContentSource   *string
	Downloaded      *string
	Published       *string
}
