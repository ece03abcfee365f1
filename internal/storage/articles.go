package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/AaronShark/RSSTools/internal/database"
	"github.com/AaronShark/RSSTools/internal/models"
)

// OrderBy selects the sort order for full-text search results.
type OrderBy string

const (
	OrderByRelevance OrderBy = "relevance"
	OrderByDate      OrderBy = "date"
	OrderByQuality   OrderBy = "quality"
)

// SearchOptions narrows and orders a full-text search.
type SearchOptions struct {
	Limit     int
	Offset    int
	OrderBy   OrderBy
	Category  string
	Source    string
	DateStart string
	DateEnd   string
}

// Stats is the minimal health signal exposed to operators.
type Stats struct {
	TotalArticles   int `db:"-" json:"total_articles"`
	WithSummary     int `db:"-" json:"with_summary"`
	WithoutSummary  int `db:"-" json:"without_summary"`
	FeedFailures    int `db:"-" json:"feed_failures"`
	ArticleFailures int `db:"-" json:"article_failures"`
	SummaryFailures int `db:"-" json:"summary_failures"`
}

// ArticleRepository owns all reads and writes of the articles table. The FTS
// index is trigger-maintained, so every method here keeps it consistent for
// free.
type ArticleRepository struct {
	db *database.DB
}

// NewArticleRepository creates a repository over an open database.
func NewArticleRepository(db *database.DB) *ArticleRepository {
	return &ArticleRepository{db: db}
}

// Add inserts a new article and returns its row ID. The URL must not already
// exist; the store enforces uniqueness.
func (r *ArticleRepository) Add(ctx context.Context, article *models.Article) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO articles (
			url, title, source_name, feed_url, published, downloaded,
			filepath, content_source, summary, body, category,
			score_relevance, score_quality, score_timeliness, keywords
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		article.URL, article.Title, article.SourceName, article.FeedURL,
		article.Published, article.Downloaded, article.Filepath,
		article.ContentSource, article.Summary, article.Body, article.Category,
		article.ScoreRelevance, article.ScoreQuality, article.ScoreTimeliness,
		article.Keywords,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert article %s: %w", article.URL, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted article id: %w", err)
	}
	log.Debug().Str("url", article.URL).Int64("id", id).Msg("Article added")
	return id, nil
}

// Get returns the article for url, or nil when it does not exist.
func (r *ArticleRepository) Get(ctx context.Context, url string) (*models.Article, error) {
	var article models.Article
	err := r.db.GetContext(ctx, &article, "SELECT * FROM articles WHERE url = ?", url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article %s: %w", url, err)
	}
	return &article, nil
}

// Update applies the non-nil fields of upd to the article row. Returns false
// when no row matched the URL.
func (r *ArticleRepository) Update(ctx context.Context, url string, upd *models.ArticleUpdate) (bool, error) {
	var clauses []string
	var args []any

	set := func(column string, value any) {
		clauses = append(clauses, column+" = ?")
		args = append(args, value)
	}

	if upd.Title != nil {
		set("title", *upd.Title)
	}
	if upd.Summary != nil {
		set("summary", *upd.Summary)
	}
	if upd.Body != nil {
		set("body", *upd.Body)
	}
	if upd.Category != nil {
		set("category", *upd.Category)
	}
	if upd.ScoreRelevance != nil {
		set("score_relevance", *upd.ScoreRelevance)
	}
	if upd.ScoreQuality != nil {
		set("score_quality", *upd.ScoreQuality)
	}
	if upd.ScoreTimeliness != nil {
		set("score_timeliness", *upd.ScoreTimeliness)
	}
	if upd.Keywords != nil {
		encoded, err := json.Marshal(upd.Keywords)
		if err != nil {
			return false, fmt.Errorf("failed to encode keywords: %w", err)
		}
		set("keywords", string(encoded))
	}
	if upd.Filepath != nil {
		set("filepath", *upd.Filepath)
	}
	if upd.ContentSource != nil {
		set("content_source", *upd.ContentSource)
	}
	if upd.Downloaded != nil {
		set("downloaded", *upd.Downloaded)
	}
	if upd.Published != nil {
		set("published", *upd.Published)
	}
	if len(clauses) == 0 {
		return false, nil
	}

	clauses = append(clauses, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, url)

	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE articles SET %s WHERE url = ?", strings.Join(clauses, ", ")),
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update article %s: %w", url, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// Exists reports whether an article with this URL is already stored.
func (r *ArticleRepository) Exists(ctx context.Context, url string) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, "SELECT 1 FROM articles WHERE url = ?", url)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check article existence: %w", err)
	}
	return true, nil
}

// Delete removes the article row (and its FTS entry, via trigger). Returns
// false when no row matched.
func (r *ArticleRepository) Delete(ctx context.Context, url string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM articles WHERE url = ?", url)
	if err != nil {
		return false, fmt.Errorf("failed to delete article %s: %w", url, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// Search runs an FTS5 match over title, summary, body, and keywords.
// Relevance ordering uses the index's bm25 rank; date and quality order by
// column.
func (r *ArticleRepository) Search(ctx context.Context, query string, opts SearchOptions) ([]models.Article, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	var sb strings.Builder
	sb.WriteString(`SELECT a.* FROM articles a
		JOIN articles_fts fts ON a.id = fts.rowid
		WHERE articles_fts MATCH ?`)
	args := []any{query}

	if opts.Category != "" {
		sb.WriteString(" AND a.category = ?")
		args = append(args, opts.Category)
	}
	if opts.Source != "" {
		sb.WriteString(" AND a.source_name = ?")
		args = append(args, opts.Source)
	}
	if opts.DateStart != "" {
		sb.WriteString(" AND a.published >= ?")
		args = append(args, opts.DateStart)
	}
	if opts.DateEnd != "" {
		sb.WriteString(" AND a.published <= ?")
		args = append(args, opts.DateEnd)
	}

	switch opts.OrderBy {
	case OrderByDate:
		sb.WriteString(" ORDER BY a.published DESC")
	case OrderByQuality:
		sb.WriteString(" ORDER BY a.score_quality DESC")
	default:
		sb.WriteString(" ORDER BY fts.rank")
	}
	sb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, opts.Limit, opts.Offset)

	var articles []models.Article
	if err := r.db.SelectContext(ctx, &articles, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	return articles, nil
}

// ListAll returns articles ordered newest first.
func (r *ArticleRepository) ListAll(ctx context.Context, limit, offset int) ([]models.Article, error) {
	if limit <= 0 {
		limit = 1000
	}
	var articles []models.Article
	err := r.db.SelectContext(ctx, &articles,
		"SELECT * FROM articles ORDER BY published DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	return articles, nil
}

// Count returns the total number of stored articles.
func (r *ArticleRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM articles"); err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return n, nil
}

// CountWithSummary returns how many articles carry a summary.
func (r *ArticleRepository) CountWithSummary(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM articles WHERE summary IS NOT NULL")
	if err != nil {
		return 0, fmt.Errorf("failed to count summarized articles: %w", err)
	}
	return n, nil
}

// Sources returns the distinct source names, sorted.
func (r *ArticleRepository) Sources(ctx context.Context) ([]string, error) {
	var sources []string
	err := r.db.SelectContext(ctx, &sources,
		"SELECT DISTINCT source_name FROM articles WHERE source_name != '' ORDER BY source_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// Categories returns the distinct categories, sorted.
func (r *ArticleRepository) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	err := r.db.SelectContext(ctx, &categories,
		"SELECT DISTINCT category FROM articles WHERE category IS NOT NULL AND category != '' ORDER BY category")
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

// Stats aggregates article and failure counts across the store.
func (r *ArticleRepository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM articles", &s.TotalArticles},
		{"SELECT COUNT(*) FROM articles WHERE summary IS NOT NULL", &s.WithSummary},
		{"SELECT COUNT(*) FROM feed_failures", &s.FeedFailures},
		{"SELECT COUNT(*) FROM article_failures", &s.ArticleFailures},
		{"SELECT COUNT(*) FROM summary_failures", &s.SummaryFailures},
	}
	for _, c := range counts {
		if err := r.db.GetContext(ctx, c.dest, c.query); err != nil {
			return nil, fmt.Errorf("failed to gather stats: %w", err)
		}
	}
	s.WithoutSummary = s.TotalArticles - s.WithSummary
	return &s, nil
}
