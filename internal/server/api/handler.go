package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/AaronShark/RSSTools/internal/models"
	"github.com/AaronShark/RSSTools/internal/server/pagination"
	serverstorage "github.com/AaronShark/RSSTools/internal/server/storage"
	"github.com/AaronShark/RSSTools/internal/storage"
)

const defaultLimit = 100
const maxLimit = 1000
const iso8601Format = time.RFC3339

// Article is the JSON shape served to API clients. Nullable columns become
// empty fields rather than sql.NullString wrappers.
type Article struct {
	ID            int64    `json:"id"`
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	SourceName    string   `json:"source_name"`
	FeedURL       string   `json:"feed_url,omitempty"`
	Published     string   `json:"published,omitempty"`
	Downloaded    string   `json:"downloaded,omitempty"`
	Filepath      string   `json:"filepath,omitempty"`
	ContentSource string   `json:"content_source,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	Category      string   `json:"category,omitempty"`
	Relevance     *int64   `json:"score_relevance,omitempty"`
	Quality       *int64   `json:"score_quality,omitempty"`
	Timeliness    *int64   `json:"score_timeliness,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

func toAPIArticle(a *models.Article) Article {
	out := Article{
		ID:            a.ID,
		URL:           a.URL,
		Title:         a.Title,
		SourceName:    a.SourceName,
		FeedURL:       a.FeedURL.String,
		Published:     a.Published.String,
		Downloaded:    a.Downloaded.String,
		Filepath:      a.Filepath.String,
		ContentSource: a.ContentSource.String,
		Summary:       a.Summary.String,
		Category:      a.Category.String,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.ScoreRelevance.Valid {
		out.Relevance = &a.ScoreRelevance.Int64
	}
	if a.ScoreQuality.Valid {
		out.Quality = &a.ScoreQuality.Int64
	}
	if a.ScoreTimeliness.Valid {
		out.Timeliness = &a.ScoreTimeliness.Int64
	}
	if a.Keywords.Valid && a.Keywords.String != "" {
		var kws []string
		if err := json.Unmarshal([]byte(a.Keywords.String), &kws); err == nil {
			out.Keywords = kws
		}
	}
	return out
}

// ListResponse is the payload of the paginated articles endpoint.
type ListResponse struct {
	Items      []Article `json:"items"`
	NextCursor *string   `json:"next_cursor,omitempty"`
}

// ArticlesHandler serves incremental article listings for downstream
// consumers polling the knowledge base.
type ArticlesHandler struct {
	pager serverstorage.ArticlePager
}

// NewArticlesHandler creates a new handler instance.
func NewArticlesHandler(pager serverstorage.ArticlePager) *ArticlesHandler {
	return &ArticlesHandler{pager: pager}
}

// GetArticles handles requests to fetch articles created after a point in
// time, following next_cursor tokens across pages.
func (h *ArticlesHandler) GetArticles(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing articles request")

	if r.Method != http.MethodGet {
		log.Warn().Str("method", r.Method).Msg("Method not allowed")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	query := r.URL.Query()
	limitStr := query.Get("limit")
	sinceStr := query.Get("since")
	cursorStr := query.Get("cursor")

	limit := defaultLimit
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		limit = parsedLimit
	}

	var since *time.Time
	var cursor *pagination.Cursor

	if cursorStr != "" {
		c, err := pagination.Decode(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
			return
		}
		cursor = &c
	} else if sinceStr != "" {
		parsedSince, err := time.Parse(iso8601Format, sinceStr)
		if err != nil {
			log.Warn().Err(err).Str("since", sinceStr).Msg("Invalid 'since' parameter format")
			http.Error(w, "Invalid 'since' parameter: use RFC3339 format (e.g., 2025-03-28T15:00:00Z)", http.StatusBadRequest)
			return
		}
		utcSince := parsedSince.UTC()
		since = &utcSince
	} else {
		log.Warn().Msg("Missing required parameter: 'since' or 'cursor'")
		http.Error(w, "Missing required parameter: 'since' or 'cursor'", http.StatusBadRequest)
		return
	}

	articles, err := h.pager.FetchArticles(ctx, limit+1, since, cursor) // Fetch one extra
	if err != nil {
		errLogEvent := log.Error().Err(err)
		if since != nil {
			errLogEvent = errLogEvent.Time("since", *since)
		}
		errLogEvent.Str("cursor", cursorStr).Msg("Error fetching articles from repository")

		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var nextCursorStr *string
	hasNextPage := len(articles) > limit
	page := articles
	if hasNextPage {
		page = articles[:limit]
		if len(page) > 0 {
			last := page[len(page)-1]
			token := pagination.Cursor{Timestamp: last.CreatedAt.UTC(), ID: last.ID}.Encode()
			nextCursorStr = &token
		}
	}

	items := make([]Article, 0, len(page))
	for i := range page {
		items = append(items, toAPIArticle(&page[i]))
	}

	writeJSON(w, r, ListResponse{Items: items, NextCursor: nextCursorStr})
}

// Searcher is the full-text search surface the search endpoint needs.
type Searcher interface {
	Search(ctx context.Context, query string, opts storage.SearchOptions) ([]models.Article, error)
}

// SearchResponse is the payload of the search endpoint.
type SearchResponse struct {
	Query   string    `json:"query"`
	Count   int       `json:"count"`
	Results []Article `json:"results"`
}

// SearchHandler serves full-text queries over the article index.
type SearchHandler struct {
	searcher Searcher
}

// NewSearchHandler creates a new search handler instance.
func NewSearchHandler(searcher Searcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

// SearchArticles handles full-text search requests. The q parameter is
// passed through as an FTS5 match expression.
func (h *SearchHandler) SearchArticles(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	params := r.URL.Query()
	q := params.Get("q")
	if q == "" {
		http.Error(w, "Missing required parameter: 'q'", http.StatusBadRequest)
		return
	}

	opts := storage.SearchOptions{
		Category: params.Get("category"),
		Source:   params.Get("source"),
		OrderBy:  storage.OrderBy(params.Get("order")),
	}
	if limitStr := params.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > maxLimit {
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}

	results, err := h.searcher.Search(r.Context(), q, opts)
	if err != nil {
		log.Error().Err(err).Str("query", q).Msg("Search query failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	out := make([]Article, 0, len(results))
	for i := range results {
		out = append(out, toAPIArticle(&results[i]))
	}

	writeJSON(w, r, SearchResponse{Query: q, Count: len(out), Results: out})
}

func writeJSON(w http.ResponseWriter, r *http.Request, payload any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
	}
	log.Debug().Int("bytes_written", len(jsonBytes)).Msg("Response completed")
}
