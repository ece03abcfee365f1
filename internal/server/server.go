package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AaronShark/RSSTools/internal/database"
	"github.com/AaronShark/RSSTools/internal/server/api"
	serverstorage "github.com/AaronShark/RSSTools/internal/server/storage"
	"github.com/AaronShark/RSSTools/internal/storage"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// apiKeyMiddleware checks for the X-API-Key header and validates it against the provided key.
// If key is empty, it allows all requests.
func apiKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			reqApiKey := r.Header.Get("X-API-Key")
			if reqApiKey == "" {
				http.Error(w, "API key required", http.StatusUnauthorized)
				return
			}

			if reqApiKey != apiKey {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// newHandler wires the route table and middleware chain. Split out from
// RunServer so tests can drive the full stack through httptest.
func newHandler(db *database.DB, logger zerolog.Logger, apiKey string) http.Handler {
	articles := storage.NewArticleRepository(db)
	articlesHandler := api.NewArticlesHandler(serverstorage.NewPager(db))
	searchHandler := api.NewSearchHandler(articles)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/articles", articlesHandler.GetArticles)
	mux.HandleFunc("GET /v1/search", searchHandler.SearchArticles)
	mux.HandleFunc("GET /v1/sources", exportSourcesHandler(db))
	mux.HandleFunc("GET /health", healthCheckHandler(articles))

	// Set up middleware chain for logging and request tracking
	h := hlog.NewHandler(logger)(mux)
	h = hlog.MethodHandler("method")(h)
	h = hlog.URLHandler("url")(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	h = hlog.UserAgentHandler("user_agent")(h)
	h = hlog.RequestIDHandler("req_id", "Request-Id")(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		idReq, _ := hlog.IDFromRequest(r)

		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Str("req_id", idReq.String()).
			Msg("HTTP Request")
	})(h)

	if apiKey != "" {
		h = apiKeyMiddleware(apiKey)(h)
	}
	return h
}

// RunServer starts the HTTP server with graceful shutdown support.
// It sets up routes, middleware, and handles OS signals for clean termination.
func RunServer(db *database.DB, listenAddr string, logger zerolog.Logger, apiKey string) error {
	// Add service identifier to the logger
	logger = logger.With().Str("service", "rsskb-api").Logger()

	if apiKey != "" {
		logger.Info().Msg("API key authentication enabled")
	} else {
		logger.Info().Msg("API key authentication disabled")
	}

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           newHandler(db, logger, apiKey),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Fatal().Err(err).Msg("Server failed to start")

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("HTTP server force close error")
			}
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := <-serverErr; err != nil {
			logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
		}
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

// healthCheckHandler reports store-level counts so monitoring can tell an
// empty database apart from a broken one.
func healthCheckHandler(articles *storage.ArticleRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Health check request received")

		if r.Method != http.MethodGet {
			log.Warn().Str("method", r.Method).Msg("Health check method not allowed")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		stats, err := articles.Stats(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Health check store query failed")
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}

		payload := map[string]any{
			"status":         "ok",
			"total_articles": stats.TotalArticles,
			"with_summary":   stats.WithSummary,
		}
		body, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Msg("Error marshaling health response")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			log.Error().Err(err).Msg("Error writing health check response")
		}
	}
}

// exportSourcesHandler returns a handler function that exports per-source
// article counts as a CSV file.
func exportSourcesHandler(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Export sources request received")

		if r.Method != http.MethodGet {
			log.Warn().Str("method", r.Method).Msg("Export sources method not allowed")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		rows, err := db.QueryContext(r.Context(), `
			SELECT source_name, COUNT(*) AS articles, MAX(created_at) AS latest
			FROM articles
			WHERE source_name != ''
			GROUP BY source_name
			ORDER BY source_name ASC
		`)
		if err != nil {
			log.Error().Err(err).Msg("Failed to query sources")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=sources.csv")

		csvWriter := csv.NewWriter(w)

		header := []string{"source", "articles", "latest"}
		if err := csvWriter.Write(header); err != nil {
			log.Error().Err(err).Msg("Failed to write CSV header")
			http.Error(w, "Error generating CSV", http.StatusInternalServerError)
			return
		}

		var count int
		for rows.Next() {
			var source, latest string
			var articles int

			if err := rows.Scan(&source, &articles, &latest); err != nil {
				log.Error().Err(err).Msg("Failed to scan source row")
				continue
			}

			record := []string{source, strconv.Itoa(articles), latest}
			if err := csvWriter.Write(record); err != nil {
				log.Error().Err(err).Msg("Failed to write CSV record")
				http.Error(w, "Error generating CSV", http.StatusInternalServerError)
				return
			}

			count++
		}

		if err := rows.Err(); err != nil {
			log.Error().Err(err).Msg("Error iterating source rows")
			http.Error(w, "Error reading sources", http.StatusInternalServerError)
			return
		}

		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Error().Err(err).Msg("Error flushing CSV data")
			return
		}

		log.Info().Int("source_count", count).Msg("Exported sources as CSV")
	}
}
