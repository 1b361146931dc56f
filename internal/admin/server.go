// Package admin exposes the read-only pipeline views and the tag-rule CRUD
// over HTTP. It is a consumer of the content store, not part of the pipeline.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitfeed/orbitfeed/internal/metrics"
	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// TrendDays is the window served by the trend endpoint.
const TrendDays = 10

// Store is the slice of the content store the admin server reads and the
// rule set it may edit.
type Store interface {
	Stats(ctx context.Context) (pipeline.Stats, error)
	EnrichedTrend(ctx context.Context, days int) ([]pipeline.TrendPoint, error)
	EnrichedByDate(ctx context.Context, date string) ([]pipeline.EnrichedArticle, error)
	ListRules(ctx context.Context) ([]pipeline.TagRule, error)
	CreateRule(ctx context.Context, rule pipeline.TagRule) (int64, error)
	UpdateRule(ctx context.Context, rule pipeline.TagRule) error
	DeleteRule(ctx context.Context, id int64) error
}

// Config carries the listener settings for the admin server.
type Config struct {
	APIKey string
}

// Server wires the admin routes over the content store.
type Server struct {
	router chi.Router
	store  Store
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, store Store, logger *zap.Logger) *Server {
	s := &Server{store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/stats", s.getStats)
		r.Get("/trend", s.getTrend)
		r.Get("/articles", s.getArticlesByDate)
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.listRules)
			r.Post("/", s.createRule)
			r.Route("/{rule_id}", func(r chi.Router) {
				r.Put("/", s.updateRule)
				r.Delete("/", s.deleteRule)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// A cheap store read doubles as the database liveness probe.
	if _, err := s.store.ListRules(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// tagBreakdown is one row of the stats tag-frequency table.
type tagBreakdown struct {
	Tag     string  `json:"tag"`
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	breakdown := make([]tagBreakdown, 0, len(stats.TagCounts))
	for tag, count := range stats.TagCounts {
		row := tagBreakdown{Tag: tag, Count: count}
		if stats.TotalEnriched > 0 {
			row.Percent = 100 * float64(count) / float64(stats.TotalEnriched)
		}
		breakdown = append(breakdown, row)
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].Count != breakdown[j].Count {
			return breakdown[i].Count > breakdown[j].Count
		}
		return breakdown[i].Tag < breakdown[j].Tag
	})

	s.writeJSON(w, http.StatusOK, map[string]any{
		"total_raw":      stats.TotalRaw,
		"total_enriched": stats.TotalEnriched,
		"tags":           breakdown,
	})
}

func (s *Server) getTrend(w http.ResponseWriter, r *http.Request) {
	trend, err := s.store.EnrichedTrend(r.Context(), TrendDays)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read trend")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"days": TrendDays, "trend": trend})
}

func (s *Server) getArticlesByDate(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	articles, err := s.store.EnrichedByDate(r.Context(), date)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read articles")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"date": date, "articles": articles})
}

type ruleRequest struct {
	Pattern string `json:"pattern"`
	Tag     string `json:"tag"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pattern == "" || req.Tag == "" {
		s.writeError(w, http.StatusBadRequest, "pattern and tag are required")
		return
	}
	id, err := s.store.CreateRule(r.Context(), pipeline.TagRule{
		Pattern: req.Pattern,
		Tag:     req.Tag,
		Enabled: req.Enabled,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "rule_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pattern == "" || req.Tag == "" {
		s.writeError(w, http.StatusBadRequest, "pattern and tag are required")
		return
	}
	rule := pipeline.TagRule{ID: id, Pattern: req.Pattern, Tag: req.Tag, Enabled: req.Enabled}
	if err := s.store.UpdateRule(r.Context(), rule); err != nil {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "rule_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	if err := s.store.DeleteRule(r.Context(), id); err != nil {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
