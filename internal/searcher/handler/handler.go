package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/tracing"
)

// Engine is the part of *indexer.Engine the handler needs.
type Engine interface {
	Current() *indexer.Snapshot
	Reload(ctx context.Context) (*indexer.Snapshot, error)
}

// Deps are the collaborators of a Handler. Everything but Engine is optional.
type Deps struct {
	Engine    Engine
	Cache     *cache.QueryCache
	Collector *analytics.Collector
	Metrics   *metrics.Metrics
	// Reloads, when set, lets POST /api/v1/vocabulary/reload?broadcast=true
	// fan a reload out to every replica.
	Reloads kafka.Publisher
}

type Limits struct {
	DefaultLimit int
	MaxResults   int
	MinScore     float64
}

type Handler struct {
	engine    Engine
	cache     *cache.QueryCache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	reloads   kafka.Publisher
	limits    Limits
	logger    *slog.Logger
}

func New(deps Deps, limits Limits) *Handler {
	return &Handler{
		engine:    deps.Engine,
		cache:     deps.Cache,
		collector: deps.Collector,
		metrics:   deps.Metrics,
		reloads:   deps.Reloads,
		limits:    limits,
		logger:    slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the search API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/codes/{code}", h.Lookup)
	mux.HandleFunc("POST /api/v1/vocabulary/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "search", logger.RequestID(r.Context()))
	log := logger.FromContext(ctx)
	cacheStatus := "disabled"
	defer func() {
		span.SetAttr("cache", cacheStatus)
		span.End()
		span.Log(ctx, log)
	}()

	params := r.URL.Query()
	if !params.Has("q") {
		h.countQuery("invalid")
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	query := params.Get("q")

	opts, err := h.parseOptions(params)
	if err == nil {
		err = opts.Validate()
	}
	if err != nil {
		h.countQuery("invalid")
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := h.engine.Current()
	if snap == nil {
		h.writeFailure(w, apperrors.New(apperrors.ErrNotReady, http.StatusServiceUnavailable, "no vocabulary snapshot is loaded"))
		return
	}

	// Pin the snapshot so the cache key and the result share a version.
	exec := executor.New(snap)
	plan := parser.Parse(query)
	compute := func() (*executor.SearchResult, error) {
		return exec.Execute(ctx, plan, opts)
	}

	var result *executor.SearchResult
	cached := h.cache != nil && !plan.Empty()
	if cached {
		var hit bool
		result, hit, err = h.cache.GetOrCompute(ctx, cache.Key(plan, opts, snap.Version), compute)
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	} else {
		result, err = compute()
	}
	if err != nil {
		log.Error("search execution failed", "query", query, "error", err)
		h.writeFailure(w, err)
		return
	}

	if cached {
		// a hit or a shared flight carries another caller's query text
		result.Query = query
	}

	latency := time.Since(start)
	h.observe(result, cacheStatus, latency)

	log.Info("search completed",
		"query", query,
		"code_query", result.CodeQuery,
		"candidates", result.TotalCandidates,
		"returned", len(result.Results),
		"cache", cacheStatus,
		"latency_ms", latency.Milliseconds(),
	)
	if h.collector != nil {
		event := analytics.SearchEvent{
			Type:              analytics.EventSearch,
			Query:             query,
			Normalized:        result.Normalized,
			CodeQuery:         result.CodeQuery,
			Candidates:        result.TotalCandidates,
			Returned:          len(result.Results),
			LatencyMs:         latency.Milliseconds(),
			CacheHit:          cacheStatus == "hit",
			VocabularyVersion: result.VocabularyVersion,
			Timestamp:         time.Now().UTC(),
			RequestID:         logger.RequestID(ctx),
		}
		if len(result.Results) > 0 {
			event.TopCode = result.Results[0].Code
		}
		h.collector.Track(event)
	}

	h.writeJSON(w, http.StatusOK, result)
}

// parseOptions reads limit, min_score and explain. A missing limit takes the
// default and an oversized one is capped at MaxResults.
func (h *Handler) parseOptions(params url.Values) (executor.Options, error) {
	get := func(key string) (string, bool) {
		return params.Get(key), params.Has(key)
	}

	opts := executor.Options{TopK: h.limits.DefaultLimit, MinScore: h.limits.MinScore}
	if s, ok := get("limit"); ok {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			return opts, &executor.InvalidQueryError{Field: "limit", Reason: "must be a positive integer"}
		}
		opts.TopK = min(limit, h.limits.MaxResults)
	}
	if s, ok := get("min_score"); ok {
		score, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return opts, &executor.InvalidQueryError{Field: "min_score", Reason: "must be a number"}
		}
		opts.MinScore = score
	}
	if s, ok := get("explain"); ok {
		explain, err := strconv.ParseBool(s)
		if err != nil {
			return opts, &executor.InvalidQueryError{Field: "explain", Reason: "must be a boolean"}
		}
		opts.Explain = explain
	}
	return opts, nil
}

func (h *Handler) observe(result *executor.SearchResult, cacheStatus string, latency time.Duration) {
	if h.metrics == nil {
		return
	}
	resultType := "match"
	switch {
	case len(result.Results) == 0:
		resultType = "zero_result"
	case result.CodeQuery:
		resultType = "code_match"
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	h.metrics.SearchResultsCount.Observe(float64(len(result.Results)))
}

func (h *Handler) countQuery(resultType string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

// Lookup serves GET /api/v1/codes/{code}. The code matches regardless of
// case or periods.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	entry, err := executor.New(h.engine).Lookup(code)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if h.collector != nil {
		h.collector.Track(analytics.SearchEvent{
			Type:      analytics.EventLookup,
			Query:     code,
			Returned:  1,
			TopCode:   entry.Code,
			Timestamp: time.Now().UTC(),
			RequestID: logger.RequestID(r.Context()),
		})
	}
	h.writeJSON(w, http.StatusOK, entry)
}

// Reload rebuilds the vocabulary on this replica, or with ?broadcast=true
// publishes a reload request that every replica consumes.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if broadcast, _ := strconv.ParseBool(r.URL.Query().Get("broadcast")); broadcast {
		if h.reloads == nil {
			h.writeError(w, http.StatusServiceUnavailable, "reload broadcast is not configured")
			return
		}
		event := indexer.NewReloadEvent("api", logger.RequestID(ctx))
		if err := h.reloads.Publish(ctx, event); err != nil {
			h.logger.Error("reload broadcast failed", "error", err)
			h.writeError(w, http.StatusServiceUnavailable, "reload broadcast failed")
			return
		}
		h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "broadcast"})
		return
	}

	snap, err := h.engine.Reload(ctx)
	if err != nil {
		h.logger.Error("vocabulary reload failed", "error", err)
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"version":   snap.Version,
		"entries":   snap.Store.Len(),
		"loaded_at": snap.LoadedAt,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeFailure(w, apperrors.New(apperrors.ErrCacheDisabled, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps err to its status. Server-side failures are reported
// without their internals.
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	} else if status >= http.StatusInternalServerError && !errors.Is(err, apperrors.ErrLoad) {
		message = "internal error"
	}
	h.writeError(w, status, message)
}
