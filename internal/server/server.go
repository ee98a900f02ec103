// Package server exposes the content service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/cms-cache/internal/content"
	"github.com/Sternrassler/cms-cache/pkg/cache"
	"github.com/Sternrassler/cms-cache/pkg/cms"
	"github.com/Sternrassler/cms-cache/pkg/metrics"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Content is the service the handlers read from. *content.Service implements it.
type Content interface {
	Projects(ctx context.Context, lang cache.Language) ([]cms.Project, error)
	Project(ctx context.Context, id string, lang cache.Language) (cms.Project, error)
	Filters(ctx context.Context, kind content.FilterKind) (any, error)
	Ready() bool
	Stats() content.Stats
	InvalidatePattern(pattern string, regions ...string) (int, error)
	InvalidateProjects(ids ...string) int
}

var _ Content = (*content.Service)(nil)

// Options configures the handler.
type Options struct {
	// Debug registers /debug/cache and /debug/cache/invalidate.
	Debug bool

	// RequestTimeout bounds a single request (default: 30s).
	RequestTimeout time.Duration
}

// Handler serves the HTTP API.
type Handler struct {
	svc    Content
	opts   Options
	logger zerolog.Logger
	mux    *http.ServeMux
}

// New creates a handler with all routes registered.
func New(svc Content, opts Options, logger zerolog.Logger) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	h := &Handler{svc: svc, opts: opts, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /ready", h.ready)
	h.mux.Handle("GET /metrics", metrics.Handler())
	h.mux.HandleFunc("GET /api/projects", h.projects)
	h.mux.HandleFunc("GET /api/projects/{id}", h.project)
	h.mux.HandleFunc("GET /api/filters/{kind}", h.filters)

	if opts.Debug {
		h.mux.HandleFunc("GET /debug/cache", h.debugCache)
		h.mux.HandleFunc("POST /debug/cache/invalidate", h.invalidate)
	}

	return h.withRequestID(h.mux)
}

// withRequestID tags every request with an id and logs its outcome.
func (h *Handler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		logger := h.logger.With().Str("request_id", id).Logger()
		ctx := logger.WithContext(r.Context())

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Ready() {
		jsonErr(w, http.StatusServiceUnavailable, "reference data not loaded")
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"status": "ready"})
}

// projects returns GET /api/projects?lang=: the complete collection.
func (h *Handler) projects(w http.ResponseWriter, r *http.Request) {
	lang, err := language(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.RequestTimeout)
	defer cancel()

	projects, err := h.svc.Projects(ctx, lang)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cacheable(w, r, projects)
}

// project returns GET /api/projects/{id}?lang=: a single project.
func (h *Handler) project(w http.ResponseWriter, r *http.Request) {
	lang, err := language(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.RequestTimeout)
	defer cancel()

	project, err := h.svc.Project(ctx, r.PathValue("id"), lang)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cacheable(w, r, project)
}

// filters returns GET /api/filters/{kind}: locations, formats or contexts.
func (h *Handler) filters(w http.ResponseWriter, r *http.Request) {
	kind, err := content.ParseFilterKind(r.PathValue("kind"))
	if err != nil {
		jsonErr(w, http.StatusNotFound, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.RequestTimeout)
	defer cancel()

	v, err := h.svc.Filters(ctx, kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cacheable(w, r, v)
}

func (h *Handler) debugCache(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.svc.Stats())
}

// invalidate handles POST /debug/cache/invalidate?pattern=&region= or ?ids=a,b.
func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Has("ids") {
		ids := splitIDs(q.Get("ids"))
		if len(ids) == 0 {
			jsonErr(w, http.StatusBadRequest, "ids must name at least one id")
			return
		}
		removed := h.svc.InvalidateProjects(ids...)
		jsonResp(w, http.StatusOK, map[string]int{"removed": removed})
		return
	}

	pattern := q.Get("pattern")
	if pattern == "" {
		jsonErr(w, http.StatusBadRequest, "pattern or ids is required")
		return
	}
	removed, err := h.svc.InvalidatePattern(pattern, q["region"]...)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, map[string]int{"removed": removed})
}

// splitIDs splits a comma-separated id list, dropping empty parts.
func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// fail maps service errors to HTTP status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())

	switch {
	case errors.Is(err, content.ErrProjectNotFound), errors.Is(err, content.ErrUnknownFilter):
		jsonErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cms.ErrRateLimited):
		logger.Warn().Err(err).Str("path", r.URL.Path).Msg("CMS rate limited")
		jsonErr(w, http.StatusServiceUnavailable, "upstream rate limited")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		jsonErr(w, http.StatusGatewayTimeout, "upstream timeout")
	default:
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("CMS request failed")
		jsonErr(w, http.StatusBadGateway, "upstream request failed")
	}
}

// language reads ?lang=, then X-Language, defaulting to EN.
func language(r *http.Request) (cache.Language, error) {
	raw := r.URL.Query().Get("lang")
	if raw == "" {
		raw = r.Header.Get(cms.LanguageHeader)
	}
	if raw == "" {
		return cache.DefaultLanguage, nil
	}
	return cache.ParseLanguage(raw)
}

// --- response helpers -------------------------------------------------------

// ETag returns the strong entity tag for body.
func ETag(body []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
}

// cacheable writes v as JSON with an ETag and answers a matching
// If-None-Match with 304.
func cacheable(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "encode response")
		return
	}

	etag := ETag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")

	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func jsonResp(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
