// Package api provides the HTTP and SSE surface for the Shipyard API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/scaffold"
	"github.com/artpar/shipyard/internal/engine"
	"github.com/artpar/shipyard/internal/shell/api/openapi"
	"github.com/artpar/shipyard/internal/shell/docker"
	"github.com/artpar/shipyard/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API. All lifecycle work goes
// through the engine; the handler owns only wire concerns.
type Handler struct {
	engine  *engine.Engine
	docker  docker.Client
	logger  *slog.Logger
	openapi *openapi.Generator
}

// NewHandler creates a new API handler. The docker client backs the
// readiness probe only.
func NewHandler(e *engine.Engine, d docker.Client, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		engine:  e,
		docker:  d,
		logger:  l,
		openapi: buildOpenAPI(),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Get("/openapi.json", h.openapi.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/templates", h.handleListTemplates)
		r.Get("/status", h.handleAllStatuses)

		r.Route("/apps", func(r chi.Router) {
			r.Post("/", h.handleCreateApplication)
			r.Get("/", h.handleListApplications)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", h.handleGetApplication)
				r.Delete("/", h.handleDeleteApplication)
				r.Post("/generate", h.handleGenerate)
				r.Route("/builds", func(r chi.Router) {
					r.Post("/", h.handleStartBuild)
					r.Get("/", h.handleListBuilds)
				})
				r.Post("/publish", h.handlePublish)
				r.Post("/rollback", h.handleRollback)
				r.Get("/status", h.handleStatus)
				r.Get("/logs", h.handleLogs)
				r.Get("/files", h.handleFiles)
				r.Post("/workspace", h.handlePrepareWorkspace)
			})
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json. Streaming
// handlers override it before the first write.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	// Check database (implicit - if we got here, store was created)
	checks["database"] = "ok"

	// Check Docker
	if err := h.docker.Ping(); err != nil {
		checks["docker"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["docker"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeEngineError maps a lifecycle error onto the wire format. Unmapped
// errors become opaque 500s; the cause goes to the log, not the client.
func (h *Handler) writeEngineError(w http.ResponseWriter, op string, err error) {
	var perr *engine.PromotionError
	switch {
	case errors.Is(err, domain.ErrInvalidName):
		h.writeError(w, http.StatusBadRequest, err.Error(), "invalid_name")
	case errors.Is(err, scaffold.ErrUnknownTemplate):
		h.writeError(w, http.StatusBadRequest, err.Error(), "unknown_template")
	case errors.Is(err, domain.ErrNothingToPromote):
		h.writeError(w, http.StatusBadRequest, "no preview build to promote", "nothing_to_promote")
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "application not found", "app_not_found")
	case errors.Is(err, store.ErrDuplicateName):
		h.writeError(w, http.StatusConflict, err.Error(), "duplicate_name")
	case errors.Is(err, engine.ErrOperationInProgress):
		h.writeError(w, http.StatusConflict, err.Error(), "operation_in_progress")
	case errors.As(err, &perr):
		h.logger.Error("promotion failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, perr.Error(), "promotion_failed")
	default:
		h.logger.Error("failed to "+op, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to "+op, "internal_error")
	}
}

// listOptions reads limit/offset query parameters over the store defaults.
func listOptions(r *http.Request) store.ListOptions {
	opts := store.DefaultListOptions()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	return opts
}
