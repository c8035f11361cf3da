// Package api provides the read-only HTTP status API for stackup.
package api

import (
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ldvinh/stackup/internal/core/monitoring"
	"github.com/ldvinh/stackup/internal/shell/docker"
	"github.com/ldvinh/stackup/internal/shell/store"
)

// =============================================================================
// API Setup
// =============================================================================

// Config holds dependencies for the API handler.
type Config struct {
	Store        store.Store
	Docker       docker.Client
	Orchestrator *docker.Orchestrator
	Logger       *slog.Logger
}

// Handler serves stack status over HTTP. All endpoints are read-only;
// mutations go through the CLI.
type Handler struct {
	store        store.Store
	docker       docker.Client
	orchestrator *docker.Orchestrator
	logger       *slog.Logger
}

// NewHandler creates the API handler and its router.
func NewHandler(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	h := &Handler{
		store:        cfg.Store,
		docker:       cfg.Docker,
		orchestrator: cfg.Orchestrator,
		logger:       cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoveryMiddleware(cfg.Logger))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Route("/api/stacks", func(r chi.Router) {
		r.Get("/", h.ListStacks)
		r.Get("/{id}", h.GetStack)
		r.Get("/{id}/events", h.StackEvents)
		r.Get("/{id}/logs/{service}", h.ServiceLogs)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// requestIDMiddleware generates and adds a request ID to responses.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and returns a 500 error.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Health Handlers
// =============================================================================

// Health reports process liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready reports readiness of the daemon connection.
// GET /ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok"}

	if err := h.docker.Ping(); err != nil {
		checks["docker"] = "failed"
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": checks,
		})
		return
	}
	checks["docker"] = "ok"

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"checks": checks,
	})
}

// =============================================================================
// Stack Handlers
// =============================================================================

// ListStacks returns all known stacks.
// GET /api/stacks?limit=&offset=
func (h *Handler) ListStacks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts := store.DefaultListOptions()
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}

	stacks, err := h.store.ListStacks(ctx, opts)
	if err != nil {
		h.logger.Error("failed to list stacks", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list stacks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": stacks})
}

// GetStack returns one stack with live container state.
// GET /api/stacks/{id}
func (h *Handler) GetStack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	st, err := h.store.GetStack(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Stack not found")
		return
	}

	// Prefer live daemon state over the persisted snapshot.
	if h.orchestrator != nil {
		if containers, err := h.orchestrator.RefreshContainerInfo(ctx, st); err == nil {
			st.Containers = containers
		} else {
			h.logger.Warn("failed to refresh container info", "stack_id", id, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":   st,
		"health": monitoring.AggregateHealth(st.Containers),
	})
}

// StackEvents returns recorded container events for a stack.
// GET /api/stacks/{id}/events?limit=&type=
func (h *Handler) StackEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.store.GetStack(ctx, id); err != nil {
		writeError(w, http.StatusNotFound, "Stack not found")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var eventType *string
	if v := r.URL.Query().Get("type"); v != "" {
		eventType = &v
	}

	events, err := h.store.GetContainerEvents(ctx, id, limit, eventType)
	if err != nil {
		h.logger.Error("failed to get container events", "stack_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": events})
}

// ServiceLogs returns recent logs for one service of a stack.
// GET /api/stacks/{id}/logs/{service}?tail=
func (h *Handler) ServiceLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	service := chi.URLParam(r, "service")

	st, err := h.store.GetStack(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Stack not found")
		return
	}

	tail := r.URL.Query().Get("tail")
	if tail == "" {
		tail = "100"
	}

	logs, err := h.orchestrator.ServiceLogs(ctx, st, service, tail)
	if err != nil {
		writeError(w, http.StatusNotFound, "Service logs not available")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"stack_id": id,
			"service":  service,
			"logs":     logs,
		},
	})
}

// =============================================================================
// Helpers
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{
		"errors": []map[string]any{
			{
				"status": strconv.Itoa(status),
				"title":  http.StatusText(status),
				"detail": detail,
			},
		},
	})
}

// generateRequestID generates a unique request ID.
func generateRequestID() string {
	return "req_" + randomString(12)
}

// randomString generates a cryptographically random string of the given length.
func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		b[i] = letters[idx.Int64()]
	}
	return string(b)
}
