// Package opsapi is the operator HTTP surface of the area engine: health,
// execution logs, ledger rows, quota, on-demand polling and config
// validation. It never touches the automation pipeline beyond the Engine
// interface.
package opsapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/area/auth"
	"github.com/hazyhaar/area/automation"
	"github.com/hazyhaar/area/automation/catalog"
)

const maxLimit = 500

// Engine is the part of *automation.Engine the API serves.
type Engine interface {
	AreaLogs(ctx context.Context, areaID string, limit int) ([]*automation.AreaLog, error)
	Events(ctx context.Context, serviceSlug string, limit int) ([]*automation.WebhookEvent, error)
	Quota(ctx context.Context) (map[string]automation.QuotaObservation, error)
	PollNow(ctx context.Context, slug string) error
	Pollers() []string
	PollerStats() map[string]automation.PollerStats
}

// Config configures the handler. An empty JWTSecret leaves the /v1 routes
// open, which is only meant for loopback listeners.
type Config struct {
	JWTSecret []byte
	Logger    *slog.Logger
}

// Handler returns the chi router of the ops API.
func Handler(e Engine, cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{engine: e, logger: logger}

	r := chi.NewRouter()
	r.Use(headToGet, apiHeaders, requestLog(logger))
	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		if len(cfg.JWTSecret) > 0 {
			r.Use(auth.Middleware(cfg.JWTSecret))
			r.Use(auth.RequireRole(auth.RoleAdmin))
		}
		r.Get("/areas/{areaID}/logs", h.areaLogs)
		r.Get("/services/{slug}/events", h.events)
		r.Get("/quota", h.quota)
		r.Get("/pollers", h.pollers)
		r.Post("/pollers/{slug}/run", h.pollNow)
		r.Post("/catalog/validate", h.validate)
	})
	return r
}

type handler struct {
	engine Engine
	logger *slog.Logger
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pollers": h.engine.Pollers()})
}

func (h *handler) areaLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.engine.AreaLogs(r.Context(), chi.URLParam(r, "areaID"), queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.Events(r.Context(), chi.URLParam(r, "slug"), queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handler) quota(w http.ResponseWriter, r *http.Request) {
	q, err := h.engine.Quota(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *handler) pollers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.PollerStats())
}

func (h *handler) pollNow(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := h.engine.PollNow(r.Context(), slug); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"service": slug, "stats": h.engine.PollerStats()[slug]})
}

func (h *handler) validate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Service  string          `json:"service"`
		Key      string          `json:"key"`
		Reaction bool            `json:"reaction"`
		Config   json.RawMessage `json:"config"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := catalog.Validate(req.Service, req.Key, req.Reaction, req.Config); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// fail maps engine errors to status codes.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *catalog.ValidationError
	switch {
	case errors.Is(err, automation.ErrBusy):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, automation.ErrUnknownPoller),
		errors.Is(err, automation.ErrNotFound),
		errors.Is(err, catalog.ErrUnknown):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		h.logger.ErrorContext(r.Context(), "opsapi: request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 50
	}
	return min(n, maxLimit)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
