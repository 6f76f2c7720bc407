// Package api exposes the folio service over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/folio/internal/service"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// maxBodyBytes bounds request bodies, including import documents.
const maxBodyBytes = 32 << 20

// Handler serves the API routes.
type Handler struct {
	svc *service.Service
	log zerolog.Logger
}

// NewRouter builds the HTTP handler: metrics and logging middleware, token
// resolution, and every API route under /api/v1.
func NewRouter(svc *service.Service, auth *Auth, log zerolog.Logger) http.Handler {
	h := &Handler{svc: svc, log: log.With().Str("component", "api").Logger()}

	r := chi.NewRouter()
	r.Use(Metrics(), RequestLogger(h.log))

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware())

		r.Get("/resource-types", h.resourceTypes)

		r.Get("/texts", h.listTexts)
		r.Post("/texts", h.createText)
		r.Get("/texts/{id}", h.getText)
		r.Get("/texts/{id}/locations", h.textLocations)

		r.Get("/resources", h.listResources)
		r.Post("/resources", h.createResource)
		r.Route("/resources/{id}", func(r chi.Router) {
			r.Get("/", h.getResource)
			r.Patch("/", h.updateResource)
			r.Delete("/", h.deleteResource)
			r.Put("/shares", h.setShares)
			r.Post("/version", h.createVersion)
			r.Post("/propose", h.transition(h.svc.Propose))
			r.Post("/unpropose", h.transition(h.svc.Unpropose))
			r.Post("/publish", h.transition(h.svc.Publish))
			r.Post("/unpublish", h.transition(h.svc.Unpublish))
			r.Post("/transfer", h.transfer)
			r.Get("/coverage", h.coverage)
			r.Get("/aggregations", h.aggregations)
			r.Get("/contents", h.contentRange)
			r.Get("/template", h.importTemplate)
			r.Post("/import", h.startImport)
			r.Post("/export", h.startExport)
		})

		r.Get("/contents", h.listContents)
		r.Post("/contents", h.createContent)
		r.Get("/contents/{id}", h.getContent)
		r.Patch("/contents/{id}", h.updateContent)
		r.Delete("/contents/{id}", h.deleteContent)

		r.Get("/downloads/{key}", h.download)

		r.Get("/tasks", h.listTasks)
		r.Get("/tasks/{id}", h.getTask)
		r.Delete("/tasks/{id}", h.deleteTask)
		r.Post("/tasks/{id}/cancel", h.cancelTask)

		r.Post("/maintenance", h.startMaintenance)
		r.Post("/search", h.search)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v. Malformed bodies are validation
// errors.
func readJSON(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: request body: %v", types.ErrValidation, err)
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: request body exceeds %d bytes", types.ErrValidation, maxBodyBytes)
	}
	return body, nil
}

// intParam parses an optional integer query parameter.
func intParam(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: query parameter %s must be an integer", types.ErrValidation, name)
	}
	return &v, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, h.log, err)
}

// ok writes v, or the error when err is set.
func (h *Handler) ok(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, v)
}
