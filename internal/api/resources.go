package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mesh-intelligence/folio/internal/service"
	"github.com/mesh-intelligence/folio/pkg/types"
)

func (h *Handler) resourceTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ResourceTypes())
}

func (h *Handler) listResources(w http.ResponseWriter, r *http.Request) {
	level, err := intParam(r, "level")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	query := service.ResourceQuery{
		TextID:       q.Get("textId"),
		Level:        level,
		ResourceType: q.Get("resourceType"),
		OwnerID:      q.Get("ownerId"),
	}
	if limit != nil {
		query.Limit = *limit
	}
	rs, err := h.svc.FindResources(r.Context(), PrincipalFromContext(r.Context()), query)
	h.ok(w, r, http.StatusOK, rs, err)
}

func (h *Handler) createResource(w http.ResponseWriter, r *http.Request) {
	var doc map[string]any
	if err := readJSON(r, &doc); err != nil {
		h.fail(w, r, err)
		return
	}
	rr, err := h.svc.CreateResource(r.Context(), PrincipalFromContext(r.Context()), doc)
	h.ok(w, r, http.StatusCreated, rr, err)
}

func (h *Handler) getResource(w http.ResponseWriter, r *http.Request) {
	rr, err := h.svc.GetResource(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	h.ok(w, r, http.StatusOK, rr, err)
}

func (h *Handler) updateResource(w http.ResponseWriter, r *http.Request) {
	var doc map[string]any
	if err := readJSON(r, &doc); err != nil {
		h.fail(w, r, err)
		return
	}
	rr, err := h.svc.UpdateResource(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), doc)
	h.ok(w, r, http.StatusOK, rr, err)
}

func (h *Handler) deleteResource(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteResource(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sharesRequest struct {
	SharedRead  []string `json:"sharedRead"`
	SharedWrite []string `json:"sharedWrite"`
}

func (h *Handler) setShares(w http.ResponseWriter, r *http.Request) {
	var req sharesRequest
	if err := readJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rr, err := h.svc.SetShares(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), req.SharedRead, req.SharedWrite)
	h.ok(w, r, http.StatusOK, rr, err)
}

func (h *Handler) createVersion(w http.ResponseWriter, r *http.Request) {
	rr, err := h.svc.CreateVersion(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	h.ok(w, r, http.StatusCreated, rr, err)
}

type transitionFunc func(ctx context.Context, p types.Principal, id string) (*service.ResourceRead, error)

func (h *Handler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rr, err := fn(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
		h.ok(w, r, http.StatusOK, rr, err)
	}
}

type transferRequest struct {
	UserID string `json:"userId"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := readJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rr, err := h.svc.Transfer(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), req.UserID)
	h.ok(w, r, http.StatusOK, rr, err)
}

func (h *Handler) coverage(w http.ResponseWriter, r *http.Request) {
	cov, err := h.svc.Coverage(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	h.ok(w, r, http.StatusOK, cov, err)
}

func (h *Handler) aggregations(w http.ResponseWriter, r *http.Request) {
	agg, err := h.svc.Aggregations(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	h.ok(w, r, http.StatusOK, agg, err)
}
