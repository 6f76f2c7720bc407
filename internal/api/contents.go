package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mesh-intelligence/folio/internal/service"
)

func (h *Handler) listContents(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	query := service.ContentQuery{
		ResourceIDs: q["resourceId"],
		LocationIDs: q["locationId"],
	}
	if limit != nil {
		query.Limit = *limit
	}
	cs, err := h.svc.FindContents(r.Context(), PrincipalFromContext(r.Context()), query)
	h.ok(w, r, http.StatusOK, cs, err)
}

func (h *Handler) createContent(w http.ResponseWriter, r *http.Request) {
	var doc map[string]any
	if err := readJSON(r, &doc); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.svc.CreateContent(r.Context(), PrincipalFromContext(r.Context()), doc)
	h.ok(w, r, http.StatusCreated, c, err)
}

func (h *Handler) getContent(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetContent(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	h.ok(w, r, http.StatusOK, c, err)
}

func (h *Handler) updateContent(w http.ResponseWriter, r *http.Request) {
	var doc map[string]any
	if err := readJSON(r, &doc); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.svc.UpdateContent(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), doc)
	h.ok(w, r, http.StatusOK, c, err)
}

func (h *Handler) deleteContent(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteContent(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// contentRange lists a resource's contents between two location positions.
func (h *Handler) contentRange(w http.ResponseWriter, r *http.Request) {
	from, err := intParam(r, "from")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := intParam(r, "to")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cs, err := h.svc.ContentRange(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), from, to)
	h.ok(w, r, http.StatusOK, cs, err)
}
