package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mesh-intelligence/folio/internal/service"
	"github.com/mesh-intelligence/folio/pkg/types"
)

func (h *Handler) listTexts(w http.ResponseWriter, r *http.Request) {
	texts, err := h.svc.Texts(r.Context())
	h.ok(w, r, http.StatusOK, texts, err)
}

func (h *Handler) createText(w http.ResponseWriter, r *http.Request) {
	var in service.TextInput
	if err := readJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	text, err := h.svc.CreateText(r.Context(), PrincipalFromContext(r.Context()), in)
	h.ok(w, r, http.StatusCreated, text, err)
}

func (h *Handler) getText(w http.ResponseWriter, r *http.Request) {
	text, err := h.svc.Text(r.Context(), chi.URLParam(r, "id"))
	h.ok(w, r, http.StatusOK, text, err)
}

// locationView is a location with its full label.
type locationView struct {
	*types.Location
	FullLabel string `json:"fullLabel"`
}

func (h *Handler) textLocations(w http.ResponseWriter, r *http.Request) {
	level, err := intParam(r, "level")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if level == nil {
		h.fail(w, r, fmt.Errorf("%w: query parameter level is required", types.ErrValidation))
		return
	}
	locs, labels, err := h.svc.Locations(r.Context(), chi.URLParam(r, "id"), *level)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]locationView, len(locs))
	for i, l := range locs {
		out[i] = locationView{Location: l, FullLabel: labels[l.ID]}
	}
	writeJSON(w, http.StatusOK, out)
}
