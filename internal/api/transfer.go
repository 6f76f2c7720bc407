package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mesh-intelligence/folio/internal/service"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// ChecksumHeader carries the BLAKE3 checksum of a downloaded artifact.
const ChecksumHeader = "X-Checksum-Blake3"

func (h *Handler) importTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.svc.ImportTemplate(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": tpl.ResourceID + "_template.json",
	}))
	writeJSON(w, http.StatusOK, tpl)
}

// startImport takes the import document as the raw request body.
func (h *Handler) startImport(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(body) == 0 {
		h.fail(w, r, fmt.Errorf("%w: import document is empty", types.ErrValidation))
		return
	}
	task, err := h.svc.StartImport(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), body)
	h.ok(w, r, http.StatusAccepted, task, err)
}

func (h *Handler) startExport(w http.ResponseWriter, r *http.Request) {
	var req service.ExportRequest
	if err := readJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	task, err := h.svc.StartExport(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), req)
	h.ok(w, r, http.StatusAccepted, task, err)
}

// download streams an export artifact. The pickup key is the only
// credential; a second download of the same key is not found.
func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	art, body, err := h.svc.Download(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", art.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(art.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Filename}))
	w.Header().Set(ChecksumHeader, art.Checksum)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.log.Warn().Err(err).Str("resource_id", art.ResourceID).Msg("artifact download interrupted")
	}
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.TaskList(PrincipalFromContext(r.Context())))
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Task(PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	h.ok(w, r, http.StatusOK, task, err)
}

func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.svc.CancelTask(p, id); err != nil {
		h.fail(w, r, err)
		return
	}
	task, err := h.svc.Task(p, id)
	h.ok(w, r, http.StatusAccepted, task, err)
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTask(PrincipalFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startMaintenance(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.StartMaintenance(r.Context(), PrincipalFromContext(r.Context()))
	h.ok(w, r, http.StatusAccepted, task, err)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	var req service.SearchRequest
	if err := readJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	hits, err := h.svc.Search(r.Context(), PrincipalFromContext(r.Context()), req)
	h.ok(w, r, http.StatusOK, hits, err)
}
