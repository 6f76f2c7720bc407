package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/folio/pkg/types"
)

// Codes used by the HTTP layer itself. Service failures use the stable
// kind names from types.KindOf.
const (
	CodeUnauthorized = "unauthorized"
	CodeBadRequest   = "bad_request"
	CodeCanceled     = "canceled"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes {"error":{"code","message"}} with the given status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}

var kindStatus = map[types.Kind]int{
	types.KindNotFound:          http.StatusNotFound,
	types.KindForbidden:         http.StatusForbidden,
	types.KindConflict:          http.StatusConflict,
	types.KindInvalidState:      http.StatusConflict,
	types.KindValidation:        http.StatusBadRequest,
	types.KindMismatch:          http.StatusBadRequest,
	types.KindUnsupportedFormat: http.StatusBadRequest,
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind types.Kind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// writeServiceError reports err by kind. Internal errors are logged and
// answered with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		WriteError(w, 499, CodeCanceled, "request canceled")
		return
	}
	kind := types.KindOf(err)
	status := StatusOf(kind)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		WriteError(w, status, string(kind), "internal error")
		return
	}
	WriteError(w, status, string(kind), err.Error())
}
