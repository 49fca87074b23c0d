package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-runtime/internal/binding"
	"github.com/nerrad567/gray-logic-runtime/internal/block"
	"github.com/nerrad567/gray-logic-runtime/internal/bus"
	"github.com/nerrad567/gray-logic-runtime/internal/runtime"
)

// Error kinds surfaced to API clients.
const (
	KindNotFound        = "not-found"
	KindConflict        = "conflict"
	KindInUse           = "in-use"
	KindTypeCoercion    = "type-coercion"
	KindAlreadyBound    = "already-bound"
	KindAmbiguousOutput = "ambiguous-output"
	KindUnknownType     = "unknown-type"
	KindUnknownPort     = "unknown-port"
	KindInvalidRequest  = "invalid-request"
	KindIOFailure       = "io-failure"
	KindInternal        = "internal"
)

// apiError is the structured error body.
type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeError renders a structured error response.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]apiError{ //nolint:errcheck // response already committed
		"error": {Kind: kind, Message: message},
	})
}

// writeDomainError maps domain sentinels onto error kinds and HTTP
// status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bus.ErrNotFound),
		errors.Is(err, runtime.ErrUnknownInstance),
		errors.Is(err, binding.ErrUnknownInstance),
		errors.Is(err, binding.ErrNotBound),
		errors.Is(err, runtime.ErrPageNotFound):
		writeError(w, http.StatusNotFound, KindNotFound, err.Error())
	case errors.Is(err, bus.ErrConflict), errors.Is(err, runtime.ErrPageExists):
		writeError(w, http.StatusConflict, KindConflict, err.Error())
	case errors.Is(err, bus.ErrInUse):
		writeError(w, http.StatusConflict, KindInUse, err.Error())
	case errors.Is(err, bus.ErrTypeCoercion):
		writeError(w, http.StatusUnprocessableEntity, KindTypeCoercion, err.Error())
	case errors.Is(err, binding.ErrAlreadyBound):
		writeError(w, http.StatusConflict, KindAlreadyBound, err.Error())
	case errors.Is(err, binding.ErrAmbiguousOutput):
		writeError(w, http.StatusConflict, KindAmbiguousOutput, err.Error())
	case errors.Is(err, block.ErrUnknownType), errors.Is(err, runtime.ErrUnloadable):
		writeError(w, http.StatusUnprocessableEntity, KindUnknownType, err.Error())
	case errors.Is(err, binding.ErrUnknownPort), errors.Is(err, block.ErrUnknownPort):
		writeError(w, http.StatusBadRequest, KindUnknownPort, err.Error())
	case errors.Is(err, bus.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, KindInvalidRequest, err.Error())
	case errors.Is(err, runtime.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, KindInternal, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, KindInternal, err.Error())
	}
}

// writeJSON renders a success response.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // response already committed
}

// decodeBody parses a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
