package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// addressKeyParam extracts and unescapes the {key} URL parameter.
// Group addresses contain "/" and arrive URL-encoded.
func addressKeyParam(r *http.Request) string {
	raw := chi.URLParam(r, "key")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// handleListAddresses returns all addresses, optionally filtered.
//
// Query parameters: internal=true|false, group=<label>, prefix=<key prefix>.
func (s *Server) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	filter := bus.Filter{
		GroupLabel: r.URL.Query().Get("group"),
		KeyPrefix:  r.URL.Query().Get("prefix"),
	}
	if v := r.URL.Query().Get("internal"); v != "" {
		internal := v == "true" || v == "1"
		filter.Internal = &internal
	}
	writeJSON(w, http.StatusOK, map[string]any{"addresses": s.bus.List(filter)})
}

func (s *Server) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := s.bus.Get(addressKeyParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

func (s *Server) handleCreateAddress(w http.ResponseWriter, r *http.Request) {
	var desc bus.Descriptor
	if !decodeBody(w, r, &desc) {
		return
	}
	addr, err := s.scheduler.CreateAddress(desc)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addr)
}

func (s *Server) handleUpdateAddress(w http.ResponseWriter, r *http.Request) {
	var patch bus.Patch
	if !decodeBody(w, r, &patch) {
		return
	}
	addr, err := s.scheduler.UpdateAddress(addressKeyParam(r), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

// handleDeleteAddress deletes an address. A bound address fails with
// in-use unless force=true, which removes its bindings first.
func (s *Server) handleDeleteAddress(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	if err := s.scheduler.DeleteAddress(addressKeyParam(r), force); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// writeRequest is the body of a commanded value write.
type writeRequest struct {
	Value bus.Value `json:"value"`
}

// handleWriteAddress performs a commanded write with origin "api".
func (s *Server) handleWriteAddress(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tel, err := s.scheduler.WriteAddress(addressKeyParam(r), req.Value, bus.OriginAPI)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"telegram": tel})
}

// handleRecentTelegrams returns the tail of the telegram ring.
func (s *Server) handleRecentTelegrams(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, KindInvalidRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"telegrams": s.broadcaster.Recent(limit)})
}
