package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-runtime/internal/binding"
	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// instanceIDParam extracts and unescapes the {id} URL parameter.
func instanceIDParam(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// handleListTypes returns all available block types.
func (s *Server) handleListTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"types": s.registry.ListTypes()})
}

// handleReloadTypes re-scans the custom-blocks directory.
func (s *Server) handleReloadTypes(w http.ResponseWriter, _ *http.Request) {
	n, err := s.scheduler.ReloadCustomBlocks()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded": n})
}

func (s *Server) handleListBlocks(w http.ResponseWriter, _ *http.Request) {
	views, err := s.scheduler.ListInstances()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": views})
}

// createBlockRequest is the body of a block instantiation.
type createBlockRequest struct {
	BlockType string `json:"block_type"`
	Name      string `json:"name"`
	PageID    string `json:"page_id"`
}

func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req createBlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BlockType == "" {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "block_type is required")
		return
	}
	view, err := s.scheduler.Instantiate(req.BlockType, req.Name, req.PageID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	view, err := s.scheduler.GetInstance(instanceIDParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// updateBlockRequest patches instance metadata.
type updateBlockRequest struct {
	Name   *string `json:"name"`
	PageID *string `json:"page_id"`
}

func (s *Server) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	var req updateBlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	view, err := s.scheduler.UpdateInstance(instanceIDParam(r), req.Name, req.PageID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.DeleteInstance(instanceIDParam(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// bindRequest binds one port. Direction is "input" or "output"; the
// address accepts external keys, IKO keys and the BLOCK: shorthand
// (inputs only). auto_create ensures a missing address.
type bindRequest struct {
	Port       string `json:"port"`
	Direction  string `json:"direction"`
	Address    string `json:"address"`
	AutoCreate bool   `json:"auto_create"`
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if !decodeBody(w, r, &req) {
		return
	}
	dir := binding.Direction(req.Direction)
	if dir != binding.DirectionInput && dir != binding.DirectionOutput {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, `direction must be "input" or "output"`)
		return
	}
	if req.Port == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "port and address are required")
		return
	}

	b, err := s.scheduler.Bind(instanceIDParam(r), req.Port, dir, req.Address, req.AutoCreate)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// unbindRequest removes one port's binding.
type unbindRequest struct {
	Port string `json:"port"`
}

func (s *Server) handleUnbind(w http.ResponseWriter, r *http.Request) {
	var req unbindRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.scheduler.Unbind(instanceIDParam(r), req.Port); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unbound"})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Trigger(instanceIDParam(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

// setInputRequest is a synthetic input write: the port receives the
// value without any address being touched.
type setInputRequest struct {
	Port  string    `json:"port"`
	Value bus.Value `json:"value"`
}

func (s *Server) handleSetInput(w http.ResponseWriter, r *http.Request) {
	var req setInputRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.scheduler.SetInput(instanceIDParam(r), req.Port, req.Value); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "set"})
}

// enableRequest toggles an instance.
type enableRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	var req enableRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.scheduler.SetEnabled(instanceIDParam(r), req.Enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleDebugRing(w http.ResponseWriter, r *http.Request) {
	entries, err := s.scheduler.DebugRing(instanceIDParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"debug": entries})
}
