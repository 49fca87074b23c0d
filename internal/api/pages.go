package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-runtime/internal/logicstore"
	"github.com/nerrad567/gray-logic-runtime/internal/runtime"
)

func (s *Server) handleListPages(w http.ResponseWriter, _ *http.Request) {
	pages, err := s.scheduler.ListPages()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var page runtime.Page
	if !decodeBody(w, r, &page) {
		return
	}
	if page.Name == "" {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "name is required")
		return
	}
	created, err := s.scheduler.CreatePage(page)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// updatePageRequest patches a page.
type updatePageRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (s *Server) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	var req updatePageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	page, err := s.scheduler.UpdatePage(chi.URLParam(r, "id"), req.Name, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleDeletePage removes a page and every block on it.
func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.DeletePage(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, _ *http.Request) {
	positions, err := s.scheduler.Positions()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// handleSetPositions merges advisory editor positions.
func (s *Server) handleSetPositions(w http.ResponseWriter, r *http.Request) {
	var positions map[string]logicstore.Position
	if !decodeBody(w, r, &positions) {
		return
	}
	if err := s.scheduler.SetPositions(positions); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
