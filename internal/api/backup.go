package api

import (
	"io"
	"net/http"

	"github.com/nerrad567/gray-logic-runtime/internal/logicstore"
)

// maxBackupSize bounds an uploaded backup document (16 MB).
const maxBackupSize = 16 << 20

// handleExportBackup streams the single self-contained backup
// document: addresses, logic config, remanent state and custom block
// definition files.
func (s *Server) handleExportBackup(w http.ResponseWriter, _ *http.Request) {
	backup, err := s.scheduler.ExportBackup()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	data, err := backup.Encode()
	if err != nil {
		writeError(w, http.StatusInternalServerError, KindIOFailure, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="graylogic-backup.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data) //nolint:errcheck // response already committed
}

// handleImportBackup replaces the whole configuration from a backup
// document.
func (s *Server) handleImportBackup(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBackupSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "reading body: "+err.Error())
		return
	}

	backup, err := logicstore.ParseBackup(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, err.Error())
		return
	}
	if err := s.scheduler.ImportBackup(backup); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "imported",
		"addresses": len(backup.Addresses),
		"blocks":    len(backup.Logic.Blocks),
	})
}
