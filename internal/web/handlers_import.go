package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/formatrack/importd/internal/importer"
	"github.com/formatrack/importd/internal/rowsource"
)

// handlePreview accepts a multipart spreadsheet upload, diffs it against the
// entity graph and opens a preview session.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Preview.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	rows, err := rowsource.FromFile(header.Filename, file)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	preview, err := s.service.GeneratePreview(r.Context(), header.Filename, rows)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

type resolveRequest struct {
	PreviewID   string                `json:"previewId"`
	Resolutions []importer.Resolution `json:"resolutions"`
}

type resolveResponse struct {
	Success            bool                    `json:"success"`
	RemainingConflicts []importer.ConflictItem `json:"remainingConflicts"`
	CanImport          bool                    `json:"canImport"`
}

// handleResolve merges operator decisions into an open session.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PreviewID == "" {
		writeError(w, http.StatusBadRequest, "missing previewId")
		return
	}

	outcome, err := s.service.SubmitResolutions(r.Context(), req.PreviewID, req.Resolutions)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		Success:            true,
		RemainingConflicts: outcome.RemainingConflicts,
		CanImport:          outcome.CanImport,
	})
}

type confirmRequest struct {
	PreviewID string `json:"previewId"`
}

type confirmStats struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

type confirmResponse struct {
	Success          bool                  `json:"success"`
	Stats            confirmStats          `json:"stats"`
	Failures         []importer.RowFailure `json:"failures,omitempty"`
	ProcessingTimeMs int64                 `json:"processingTimeMs"`
}

// handleConfirm executes the import for a fully-resolved session.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PreviewID == "" {
		writeError(w, http.StatusBadRequest, "missing previewId")
		return
	}

	result, err := s.service.Confirm(r.Context(), req.PreviewID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{
		Success: true,
		Stats: confirmStats{
			Total:   result.Total,
			Created: result.Created,
			Updated: result.Updated,
			Failed:  result.Failed,
		},
		Failures:         result.Failures,
		ProcessingTimeMs: result.ProcessingTimeMs,
	})
}

// handleGetPreview returns the current state of a session.
func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	previewID := chi.URLParam(r, "previewID")
	session, err := s.service.GetPreview(previewID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleCancelPreview cancels an open session.
func (s *Server) handleCancelPreview(w http.ResponseWriter, r *http.Request) {
	previewID := chi.URLParam(r, "previewID")
	if err := s.service.CancelPreview(previewID); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleHistory lists recent confirm attempts, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = v
	}

	entries, err := s.service.History(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []importer.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
