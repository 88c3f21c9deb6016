package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"docparse-tracker/internal/models"
)

const multipartMemory = 32 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, err)
			return
		}
		writeError(w, fmt.Errorf("parse multipart form: %w", models.ErrInvalidRequest))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "file is required"})
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, fmt.Errorf("read upload: %w", err))
		return
	}
	if int64(len(body)) > limit {
		writeJSON(w, http.StatusRequestEntityTooLarge, envelope{Success: false, Error: fmt.Sprintf("file exceeds %d bytes", limit)})
		return
	}

	a, err := s.orch.Ingest(r.Context(), body, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		if a.ID == "" {
			writeError(w, err)
			return
		}
		writeErrorData(w, err, uploadView(a))
		return
	}
	writeOK(w, "file uploaded, parsing in progress", uploadView(a))
}

func uploadView(a models.Artifact) map[string]any {
	view := map[string]any{
		"fileId":   a.ID,
		"fileName": a.DisplayName,
		"status":   a.State,
	}
	if a.TaskID != nil {
		view["taskId"] = *a.TaskID
	}
	if a.FailureReason != nil {
		view["errorMessage"] = *a.FailureReason
	}
	return view
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter *models.State
	if raw := strings.ToLower(q.Get("status")); raw != "" {
		st, ok := models.ParseState(raw)
		if raw == "parsing" {
			st, ok = models.StateProcessing, true
		}
		if !ok {
			writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "unknown status " + raw})
			return
		}
		filter = &st
	}
	limit, err := queryInt(q.Get("limit"), 20)
	if err != nil || limit < 0 {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid limit"})
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid offset"})
		return
	}

	files, total := s.orch.Ledger().List(filter, limit, offset)
	if files == nil {
		files = []models.Artifact{}
	}
	writeOK(w, "", map[string]any{
		"files":  files,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleFileStats(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, "", s.orch.Ledger().Stats())
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := s.orch.Ledger().Get(id)
	if !ok {
		writeError(w, fmt.Errorf("file %s: %w", id, models.ErrNotFound))
		return
	}
	writeOK(w, "", a)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	a, err := s.orch.Remove(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "file deleted", a)
}

func (s *Server) handleParsedURL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	url, err := s.orch.ResultURL(r.Context(), id, r.URL.Query().Get("suffix"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "", map[string]any{
		"fileId":    id,
		"url":       url,
		"expiresIn": int64(s.cfg.SignedURLTTL.Seconds()),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, err := queryInt(r.URL.Query().Get("limit"), 100)
	if err != nil || limit < 0 {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid limit"})
		return
	}
	events, err := s.orch.Trail().History(r.Context(), id, limit)
	if err != nil {
		writeError(w, fmt.Errorf("read history: %w", err))
		return
	}
	if events == nil {
		events = []models.AuditLog{}
	}
	writeOK(w, "", map[string]any{"fileId": id, "events": events})
}
