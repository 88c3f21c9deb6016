package api

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"docparse-tracker/internal/models"
)

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if _, ok := s.orch.Ledger().GetTask(taskID); !ok {
		writeError(w, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound))
		return
	}

	synced := false
	if r.URL.Query().Get("sync") == "true" && s.poller != nil {
		if _, err := s.poller.Sync(r.Context(), taskID); err != nil {
			s.log.Warn().Err(err).Str("task_id", taskID).Msg("sync remote status")
		} else {
			synced = true
		}
	}

	t, ok := s.orch.Ledger().GetTask(taskID)
	if !ok {
		writeError(w, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound))
		return
	}
	data := map[string]any{
		"taskId":        t.ID,
		"status":        t.State,
		"lastRawStatus": t.LastRawStatus,
		"createTime":    t.CreatedAt,
		"updateTime":    t.UpdatedAt,
		"synced":        synced,
		"file":          nil,
	}
	if a, ok := s.orch.Ledger().Get(t.ArtifactID); ok {
		data["file"] = map[string]any{
			"id":          a.ID,
			"displayName": a.DisplayName,
			"storageKey":  a.StorageKey,
			"size":        a.SizeBytes,
			"uploadTime":  a.CreatedAt,
		}
	}
	writeOK(w, "", data)
}

func (s *Server) handleFileStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := s.orch.Ledger().Get(id)
	if !ok {
		writeError(w, fmt.Errorf("file %s: %w", id, models.ErrNotFound))
		return
	}
	writeOK(w, "", map[string]any{
		"fileId":       a.ID,
		"status":       a.State,
		"displayName":  a.DisplayName,
		"storageKey":   a.StorageKey,
		"size":         a.SizeBytes,
		"uploadTime":   a.CreatedAt,
		"updateTime":   a.UpdatedAt,
		"taskId":       a.TaskID,
		"targetPath":   a.ResultLocation,
		"parseResult":  a.ResultMetadata,
		"errorMessage": a.FailureReason,
	})
}

type batchRequest struct {
	FileIDs []string `json:"fileIds"`
	TaskIDs []string `json:"taskIds"`
}

type fileBrief struct {
	Status       models.State `json:"status"`
	UpdateTime   time.Time    `json:"updateTime"`
	TaskID       *string      `json:"taskId"`
	ErrorMessage *string      `json:"errorMessage"`
}

type taskBrief struct {
	Status     models.State `json:"status"`
	UpdateTime time.Time    `json:"updateTime"`
	FileID     string       `json:"fileId"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	files := make(map[string]fileBrief, len(req.FileIDs))
	for _, id := range req.FileIDs {
		if a, ok := s.orch.Ledger().Get(id); ok {
			files[id] = fileBrief{Status: a.State, UpdateTime: a.UpdatedAt, TaskID: a.TaskID, ErrorMessage: a.FailureReason}
		}
	}
	tasks := make(map[string]taskBrief, len(req.TaskIDs))
	for _, id := range req.TaskIDs {
		if t, ok := s.orch.Ledger().GetTask(id); ok {
			tasks[id] = taskBrief{Status: t.State, UpdateTime: t.UpdatedAt, FileID: t.ArtifactID}
		}
	}
	writeOK(w, "", map[string]any{"files": files, "tasks": tasks})
}

func (s *Server) handleSystemStats(w http.ResponseWriter, _ *http.Request) {
	uptime := s.now().Sub(s.started)
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeOK(w, "", map[string]any{
		"fileStats": s.orch.Ledger().Stats(),
		"system": map[string]any{
			"uptime":     uptime.Seconds(),
			"uptimeText": uptime.Truncate(time.Second).String(),
			"goroutines": runtime.NumGoroutine(),
			"heapAlloc":  mem.HeapAlloc,
			"timestamp":  s.now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{"ledger": "ok", "audit": "ok"}
	status := "healthy"
	if _, err := s.orch.Trail().History(r.Context(), "", 1); err != nil && !errors.Is(err, models.ErrNotFound) {
		services["audit"] = err.Error()
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"version":   Version,
		"services":  services,
		"stats":     s.orch.Ledger().Stats(),
	})
}
