package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"docparse-tracker/internal/models"
	"docparse-tracker/internal/orchestrator"
	"docparse-tracker/internal/signature"
	"docparse-tracker/internal/status"
)

// Field aliases accepted from the parsing service, in priority order.
var (
	taskIDFields = []string{"taskId", "id", "task_id", "taskID"}
	statusFields = []string{"status", "taskStatus", "state"}
	resultFields = []string{"result", "data"}
	errorFields  = []string{"error", "msg", "message"}
)

// parseCallback maps a vendor callback body onto an Update and the sender's
// claimed identity.
func parseCallback(body map[string]any, header http.Header) (models.Update, *orchestrator.CallbackAuth) {
	u := models.Update{
		TaskID:    firstString(body, taskIDFields...),
		RawStatus: firstPresent(body, statusFields...),
		Error:     firstString(body, errorFields...),
	}
	if res, ok := firstPresent(body, resultFields...).(map[string]any); ok {
		u.Payload = res
	}

	if u.Payload == nil && status.Normalize(u.RawStatus).Terminal() {
		u.Payload = map[string]any{"rawCallback": body}
	}

	id := firstString(body, "appId")
	if id == "" {
		id = header.Get("X-App-Id")
	}
	if id == "" {
		return u, nil
	}
	return u, &orchestrator.CallbackAuth{CredentialID: id, Params: signedFields(body)}
}

// signedFields keeps the scalar top-level fields of a callback. Nested
// objects and arrays have no canonical rendering and are never signed.
func signedFields(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		out[k] = v
	}
	return out
}

func firstPresent(body map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := body[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(body map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := body[k]
		if !ok || v == nil {
			continue
		}
		if _, nested := v.(map[string]any); nested {
			continue
		}
		if s := strings.TrimSpace(signature.FormatValue(v)); s != "" {
			return s
		}
	}
	return ""
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	update, auth := parseCallback(body, r.Header)
	if update.TaskID == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "taskId is required"})
		return
	}

	out, err := s.orch.ApplyUpdate(r.Context(), update, auth)
	if err != nil {
		writeError(w, err)
		return
	}
	if out.Ignored {
		writeOK(w, "callback ignored", map[string]any{"taskId": update.TaskID, "ignored": true})
		return
	}
	writeOK(w, "callback processed", map[string]any{
		"taskId":  update.TaskID,
		"status":  out.State,
		"applied": out.Applied,
	})
}

type manualRequest struct {
	Status any    `json:"status"`
	Result any    `json:"result"`
	Error  string `json:"error"`
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	var req manualRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Status == nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "status is required"})
		return
	}
	payload, ok := req.Result.(map[string]any)
	if !ok && req.Result != nil {
		payload = map[string]any{"parseResult": req.Result}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["manualUpdate"] = true

	task, err := s.orch.Override(r.Context(), taskID, req.Status, payload, req.Error)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "status updated", map[string]any{"taskId": task.ID, "newStatus": task.State})
}

func (s *Server) handleCallbackEcho(w http.ResponseWriter, r *http.Request) {
	var body any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	s.log.Info().Interface("body", body).Str("query", r.URL.RawQuery).Msg("test callback received")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "test callback received",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"data":      body,
	})
}
