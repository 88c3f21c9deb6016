package api

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"

	"docparse-tracker/internal/signature"
)

type signatureRequest struct {
	MeetingID any            `json:"meetingId"`
	RecordID  any            `json:"recordId"`
	AppID     string         `json:"appId"`
	Other     map[string]any `json:"other"`
}

func (s *Server) handleMeetingSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.MeetingID == nil || req.Other == nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "meetingId and other are required"})
		return
	}
	params := req.Other
	params["meetingId"] = req.MeetingID
	setDefault(params, "appId", s.cfg.AppID)
	setDefault(params, "mediaType", "video")
	setDefault(params, "loginName", randomUserName())
	setDefault(params, "userName", randomUserName())
	setDefault(params, "meetingType", "public")
	setDefault(params, "d_dimension", "1280x720")
	s.issue(w, params)
}

func (s *Server) handlePlaySignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RecordID == nil || req.AppID == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "recordId and appId are required"})
		return
	}
	params := req.Other
	if params == nil {
		params = map[string]any{}
	}
	params["appId"] = req.AppID
	params["recordId"] = req.RecordID
	s.issue(w, params)
}

func (s *Server) issue(w http.ResponseWriter, params map[string]any) {
	signed, err := s.creds.Issue(params, s.now(), s.cfg.SignatureValidity)
	if err != nil {
		writeError(w, fmt.Errorf("issue signature: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"query":   encodeQuery(signed),
		"data":    signed,
	})
}

func setDefault(params map[string]any, key string, def any) {
	if v, ok := params[key]; !ok || v == nil || v == "" {
		params[key] = def
	}
}

func randomUserName() string {
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// encodeQuery renders signed params as a query string with the signature last.
func encodeQuery(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == nil || k == signature.FieldSignature {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if _, ok := params[signature.FieldSignature]; ok {
		keys = append(keys, signature.FieldSignature)
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, escape(k)+"="+escape(signature.FormatValue(params[k])))
	}
	return strings.Join(parts, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
