// Package status maps the parsing vendor's status vocabulary onto the
// canonical lifecycle.
package status

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"docparse-tracker/internal/models"
)

// Vendor numeric status codes.
const (
	CodeWait      = 0
	CodePending   = 1
	CodeRunning   = 2
	CodeJobSucc   = 3
	CodeJobFailed = 4
	CodeDone      = 100
	CodeFailed    = 101
	CodeRepeat    = 1011

	// notACode stands in for numbers that cannot be a vendor code.
	notACode = math.MinInt64
)

var (
	completedWords  = set("JOBSUCC", "SUCCESS", "COMPLETED", "DONE", "FINISHED", "REPEAT")
	failedWords     = set("JOBFAILED", "FAILED", "ERROR")
	processingWords = set("PROCESSING", "RUNNING", "WAIT", "WAITING", "PARSING", "PENDING")
)

// Normalize maps raw onto processing, completed or failed. Anything that is
// not explicit success or failure vocabulary stays processing.
func Normalize(raw any) models.State {
	if raw == nil {
		return models.StateProcessing
	}
	if n, ok := numeric(raw); ok {
		switch n {
		case CodeJobSucc, CodeDone, CodeRepeat:
			return models.StateCompleted
		case CodeJobFailed, CodeFailed:
			return models.StateFailed
		default:
			return models.StateProcessing
		}
	}
	word := strings.ToUpper(strings.TrimSpace(text(raw)))
	switch {
	case completedWords[word]:
		return models.StateCompleted
	case failedWords[word]:
		return models.StateFailed
	case processingWords[word]:
		return models.StateProcessing
	}
	return models.StateProcessing
}

// IsDuplicate reports whether raw is the vendor's duplicate-submission
// outcome. It normalizes to completed but operators audit it separately.
func IsDuplicate(raw any) bool {
	if n, ok := numeric(raw); ok {
		return n == CodeRepeat
	}
	return strings.EqualFold(strings.TrimSpace(text(raw)), "REPEAT")
}

// Label renders raw for logs and the task's lastRawStatus field.
func Label(raw any) string {
	if raw == nil {
		return ""
	}
	if n, ok := numeric(raw); ok && n != notACode {
		return strconv.FormatInt(n, 10)
	}
	return text(raw)
}

// numeric reports raw as an integer when it is a number or a string that
// parses as one. Non-integral numbers never match a vendor code.
func numeric(raw any) (int64, bool) {
	var f float64
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case float64:
		f = v
	case float32:
		f = float64(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return notACode, true
	}
	return int64(f), true
}

func text(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(b)
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
