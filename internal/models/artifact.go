package models

import (
	"time"
)

// Artifact is a registered source document tracked through its processing lifecycle.
type Artifact struct {
	ID             string         `json:"id"`
	DisplayName    string         `json:"displayName"`
	StorageKey     string         `json:"storageKey"`
	PublicURL      string         `json:"url,omitempty"`
	SizeBytes      int64          `json:"size"`
	State          State          `json:"status"`
	TaskID         *string        `json:"taskId"`
	ResultLocation *string        `json:"targetPath"`
	ResultMetadata map[string]any `json:"result,omitempty"`
	FailureReason  *string        `json:"errorMessage"`
	CreatedAt      time.Time      `json:"uploadTime"`
	UpdatedAt      time.Time      `json:"updateTime"`
}

// Task is the remote unit of work for one processing attempt of an artifact.
type Task struct {
	ID            string    `json:"taskId"`
	ArtifactID    string    `json:"fileId"`
	State         State     `json:"status"`
	LastRawStatus string    `json:"lastRawStatus,omitempty"`
	CreatedAt     time.Time `json:"createTime"`
	UpdatedAt     time.Time `json:"updateTime"`
}

// Update is the canonical shape of a status report, whether it arrived by
// callback or by poll.
type Update struct {
	TaskID    string
	RawStatus any
	Payload   map[string]any
	Error     string
}

// Stats counts artifacts per lifecycle state.
type Stats struct {
	Total      int `json:"total"`
	Registered int `json:"registered"`
	Submitting int `json:"submitting"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Add counts one artifact in state s.
func (st *Stats) Add(s State) {
	st.Total++
	switch s {
	case StateRegistered:
		st.Registered++
	case StateSubmitting:
		st.Submitting++
	case StateProcessing:
		st.Processing++
	case StateCompleted:
		st.Completed++
	case StateFailed:
		st.Failed++
	}
}

// Credential is a registered client identity used for request signing.
type Credential struct {
	ID     string
	Secret string
}

// String keeps secrets out of log lines.
func (c Credential) String() string {
	return "credential(" + c.ID + ")"
}

// AuditLog is one recorded lifecycle event.
type AuditLog struct {
	ArtifactID string    `json:"fileId"`
	TaskID     string    `json:"taskId,omitempty"`
	Event      string    `json:"event"`
	Detail     string    `json:"detail"`
	Recorded   time.Time `json:"recordedAt"`
}
