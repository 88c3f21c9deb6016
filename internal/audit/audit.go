// Package audit records lifecycle events of artifacts for operators. The
// trail is write-mostly and never read back to rebuild ledger state.
package audit

import (
	"context"
	"sync"
	"time"

	"docparse-tracker/internal/models"
)

// Event names written by the orchestrator.
const (
	EventRegistered       = "registered"
	EventSubmitted        = "submitted"
	EventSubmissionFailed = "submission_failed"
	EventTransition       = "transition"
	EventStaleUpdate      = "stale_update"
	EventDuplicate        = "duplicate_submission"
	EventOverride         = "override"
	EventRemoved          = "removed"
	EventExpired          = "expired"
)

// Trail stores and lists audit events.
type Trail interface {
	Append(ctx context.Context, e models.AuditLog) error
	History(ctx context.Context, artifactID string, limit int) ([]models.AuditLog, error)
}

// Memory keeps the most recent events per artifact in process memory.
type Memory struct {
	mu     sync.Mutex
	max    int
	events map[string][]models.AuditLog
	now    func() time.Time
}

// NewMemory keeps at most perArtifact events for each artifact.
func NewMemory(perArtifact int) *Memory {
	if perArtifact <= 0 {
		perArtifact = 100
	}
	return &Memory{max: perArtifact, events: make(map[string][]models.AuditLog), now: time.Now}
}

func (m *Memory) Append(_ context.Context, e models.AuditLog) error {
	if e.Recorded.IsZero() {
		e.Recorded = m.now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.events[e.ArtifactID], e)
	if len(list) > m.max {
		list = list[len(list)-m.max:]
	}
	m.events[e.ArtifactID] = list
	return nil
}

// History returns events newest first.
func (m *Memory) History(_ context.Context, artifactID string, limit int) ([]models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.events[artifactID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]models.AuditLog, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
