// Package ledger keeps artifacts and their processing tasks in memory and
// enforces the lifecycle invariants between them.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"docparse-tracker/internal/models"
)

const defaultFailureReason = "document parsing failed"

// Report is a status report already mapped onto the canonical lifecycle.
type Report struct {
	State   models.State
	Raw     string
	Payload map[string]any
	Reason  string
}

// Ledger is the process-lifetime store of artifacts and tasks. Both maps are
// guarded by one lock so that every operation sees a consistent pair.
type Ledger struct {
	mu        sync.RWMutex
	artifacts map[string]*models.Artifact
	tasks     map[string]*models.Task
	now       func() time.Time
	newID     func() string
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for createdAt/updatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator overrides artifact identifier generation.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.newID = gen
		}
	}
}

// New builds an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		artifacts: make(map[string]*models.Artifact),
		tasks:     make(map[string]*models.Task),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// RegisterArtifact inserts a new artifact in the registered state.
func (l *Ledger) RegisterArtifact(storageKey, publicURL, displayName string, size int64) models.Artifact {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	a := &models.Artifact{
		ID:          l.newID(),
		DisplayName: displayName,
		StorageKey:  storageKey,
		PublicURL:   publicURL,
		SizeBytes:   size,
		State:       models.StateRegistered,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	l.artifacts[a.ID] = a
	return snapshot(a)
}

// MarkSubmitting moves an artifact into the submitting state while a remote
// submission is in flight. Only registered and failed artifacts can be
// submitted; a completed result is kept and an artifact whose stored object
// was released has nothing left to submit.
func (l *Ledger) MarkSubmitting(artifactID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.artifacts[artifactID]
	if !ok {
		return fmt.Errorf("artifact %s: %w", artifactID, models.ErrNotFound)
	}
	if a.State != models.StateRegistered && a.State != models.StateFailed {
		return fmt.Errorf("artifact %s is %s: %w", artifactID, a.State, models.ErrInvalidRequest)
	}
	if a.StorageKey == "" {
		return fmt.Errorf("artifact %s has no stored object: %w", artifactID, models.ErrInvalidRequest)
	}
	a.State = models.StateSubmitting
	a.UpdatedAt = l.now()
	return nil
}

// LinkTask attaches a remote task to an artifact and moves both to processing.
// Result and failure fields from an earlier attempt are cleared.
func (l *Ledger) LinkTask(artifactID, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("link task: empty task id: %w", models.ErrInvalidRequest)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.artifacts[artifactID]
	if !ok {
		return fmt.Errorf("artifact %s: %w", artifactID, models.ErrNotFound)
	}
	// A task id reused for another artifact takes the link away from it.
	if prev, ok := l.tasks[taskID]; ok && prev.ArtifactID != artifactID {
		if other, ok := l.artifacts[prev.ArtifactID]; ok && linked(other, taskID) {
			other.TaskID = nil
		}
	}

	now := l.now()
	id := taskID
	a.TaskID = &id
	a.State = models.StateProcessing
	a.ResultLocation = nil
	a.ResultMetadata = nil
	a.FailureReason = nil
	a.UpdatedAt = now

	l.tasks[taskID] = &models.Task{
		ID:         taskID,
		ArtifactID: artifactID,
		State:      models.StateProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

// MarkSubmissionFailed records that the remote submission itself failed.
// Any previously linked task is orphaned.
func (l *Ledger) MarkSubmissionFailed(artifactID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.artifacts[artifactID]
	if !ok {
		return fmt.Errorf("artifact %s: %w", artifactID, models.ErrNotFound)
	}
	if reason == "" {
		reason = defaultFailureReason
	}
	a.State = models.StateFailed
	a.TaskID = nil
	a.ResultLocation = nil
	a.ResultMetadata = nil
	a.FailureReason = &reason
	a.UpdatedAt = l.now()
	return nil
}

// ReleaseStorage forgets the stored object of an artifact after it was
// deleted. The artifact stays queryable but can no longer be submitted.
func (l *Ledger) ReleaseStorage(artifactID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.artifacts[artifactID]
	if !ok {
		return fmt.Errorf("artifact %s: %w", artifactID, models.ErrNotFound)
	}
	a.StorageKey = ""
	a.PublicURL = ""
	a.UpdatedAt = l.now()
	return nil
}

// Transition applies a status report to a task and projects it onto the
// linked artifact. Terminal states absorb every later report; a rejected
// report only refreshes the task's raw status. The returned flag tells
// whether the report changed the lifecycle.
func (l *Ledger) Transition(taskID string, r Report) (models.Task, bool, error) {
	if !r.State.Valid() {
		return models.Task{}, false, fmt.Errorf("transition to %q: %w", r.State, models.ErrInvalidRequest)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tasks[taskID]
	if !ok {
		return models.Task{}, false, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	now := l.now()
	if r.Raw != "" {
		t.LastRawStatus = r.Raw
	}
	if !models.Advances(t.State, r.State) {
		t.UpdatedAt = now
		return *t, false, nil
	}

	t.State = r.State
	t.UpdatedAt = now
	if a, ok := l.artifacts[t.ArtifactID]; ok && linked(a, taskID) {
		project(a, r, now)
	}
	return *t, true, nil
}

// Override forces a task and its artifact into a state regardless of the
// convergence rule. It exists for manual correction; repeating the same
// override only moves updatedAt.
func (l *Ledger) Override(taskID string, r Report) (models.Task, error) {
	if !r.State.Valid() {
		return models.Task{}, fmt.Errorf("override to %q: %w", r.State, models.ErrInvalidRequest)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tasks[taskID]
	if !ok {
		return models.Task{}, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	now := l.now()
	t.State = r.State
	t.UpdatedAt = now
	if r.Raw != "" {
		t.LastRawStatus = r.Raw
	}
	if a, ok := l.artifacts[t.ArtifactID]; ok && linked(a, taskID) {
		project(a, r, now)
	}
	return *t, nil
}

// Get returns a snapshot of an artifact.
func (l *Ledger) Get(artifactID string) (models.Artifact, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.artifacts[artifactID]
	if !ok {
		return models.Artifact{}, false
	}
	return snapshot(a), true
}

// GetTask returns a snapshot of a task.
func (l *Ledger) GetTask(taskID string) (models.Task, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tasks[taskID]
	if !ok {
		return models.Task{}, false
	}
	return *t, true
}

// List pages through artifacts newest first, optionally filtered by state.
// The total is the size of the filtered set.
func (l *Ledger) List(state *models.State, limit, offset int) ([]models.Artifact, int) {
	l.mu.RLock()
	all := make([]models.Artifact, 0, len(l.artifacts))
	for _, a := range l.artifacts {
		if state != nil && a.State != *state {
			continue
		}
		all = append(all, snapshot(a))
	}
	l.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total || limit <= 0 {
		return []models.Artifact{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total
}

// Remove deletes an artifact together with every task that points at it.
func (l *Ledger) Remove(artifactID string) (models.Artifact, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.artifacts[artifactID]
	if !ok {
		return models.Artifact{}, false
	}
	out := snapshot(a)
	l.removeLocked(artifactID)
	return out, true
}

// Stats counts artifacts per state.
func (l *Ledger) Stats() models.Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var st models.Stats
	for _, a := range l.artifacts {
		st.Add(a.State)
	}
	return st
}

// Expire removes artifacts created before cutoff and returns them.
func (l *Ledger) Expire(cutoff time.Time) []models.Artifact {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Artifact
	for id, a := range l.artifacts {
		if a.CreatedAt.Before(cutoff) {
			out = append(out, snapshot(a))
			l.removeLocked(id)
		}
	}
	return out
}

// Stale returns linked tasks still processing whose last update is older than cutoff.
func (l *Ledger) Stale(cutoff time.Time) []models.Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.Task
	for _, t := range l.tasks {
		if t.State != models.StateProcessing || !t.UpdatedAt.Before(cutoff) {
			continue
		}
		if a, ok := l.artifacts[t.ArtifactID]; ok && linked(a, t.ID) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

func (l *Ledger) removeLocked(artifactID string) {
	for id, t := range l.tasks {
		if t.ArtifactID == artifactID {
			delete(l.tasks, id)
		}
	}
	delete(l.artifacts, artifactID)
}

func linked(a *models.Artifact, taskID string) bool {
	return a.TaskID != nil && *a.TaskID == taskID
}

// project copies a task's new state onto its artifact. Completed and failed
// are mutually exclusive, so entering one clears the other's fields.
func project(a *models.Artifact, r Report, now time.Time) {
	a.State = r.State
	a.UpdatedAt = now
	switch r.State {
	case models.StateCompleted:
		a.FailureReason = nil
		if loc := resultLocation(r.Payload); loc != "" {
			a.ResultLocation = &loc
		}
		a.ResultMetadata = cloneMap(r.Payload)
	case models.StateFailed:
		reason := r.Reason
		if reason == "" {
			reason = defaultFailureReason
		}
		a.FailureReason = &reason
		a.ResultLocation = nil
		a.ResultMetadata = nil
	}
}

func resultLocation(payload map[string]any) string {
	for _, k := range []string{"targetPath", "resultLocation", "location"} {
		if v, ok := payload[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
