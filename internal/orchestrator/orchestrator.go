// Package orchestrator sequences artifact registration, remote submission and
// status convergence on top of the ledger.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docparse-tracker/internal/audit"
	"docparse-tracker/internal/config"
	"docparse-tracker/internal/docparse"
	"docparse-tracker/internal/ledger"
	"docparse-tracker/internal/models"
	"docparse-tracker/internal/objectstore"
	"docparse-tracker/internal/signature"
	"docparse-tracker/internal/status"
	"docparse-tracker/internal/telemetry"
)

const (
	channelCallback = "callback"
	channelPoll     = "poll"
	channelManual   = "manual"
)

// ParseTransport is the parsing service as seen by the orchestrator.
type ParseTransport interface {
	Parse(ctx context.Context, params map[string]any) (docparse.ParseResult, error)
	Status(ctx context.Context, params map[string]any) (docparse.StatusResult, error)
}

// Options are the tunables of the orchestration protocol.
type Options struct {
	AppID               string
	Bucket              string
	SourceScheme        string
	StoragePrefix       string
	CallbackURL         string
	RequireCallbackAuth bool
	ParseTimeout        time.Duration
	StatusTimeout       time.Duration
	ParseValidTime      time.Duration
	StatusValidTime     time.Duration
	SignedURLTTL        time.Duration
}

// OptionsFromConfig derives Options from the service configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		AppID:               cfg.AppID,
		Bucket:              cfg.Bucket(),
		SourceScheme:        cfg.SourceScheme,
		StoragePrefix:       cfg.StoragePrefix,
		CallbackURL:         cfg.CallbackURL(),
		RequireCallbackAuth: cfg.CallbackRequireAuth,
		ParseTimeout:        cfg.ParseTimeout,
		StatusTimeout:       cfg.StatusTimeout,
		ParseValidTime:      cfg.ParseValidTime,
		StatusValidTime:     cfg.StatusValidTime,
		SignedURLTTL:        cfg.SignedURLTTL,
	}
}

// Deps are the collaborators an Orchestrator is built from.
type Deps struct {
	Ledger      *ledger.Ledger
	Credentials *signature.Registry
	Store       objectstore.Store
	Transport   ParseTransport
	Trail       audit.Trail
	Logger      zerolog.Logger
}

// Orchestrator drives an artifact from upload to a terminal state.
type Orchestrator struct {
	ledger    *ledger.Ledger
	creds     *signature.Registry
	store     objectstore.Store
	transport ParseTransport
	trail     audit.Trail
	log       zerolog.Logger
	opts      Options
	now       func() time.Time
}

// New wires an orchestrator. A nil trail keeps events in memory.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.SourceScheme == "" {
		opts.SourceScheme = "oss"
	}
	if opts.ParseTimeout <= 0 {
		opts.ParseTimeout = 30 * time.Second
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = 10 * time.Second
	}
	if opts.ParseValidTime <= 0 {
		opts.ParseValidTime = 5 * time.Minute
	}
	if opts.StatusValidTime <= 0 {
		opts.StatusValidTime = 5 * time.Minute
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = time.Hour
	}
	trail := deps.Trail
	if trail == nil {
		trail = audit.NewMemory(0)
	}
	return &Orchestrator{
		ledger:    deps.Ledger,
		creds:     deps.Credentials,
		store:     deps.Store,
		transport: deps.Transport,
		trail:     trail,
		log:       deps.Logger.With().Str("component", "orchestrator").Logger(),
		opts:      opts,
		now:       time.Now,
	}
}

// Ledger exposes the ledger for read paths.
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// Trail exposes the audit trail for read paths.
func (o *Orchestrator) Trail() audit.Trail { return o.trail }

// Submit stores the document and registers it as an artifact.
func (o *Orchestrator) Submit(ctx context.Context, body []byte, displayName, contentType string) (models.Artifact, error) {
	if strings.TrimSpace(displayName) == "" {
		return models.Artifact{}, fmt.Errorf("display name is required: %w", models.ErrInvalidRequest)
	}
	key := objectstore.Key(o.opts.StoragePrefix, uuid.New().String()+strings.ToLower(filepath.Ext(displayName)))
	obj, err := o.store.Put(ctx, key, body, contentType)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("store document: %w", err)
	}
	a := o.ledger.RegisterArtifact(obj.Key, obj.URL, displayName, obj.Size)
	telemetry.UploadCounter.Inc()
	o.record(ctx, a.ID, "", audit.EventRegistered, fmt.Sprintf("key=%s size=%d", obj.Key, obj.Size))
	o.log.Info().Str("artifact_id", a.ID).Str("name", displayName).Int64("size", obj.Size).Msg("artifact registered")
	return a, nil
}

// RequestProcessing submits a registered or failed artifact to the parsing
// service and links the returned task. Completed artifacts and artifacts whose
// stored object was released are refused before any remote call. On any remote failure the artifact is recorded as
// failed and the classified error is returned.
func (o *Orchestrator) RequestProcessing(ctx context.Context, artifactID, callbackURL string) (string, error) {
	a, ok := o.ledger.Get(artifactID)
	if !ok {
		return "", fmt.Errorf("artifact %s: %w", artifactID, models.ErrNotFound)
	}
	taskType, err := TaskType(a.DisplayName)
	if err != nil {
		return "", err
	}
	if callbackURL == "" {
		callbackURL = o.opts.CallbackURL
	}

	params := map[string]any{
		"validBegin":  o.now().Unix(),
		"validTime":   int64(o.opts.ParseValidTime / time.Second),
		"appId":       o.opts.AppID,
		"sourcePath":  o.SourceLocation(a.StorageKey),
		"taskType":    taskType,
		"callbackUrl": callbackURL,
	}
	sig, err := o.creds.SignWith(o.opts.AppID, params)
	if err != nil {
		return "", fmt.Errorf("sign parse request: %w", err)
	}
	params[signature.FieldSignature] = sig

	if err := o.ledger.MarkSubmitting(artifactID); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.opts.ParseTimeout)
	res, err := o.transport.Parse(callCtx, params)
	cancel()
	if err != nil {
		if !errors.Is(err, models.ErrRemoteTransport) {
			err = fmt.Errorf("%w: %w", models.ErrRemoteTransport, err)
		}
		return "", o.failSubmission(ctx, artifactID, "transport", err)
	}
	if res.Code != 0 || res.TaskID == "" {
		msg := res.Message
		if msg == "" {
			msg = "parse service returned an error"
		}
		err := fmt.Errorf("code %d: %s: %w", res.Code, msg, models.ErrRemoteRejected)
		return "", o.failSubmission(ctx, artifactID, "rejected", err)
	}

	if err := o.ledger.LinkTask(artifactID, res.TaskID); err != nil {
		return "", fmt.Errorf("link task %s: %w", res.TaskID, err)
	}
	o.record(ctx, artifactID, res.TaskID, audit.EventSubmitted, fmt.Sprintf("task_type=%d", taskType))
	o.log.Info().Str("artifact_id", artifactID).Str("task_id", res.TaskID).Int("task_type", taskType).Msg("parse task created")
	return res.TaskID, nil
}

func (o *Orchestrator) failSubmission(ctx context.Context, artifactID, class string, cause error) error {
	reason := cause.Error()
	if err := o.ledger.MarkSubmissionFailed(artifactID, reason); err != nil {
		o.log.Warn().Err(err).Str("artifact_id", artifactID).Msg("record submission failure")
	}
	telemetry.SubmissionFailures.WithLabelValues(class).Inc()
	o.record(ctx, artifactID, "", audit.EventSubmissionFailed, reason)
	o.log.Error().Err(cause).Str("artifact_id", artifactID).Msg("parse submission failed")
	return fmt.Errorf("submit parse request: %w", cause)
}

// Ingest runs Submit and RequestProcessing for an upload. Unsupported types
// are refused before anything is stored; when the remote submission fails the
// stored object is deleted and the failed artifact stays queryable.
func (o *Orchestrator) Ingest(ctx context.Context, body []byte, displayName, contentType string) (models.Artifact, error) {
	if _, err := TaskType(displayName); err != nil {
		return models.Artifact{}, err
	}
	a, err := o.Submit(ctx, body, displayName, contentType)
	if err != nil {
		return models.Artifact{}, err
	}
	_, err = o.RequestProcessing(ctx, a.ID, "")
	if err != nil {
		if errors.Is(err, models.ErrRemoteTransport) || errors.Is(err, models.ErrRemoteRejected) {
			o.deleteObject(ctx, a.StorageKey)
			if rerr := o.ledger.ReleaseStorage(a.ID); rerr != nil {
				o.log.Warn().Err(rerr).Str("artifact_id", a.ID).Msg("release stored object")
			}
		}
	}
	if latest, ok := o.ledger.Get(a.ID); ok {
		a = latest
	}
	return a, err
}

// CallbackAuth identifies the sender of an inbound callback. When Params
// carries a signature it is verified against the resolved credential.
type CallbackAuth struct {
	CredentialID string
	Params       map[string]any
}

// Outcome reports what an update did.
type Outcome struct {
	Task    models.Task
	State   models.State
	Applied bool
	Ignored bool
}

// ApplyUpdate applies a callback report. Reports for unknown tasks are
// ignored without error; unauthenticated reports are rejected before any
// state is touched.
func (o *Orchestrator) ApplyUpdate(ctx context.Context, u models.Update, auth *CallbackAuth) (Outcome, error) {
	if u.TaskID == "" {
		return Outcome{}, fmt.Errorf("task id is required: %w", models.ErrInvalidRequest)
	}
	if o.opts.RequireCallbackAuth {
		if err := o.authenticate(auth); err != nil {
			telemetry.CallbacksReceived.WithLabelValues("rejected").Inc()
			o.log.Warn().Str("task_id", u.TaskID).Err(err).Msg("callback rejected")
			return Outcome{}, err
		}
	}
	out, err := o.apply(ctx, u, channelCallback)
	if err != nil {
		return out, err
	}
	if out.Ignored {
		telemetry.CallbacksReceived.WithLabelValues("ignored").Inc()
	} else {
		telemetry.CallbacksReceived.WithLabelValues("accepted").Inc()
	}
	return out, nil
}

func (o *Orchestrator) authenticate(auth *CallbackAuth) error {
	if auth == nil || auth.CredentialID == "" {
		return fmt.Errorf("missing credential: %w", models.ErrAuthFailure)
	}
	cred, ok := o.creds.Resolve(auth.CredentialID)
	if !ok {
		return fmt.Errorf("unknown credential %q: %w", auth.CredentialID, models.ErrAuthFailure)
	}
	if _, signed := auth.Params[signature.FieldSignature]; signed && !signature.Verify(auth.Params, cred.Secret) {
		return fmt.Errorf("signature mismatch for %q: %w", cred.ID, models.ErrAuthFailure)
	}
	return nil
}

// apply is the single normalization and transition path shared by callbacks and polls.
func (o *Orchestrator) apply(ctx context.Context, u models.Update, channel string) (Outcome, error) {
	if u.TaskID == "" {
		return Outcome{}, fmt.Errorf("task id is required: %w", models.ErrInvalidRequest)
	}
	state := status.Normalize(u.RawStatus)
	raw := status.Label(u.RawStatus)
	log := o.log.With().Str("task_id", u.TaskID).Str("channel", channel).Str("raw_status", raw).Logger()

	task, applied, err := o.ledger.Transition(u.TaskID, ledger.Report{
		State:   state,
		Raw:     raw,
		Payload: u.Payload,
		Reason:  u.Error,
	})
	if errors.Is(err, models.ErrNotFound) {
		log.Info().Msg("ignoring update for unknown task")
		return Outcome{State: state, Ignored: true}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	if status.IsDuplicate(u.RawStatus) {
		telemetry.DuplicateSubmissions.Inc()
		o.record(ctx, task.ArtifactID, task.ID, audit.EventDuplicate, raw)
		log.Warn().Msg("parse service reported a duplicate submission; treating as completed")
	}
	if !applied {
		telemetry.StaleUpdates.WithLabelValues(channel).Inc()
		if state != task.State {
			o.record(ctx, task.ArtifactID, task.ID, audit.EventStaleUpdate, fmt.Sprintf("%s ignored, task is %s", state, task.State))
		}
		log.Debug().Str("state", string(task.State)).Str("reported", string(state)).Msg("update absorbed by terminal task")
		return Outcome{Task: task, State: task.State}, nil
	}

	telemetry.Transitions.WithLabelValues(string(state), channel).Inc()
	o.record(ctx, task.ArtifactID, task.ID, audit.EventTransition, fmt.Sprintf("%s via %s", state, channel))
	log.Info().Str("state", string(state)).Msg("task state updated")
	return Outcome{Task: task, State: task.State, Applied: true}, nil
}

// Override forces a task into a state for manual correction. rawStatus may be
// a lifecycle name or any vendor status.
func (o *Orchestrator) Override(ctx context.Context, taskID string, rawStatus any, payload map[string]any, reason string) (models.Task, error) {
	if taskID == "" {
		return models.Task{}, fmt.Errorf("task id is required: %w", models.ErrInvalidRequest)
	}
	state := status.Normalize(rawStatus)
	if s, ok := rawStatus.(string); ok {
		if parsed, ok := models.ParseState(strings.ToLower(s)); ok {
			state = parsed
		}
	}
	task, err := o.ledger.Override(taskID, ledger.Report{
		State:   state,
		Raw:     status.Label(rawStatus),
		Payload: payload,
		Reason:  reason,
	})
	if err != nil {
		return models.Task{}, err
	}
	telemetry.Transitions.WithLabelValues(string(state), channelManual).Inc()
	o.record(ctx, task.ArtifactID, task.ID, audit.EventOverride, string(state))
	o.log.Warn().Str("task_id", taskID).Str("state", string(state)).Msg("task state overridden")
	return task, nil
}

// Remove deletes the stored object and the local records of an artifact.
// The parsing service is not notified.
func (o *Orchestrator) Remove(ctx context.Context, artifactID string) (models.Artifact, error) {
	a, ok := o.ledger.Get(artifactID)
	if !ok {
		return models.Artifact{}, fmt.Errorf("artifact %s: %w", artifactID, models.ErrNotFound)
	}
	o.deleteObject(ctx, a.StorageKey)
	removed, ok := o.ledger.Remove(artifactID)
	if !ok {
		return models.Artifact{}, fmt.Errorf("artifact %s: %w", artifactID, models.ErrNotFound)
	}
	o.record(ctx, artifactID, "", audit.EventRemoved, removed.DisplayName)
	o.log.Info().Str("artifact_id", artifactID).Msg("artifact removed")
	return removed, nil
}

// Expire drops artifacts created before cutoff together with their objects.
func (o *Orchestrator) Expire(ctx context.Context, cutoff time.Time) int {
	expired := o.ledger.Expire(cutoff)
	for _, a := range expired {
		o.deleteObject(ctx, a.StorageKey)
		o.record(ctx, a.ID, "", audit.EventExpired, a.CreatedAt.UTC().Format(time.RFC3339))
	}
	if len(expired) > 0 {
		telemetry.ArtifactsExpired.Add(float64(len(expired)))
		o.log.Info().Int("count", len(expired)).Msg("expired artifacts removed")
	}
	return len(expired)
}

// ResultURL signs a URL for a file inside a completed artifact's result location.
func (o *Orchestrator) ResultURL(ctx context.Context, artifactID, suffix string) (string, error) {
	if suffix == "" {
		return "", fmt.Errorf("suffix is required: %w", models.ErrInvalidRequest)
	}
	a, ok := o.ledger.Get(artifactID)
	if !ok {
		return "", fmt.Errorf("artifact %s: %w", artifactID, models.ErrNotFound)
	}
	if a.State != models.StateCompleted {
		return "", fmt.Errorf("artifact %s is %s, not completed: %w", artifactID, a.State, models.ErrInvalidRequest)
	}
	if a.ResultLocation == nil || *a.ResultLocation == "" {
		return "", fmt.Errorf("artifact %s has no result location: %w", artifactID, models.ErrNotFound)
	}
	base := strings.TrimPrefix(*a.ResultLocation, o.locationPrefix())
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	key := base + strings.TrimPrefix(suffix, "/")

	url, err := o.store.SignURL(ctx, key, o.opts.SignedURLTTL)
	if err != nil {
		return "", fmt.Errorf("sign result url: %w", err)
	}
	return url, nil
}

// SourceLocation is the address of a stored key as understood by the parsing service.
func (o *Orchestrator) SourceLocation(key string) string {
	return o.locationPrefix() + key
}

func (o *Orchestrator) locationPrefix() string {
	return fmt.Sprintf("%s://%s/", o.opts.SourceScheme, o.opts.Bucket)
}

func (o *Orchestrator) deleteObject(ctx context.Context, key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ParseTimeout)
	defer cancel()
	if err := o.store.Delete(ctx, key); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return
		}
		o.log.Warn().Err(err).Str("key", key).Msg("delete stored object")
	}
}

func (o *Orchestrator) record(ctx context.Context, artifactID, taskID, event, detail string) {
	err := o.trail.Append(context.WithoutCancel(ctx), models.AuditLog{
		ArtifactID: artifactID,
		TaskID:     taskID,
		Event:      event,
		Detail:     detail,
		Recorded:   o.now().UTC(),
	})
	if err != nil {
		o.log.Warn().Err(err).Str("artifact_id", artifactID).Str("event", event).Msg("append audit log")
	}
}
