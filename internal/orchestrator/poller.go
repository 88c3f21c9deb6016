package orchestrator

import (
	"context"
	"fmt"

	"docparse-tracker/internal/models"
	"docparse-tracker/internal/signature"
	"docparse-tracker/internal/telemetry"
)

// Poller queries the parsing service for a task's status and feeds the
// answer through the same path as callbacks.
type Poller struct {
	o *Orchestrator
}

// NewPoller returns a poller bound to o.
func NewPoller(o *Orchestrator) *Poller {
	return &Poller{o: o}
}

// Sync fetches the remote status of taskID and applies it. On a failed poll
// the local state is returned unchanged alongside an ErrPollFailed error.
func (p *Poller) Sync(ctx context.Context, taskID string) (models.State, error) {
	o := p.o
	t, ok := o.ledger.GetTask(taskID)
	if !ok {
		return "", fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}

	params := map[string]any{
		"appId":     o.opts.AppID,
		"taskId":    taskID,
		"beginTime": o.now().UnixMilli(),
		"validTime": o.opts.StatusValidTime.Milliseconds(),
	}
	sig, err := o.creds.SignWith(o.opts.AppID, params)
	if err != nil {
		return t.State, fmt.Errorf("%w: %w", models.ErrPollFailed, err)
	}
	params[signature.FieldSignature] = sig

	callCtx, cancel := context.WithTimeout(ctx, o.opts.StatusTimeout)
	res, err := o.transport.Status(callCtx, params)
	cancel()
	if err != nil {
		telemetry.PollFailures.Inc()
		o.log.Warn().Err(err).Str("task_id", taskID).Msg("status poll failed")
		return t.State, fmt.Errorf("%w: %w", models.ErrPollFailed, err)
	}
	if res.Code != 0 {
		telemetry.PollFailures.Inc()
		o.log.Warn().Int("code", res.Code).Str("message", res.Message).Str("task_id", taskID).Msg("status poll rejected")
		return t.State, fmt.Errorf("%w: code %d: %s: %w", models.ErrPollFailed, res.Code, res.Message, models.ErrRemoteRejected)
	}

	out, err := o.apply(ctx, models.Update{
		TaskID:    taskID,
		RawStatus: res.RawStatus,
		Payload:   res.Result,
		Error:     res.Error,
	}, channelPoll)
	if err != nil {
		return t.State, err
	}
	if out.Ignored {
		return t.State, fmt.Errorf("task %s removed during poll: %w", taskID, models.ErrNotFound)
	}
	return out.State, nil
}
