// Package sweeper runs periodic housekeeping: artifact expiry, reconciliation
// of tasks whose callbacks never arrived, and the per-state gauge.
package sweeper

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"docparse-tracker/internal/config"
	"docparse-tracker/internal/models"
	"docparse-tracker/internal/telemetry"
)

// Expirer removes artifacts created before cutoff.
type Expirer interface {
	Expire(ctx context.Context, cutoff time.Time) int
}

// Syncer polls the remote status of one task.
type Syncer interface {
	Sync(ctx context.Context, taskID string) (models.State, error)
}

// Source exposes the ledger views the sweeper reads.
type Source interface {
	Stale(cutoff time.Time) []models.Task
	Stats() models.Stats
}

// Options control sweep cadence. Zero ArtifactTTL or ReconcileAfter disables
// that part of the sweep.
type Options struct {
	Interval       time.Duration
	ArtifactTTL    time.Duration
	ReconcileAfter time.Duration
	ReconcileBatch int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// OptionsFromConfig derives sweep options from the service configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Interval:       cfg.SweepInterval,
		ArtifactTTL:    cfg.ArtifactTTL,
		ReconcileAfter: cfg.ReconcileAfter,
		ReconcileBatch: cfg.ReconcileBatch,
	}
}

// Result summarizes one sweep.
type Result struct {
	Expired  int
	Polled   int
	Failed   int
	Deferred int
}

type retry struct {
	attempts int
	next     time.Time
}

// Sweeper drives the housekeeping loop.
type Sweeper struct {
	opts    Options
	source  Source
	expirer Expirer
	syncer  Syncer
	log     zerolog.Logger
	now     func() time.Time
	retries map[string]retry
}

// New builds a sweeper. syncer may be nil to skip reconciliation.
func New(opts Options, source Source, expirer Expirer, syncer Syncer, logger zerolog.Logger) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = opts.Interval
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Minute
	}
	return &Sweeper{
		opts:    opts,
		source:  source,
		expirer: expirer,
		syncer:  syncer,
		log:     logger.With().Str("component", "sweeper").Logger(),
		now:     time.Now,
		retries: make(map[string]retry),
	}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		res := s.Sweep(ctx)
		if res.Expired > 0 || res.Polled > 0 {
			s.log.Debug().Int("expired", res.Expired).Int("polled", res.Polled).Int("failed", res.Failed).Int("deferred", res.Deferred).Msg("sweep finished")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep performs one pass. The sweeper is not safe for concurrent Sweep calls.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	var res Result
	now := s.now()

	if s.opts.ArtifactTTL > 0 && s.expirer != nil {
		res.Expired = s.expirer.Expire(ctx, now.Add(-s.opts.ArtifactTTL))
	}
	if s.opts.ReconcileAfter > 0 && s.syncer != nil {
		s.reconcile(ctx, now, &res)
	}
	s.refreshGauge()
	return res
}

func (s *Sweeper) reconcile(ctx context.Context, now time.Time, res *Result) {
	stale := s.source.Stale(now.Add(-s.opts.ReconcileAfter))
	seen := make(map[string]struct{}, len(stale))
	for _, t := range stale {
		seen[t.ID] = struct{}{}
	}
	for _, t := range stale {
		if ctx.Err() != nil {
			break
		}
		if s.opts.ReconcileBatch > 0 && res.Polled >= s.opts.ReconcileBatch {
			break
		}
		r := s.retries[t.ID]
		if now.Before(r.next) {
			res.Deferred++
			continue
		}
		res.Polled++
		state, err := s.syncer.Sync(ctx, t.ID)
		if err != nil {
			res.Failed++
			r.attempts++
			r.next = now.Add(backoffWithJitter(s.opts.BackoffInitial, s.opts.BackoffMax, r.attempts))
			s.retries[t.ID] = r
			s.log.Warn().Err(err).Str("task_id", t.ID).Int("attempts", r.attempts).Time("next_poll", r.next).Msg("reconcile poll failed")
			continue
		}
		delete(s.retries, t.ID)
		if state != t.State {
			s.log.Info().Str("task_id", t.ID).Str("state", string(state)).Msg("task reconciled")
		}
	}
	for id := range s.retries {
		if _, ok := seen[id]; !ok {
			delete(s.retries, id)
		}
	}
}

func (s *Sweeper) refreshGauge() {
	st := s.source.Stats()
	counts := map[models.State]int{
		models.StateRegistered: st.Registered,
		models.StateSubmitting: st.Submitting,
		models.StateProcessing: st.Processing,
		models.StateCompleted:  st.Completed,
		models.StateFailed:     st.Failed,
	}
	for state, n := range counts {
		telemetry.ArtifactsByState.WithLabelValues(string(state)).Set(float64(n))
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || exp > float64(math.MaxInt64) {
		wait = max
	}
	half := int64(wait / 2)
	if half <= 0 {
		return wait
	}
	return time.Duration(half + rand.Int63n(half))
}
