package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	UploadCounter        = prometheus.NewCounter(prometheus.CounterOpts{Name: "docparse_uploads_total", Help: "Documents stored and registered"})
	SubmissionFailures   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "docparse_submission_failures_total", Help: "Parse submissions that failed, by class"}, []string{"class"})
	CallbacksReceived    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "docparse_callbacks_total", Help: "Inbound callbacks by outcome"}, []string{"outcome"})
	Transitions          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "docparse_transitions_total", Help: "Applied lifecycle transitions by target state and channel"}, []string{"state", "channel"})
	StaleUpdates         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "docparse_stale_updates_total", Help: "Status reports absorbed by a terminal task"}, []string{"channel"})
	DuplicateSubmissions = prometheus.NewCounter(prometheus.CounterOpts{Name: "docparse_duplicate_submissions_total", Help: "Reports carrying the vendor duplicate-submission code"})
	PollFailures         = prometheus.NewCounter(prometheus.CounterOpts{Name: "docparse_poll_failures_total", Help: "Reconciliation polls that failed"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "docparse_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	ArtifactsExpired     = prometheus.NewCounter(prometheus.CounterOpts{Name: "docparse_artifacts_expired_total", Help: "Artifacts removed by the expiry sweep"})
	ArtifactsByState     = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "docparse_artifacts", Help: "Tracked artifacts by lifecycle state"}, []string{"state"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			UploadCounter,
			SubmissionFailures,
			CallbacksReceived,
			Transitions,
			StaleUpdates,
			DuplicateSubmissions,
			PollFailures,
			RateLimitRejects,
			ArtifactsExpired,
			ArtifactsByState,
		)
	})
	return promhttp.Handler()
}
