// Package worker runs accepted jobs in the background: admission control,
// the single and batch pipelines, and the exactly-one-terminal-callback
// guarantee.
package worker

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"async-image-tools/internal/callback"
	"async-image-tools/internal/config"
	"async-image-tools/internal/models"
	"async-image-tools/internal/storage"
	"async-image-tools/internal/telemetry"
	"async-image-tools/internal/transform"
)

// Runner executes jobs handed over by the API layer. Job data is owned
// exclusively by its goroutine; the admission gate is the only shared state.
type Runner struct {
	cfg        config.Config
	store      storage.ObjectStore
	editor     transform.Editor
	dispatcher *callback.Dispatcher
	gate       *Gate
	log        zerolog.Logger

	baseCtx context.Context
	wg      sync.WaitGroup
}

// New wires a runner. ctx outlives individual requests and bounds all
// background work; cancelling it drops queued-but-unstarted jobs.
func New(ctx context.Context, cfg config.Config, store storage.ObjectStore, editor transform.Editor, dispatcher *callback.Dispatcher, gate *Gate, logger zerolog.Logger) *Runner {
	if gate == nil {
		gate = NewGate(cfg.MaxConcurrentJobs)
	}
	return &Runner{
		cfg:        cfg,
		store:      store,
		editor:     editor,
		dispatcher: dispatcher,
		gate:       gate,
		log:        logger,
		baseCtx:    ctx,
	}
}

// Submit hands a job to the background runner and returns immediately.
func (r *Runner) Submit(job models.Job) {
	telemetry.JobsAccepted.Inc()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(job)
	}()
}

// Wait blocks until all submitted jobs have finished. Used for shutdown and
// in tests.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// run holds one admission slot for the whole pipeline and dispatches exactly
// one terminal callback regardless of outcome.
func (r *Runner) run(job models.Job) {
	ctx := r.baseCtx

	if err := r.gate.Acquire(ctx); err != nil {
		// Process is shutting down; unstarted jobs are simply lost.
		r.log.Warn().Err(err).Str("job_id", job.ID).Msg("job dropped before acquiring a slot")
		return
	}
	defer r.gate.Release()

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	var payload any
	switch job.Kind {
	case models.KindSingleURL:
		payload = r.runSingle(ctx, job, false)
	case models.KindSingleB64:
		payload = r.runSingle(ctx, job, true)
	case models.KindBatch:
		payload = r.runBatch(ctx, job)
	default:
		telemetry.JobsFailed.Inc()
		payload = models.SinglePayload{
			Status:   "failed",
			JobID:    job.ID,
			Filename: job.Filename,
			Error:    describe(validationError("unknown job kind %q", job.Kind)),
		}
	}

	if err := r.dispatcher.Deliver(ctx, job.ID, job.CallbackURL, payload); err != nil {
		// Terminal sink: nobody is left to notify, so log and move on.
		r.log.Error().Err(err).Str("job_id", job.ID).Str("kind", job.Kind).Msg("terminal callback abandoned")
	}
}

// validatePayload applies the submission safety checks shared by both single
// variants. All failures are job outcomes, never process faults.
func validatePayload(encoded string, maxChars int) error {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return validationError("image_base64 is empty")
	}
	if len(encoded) > maxChars {
		return validationError("image_base64 too large (>%d chars)", maxChars)
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "data:") {
		return validationError("image_base64 carries a data: prefix; send only the raw base64 body")
	}
	return nil
}
