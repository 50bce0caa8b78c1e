package worker

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"async-image-tools/internal/models"
	"async-image-tools/internal/naming"
	"async-image-tools/internal/telemetry"
	"async-image-tools/internal/transform"
)

// runBatch enumerates the input prefix and runs the transform per object,
// independently: one corrupt or oversized image never aborts the rest. The
// whole batch produces a single bounded-size summary callback.
func (r *Runner) runBatch(ctx context.Context, job models.Job) models.BatchPayload {
	start := time.Now()

	p := models.BatchPayload{
		Status:       models.BatchFailed,
		JobID:        job.ID,
		OutputBucket: r.cfg.COSOutputBucket,
		OutputPrefix: fmt.Sprintf("%s/%s/", r.cfg.COSOutputPrefix, job.ID),
		Errors:       []string{},
	}
	var itemErrors []string

	if err := r.enumerateAndProcess(ctx, job, &p, &itemErrors); err != nil {
		p.Status = models.BatchFailed
		p.Error = describe(err)
		telemetry.JobsFailed.Inc()
		r.log.Warn().Str("job_id", job.ID).Str("error", p.Error).Msg("batch job failed")
	} else if p.Failed == 0 {
		p.Status = models.BatchCompleted
		telemetry.JobsCompleted.Inc()
	} else {
		p.Status = models.BatchCompletedWithErrors
		telemetry.JobsCompleted.Inc()
	}

	p.DurationSeconds = math.Round(time.Since(start).Seconds()*1000) / 1000
	p.TotalFilesProcessed = p.Processed + p.FallbackLocal

	// The caller gets a bounded report regardless of batch size.
	limit := r.cfg.BatchErrorsReported
	if limit <= 0 {
		limit = 20
	}
	if len(itemErrors) > limit {
		itemErrors = itemErrors[:limit]
	}
	p.Errors = append(p.Errors, itemErrors...)

	return p
}

// enumerateAndProcess returns an error only for batch-level failures
// (missing config, listing failure); per-item failures are recorded in p.
func (r *Runner) enumerateAndProcess(ctx context.Context, job models.Job, p *models.BatchPayload, itemErrors *[]string) error {
	if err := r.cfg.RequireInputBucket(); err != nil {
		return validationError("%s", err.Error())
	}
	if strings.TrimSpace(job.Prompt) == "" {
		return validationError("prompt is empty")
	}

	keys, err := r.store.List(ctx, r.cfg.COSInputBucket, r.cfg.COSInputPrefix)
	if err != nil {
		return storageError(err)
	}
	p.TotalFiles = len(keys)

	for _, key := range keys {
		r.processBatchItem(ctx, job, key, p, itemErrors)
	}
	return nil
}

// processBatchItem handles one input object end to end. Outcomes: processed
// (stored, possibly via fallback) or failed, plus an error note for anything
// that went wrong along the way.
func (r *Runner) processBatchItem(ctx context.Context, job models.Job, key string, p *models.BatchPayload, itemErrors *[]string) {
	raw, err := r.store.Get(ctx, r.cfg.COSInputBucket, key)
	if err != nil {
		p.Failed++
		*itemErrors = append(*itemErrors, fmt.Sprintf("%s: %s", key, describe(storageError(err))))
		return
	}

	res, err := r.editor.Edit(ctx, raw, job.Prompt)
	if err != nil {
		if !transform.IsQuotaExceeded(err) {
			p.Failed++
			*itemErrors = append(*itemErrors, fmt.Sprintf("%s: %s", key, describe(transformError(err))))
			return
		}
		fres, ferr := transform.Fallback(raw)
		if ferr != nil {
			p.Failed++
			*itemErrors = append(*itemErrors, fmt.Sprintf("%s: local fallback failed: %v", key, ferr))
			return
		}
		res = fres
		p.FallbackLocal++
		telemetry.FallbackApplied.Inc()
		*itemErrors = append(*itemErrors, fmt.Sprintf("%s: upstream billing limit, local fallback applied", key))
	}

	outKey := naming.BatchKey(r.cfg.COSOutputPrefix, job.ID, key, res.Ext)
	if err := r.store.Put(ctx, r.cfg.COSOutputBucket, outKey, res.Bytes, res.MIME); err != nil {
		p.Failed++
		*itemErrors = append(*itemErrors, fmt.Sprintf("%s: upload failed: %v", key, err))
		return
	}
	p.Processed++
}
