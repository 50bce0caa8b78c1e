package worker

import (
	"context"
	"encoding/base64"

	"async-image-tools/internal/models"
	"async-image-tools/internal/naming"
	"async-image-tools/internal/telemetry"
	"async-image-tools/internal/transform"
)

// runSingle executes the single-image pipeline: validate, decode, transform,
// then either store-and-presign (URL variant) or re-encode inline. The
// returned payload is always terminal.
func (r *Runner) runSingle(ctx context.Context, job models.Job, inline bool) models.SinglePayload {
	p := models.SinglePayload{JobID: job.ID, Filename: job.Filename}

	res, err := r.editSubmitted(ctx, job)
	if err != nil {
		return r.failSingle(p, err)
	}

	if inline {
		p.Status = "completed"
		p.ResultImageBase64 = base64.StdEncoding.EncodeToString(res.Bytes)
		p.ResultMIMEType = res.MIME
		telemetry.JobsCompleted.Inc()
		return p
	}

	key := naming.SingleKey(job.ID, job.Filename, res.Ext)
	if err := r.store.Put(ctx, r.cfg.COSOutputBucket, key, res.Bytes, res.MIME); err != nil {
		return r.failSingle(p, storageError(err))
	}
	url, err := r.store.PresignGet(ctx, r.cfg.COSOutputBucket, key, r.cfg.COSPresignExpires)
	if err != nil {
		return r.failSingle(p, storageError(err))
	}

	p.Status = "completed"
	p.ObjectKey = key
	p.ResultURL = url
	p.ExpiresIn = int(r.cfg.COSPresignExpires.Seconds())
	telemetry.JobsCompleted.Inc()
	return p
}

func (r *Runner) failSingle(p models.SinglePayload, err error) models.SinglePayload {
	p.Status = "failed"
	p.Error = describe(err)
	telemetry.JobsFailed.Inc()
	r.log.Warn().Str("job_id", p.JobID).Str("error", p.Error).Msg("single job failed")
	return p
}

// editSubmitted validates and decodes the submitted image, then runs the
// transform gateway. A quota-exhausted upstream swaps in the local fallback
// when that toggle is on; every other failure propagates as a job error.
func (r *Runner) editSubmitted(ctx context.Context, job models.Job) (transform.Result, error) {
	if err := validatePayload(job.ImageBase64, r.cfg.MaxImageBase64Chars); err != nil {
		return transform.Result{}, err
	}

	raw, err := base64.StdEncoding.DecodeString(job.ImageBase64)
	if err != nil {
		return transform.Result{}, decodeError("image_base64 is not valid base64 (send the raw base64 body, no data: prefix)")
	}

	res, err := r.editor.Edit(ctx, raw, job.Prompt)
	if err == nil {
		return res, nil
	}

	if r.cfg.EnableFallbackSingle && transform.IsQuotaExceeded(err) {
		r.log.Info().Str("job_id", job.ID).Msg("upstream billing limit reached, applying local fallback")
		fres, ferr := transform.Fallback(raw)
		if ferr != nil {
			return transform.Result{}, transformError(ferr)
		}
		telemetry.FallbackApplied.Inc()
		return fres, nil
	}
	return transform.Result{}, transformError(err)
}
