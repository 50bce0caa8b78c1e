package models

import (
	"time"
)

// JobKind enumerates the background job variants.
const (
	KindSingleURL = "single_url"
	KindSingleB64 = "single_b64"
	KindBatch     = "batch"
)

// Job is one request-to-callback unit of work. It lives in memory only: created
// when a request is accepted, discarded after its terminal callback is dispatched.
type Job struct {
	ID          string    `json:"job_id"`
	Kind        string    `json:"kind"`
	Prompt      string    `json:"prompt"`
	Filename    string    `json:"filename,omitempty"`
	ImageBase64 string    `json:"-"`
	CallbackURL string    `json:"callback_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// SinglePayload is the terminal callback body for single-image jobs.
// Exactly one of the URL-result or inline-result field groups is populated on
// success; Error is set when Status is "failed".
type SinglePayload struct {
	Status   string `json:"status"`
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`

	ObjectKey string `json:"object_key,omitempty"`
	ResultURL string `json:"result_url,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"`

	ResultImageBase64 string `json:"result_image_base64,omitempty"`
	ResultMIMEType    string `json:"result_mime_type,omitempty"`

	Error string `json:"error,omitempty"`
}

// BatchPayload is the single summary callback body for batch jobs.
type BatchPayload struct {
	Status              string   `json:"status"`
	JobID               string   `json:"job_id"`
	TotalFiles          int      `json:"total_files"`
	Processed           int      `json:"processed"`
	Failed              int      `json:"failed"`
	FallbackLocal       int      `json:"fallback_local"`
	DurationSeconds     float64  `json:"duration_seconds"`
	TotalFilesProcessed int      `json:"total_files_processed"`
	OutputBucket        string   `json:"output_bucket"`
	OutputPrefix        string   `json:"output_prefix"`
	Errors              []string `json:"errors"`
	Error               string   `json:"error,omitempty"`
}

// Batch terminal statuses.
const (
	BatchCompleted           = "completed"
	BatchCompletedWithErrors = "completed_with_errors"
	BatchFailed              = "failed"
)
