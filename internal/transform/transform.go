// Package transform invokes the external image-edit capability and provides a
// degraded local fallback for when the upstream quota is exhausted.
package transform

import (
	"context"
	"errors"
	"strings"
)

// Result is an edited image paired with its declared type. Ext and MIME always
// agree under MIMEForFormat.
type Result struct {
	Bytes []byte
	MIME  string
	Ext   string
}

// Editor is the contract for the external edit capability.
type Editor interface {
	Edit(ctx context.Context, image []byte, prompt string) (Result, error)
}

// UpstreamKind classifies upstream failures. Only QuotaExceeded changes
// control flow (fallback gating); the rest exist so callers can log and report
// precisely without re-parsing messages.
type UpstreamKind int

const (
	UpstreamOther UpstreamKind = iota
	UpstreamQuotaExceeded
	UpstreamInvalidInput
)

// UpstreamError carries the classification alongside the raw upstream message,
// which is preserved verbatim for logs and callback payloads.
type UpstreamError struct {
	Kind    UpstreamKind
	Status  int
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return "upstream edit failed (" + e.Code + "): " + e.Message
	}
	return "upstream edit failed: " + e.Message
}

// Billing-limit signature strings emitted by the upstream API. Kept for errors
// that arrive without a structured code.
const (
	quotaCode    = "billing_hard_limit_reached"
	quotaMessage = "Billing hard limit has been reached"
)

// IsQuotaExceeded reports whether err is the upstream billing-limit failure,
// either via its typed classification or via the known message signatures.
func IsQuotaExceeded(err error) bool {
	if err == nil {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind == UpstreamQuotaExceeded
	}
	msg := err.Error()
	return strings.Contains(msg, quotaCode) || strings.Contains(msg, quotaMessage)
}

// classify maps an upstream error response to a kind.
func classify(status int, code, errType, message string) UpstreamKind {
	if code == quotaCode || strings.Contains(message, quotaMessage) {
		return UpstreamQuotaExceeded
	}
	if status == 400 || status == 422 || errType == "invalid_request_error" {
		return UpstreamInvalidInput
	}
	return UpstreamOther
}

// MIMEForFormat maps an output format to its MIME type. Unknown formats map to
// application/octet-stream.
func MIMEForFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// NormalizeExt lowercases a format name and folds "jpg" into "jpeg". Empty
// input defaults to "png".
func NormalizeExt(format string) string {
	ext := strings.ToLower(strings.TrimSpace(format))
	if ext == "" {
		return "png"
	}
	if ext == "jpg" {
		return "jpeg"
	}
	return ext
}
