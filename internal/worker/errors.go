package worker

import (
	"errors"
	"fmt"
)

// Error kinds surfaced in callback payloads as "<Kind>: <message>".
// Validation and decode errors are caller mistakes and are never retried;
// transform errors come from the upstream edit capability; storage errors
// fail the affected item or job without internal retry.
type errorKind string

const (
	kindValidation errorKind = "ValidationError"
	kindDecode     errorKind = "DecodeError"
	kindTransform  errorKind = "TransformError"
	kindStorage    errorKind = "StorageError"
)

type jobError struct {
	kind errorKind
	err  error
}

func (e *jobError) Error() string { return string(e.kind) + ": " + e.err.Error() }

func (e *jobError) Unwrap() error { return e.err }

func validationError(format string, args ...any) *jobError {
	return &jobError{kind: kindValidation, err: fmt.Errorf(format, args...)}
}

func decodeError(format string, args ...any) *jobError {
	return &jobError{kind: kindDecode, err: fmt.Errorf(format, args...)}
}

func transformError(err error) *jobError {
	return &jobError{kind: kindTransform, err: err}
}

func storageError(err error) *jobError {
	return &jobError{kind: kindStorage, err: err}
}

// describe renders an error for a callback payload, keeping the kind prefix
// when present.
func describe(err error) string {
	var je *jobError
	if errors.As(err, &je) {
		return je.Error()
	}
	return err.Error()
}
