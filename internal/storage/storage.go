// Package storage abstracts the object store consumed by the job pipelines.
package storage

import (
	"context"
	"time"
)

// ObjectStore is the blob-store surface the job runner depends on. Implemented
// by the S3 client in this package; tests substitute an in-memory fake.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// List returns all object keys under prefix, exhausting pagination.
	// Keys ending in "/" (folder placeholders) are skipped.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	// PresignGet issues a time-limited credential-free retrieval URL.
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
