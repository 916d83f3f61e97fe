package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned (wrapped) when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage defines the object storage operations used by the remote file tier.
// It is kept small so MinIO can be swapped for another S3-compatible backend.
type ObjectStorage interface {
	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (ObjectReader, error)

	// PutObject uploads sizeBytes bytes from reader.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)
}

// ObjectReader is a streaming reader for object data.
type ObjectReader interface {
	Read(p []byte) (int, error)
	Close() error
}

// ObjectStat contains object metadata.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
