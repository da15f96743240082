package ports

import (
	"context"
	"io"
	"time"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	ObjectKey string
	Size      int64
	// Location is the URL a worker fetches the object from
	// (s3://, gs://, file://).
	Location string
}

type ObjectInfo struct {
	ObjectKey string
	Size      int64
	UpdatedAt time.Time
}

// ObjectStore holds the processing script workers download at bootstrap.
// Implementations: localfs, s3, gcs.
type ObjectStore interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	// StatObject returns a NotFound error when the key does not exist.
	StatObject(ctx context.Context, objectKey string) (ObjectInfo, error)
	// Location is the fetch URL for objectKey as seen from a worker.
	Location(objectKey string) string
}
