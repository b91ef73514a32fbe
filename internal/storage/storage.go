package storage

import (
	"context"
	"time"

	"s3sync/internal/domain"
)

// PutInput describes a whole-body object write.
type PutInput struct {
	Bucket          string
	Key             string
	Body            []byte
	ContentType     string
	ContentEncoding string
	CacheControl    string
	Expires         *time.Time
}

// ObjectIterator walks a listing lazily, fetching pages on demand.
// Next returns false once the listing is exhausted.
type ObjectIterator interface {
	Next(ctx context.Context) (domain.RemoteObject, bool, error)
}

// Service is the object store capability both sync engines consume.
// Write failures are reported as *domain.RemoteError.
type Service interface {
	EnsureBucket(ctx context.Context, bucket string) error
	ListObjects(ctx context.Context, bucket, prefix string) ObjectIterator
	PutObject(ctx context.Context, in PutInput) error
	SetPublicRead(ctx context.Context, bucket, key string) error
	DeleteObject(ctx context.Context, bucket, key string) error
}
