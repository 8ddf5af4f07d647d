package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/keystone-storage/objseal/internal/metrics"
)

// instrumentedBackend decorates a Backend with operation metrics.
type instrumentedBackend struct {
	next Backend
	m    *metrics.Metrics
}

// WithMetrics wraps a Backend so every operation records its duration
// and failures.
func WithMetrics(next Backend, m *metrics.Metrics) Backend {
	if m == nil {
		return next
	}
	return &instrumentedBackend{next: next, m: m}
}

func (b *instrumentedBackend) record(operation string, start time.Time, err error) {
	b.m.RecordBackendOperation(operation, time.Since(start))
	if err != nil {
		errType := "other"
		if errors.Is(err, ErrNotFound) {
			errType = "not_found"
		}
		b.m.RecordBackendError(operation, errType)
	}
}

func (b *instrumentedBackend) PutObject(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) error {
	start := time.Now()
	err := b.next.PutObject(ctx, key, body, contentType, metadata)
	b.record("put_object", start, err)
	return err
}

func (b *instrumentedBackend) GetObject(ctx context.Context, key, byteRange string) (io.ReadCloser, *ObjectInfo, error) {
	start := time.Now()
	body, info, err := b.next.GetObject(ctx, key, byteRange)
	b.record("get_object", start, err)
	return body, info, err
}

func (b *instrumentedBackend) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := b.next.HeadObject(ctx, key)
	b.record("head_object", start, err)
	return info, err
}

func (b *instrumentedBackend) DeleteObject(ctx context.Context, key string) error {
	start := time.Now()
	err := b.next.DeleteObject(ctx, key)
	b.record("delete_object", start, err)
	return err
}

func (b *instrumentedBackend) ListObjects(ctx context.Context, prefix string, opts ListOptions) ([]ObjectSummary, error) {
	start := time.Now()
	objects, err := b.next.ListObjects(ctx, prefix, opts)
	b.record("list_objects", start, err)
	return objects, err
}
