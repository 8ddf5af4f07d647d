// Package storage is the S3 backend client the gateway stores ciphertext
// in. All objects live in a single configured bucket; callers address
// them by key only.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/keystone-storage/objseal/internal/config"
)

// ErrNotFound reports that the requested object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// ObjectInfo describes a stored object. Size is the stored (ciphertext)
// size, not the plaintext size.
type ObjectInfo struct {
	Key          string
	Size         uint64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// ObjectSummary is one entry of a bucket listing.
type ObjectSummary struct {
	Key          string
	Size         uint64
	ETag         string
	LastModified time.Time
}

// ListOptions holds options for listing objects.
type ListOptions struct {
	Delimiter string
	Marker    string
	MaxKeys   int32
}

// Backend is the object storage interface the gateway uses.
type Backend interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) error
	GetObject(ctx context.Context, key, byteRange string) (io.ReadCloser, *ObjectInfo, error)
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string, opts ListOptions) ([]ObjectSummary, error)
}

// s3Backend implements Backend using AWS SDK v2 against any
// S3-compatible endpoint.
type s3Backend struct {
	client *s3.Client
	bucket string
}

// NewBackend creates a Backend for the configured bucket.
func NewBackend(cfg *config.BackendConfig, bucket string) (Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &s3Backend{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: bucket,
	}, nil
}

// PutObject uploads an object. The body is buffered before upload since
// encrypting readers cannot be rewound for the SDK's retry logic.
func (b *s3Backend) PutObject(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read object data: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: metadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, wrapNotFound(err))
	}
	return nil
}

// GetObject retrieves an object, or a byte span of it when byteRange is a
// non-empty "bytes=start-end" header value.
func (b *s3Backend) GetObject(ctx context.Context, key, byteRange string) (io.ReadCloser, *ObjectInfo, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}
	if byteRange != "" {
		input.Range = aws.String(byteRange)
	}

	result, err := b.client.GetObject(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object %s: %w", key, wrapNotFound(err))
	}

	info := &ObjectInfo{
		Key:      key,
		ETag:     aws.ToString(result.ETag),
		Metadata: result.Metadata,
	}
	if result.ContentLength != nil {
		info.Size = uint64(*result.ContentLength)
	}
	if result.ContentType != nil {
		info.ContentType = *result.ContentType
	}
	if result.LastModified != nil {
		info.LastModified = *result.LastModified
	}
	return result.Body, info, nil
}

// HeadObject retrieves object metadata without the body.
func (b *s3Backend) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to head object %s: %w", key, wrapNotFound(err))
	}

	info := &ObjectInfo{
		Key:      key,
		ETag:     aws.ToString(result.ETag),
		Metadata: result.Metadata,
	}
	if result.ContentLength != nil {
		info.Size = uint64(*result.ContentLength)
	}
	if result.ContentType != nil {
		info.ContentType = *result.ContentType
	}
	if result.LastModified != nil {
		info.LastModified = *result.LastModified
	}
	return info, nil
}

// DeleteObject deletes an object.
func (b *s3Backend) DeleteObject(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, wrapNotFound(err))
	}
	return nil
}

// ListObjects lists objects under a prefix.
func (b *s3Backend) ListObjects(ctx context.Context, prefix string, opts ListOptions) ([]ObjectSummary, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}
	if opts.Delimiter != "" {
		input.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.Marker != "" {
		input.ContinuationToken = aws.String(opts.Marker)
	}
	if opts.MaxKeys > 0 {
		input.MaxKeys = aws.Int32(opts.MaxKeys)
	}

	result, err := b.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	objects := make([]ObjectSummary, 0, len(result.Contents))
	for _, obj := range result.Contents {
		objects = append(objects, ObjectSummary{
			Key:          aws.ToString(obj.Key),
			Size:         uint64(aws.ToInt64(obj.Size)),
			ETag:         aws.ToString(obj.ETag),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return objects, nil
}

// wrapNotFound maps the backend's missing-object error codes onto
// ErrNotFound so callers can branch without knowing SDK types.
func wrapNotFound(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}
