// Package blob stores receipt images. The core keeps only the returned
// reference and resolves it to a URL on read.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/option"

	"github.com/notimo/notimo-api/internal/domain"
	"github.com/notimo/notimo-api/internal/infra/resilience"
)

var tracer = otel.Tracer("infra/blob")

// GCSStore keeps blobs in a Google Cloud Storage bucket behind a circuit
// breaker and retry.
type GCSStore struct {
	client *storage.Client
	bucket string
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
}

// NewGCSStore opens a storage client. An empty credentialsFile falls back to
// application default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return NewGCSStoreWithClient(client, bucket, cb, cfg), nil
}

// NewGCSStoreWithClient wraps an existing client.
func NewGCSStoreWithClient(client *storage.Client, bucket string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, cb: cb, cfg: cfg}
}

// Put uploads r as object name. The body is buffered so a retry can replay it.
func (s *GCSStore) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	ctx, span := tracer.Start(ctx, "GCSStore.Put")
	defer span.End()
	span.SetAttributes(attribute.String("gcs.bucket", s.bucket), attribute.String("gcs.object", name))

	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}

	err = s.execute(ctx, func() error {
		wc := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
		wc.ContentType = contentType
		if _, err := io.Copy(wc, bytes.NewReader(body)); err != nil {
			_ = wc.Close()
			return err
		}
		return wc.Close()
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// Delete removes the object. A missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	ctx, span := tracer.Start(ctx, "GCSStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("gcs.object", ref))

	return s.execute(ctx, func() error {
		err := s.client.Bucket(s.bucket).Object(ref).Delete(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return err
	})
}

// URL returns the public URL of ref.
func (s *GCSStore) URL(ref string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, ref)
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) execute(ctx context.Context, fn func() error) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, s.cfg, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: "gcs"}
	}
	if err != nil {
		return &domain.ErrExternalService{Service: "gcs", Err: err}
	}
	return nil
}
