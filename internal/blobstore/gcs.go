// Package blobstore keeps oversized step results out of the hot job
// record: the engine hands it the serialized result, it returns a
// gcs://bucket/key ref, and the record carries the ref instead of the
// bytes. Resolution happens lazily, only when a replayed step actually
// reads its cached result.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/flowkit/durable/internal/platform/config"
	"github.com/flowkit/durable/internal/platform/logger"
)

const refScheme = "gcs://"

// GCSStore implements the engine's BlobStore seam over one Google Cloud
// Storage bucket. A nil *GCSStore is a valid no-op receiver so callers
// can wire it unconditionally.
type GCSStore struct {
	client *storage.Client
	bucket string
	log    *logger.Logger
}

// NewFromEnv opens a GCSStore against BLOB_GCS_BUCKET. Returns (nil, nil)
// when the bucket is unset, making blob offload an opt-in feature.
// BLOB_GCS_ENDPOINT points the client at a local emulator for dev runs.
func NewFromEnv(ctx context.Context, log *logger.Logger) (*GCSStore, error) {
	bucket := strings.TrimSpace(config.GetEnv("BLOB_GCS_BUCKET", "", nil))
	if bucket == "" {
		return nil, nil
	}
	var opts []option.ClientOption
	if endpoint := strings.TrimSpace(config.GetEnv("BLOB_GCS_ENDPOINT", "", nil)); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: init storage client: %w", err)
	}
	storeLog := log
	if storeLog != nil {
		storeLog = storeLog.With("service", "blobstore.GCSStore")
	}
	return &GCSStore{client: client, bucket: bucket, log: storeLog}, nil
}

// Close releases the underlying storage client.
func (s *GCSStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Put writes data under a key derived from the owning workflow, job and
// step, and returns the gcs:// ref to store in their place.
func (s *GCSStore) Put(ctx context.Context, workflowID, jobID, stepID string, data []byte) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("blobstore: not configured")
	}
	key := fmt.Sprintf("%s/%s/%s", workflowID, jobID, stepID)
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("blobstore: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("blobstore: close %s: %w", key, err)
	}
	return refScheme + s.bucket + "/" + key, nil
}

// Get resolves a ref produced by Put back to the stored bytes.
func (s *GCSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("blobstore: not configured")
	}
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open %s: %w", ref, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// ParseRef splits a gcs://bucket/key ref into its bucket and key.
func ParseRef(ref string) (bucket, key string, err error) {
	if !strings.HasPrefix(ref, refScheme) {
		return "", "", fmt.Errorf("blobstore: not a gcs ref: %q", ref)
	}
	rest := strings.TrimPrefix(ref, refScheme)
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 || slash == len(rest)-1 {
		return "", "", fmt.Errorf("blobstore: malformed ref: %q", ref)
	}
	return rest[:slash], rest[slash+1:], nil
}
