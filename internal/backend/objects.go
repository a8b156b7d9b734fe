package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioObjectStore stores media blobs in an s3-compatible bucket.
type MinioObjectStore struct {
	client *minio.Client
	bucket string
}

func NewMinioObjectStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioObjectStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioObjectStore{client: client, bucket: bucket}, nil
}

func (s *MinioObjectStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "max-age=3600",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return nil
}

func (s *MinioObjectStore) PublicURL(path string) string {
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL(), s.bucket, path)
}

var ErrStorageUnavailable = errors.New("object storage unavailable")

// MemoryObjectStore holds blobs in memory. SetAvailable simulates network
// loss, which the upload retry tests and local mode lean on.
type MemoryObjectStore struct {
	mu        sync.RWMutex
	objects   map[string][]byte
	available bool
	baseURL   string
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects:   make(map[string][]byte),
		available: true,
		baseURL:   "mem://media",
	}
}

func (s *MemoryObjectStore) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

func (s *MemoryObjectStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return ErrStorageUnavailable
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[path] = buf
	return nil
}

func (s *MemoryObjectStore) PublicURL(path string) string {
	return s.baseURL + "/" + path
}

// Get returns a stored blob, for test assertions.
func (s *MemoryObjectStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	return data, ok
}
