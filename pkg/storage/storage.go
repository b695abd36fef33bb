package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/feichai0017/document-recognizer/pkg/logger"
	"github.com/feichai0017/document-recognizer/pkg/storage/minio"
	"github.com/feichai0017/document-recognizer/pkg/storage/s3"
)

type StorageType string

const (
	StorageTypeS3     StorageType = "s3"
	StorageTypeMinio  StorageType = "minio"
	StorageTypeMemory StorageType = "memory"
)

// Storage holds uploaded documents, results and reports. Get returns an
// error matching models.ErrNotFound for a missing key.
type Storage interface {
	Store(ctx context.Context, reader io.Reader, key, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

func NewStorage(ctx context.Context, storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, log)
	case StorageTypeMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// ReadAll fetches key fully into memory.
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// StoreBytes is Store for an in-memory payload.
func StoreBytes(ctx context.Context, s Storage, key, contentType string, data []byte) (string, error) {
	return s.Store(ctx, bytes.NewReader(data), key, contentType)
}

func UploadKey(taskID, fileName string) string {
	return path.Join("uploads", taskID, path.Base(fileName))
}

func ResultKey(taskID string) string {
	return path.Join("results", taskID+".json")
}

func ReportKey(taskID, format string) string {
	return path.Join("reports", taskID+"."+format)
}
