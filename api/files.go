package api

import (
	"context"
	"io"

	"github.com/facturaIA/dte-extraction-service/internal/storage"
)

// FileStore keeps the original uploaded files.
type FileStore interface {
	Upload(ctx context.Context, alias, filename string, r io.Reader, size int64, contentType string) (string, error)
	PresignedURL(ctx context.Context, objectPath string) (string, error)
	Delete(ctx context.Context, objectPath string) error
	Check(ctx context.Context) error
}

// MinioFiles is the FileStore backed by the storage package client.
type MinioFiles struct{}

func (MinioFiles) Upload(ctx context.Context, alias, filename string, r io.Reader, size int64, contentType string) (string, error) {
	return storage.UploadDocument(ctx, alias, filename, r, size, contentType)
}

func (MinioFiles) PresignedURL(ctx context.Context, objectPath string) (string, error) {
	return storage.GetPresignedURL(ctx, objectPath)
}

func (MinioFiles) Delete(ctx context.Context, objectPath string) error {
	return storage.DeleteDocument(ctx, objectPath)
}

func (MinioFiles) Check(ctx context.Context) error {
	return storage.Check(ctx)
}
