// Package storage keeps the original document files in a MinIO bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// ErrNotConfigured is returned when Init has not set up a client.
var ErrNotConfigured = errors.New("object storage not configured")

// MaxDocumentSize bounds downloads kept in memory.
const MaxDocumentSize = 10 << 20

var Client *minio.Client
var BucketName string

// Init connects to MinIO using the MINIO_* variables and checks the bucket.
func Init() error {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if endpoint == "" || accessKey == "" || secretKey == "" {
		return ErrNotConfigured
	}

	bucket := os.Getenv("MINIO_BUCKET")
	if bucket == "" {
		bucket = "documentos"
	}
	useSSL := os.Getenv("MINIO_USE_SSL") == "true"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	// Verify bucket exists
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}

	Client = client
	BucketName = bucket
	log.Info().Str("endpoint", endpoint).Str("bucket", bucket).Msg("object storage ready")
	return nil
}

// Available reports whether Init succeeded.
func Available() bool { return Client != nil }

// Check verifies the bucket is still reachable.
func Check(ctx context.Context) error {
	if Client == nil {
		return ErrNotConfigured
	}
	_, err := Client.BucketExists(ctx, BucketName)
	return err
}

// ObjectPath builds the multi-tenant object name
// {empresa_alias}/YYYY/MM/{filename}.
func ObjectPath(empresaAlias, filename string, now time.Time) string {
	if empresaAlias == "" {
		empresaAlias = "public"
	}
	return fmt.Sprintf("%s/%d/%02d/%s", empresaAlias, now.Year(), now.Month(), path.Base(filename))
}

// ObjectName strips the bucket prefix stored in the database.
func ObjectName(objectPath string) string {
	return strings.TrimPrefix(objectPath, BucketName+"/")
}

// UploadDocument stores a document and returns "bucket/object" for the
// database.
func UploadDocument(ctx context.Context, empresaAlias, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	if Client == nil {
		return "", ErrNotConfigured
	}
	objectName := ObjectPath(empresaAlias, filename, time.Now())

	_, err := Client.PutObject(ctx, BucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	return BucketName + "/" + objectName, nil
}

// DownloadDocument reads a stored document into memory.
func DownloadDocument(ctx context.Context, objectPath string) ([]byte, error) {
	if Client == nil {
		return nil, ErrNotConfigured
	}
	obj, err := Client.GetObject(ctx, BucketName, ObjectName(objectPath), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("document %s exceeds %d bytes", objectPath, MaxDocumentSize)
	}
	return data, nil
}

// GetPresignedURL generates a presigned URL valid for 24 hours.
func GetPresignedURL(ctx context.Context, objectPath string) (string, error) {
	if Client == nil {
		return "", ErrNotConfigured
	}
	url, err := Client.PresignedGetObject(ctx, BucketName, ObjectName(objectPath), 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// DeleteDocument removes a document from storage
func DeleteDocument(ctx context.Context, objectPath string) error {
	if Client == nil {
		return ErrNotConfigured
	}
	return Client.RemoveObject(ctx, BucketName, ObjectName(objectPath), minio.RemoveObjectOptions{})
}

// FileExtension maps a content type to the extension used for stored files.
func FileExtension(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.TrimSpace(strings.ToLower(contentType)) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/tiff":
		return ".tiff"
	case "image/bmp":
		return ".bmp"
	case "application/pdf":
		return ".pdf"
	case "text/xml", "application/xml":
		return ".xml"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
