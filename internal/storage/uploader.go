// Package storage delivers finished artifacts to S3-compatible object
// storage and hands back time-limited retrieval URLs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// presignExpiry is how long generated retrieval URLs stay valid.
const presignExpiry = 7 * 24 * time.Hour

// S3Config holds the connection settings for the artifact bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// Complete reports whether every required field is set. An incomplete config
// means artifact delivery falls back to inline encoding.
func (c S3Config) Complete() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Region != "" && c.Bucket != ""
}

// MissingKeys lists the unset required fields by their environment names, for
// startup diagnostics.
func (c S3Config) MissingKeys() []string {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, "BUCKET_ENDPOINT_URL")
	}
	if c.AccessKey == "" {
		missing = append(missing, "BUCKET_ACCESS_KEY_ID")
	}
	if c.SecretKey == "" {
		missing = append(missing, "BUCKET_SECRET_ACCESS_KEY")
	}
	if c.Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if c.Bucket == "" {
		missing = append(missing, "S3_BUCKET_NAME")
	}
	return missing
}

// Uploader persists one artifact file and returns a retrieval URL for it.
type Uploader interface {
	Upload(ctx context.Context, jobID, localPath string) (string, error)
}

// Compile-time interface satisfaction check.
var _ Uploader = (*S3Uploader)(nil)

// S3Uploader implements Uploader against an S3-compatible endpoint.
type S3Uploader struct {
	client *minio.Client
	bucket string
}

// NewS3Uploader builds an uploader from a complete S3Config. The endpoint may
// be given as a bare host or a URL; a https scheme selects TLS.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if !cfg.Complete() {
		return nil, fmt.Errorf("bucket configuration is missing or incomplete, missing key(s): %v", cfg.MissingKeys())
	}

	endpoint, secure := splitEndpoint(cfg.Endpoint)
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}

	return &S3Uploader{client: client, bucket: cfg.Bucket}, nil
}

// Upload reads the artifact at localPath, stores it under
// {jobID}/{generatedName}{ext}, and returns a presigned retrieval URL.
func (u *S3Uploader) Upload(ctx context.Context, jobID, localPath string) (string, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}

	ext := filepath.Ext(localPath)
	key := jobID + "/" + objectName() + ext

	_, err = u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentTypeFor(ext),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	url, err := u.client.PresignedGetObject(ctx, u.bucket, key, presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return url.String(), nil
}

// objectName generates a short random name for a stored artifact.
func objectName() string {
	return uuid.NewString()[:8]
}

func contentTypeFor(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return "application/octet-stream"
	}
	return "image/" + ext
}

// splitEndpoint strips an optional URL scheme from the configured endpoint
// and reports whether TLS should be used. Bare hosts default to TLS off only
// when explicitly http; otherwise minio expects host:port plus a secure flag.
func splitEndpoint(endpoint string) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	default:
		return endpoint, true
	}
}
