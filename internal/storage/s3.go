// Package storage provides the blob store client for raw screenshot
// images, backed by S3 (or any S3-compatible endpoint).
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
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/screenvault/screenvault/internal/config"
)

// ErrStorageUnavailable wraps any blob store failure surfaced to
// callers; the underlying cause is retained in the chain.
var ErrStorageUnavailable = errors.New("storage: blob store unavailable")

// BlobStore is the contract the rest of the system depends on. The
// locator returned by Upload is the object key; it is immutable once
// recorded on a screenshot.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string) (string, error)
}

// Uploader and Downloader mirror the manager types so tests can inject
// fakes without a live S3 endpoint.
type Uploader interface {
	Upload(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type Downloader interface {
	Download(ctx context.Context, w io.WriterAt, params *s3.GetObjectInput, optFns ...func(*manager.Downloader)) (int64, error)
}

type S3API interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Client implements BlobStore on AWS S3.
type S3Client struct {
	client     S3API
	uploader   Uploader
	downloader Downloader
	presign    *s3.PresignClient
	cfg        config.StorageConfig
}

// NewS3Client creates an S3-backed blob store. A custom endpoint (for
// LocalStack or MinIO) is honored when configured.
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*S3Client, error) {
	var options []func(*awsconfig.LoadOptions) error
	options = append(options, awsconfig.WithRegion(cfg.Region))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Options := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = cfg.UploadPartSize
		u.Concurrency = cfg.Concurrency
	})
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = cfg.UploadPartSize
		d.Concurrency = cfg.Concurrency
	})

	return &S3Client{
		client:     client,
		uploader:   uploader,
		downloader: downloader,
		presign:    s3.NewPresignClient(client),
		cfg:        cfg,
	}, nil
}

// Upload writes the image bytes under the given key.
func (c *S3Client) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrStorageUnavailable)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: data cannot be empty", ErrStorageUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: upload %s: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}

// Download fetches the object bytes for the given key.
func (c *S3Client) Download(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key cannot be empty", ErrStorageUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := c.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: download %s: %v", ErrStorageUnavailable, key, err)
	}
	return buf.Bytes(), nil
}

// Delete removes the object. Deleting a missing key is not an error.
func (c *S3Client) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrStorageUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}

// SignedURL issues a presigned GET URL for the object, valid for the
// configured TTL.
func (c *S3Client) SignedURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: key cannot be empty", ErrStorageUnavailable)
	}

	ttl := c.cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %v", ErrStorageUnavailable, key, err)
	}
	return req.URL, nil
}
