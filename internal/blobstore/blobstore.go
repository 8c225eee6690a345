// Package blobstore stores source PDFs and extracted images in S3 (or an
// S3-compatible endpoint) under content-addressed keys, grounded on the
// aws-sdk-go-v2 usage pattern in the companion EVE service's trace
// archival manager.
package blobstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store is the blob store interface every stage processor depends on,
// kept narrow so a future backend swap (e.g. a different object store)
// only needs to satisfy this.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// S3Store is the S3-backed Store implementation.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// Config configures an S3Store connection.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty for S3-compatible services (MinIO etc.)
	AccessKeyID     string
	SecretAccessKey string
}

// New constructs an S3Store, following the same aws-sdk-go-v2 bootstrap
// pattern as the archival manager: load default config, override the
// resolver when a custom endpoint is supplied.
func New(ctx context.Context, cfg Config) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

// Put uploads body under key, using multipart upload for large objects
// automatically (manager.Uploader's part-size threshold).
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get retrieves the object at key.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return out.Body, nil
}

// Exists reports whether key is present, used to skip re-uploading a
// content-addressed blob already stored under the same hash.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Delete removes the object at key.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ImageKey builds the content-addressed key for an extracted image.
func ImageKey(sha256Hex, ext string) string {
	return fmt.Sprintf("images/%s.%s", sha256Hex, ext)
}

// DocumentKey builds the key for an uploaded source document.
func DocumentKey(documentID, filename string) string {
	return fmt.Sprintf("documents/%s/%s", documentID, filename)
}
