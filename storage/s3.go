// Package storage produces short-lived presigned URLs for ebook assets
// held in S3-compatible object storage. Assets are never proxied through
// the application; customers download straight from the bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrSignFailed wraps presigning failures. Callers treat it as an internal
// condition; a valid entitlement must never surface it as a client fault.
var ErrSignFailed = errors.New("failed to sign asset url")

// DefaultSignTTL bounds how long a generated download URL stays valid.
// Links are re-signed on every authorized request, so short is safe.
const DefaultSignTTL = time.Hour

// Config holds object storage connection settings. Endpoint and path-style
// addressing support S3-compatible providers like MinIO and Backblaze.
type Config struct {
	Region         string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"S3_SECRET_ACCESS_KEY"`
	Endpoint       string `env:"S3_ENDPOINT"`
	ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`
}

// presigner is the slice of the presign client the store uses. Narrowed for
// tests.
type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Storage signs time-limited GET URLs for objects. Buckets are passed per
// call because products pin their own bucket and path.
type S3Storage struct {
	presign presigner
}

// New builds the storage client from configuration.
func New(ctx context.Context, cfg Config) (*S3Storage, error) {
	awsOptions := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		awsOptions = append(awsOptions,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretKey,
				"",
			)),
		)
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &S3Storage{presign: s3.NewPresignClient(client)}, nil
}

// NewWithPresigner builds a storage client around an existing presigner.
// Used by tests.
func NewWithPresigner(p presigner) *S3Storage {
	return &S3Storage{presign: p}
}

// SignedURL returns a presigned GET URL for the object valid for ttl.
// A non-positive ttl falls back to DefaultSignTTL.
func (s *S3Storage) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultSignTTL
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	}, func(o *s3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return "", errors.Join(ErrSignFailed, err)
	}
	return req.URL, nil
}
