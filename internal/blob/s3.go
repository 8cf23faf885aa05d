package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"machine-catalog-backend/config"
)

// S3 stores images in one bucket of an S3-compatible backend (AWS S3 or
// MinIO). Object keys are flat.
type S3 struct {
	client *s3.Client
	bucket string
	prefix urlPrefix
}

// S3Option customizes the client built by NewS3.
type S3Option func(*s3.Options)

// WithHTTPClient routes S3 traffic through c.
func WithHTTPClient(c *http.Client) S3Option {
	return func(o *s3.Options) { o.HTTPClient = c }
}

// NewS3 creates an S3 blob store. Explicit keys in cfg take precedence over
// the default credentials chain.
func NewS3(ctx context.Context, cfg config.S3BlobConfig, opts ...S3Option) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		for _, opt := range opts {
			opt(o)
		}
	})

	return &S3{client: client, bucket: cfg.Bucket, prefix: newURLPrefix(publicBase(cfg, region))}, nil
}

// publicBase is where stored objects can be fetched from by browsers.
func publicBase(cfg config.S3BlobConfig, region string) string {
	if cfg.PublicURL != "" {
		return cfg.PublicURL
	}
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
}

func (s *S3) Driver() Driver { return DriverS3 }

func (s *S3) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	key := newKey(contentType)
	input := &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return s.prefix.urlFor(key), nil
}

func (s *S3) Delete(ctx context.Context, url string) error {
	key, ok := s.prefix.keyOf(url)
	if !ok {
		return ErrForeignURL
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (s *S3) Owns(url string) bool {
	_, ok := s.prefix.keyOf(url)
	return ok
}
