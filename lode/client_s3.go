package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config locates a transcript dataset in S3 or an S3-compatible store.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
	// Region overrides the region from the AWS default chain.
	Region string
	// Endpoint points at an S3-compatible provider such as MinIO.
	Endpoint string
	// UsePathStyle puts the bucket in the URL path instead of the host.
	UsePathStyle bool
}

// Validate checks the bucket name.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	if n := len(c.Bucket); n < 3 || n > 63 {
		return fmt.Errorf("S3 bucket %q must be 3 to 63 characters", c.Bucket)
	}
	if strings.ContainsAny(c.Bucket, "/ ") {
		return fmt.Errorf("S3 bucket %q must not contain slashes or spaces", c.Bucket)
	}
	return nil
}

// ParseS3Path splits "bucket/prefix" into its parts. A leading "s3://" and
// surrounding slashes are ignored.
func ParseS3Path(path string) (bucket, prefix string) {
	path = strings.Trim(strings.TrimPrefix(path, "s3://"), "/")
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, prefix
}

// NewS3Factory builds a store factory over one S3 client. Credentials come
// from the AWS default chain.
func NewS3Factory(ctx context.Context, s3cfg S3Config) (lode.StoreFactory, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(s3cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, WrapInitError(fmt.Errorf("load AWS config: %w", err), s3cfg.Bucket)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.UsePathStyle
	})

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: s3cfg.Bucket,
			Prefix: s3cfg.Prefix,
		})
	}, nil
}

// NewLodeS3Client opens a transcript store in S3.
func NewLodeS3Client(ctx context.Context, cfg Config, s3cfg S3Config) (*LodeClient, error) {
	factory, err := NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewLodeClientWithFactory(cfg, factory)
}
