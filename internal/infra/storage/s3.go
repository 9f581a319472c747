// Package storage persists rendered images to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"html2image/internal/config"
)

// s3API is the subset of *s3.Client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Ensure S3Store implements ObjectStore
var _ ObjectStore = (*S3Store)(nil)

// S3Store implements ObjectStore on AWS S3 or any S3-compatible service
// (MinIO, LocalStack, RustFS).
type S3Store struct {
	client        s3API
	bucket        string
	region        string
	endpoint      string
	publicBaseURL string
	publicRead    bool
}

// NewS3Store builds an S3 client from cfg. Static credentials are used when
// configured; otherwise the default AWS credential chain applies.
func NewS3Store(cfg config.StorageConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return newS3Store(client, cfg, region, endpoint), nil
}

func newS3Store(client s3API, cfg config.StorageConfig, region, endpoint string) *S3Store {
	return &S3Store{
		client:        client,
		bucket:        cfg.Bucket,
		region:        region,
		endpoint:      endpoint,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		publicRead:    cfg.PublicReadEnabled(),
	}
}

// Put uploads data under key and returns the object's public URL.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	if key == "" {
		return "", errors.New("storage key is required")
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		Metadata:      metadata,
	}
	if s.publicRead {
		in.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}
	return s.PublicURL(key), nil
}

// Ping checks that the bucket exists and is reachable with the configured credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var notFound *types.NotFound
		var noSuchBucket *types.NoSuchBucket
		if errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
			return fmt.Errorf("bucket %s does not exist: %w", s.bucket, err)
		}
		return fmt.Errorf("failed to reach bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Delete removes the object stored under key.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Bucket returns the bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// PublicURL builds the URL under which key is reachable.
func (s *S3Store) PublicURL(key string) string {
	switch {
	case s.publicBaseURL != "":
		return s.publicBaseURL + "/" + key
	case s.endpoint != "":
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	}
}
