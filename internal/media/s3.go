// internal/media/s3.go
// Package media resolves content video locations into URLs a player can stream.
// Object keys are presigned against an S3-compatible bucket; absolute URLs pass through.
package media

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Resolver turns a stored videoUrl into a playable URL.
type Resolver interface {
	PlaybackURL(ctx context.Context, videoURL string) (url string, expiresAt time.Time, err error)
	ObjectExists(ctx context.Context, videoURL string) error
}

// Passthrough is used when no bucket is configured: every videoUrl is already playable.
type Passthrough struct{}

func (Passthrough) PlaybackURL(ctx context.Context, videoURL string) (string, time.Time, error) {
	return videoURL, time.Time{}, nil
}

func (Passthrough) ObjectExists(ctx context.Context, videoURL string) error { return nil }

// S3Client wraps the AWS S3 client for playback URL generation.
type S3Client struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

// NewS3Client creates a client for AWS S3 or an S3-compatible service such as MinIO.
func NewS3Client(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, ttl time.Duration) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey}, nil
			})))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = endpoint != ""
	})

	return &S3Client{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		ttl:     ttl,
	}, nil
}

// IsObjectKey reports whether videoURL refers to the bucket rather than an external URL.
func IsObjectKey(videoURL string) bool {
	return !strings.HasPrefix(videoURL, "http://") && !strings.HasPrefix(videoURL, "https://")
}

// PlaybackURL presigns a GET for object keys and returns absolute URLs unchanged.
func (s *S3Client) PlaybackURL(ctx context.Context, videoURL string) (string, time.Time, error) {
	if !IsObjectKey(videoURL) {
		return videoURL, time.Time{}, nil
	}
	key := strings.TrimPrefix(videoURL, "s3://"+s.bucket+"/")
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign playback URL: %w", err)
	}
	return req.URL, time.Now().Add(s.ttl).UTC(), nil
}

// ObjectExists checks that an object key is present in the bucket.
func (s *S3Client) ObjectExists(ctx context.Context, videoURL string) error {
	if !IsObjectKey(videoURL) {
		return nil
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(strings.TrimPrefix(videoURL, "s3://"+s.bucket+"/")),
	})
	if err != nil {
		return fmt.Errorf("video object %q not found: %w", videoURL, err)
	}
	return nil
}
