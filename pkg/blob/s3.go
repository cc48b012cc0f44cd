// Package blob stores audio artifacts in S3-compatible object storage.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// TurnClipKey names a per-turn clip. The key encodes session, turn index,
// and speaker so clips are independently addressable and a re-upload of the
// same turn overwrites rather than duplicates.
func TurnClipKey(sessionID string, index int, speaker, ext string) string {
	return fmt.Sprintf("sessions/%s/turn-%03d-%s.%s", sessionID, index, speaker, strings.TrimPrefix(ext, "."))
}

// SessionAudioKey names the full-session recording.
func SessionAudioKey(sessionID string) string {
	return fmt.Sprintf("sessions/%s/full.ogg", sessionID)
}

// Config configures the S3 store.
type Config struct {
	Bucket string
	Region string
	// Endpoint overrides the S3 endpoint for compatible stores (MinIO, R2).
	Endpoint string
	// PublicBaseURL is the URL prefix returned for uploaded objects. If
	// empty, the standard virtual-hosted S3 URL is used.
	PublicBaseURL string
	// Static credentials; if empty the default AWS chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// Store uploads blobs to one bucket.
type Store struct {
	client *s3.Client
	cfg    Config
}

// New creates a store from the config and ambient AWS environment.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Store{client: client, cfg: cfg}, nil
}

// Upload puts data under key and returns its public URL. Same-key uploads
// overwrite, which makes retries idempotent.
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("blob: put %s: %w", key, err)
	}
	return s.URL(key), nil
}

// URL returns the public URL of an object.
func (s *Store) URL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(s.cfg.PublicBaseURL, "/") + "/" + key
	}
	if s.cfg.Endpoint != "" {
		return strings.TrimSuffix(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}
