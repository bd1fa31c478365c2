/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config contains configuration for the S3 song mirror.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Endpoint        string // Custom endpoint for S3-compatible services
	UsePathStyle    bool   // Required for MinIO
	KeyPrefix       string
}

// S3Mirror copies downloaded songs to an S3 bucket.
type S3Mirror struct {
	client *s3.Client
	cfg    S3Config
	logger zerolog.Logger
}

// NewS3Mirror creates an S3 mirror.
func NewS3Mirror(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "songs/"
	}

	logger.Info().Str("bucket", cfg.Bucket).Str("region", cfg.Region).Msg("S3 song mirror initialized")

	return &S3Mirror{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "s3_mirror").Logger(),
	}, nil
}

// Key returns the object key used for a local song path.
func (m *S3Mirror) Key(songPath string) string {
	return m.cfg.KeyPrefix + filepath.Base(songPath)
}

// Upload copies the song file to the bucket.
func (m *S3Mirror) Upload(ctx context.Context, songPath string) error {
	f, err := os.Open(songPath)
	if err != nil {
		return fmt.Errorf("open song: %w", err)
	}
	defer f.Close()

	key := m.Key(songPath)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("audio/mpeg"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	m.logger.Debug().Str("key", key).Msg("song uploaded")
	return nil
}

// Delete removes the mirrored copy of a song.
func (m *S3Mirror) Delete(ctx context.Context, songPath string) error {
	key := m.Key(songPath)
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
