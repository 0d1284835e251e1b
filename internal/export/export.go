// Package export writes the claimed-number artifact to its destination.
package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kkkkikiki/leadpool/internal/config"
)

// ContentType of every artifact written by this package.
const ContentType = "text/plain; charset=utf-8"

// Sink stores an artifact and returns where it was written.
type Sink interface {
	Write(ctx context.Context, data []byte) (string, error)
}

// FileSink writes the artifact to a local path
type FileSink struct {
	Path string
}

// Write replaces the file at Path
func (f *FileSink) Write(_ context.Context, data []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return f.Path, nil
}

// ObjectPutter is the subset of the S3 client the sink needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads the artifact to a bucket
type S3Sink struct {
	Client ObjectPutter
	Bucket string
	Key    string
}

// Write uploads data as Bucket/Key
func (s *S3Sink) Write(ctx context.Context, data []byte) (string, error) {
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(s.Key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(ContentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload export to s3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.Bucket, s.Key), nil
}

// NewSink builds the sink selected by cfg
func NewSink(ctx context.Context, cfg config.ExportConfig) (Sink, error) {
	switch cfg.Sink {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		})
		return &S3Sink{Client: client, Bucket: cfg.Bucket, Key: cfg.Key}, nil
	case "file", "":
		return &FileSink{Path: cfg.Path}, nil
	default:
		return nil, fmt.Errorf("unknown export sink %q", cfg.Sink)
	}
}
