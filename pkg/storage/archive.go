package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveStore persists dead-letter post-mortem documents outside the
// relational store. The returned reference is stored on the DLQ row.
type ArchiveStore interface {
	// Store saves a post-mortem document and returns a reference.
	Store(ctx context.Context, jobID string, doc []byte) (string, error)
	// Retrieve fetches a document by reference.
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// S3ArchiveStore uploads post-mortems to S3-compatible storage.
type S3ArchiveStore struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localCache string
}

// S3ArchiveConfig holds S3 configuration.
type S3ArchiveConfig struct {
	Bucket          string
	Prefix          string // e.g. "deadletter/"
	Region          string
	Endpoint        string // non-empty for MinIO and friends
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string
}

// NewS3ArchiveStore builds the S3 client and prepares the local cache.
func NewS3ArchiveStore(ctx context.Context, cfg S3ArchiveConfig) (*S3ArchiveStore, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}
	client := s3.NewFromConfig(awsCfg, clientOpts...)

	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &S3ArchiveStore{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		localCache: cfg.LocalCacheDir,
	}, nil
}

func (s *S3ArchiveStore) Store(ctx context.Context, jobID string, doc []byte) (string, error) {
	key := s.buildKey(jobID)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(doc),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload post-mortem to S3: %w", err)
	}

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, jobID+".json")
		_ = os.WriteFile(cachePath, doc, 0644)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3ArchiveStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	key := s.extractKey(reference)

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, filepath.Base(key))
		if data, err := os.ReadFile(cachePath); err == nil {
			return data, nil
		}
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get post-mortem from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read post-mortem: %w", err)
	}

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, filepath.Base(key))
		_ = os.WriteFile(cachePath, data, 0644)
	}

	return data, nil
}

func (s *S3ArchiveStore) buildKey(jobID string) string {
	date := time.Now().UTC().Format("2006/01/02")
	return fmt.Sprintf("%s%s/%s.json", s.prefix, date, jobID)
}

func (s *S3ArchiveStore) extractKey(reference string) string {
	if len(reference) > 5 && reference[:5] == "s3://" {
		parts := reference[5:]
		for i, c := range parts {
			if c == '/' {
				return parts[i+1:]
			}
		}
	}
	return reference
}

// LocalArchiveStore keeps post-mortems on the local filesystem; the default
// for development and single-node deployments.
type LocalArchiveStore struct {
	basePath string
}

func NewLocalArchiveStore(basePath string) (*LocalArchiveStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalArchiveStore{basePath: basePath}, nil
}

func (l *LocalArchiveStore) Store(ctx context.Context, jobID string, doc []byte) (string, error) {
	path := filepath.Join(l.basePath, jobID+".json")
	if err := os.WriteFile(path, doc, 0644); err != nil {
		return "", fmt.Errorf("failed to write post-mortem: %w", err)
	}
	return path, nil
}

func (l *LocalArchiveStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return os.ReadFile(reference)
}
