// Package shots publishes iteration screenshots to S3-compatible object
// storage. A Publisher plugs into refine.WithScreenshotPublisher; the
// snapshot then references s3://bucket/key instead of the local file.
package shots

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hazyhaar/uirefine/refine"
)

var _ refine.ScreenshotPublisher = (*Publisher)(nil)

// Config configures a Publisher.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`

	Logger *slog.Logger `yaml:"-"`
}

// Publisher uploads screenshots with minio-go.
type Publisher struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	logger *slog.Logger

	initOnce sync.Once
	initErr  error
}

// New validates cfg and creates the client. No request is made until the
// first Publish.
func New(cfg Config) (*Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("shots: endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("shots: access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("shots: bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("shots: init client: %w", err)
	}
	return &Publisher{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		logger: logger,
	}, nil
}

// Bucket returns the target bucket.
func (p *Publisher) Bucket() string { return p.bucket }

func (p *Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Publish uploads the file at path and returns its s3:// reference.
func (p *Publisher) Publish(ctx context.Context, runID, path string) (string, error) {
	runID = strings.TrimSpace(runID)
	path = strings.TrimSpace(path)
	if runID == "" {
		return "", fmt.Errorf("shots: run_id is required")
	}
	if path == "" {
		return "", fmt.Errorf("shots: path is required")
	}
	if err := p.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("shots: ensure bucket: %w", err)
	}

	key := p.objectKey(runID, filepath.Base(path))
	info, err := p.client.FPutObject(ctx, p.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType(path),
	})
	if err != nil {
		return "", fmt.Errorf("shots: upload %s: %w", key, err)
	}
	p.logger.Debug("shots: published", "run_id", runID, "key", key, "size", info.Size)
	return "s3://" + p.bucket + "/" + key, nil
}

// List returns the screenshot names stored for a run, sorted.
func (p *Publisher) List(ctx context.Context, runID string) ([]string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("shots: run_id is required")
	}
	if err := p.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("shots: ensure bucket: %w", err)
	}

	prefix := p.objectKey(runID, "")
	names := make([]string, 0, 8)
	for obj := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key == "" {
			continue
		}
		names = append(names, strings.TrimPrefix(obj.Key, prefix))
	}
	sort.Strings(names)
	return names, nil
}

// URL returns a presigned GET URL for a published screenshot, valid for
// expiry.
func (p *Publisher) URL(ctx context.Context, runID, name string, expiry time.Duration) (string, error) {
	u, err := p.client.PresignedGetObject(ctx, p.bucket, p.objectKey(runID, name), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("shots: presign: %w", err)
	}
	return u.String(), nil
}

func (p *Publisher) objectKey(runID, name string) string {
	key := strings.TrimSpace(runID) + "/" + strings.TrimLeft(strings.TrimSpace(name), "/")
	if p.prefix != "" {
		key = p.prefix + "/" + key
	}
	return key
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}
