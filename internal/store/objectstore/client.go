package objectstore

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/helixmem/engine/internal/engineerrors"
)

// Config holds the MinIO connection parameters.
type Config struct {
	Endpoint       string        `json:"endpoint" yaml:"endpoint"`
	AccessKey      string        `json:"access_key" yaml:"access_key"`
	SecretKey      string        `json:"secret_key" yaml:"secret_key"`
	UseSSL         bool          `json:"use_ssl" yaml:"use_ssl"`
	Region         string        `json:"region" yaml:"region"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	PartSize       int64         `json:"part_size" yaml:"part_size"`
}

// DefaultConfig returns sensible local-development connection defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:9000",
		AccessKey:      "minioadmin",
		SecretKey:      "minioadmin123",
		UseSSL:         false,
		Region:         "us-east-1",
		ConnectTimeout: 30 * time.Second,
		RequestTimeout: 60 * time.Second,
		PartSize:       16 * 1024 * 1024,
	}
}

// Validate checks the fields Connect/PutObject rely on.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access_key is required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret_key is required")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.PartSize < 5*1024*1024 {
		return fmt.Errorf("part_size must be at least 5MB")
	}
	return nil
}

// Client wraps the MinIO SDK client actually exercised by Backend: bucket
// existence/creation plus object put/get/delete. It carries none of the
// lifecycle, versioning, presigned-URL or listing surface a general-purpose
// MinIO wrapper would, because Backend never calls into any of it.
type Client struct {
	config      *Config
	minioClient *minio.Client
	logger      *logrus.Logger
	mu          sync.RWMutex
	connected   bool
}

// NewClient validates config and returns an unconnected Client.
func NewClient(config *Config, logger *logrus.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		config: config,
		logger: logger,
	}, nil
}

// Connect dials MinIO and verifies reachability by listing buckets.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	minioClient, err := minio.New(c.config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.config.AccessKey, c.config.SecretKey, ""),
		Secure: c.config.UseSSL,
		Region: c.config.Region,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	if _, err := minioClient.ListBuckets(ctx); err != nil {
		return fmt.Errorf("failed to connect to MinIO: %w", err)
	}

	c.minioClient = minioClient
	c.connected = true
	c.logger.Info("connected to MinIO")
	return nil
}

// Close marks the client disconnected. MinIO's SDK client holds no sockets
// worth closing explicitly; this only stops further calls from proceeding.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.minioClient = nil
	return nil
}

// BucketExists reports whether bucketName already exists.
func (c *Client) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected || c.minioClient == nil {
		return false, fmt.Errorf("not connected to MinIO")
	}
	return c.minioClient.BucketExists(ctx, bucketName)
}

// CreateBucket creates bucketName if it does not already exist. Backend
// only ever needs a plain bucket: no versioning, retention or object
// locking is configured by any caller in this engine.
func (c *Client) CreateBucket(ctx context.Context, bucketName string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected || c.minioClient == nil {
		return fmt.Errorf("not connected to MinIO")
	}

	exists, err := c.minioClient.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	c.logger.WithField("bucket", bucketName).Info("bucket created")
	return nil
}

// PutObject uploads data to bucketName/objectName.
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected || c.minioClient == nil {
		return fmt.Errorf("not connected to MinIO")
	}

	opts := minio.PutObjectOptions{PartSize: uint64(c.config.PartSize)}
	if _, err := c.minioClient.PutObject(ctx, bucketName, objectName, reader, size, opts); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

// GetObject downloads bucketName/objectName. MinIO's client returns the
// object lazily without erroring up front, so existence is forced here with
// a Stat call: a missing key surfaces as *engineerrors.NotFoundError rather
// than a bare transport error, matching how callers distinguish "container
// never persisted" from an actual I/O failure.
func (c *Client) GetObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected || c.minioClient == nil {
		return nil, fmt.Errorf("not connected to MinIO")
	}

	obj, err := c.minioClient.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	if _, err := obj.Stat(); err != nil {
		obj.Close()
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return nil, &engineerrors.NotFoundError{ContainerTag: bucketName + "/" + objectName}
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	if _, err := obj.Seek(0, io.SeekStart); err != nil {
		obj.Close()
		return nil, fmt.Errorf("failed to reset object reader: %w", err)
	}
	return obj, nil
}

// DeleteObject removes bucketName/objectName.
func (c *Client) DeleteObject(ctx context.Context, bucketName, objectName string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected || c.minioClient == nil {
		return fmt.Errorf("not connected to MinIO")
	}

	if err := c.minioClient.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
