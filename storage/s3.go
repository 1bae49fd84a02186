// Package storage reads build artifacts from an S3-compatible object
// store. Uploads and bulk deletes happen from inside pods; the executor
// itself only downloads sources and stats finished artifacts.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type Client struct {
	mc     *minio.Client
	config Config
}

func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &Client{mc: mc, config: cfg}, nil
}

// GetObject downloads a whole object into memory. Source tarballs are
// small enough that buffering beats streaming them twice (once to read,
// once to base64-encode into the build job env).
func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, c.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return data, nil
}

// StatObject returns the byte size of an object.
func (c *Client) StatObject(ctx context.Context, key string) (int64, error) {
	info, err := c.mc.StatObject(ctx, c.config.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("s3 stat %s: %w", key, err)
	}
	return info.Size, nil
}

func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.mc.BucketExists(ctx, c.config.Bucket)
	return err
}

func (c *Client) Endpoint() string { return c.config.Endpoint }

func (c *Client) Bucket() string { return c.config.Bucket }
