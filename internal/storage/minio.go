package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bowerhall/engram/internal/logger"
)

// Client uploads store snapshots to an object storage bucket.
type Client struct {
	mc     *minio.Client
	bucket string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "engram-snapshots"
	}

	return &Client{mc: mc, bucket: bucket}, nil
}

// Init creates the snapshot bucket if it doesn't exist.
func (c *Client) Init(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}

	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", c.bucket, err)
		}
		logger.Info("bucket created", "bucket", c.bucket)
	}

	return nil
}

// Snapshotter produces a consistent database copy at the given path.
type Snapshotter interface {
	SnapshotTo(ctx context.Context, path string) error
}

// Backup snapshots the store to a temp file and uploads it, named by
// timestamp so older snapshots remain retrievable.
func (c *Client) Backup(ctx context.Context, store Snapshotter) error {
	dir, err := os.MkdirTemp("", "engram-snapshot")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "engram.db")
	if err := store.SnapshotTo(ctx, path); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("engram-%s.db", time.Now().UTC().Format("20060102-150405"))
	_, err = c.mc.PutObject(ctx, c.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", c.bucket, name, err)
	}

	logger.Debug("snapshot uploaded", "bucket", c.bucket, "name", name, "size", len(data))
	return nil
}

// Restore downloads a named snapshot into path.
func (c *Client) Restore(ctx context.Context, name, path string) error {
	obj, err := c.mc.GetObject(ctx, c.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", c.bucket, name, err)
	}
	defer obj.Close()

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.ReadFrom(obj); err != nil {
		return fmt.Errorf("read %s/%s: %w", c.bucket, name, err)
	}
	return nil
}

// List returns snapshot object names, newest first.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var names []string

	opts := minio.ListObjectsOptions{Prefix: "engram-", Recursive: false}
	for obj := range c.mc.ListObjects(ctx, c.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", c.bucket, obj.Err)
		}
		names = append(names, obj.Key)
	}

	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names, nil
}

// Healthy checks if the object store is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.mc.BucketExists(ctx, c.bucket)
	return err == nil
}
