package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const ctxTimeout = 10 * time.Second

// S3Config holds connection settings for an S3-compatible object store.
type S3Config struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	KeyPrefix       string `json:"key_prefix"`
}

// S3Backend implements Backend on an S3-compatible object store via the
// MinIO client. Each key becomes one object under the configured prefix:
//
//	bucket/
//	└── [keyPrefix/]items/
//	    ├── <encoded key>.item
//	    └── <encoded key>.item
//
// Keys are encoded the same way the file backend encodes file names, so the
// two durable backends are interchangeable at the store layer.
type S3Backend struct {
	client    *minio.Client
	bucket    string
	keyPrefix string
}

// NewS3Backend initializes an S3Backend and verifies the bucket exists.
func NewS3Backend(config S3Config) (*S3Backend, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required for s3 backend")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	sb := &S3Backend{
		client:    client,
		bucket:    config.Bucket,
		keyPrefix: strings.Trim(config.KeyPrefix, "/"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, sb.bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err = client.MakeBucket(ctx, sb.bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", sb.bucket, err)
		}
	}

	return sb, nil
}

// NewS3BackendFromConfig creates an S3Backend from a Config.
func NewS3BackendFromConfig(config Config) (*S3Backend, error) {
	var s3cfg S3Config
	get := func(name string) string {
		v, _ := config.Config[name].(string)
		return v
	}
	s3cfg.Endpoint = get("endpoint")
	s3cfg.AccessKeyID = get("access_key_id")
	s3cfg.SecretAccessKey = get("secret_access_key")
	s3cfg.Region = get("region")
	s3cfg.Bucket = get("bucket")
	s3cfg.KeyPrefix = get("key_prefix")
	if useSSL, ok := config.Config["use_ssl"].(bool); ok {
		s3cfg.UseSSL = useSSL
	}
	return NewS3Backend(s3cfg)
}

func (sb *S3Backend) Get(key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	obj, err := sb.client.GetObject(ctx, sb.bucket, sb.objectFor(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get object for key %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var respErr minio.ErrorResponse
		if errors.As(err, &respErr) && respErr.Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read object for key %s: %w", key, err)
	}
	return data, true, nil
}

func (sb *S3Backend) Set(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err := sb.client.PutObject(ctx, sb.bucket, sb.objectFor(key),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to put object for key %s: %w", key, err)
	}
	return nil
}

func (sb *S3Backend) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	err := sb.client.RemoveObject(ctx, sb.bucket, sb.objectFor(key), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object for key %s: %w", key, err)
	}
	return nil
}

func (sb *S3Backend) Keys() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	prefix := sb.itemsPrefix()
	var keys []string
	for obj := range sb.client.ListObjects(ctx, sb.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		if !strings.HasSuffix(name, itemExtension) {
			continue
		}
		key, err := decodeKey(strings.TrimSuffix(name, itemExtension))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (sb *S3Backend) Len() (int, error) {
	keys, err := sb.Keys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (sb *S3Backend) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := sb.client.BucketExists(ctx, sb.bucket)
	if err != nil {
		return fmt.Errorf("s3 backend unreachable: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", sb.bucket)
	}
	return nil
}

func (sb *S3Backend) Close() error {
	return nil
}

func (sb *S3Backend) GetType() string {
	return string(BackendTypeS3)
}

func (sb *S3Backend) itemsPrefix() string {
	if sb.keyPrefix == "" {
		return "items/"
	}
	return sb.keyPrefix + "/items/"
}

func (sb *S3Backend) objectFor(key string) string {
	return sb.itemsPrefix() + encodeKey(key) + itemExtension
}
