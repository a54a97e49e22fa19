package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"Fanvault/config"
	"Fanvault/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("storage: object not found")
	// ErrForbidden is returned when the store rejects our credentials.
	ErrForbidden = errors.New("storage: access denied")
)

// MaxPresignExpiry is the longest expiry S3-compatible stores accept.
const MaxPresignExpiry = 7 * 24 * time.Hour

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// BlobStore is the durable object store used for sources and renditions.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PutFile(ctx context.Context, key, filePath, contentType string) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error)
	Remove(ctx context.Context, key string) error
}

// URLSigner issues time-limited GET URLs. params are added to the signed
// query and carry transform directives to the image edge.
type URLSigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration, params url.Values) (*url.URL, error)
}

// MinioStore 封装了 MinIO 客户端, bound to one bucket.
type MinioStore struct {
	client     *minio.Client
	bucketName string
}

// NewMinioStore creates a client and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg *config.Config) (*MinioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("created bucket", logger.String("bucket", cfg.MinioBucket))
	}

	logger.Info("MinIO client ready",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	return &MinioStore{client: client, bucketName: cfg.MinioBucket}, nil
}

// Bucket returns a store sharing the client but bound to another bucket.
func (m *MinioStore) Bucket(name string) *MinioStore {
	if name == "" || name == m.bucketName {
		return m
	}
	return &MinioStore{client: m.client, bucketName: name}
}

// BucketName reports the bound bucket.
func (m *MinioStore) BucketName() string {
	return m.bucketName
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Key)
	}
	if resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrForbidden, resp.Message)
	}
	return err
}

func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucketName, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// PutFile uploads a local file and returns the stored size.
func (m *MinioStore) PutFile(ctx context.Context, key, filePath, contentType string) (int64, error) {
	info, err := m.client.FPutObject(ctx, m.bucketName, key, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return 0, fmt.Errorf("upload %s: %w", key, err)
	}
	return info.Size, nil
}

// Get opens an object for streaming. Missing objects surface as ErrNotFound
// here rather than on first read.
func (m *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, m.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateErr(err)
	}
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, translateErr(err)
	}
	return object, nil
}

func (m *MinioStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	stat, err := m.client.StatObject(ctx, m.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, translateErr(err)
	}
	return ObjectInfo{
		Key:          stat.Key,
		Size:         stat.Size,
		LastModified: stat.LastModified,
		ContentType:  stat.ContentType,
		ETag:         stat.ETag,
	}, nil
}

func (m *MinioStore) List(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	objectCh := m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
			ETag:         object.ETag,
		})
	}
	return objects, nil
}

func (m *MinioStore) Remove(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return translateErr(err)
	}
	return nil
}

// PresignGet signs a GET URL for key after confirming the object exists.
func (m *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration, params url.Values) (*url.URL, error) {
	if expiry <= 0 || expiry > MaxPresignExpiry {
		return nil, fmt.Errorf("presign %s: expiry %s out of range", key, expiry)
	}
	if _, err := m.Stat(ctx, key); err != nil {
		return nil, err
	}
	u, err := m.client.PresignedGetObject(ctx, m.bucketName, key, expiry, params)
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", key, err)
	}
	return u, nil
}
