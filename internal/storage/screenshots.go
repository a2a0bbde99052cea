// Package storage uploads diagnostic screenshots of failed submissions to
// S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/contactpilot/contactpilot/internal/config"
)

// objectAPI is the subset of *minio.Client the store uses.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// ScreenshotStore writes page screenshots under
// <prefix>/<campaign>/<submission>-<unix>.<ext>.
type ScreenshotStore struct {
	client objectAPI
	bucket string
	prefix string
	now    func() time.Time
}

// NewScreenshotStore creates a MinIO-backed store
func NewScreenshotStore(cfg config.StorageConfig) (*ScreenshotStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return newScreenshotStore(client, cfg.Bucket, cfg.ScreenshotPath), nil
}

func newScreenshotStore(client objectAPI, bucket, prefix string) *ScreenshotStore {
	return &ScreenshotStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *ScreenshotStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket existence: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
	}

	return nil
}

// Health checks that the bucket is reachable
func (s *ScreenshotStore) Health(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// Put uploads a screenshot and returns its S3 URI
func (s *ScreenshotStore) Put(ctx context.Context, campaignID, submissionID uuid.UUID, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty screenshot")
	}
	ext, contentType := "jpg", "image/jpeg"
	if bytes.HasPrefix(data, pngMagic) {
		ext, contentType = "png", "image/png"
	}
	key := path.Join(s.prefix, campaignID.String(), fmt.Sprintf("%s-%d.%s", submissionID, s.now().Unix(), ext))

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("uploading screenshot: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// List returns the keys of every screenshot stored for a campaign
func (s *ScreenshotStore) List(ctx context.Context, campaignID uuid.UUID) ([]string, error) {
	var keys []string

	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    path.Join(s.prefix, campaignID.String()) + "/",
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, object.Err
		}
		keys = append(keys, object.Key)
	}

	return keys, nil
}

var pngMagic = []byte{0x89, 'P', 'N', 'G'}
