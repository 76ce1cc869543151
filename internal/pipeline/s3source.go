package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/example/barsight/internal/config"
)

// ObjectStore is the slice of the minio client the S3 source uses.
type ObjectStore interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	FGetObject(ctx context.Context, bucket, object, filePath string, opts minio.GetObjectOptions) error
}

// S3Source pulls images from an S3-compatible bucket.
type S3Source struct {
	store  ObjectStore
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Client connects to the configured endpoint.
func NewS3Client(cfg config.S3Config) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
}

// NewS3Source returns a source over bucket/prefix.
func NewS3Source(store ObjectStore, bucket, prefix string, logger *zap.Logger) *S3Source {
	return &S3Source{store: store, bucket: bucket, prefix: prefix, logger: logger.Named("s3_source")}
}

func (s *S3Source) Name() string { return "s3" }

func (s *S3Source) Extract(ctx context.Context, rawDir string) (int, error) {
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return 0, err
	}

	copied := 0
	for obj := range s.store.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			return copied, fmt.Errorf("list %s/%s: %w", s.bucket, s.prefix, obj.Err)
		}
		name := path.Base(obj.Key)
		if !IsImageFile(name) {
			continue
		}
		dst := filepath.Join(rawDir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := s.store.FGetObject(ctx, s.bucket, obj.Key, dst, minio.GetObjectOptions{}); err != nil {
			return copied, fmt.Errorf("download %s: %w", obj.Key, err)
		}
		copied++
	}
	s.logger.Info("extract complete", zap.String("bucket", s.bucket), zap.String("prefix", s.prefix), zap.Int("copied", copied))
	return copied, nil
}
