// Package cloud uploads matched source documents to S3-compatible storage.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/brensch/tenderscan/internal/config"
	"github.com/brensch/tenderscan/internal/tender"
)

// Storage is a bucket on a MinIO or S3 endpoint.
type Storage struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

func New(cfg config.CloudConfig, logger *slog.Logger) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &Storage{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.logger.Info("Created bucket.", "bucket", s.bucket)
	}
	return nil
}

// ObjectName is the key a tender file is stored under: <registry>/<id>/<file>.
func ObjectName(ref tender.Ref, file string) string {
	return path.Join(string(ref.Registry), fmt.Sprint(ref.ID), filepath.Base(file))
}

// ContentType sniffs the file header, falling back to the extension and then
// to application/octet-stream.
func ContentType(file string) string {
	if kind, err := filetype.MatchFile(file); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if kind := filetype.GetType(strings.TrimPrefix(filepath.Ext(file), ".")); kind != filetype.Unknown {
		return kind.MIME.Value
	}
	return "application/octet-stream"
}

// Upload puts each file under ObjectName(ref, file). Failures are collected
// and the remaining files still uploaded.
func (s *Storage) Upload(ctx context.Context, ref tender.Ref, files []string) error {
	var errs []error
	for _, f := range files {
		if ctx.Err() != nil {
			return errors.Join(append(errs, ctx.Err())...)
		}
		if err := s.uploadOne(ctx, ref, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Storage) uploadOne(ctx context.Context, ref tender.Ref, file string) error {
	fh, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s for upload: %w", file, err)
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", file, err)
	}

	name := ObjectName(ref, file)
	_, err = s.client.PutObject(ctx, s.bucket, name, fh, info.Size(), minio.PutObjectOptions{
		ContentType: ContentType(file),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	s.logger.Debug("Uploaded file.", "object", name, "bytes", info.Size())
	return nil
}
