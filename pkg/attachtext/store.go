// Package attachtext reads previously OCR'd attachment text from an
// S3-compatible object store. The store is read-only from the pipeline's
// point of view; OCR happens upstream.
package attachtext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/caravelhq/caravel-cli/pkg/logging"
)

// Store fetches attachment text by document and attachment name.
type Store interface {
	// Text returns the extracted text for one attachment. A missing
	// object returns ("", false, nil): an attachment without OCR text
	// simply contributes no entities.
	Text(ctx context.Context, documentID, attachmentName string) (string, bool, error)
}

// Config holds the object store settings.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// minioStore implements Store against MinIO or any S3-compatible backend.
// Safe for concurrent use.
type minioStore struct {
	client *minio.Client
	bucket string
	logger logging.Logger
}

// maxTextBytes caps how much attachment text one read will pull into memory.
const maxTextBytes = 1 << 20

// NewMinIOStore creates a read-only attachment text store. The bucket must
// already exist; this side never creates it.
func NewMinIOStore(cfg Config, logger logging.Logger) (Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("attachment store endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("attachment store bucket is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("attachment text bucket %q does not exist", cfg.Bucket)
	}

	return &minioStore{client: cli, bucket: cfg.Bucket, logger: logger}, nil
}

// objectKey is documents/<document_id>/<attachment_name>.txt, written by the
// upstream OCR job.
func objectKey(documentID, attachmentName string) string {
	return fmt.Sprintf("documents/%s/%s.txt", documentID, attachmentName)
}

func (s *minioStore) Text(ctx context.Context, documentID, attachmentName string) (string, bool, error) {
	key := objectKey(documentID, attachmentName)

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", false, fmt.Errorf("reading attachment text %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxTextBytes))
	if err != nil {
		if isNotFound(err) {
			s.logger.Debug("no text for attachment",
				logging.F("document_id", documentID),
				logging.F("attachment", attachmentName),
			)
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading attachment text %s: %w", key, err)
	}

	return string(data), true, nil
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.StatusCode == 404
	}
	return false
}

// Verify interface compliance
var _ Store = (*minioStore)(nil)
