package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// MinioStore publishes artifacts as objects under name/version keys.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinio builds a MinIO-backed registry from config. Credentials fall back
// to MINIO_ACCESS_KEY / MINIO_SECRET_KEY from the environment.
func NewMinio(cfg types.RegistryConfig, logger *slog.Logger) (*MinioStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio registry requires an endpoint")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio registry requires a bucket")
	}

	accessKey := cfg.AccessKey
	if accessKey == "" {
		accessKey = os.Getenv("MINIO_ACCESS_KEY")
	}
	secretKey := cfg.SecretKey
	if secretKey == "" {
		secretKey = os.Getenv("MINIO_SECRET_KEY")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With("component", "registry"),
	}, nil
}

// Start ensures the artifact bucket exists.
func (s *MinioStore) Start(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Publish uploads the payload file to <name>/<version> and returns the
// reference. The object is hashed in flight and the digest logged for audit.
func (s *MinioStore) Publish(ctx context.Context, name, version, payload string) (types.ArtifactRef, error) {
	if payload == "" {
		return types.ArtifactRef{}, &RejectedError{Reason: "no payload path"}
	}

	f, err := os.Open(payload)
	if err != nil {
		return types.ArtifactRef{}, &RejectedError{Reason: fmt.Sprintf("payload unreadable: %v", err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return types.ArtifactRef{}, fmt.Errorf("stat payload: %w", err)
	}

	key := objectKey(name, version)
	hasher := sha256.New()
	reader := io.TeeReader(f, hasher)

	_, err = s.client.PutObject(ctx, s.bucket, key, reader, info.Size(), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return types.ArtifactRef{}, fmt.Errorf("put object %s: %w", key, err)
	}

	s.logger.Info("artifact published",
		"name", name,
		"version", version,
		"key", key,
		"bytes", info.Size(),
		"sha256", hex.EncodeToString(hasher.Sum(nil)),
	)
	return types.ArtifactRef{Name: name, Version: version}, nil
}

func objectKey(name, version string) string {
	return strings.TrimLeft(name+"/"+version, "/")
}

var _ Registry = (*MinioStore)(nil)
