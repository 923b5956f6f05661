package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"southwinds.dev/citadel/internal/crypto"
)

const ctxTimeout = 10 * time.Second

// S3Store keeps snapshot blobs as objects in an S3-compatible bucket:
//
//	bucket/
//	└── [keyPrefix/]snapshots/
//	    ├── nightly.snapshot
//	    └── pre-rotation.snapshot
//
// S3 object puts are atomic by themselves, so no temp-and-rename dance is
// needed here.
type S3Store struct {
	client     *minio.Client
	bucketName string
	keyPrefix  string
}

// S3Config contains the connection settings for an S3 (MinIO) endpoint.
type S3Config struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Bucket          string `json:"bucket"`
	KeyPrefix       string `json:"key_prefix"`
	UseSSL          bool   `json:"use_ssl"`
	Region          string `json:"region"`
}

// NewS3Store connects to the endpoint and ensures the bucket exists.
func NewS3Store(config S3Config) (*S3Store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required for s3 store")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  config.KeyPrefix,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()
	if err = store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return store, nil
}

// NewS3StoreFromConfig builds an S3Store from a generic StoreConfig.
func NewS3StoreFromConfig(config StoreConfig) (*S3Store, error) {
	if config.Type != StoreTypeS3 {
		return nil, fmt.Errorf("invalid store type for s3: %s", config.Type)
	}
	raw, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var s3Config S3Config
	if err = json.Unmarshal(raw, &s3Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal s3 config: %w", err)
	}
	return NewS3Store(s3Config)
}

func (s3s *S3Store) SaveSnapshot(name string, data []byte) error {
	if err := validateSnapshotName(name); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("snapshot data cannot be empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err := s3s.client.PutObject(
		ctx,
		s3s.bucketName,
		s3s.objectName(name),
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "application/octet-stream",
			UserMetadata: map[string]string{
				"data-type": "snapshot",
				"checksum":  crypto.Checksum(data),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", name, err)
	}
	return nil
}

func (s3s *S3Store) LoadSnapshot(name string) ([]byte, error) {
	if err := validateSnapshotName(name); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	obj, err := s3s.client.GetObject(ctx, s3s.bucketName, s3s.objectName(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("snapshot %s does not exist", name)
		}
		return nil, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	return data, nil
}

func (s3s *S3Store) ListSnapshots() ([]SnapshotInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	prefix := s3s.objectName("")
	var infos []SnapshotInfo
	for obj := range s3s.client.ListObjects(ctx, s3s.bucketName, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    false,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, snapshotExt) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), snapshotExt)
		infos = append(infos, SnapshotInfo{
			Name:       name,
			Size:       obj.Size,
			Checksum:   obj.UserMetadata["X-Amz-Meta-Checksum"],
			ModifiedAt: obj.LastModified,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s3s *S3Store) DeleteSnapshot(name string) error {
	if err := validateSnapshotName(name); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	objectName := s3s.objectName(name)
	if _, err := s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{}); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return fmt.Errorf("snapshot %s does not exist", name)
		}
		return fmt.Errorf("failed to stat snapshot %s: %w", name, err)
	}
	if err := s3s.client.RemoveObject(ctx, s3s.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", name, err)
	}
	return nil
}

func (s3s *S3Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to reach s3 endpoint: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s3s.bucketName)
	}
	return nil
}

func (s3s *S3Store) Close() error {
	return nil
}

func (s3s *S3Store) GetType() string {
	return string(StoreTypeS3)
}

func (s3s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err = s3s.client.MakeBucket(ctx, s3s.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", s3s.bucketName, err)
		}
	}
	return nil
}

func (s3s *S3Store) objectName(name string) string {
	parts := []string{"snapshots"}
	if s3s.keyPrefix != "" {
		parts = append([]string{strings.Trim(s3s.keyPrefix, "/")}, parts...)
	}
	if name == "" {
		return strings.Join(parts, "/") + "/"
	}
	return strings.Join(parts, "/") + "/" + name + snapshotExt
}
