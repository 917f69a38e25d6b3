// Package artifactstore publishes run reports and per-attempt artifacts to an
// S3-compatible bucket. For tests, use gofakes3 via TestStore.
package artifactstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kuitang/xpire-e2e/internal/config"
	"github.com/kuitang/xpire-e2e/internal/obs"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("artifactstore: object not found")

// Store writes objects under a key prefix in one bucket.
type Store struct {
	s3Client  *s3.Client
	bucket    string
	prefix    string
	publicURL string
}

// New creates a store from the report store configuration.
func New(ctx context.Context, cfg config.ReportStoreConfig) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewFromS3Client(client, cfg.Bucket, cfg.Prefix, cfg.PublicURL), nil
}

// NewFromS3Client wraps an existing S3 client.
func NewFromS3Client(client *s3.Client, bucket, prefix, publicURL string) *Store {
	return &Store{
		s3Client:  client,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

// Key joins parts under the store prefix.
func (s *Store) Key(parts ...string) string {
	all := append([]string{s.prefix}, parts...)
	return strings.TrimPrefix(path.Join(all...), "/")
}

// PutObject stores content under key.
func (s *Store) PutObject(ctx context.Context, key string, content []byte, contentType string) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("artifactstore: failed to put object %q: %w", key, err)
	}
	return nil
}

// PutFile uploads a local file, guessing its content type from the extension.
func (s *Store) PutFile(ctx context.Context, key, localPath string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("artifactstore: read %s: %w", localPath, err)
	}
	return s.PutObject(ctx, key, content, ContentType(localPath))
}

// GetObject retrieves the content stored under key.
func (s *Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("artifactstore: failed to get object %q: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("artifactstore: failed to read object body %q: %w", key, err)
	}
	return data, nil
}

// PublicURL returns the browsable URL for key, or its s3:// location when no
// public base is configured.
func (s *Store) PublicURL(key string) string {
	key = strings.TrimPrefix(key, "/")
	if s.publicURL == "" {
		return "s3://" + s.Bucket() + "/" + key
	}
	return s.publicURL + "/" + key
}

// UploadDir mirrors every regular file under dir to keys under keyPrefix and
// returns the number of files uploaded.
func (s *Store) UploadDir(ctx context.Context, dir, keyPrefix string) (int, error) {
	logger := obs.From(ctx).With("pkg", "artifactstore")
	count := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(keyPrefix, filepath.ToSlash(rel))
		if err := s.PutFile(ctx, key, p); err != nil {
			return err
		}
		count++
		logger.Debug("artifact_uploaded", "key", key)
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("artifactstore: upload %s: %w", dir, err)
	}
	return count, nil
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// ContentType guesses a MIME type for report and artifact files.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".zip":
		return "application/zip"
	case ".webm":
		return "video/webm"
	case ".md":
		return "text/markdown; charset=utf-8"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
