// Package objectstore exports model files to S3-compatible storage.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/animus-labs/thyroid/internal/domain"
)

// Store abstracts S3-compatible object storage.
type Store interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// ModelKey is models/<timestamp>/<clusterN>/<file name>.
func ModelKey(timestamp string, cluster domain.ClusterID, localPath string) string {
	return path.Join("models", timestamp, cluster.String(), filepath.Base(localPath))
}

// PutFile uploads a local file under key.
func PutFile(ctx context.Context, s Store, bucket, key, localPath, contentType string) (ObjectInfo, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return ObjectInfo{}, err
	}
	if err := s.Put(ctx, bucket, key, f, st.Size(), contentType); err != nil {
		return ObjectInfo{}, fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return s.Stat(ctx, bucket, key)
}

// FetchFile downloads key into localPath, creating parent directories.
func FetchFile(ctx context.Context, s Store, bucket, key, localPath string) error {
	body, _, err := s.Get(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer body.Close()
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
