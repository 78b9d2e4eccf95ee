package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yungbote/longcovid-cohort/internal/platform/gcp"
)

// Sink stores exported files under slash separated keys.
type Sink interface {
	Name() string
	Write(ctx context.Context, key string, r io.Reader) (int64, error)
	Location(key string) string
}

// DirSink writes below a local directory. Files appear atomically.
type DirSink struct {
	Dir string
}

func (s DirSink) Name() string { return "dir" }

func (s DirSink) Location(key string) string {
	return filepath.Join(s.Dir, filepath.FromSlash(key))
}

func (s DirSink) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.Contains(key, "..") {
		return 0, fmt.Errorf("export key %q escapes the export directory", key)
	}
	path := s.Location(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("export dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("export %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return n, fmt.Errorf("export %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("export %s: %w", key, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return n, fmt.Errorf("export %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, fmt.Errorf("export %s: %w", key, err)
	}
	return n, nil
}

// BucketSink uploads to the configured export bucket.
type BucketSink struct {
	Bucket gcp.ExportBucket
}

func (s BucketSink) Name() string { return "gcs" }

func (s BucketSink) Location(key string) string { return s.Bucket.URI(key) }

func (s BucketSink) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	return s.Bucket.Upload(ctx, key, r)
}
