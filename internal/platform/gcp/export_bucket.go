package gcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

const (
	uploadTimeout = 2 * time.Minute
	listTimeout   = 30 * time.Second
)

// ExportBucket writes snapshot files below a fixed key prefix of one bucket.
// Keys passed in and returned are relative to that prefix.
type ExportBucket interface {
	Upload(ctx context.Context, key string, r io.Reader) (int64, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	URI(key string) string
	Close() error
}

type exportBucket struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
	prefix string
}

func NewExportBucket(ctx context.Context, log *logger.Logger, cfg ObjectStorageConfig) (ExportBucket, error) {
	if err := ValidateObjectStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate export storage config: %w", err)
	}
	client, err := newStorageClientForMode(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	b := &exportBucket{
		log:    log.With("service", "ExportBucket"),
		client: client,
		bucket: cfg.Bucket,
		prefix: cleanPrefix(cfg.Prefix),
	}
	b.log.Info(
		"Export storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"emulator_host", cfg.EmulatorHost,
		"bucket", b.bucket,
		"prefix", b.prefix,
	)
	return b, nil
}

func newStorageClientForMode(ctx context.Context, cfg ObjectStorageConfig) (*storage.Client, error) {
	switch cfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptions(cfg.Credentials)
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(cfg.Mode),
		}
	}
}

func cleanPrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

func (b *exportBucket) objectName(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func (b *exportBucket) relativeKey(name string) string {
	if b.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, b.prefix+"/")
}

func (b *exportBucket) Upload(ctx context.Context, key string, r io.Reader) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	name := b.objectName(key)
	w := b.client.Bucket(b.bucket).Object(name).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return n, fmt.Errorf("write gs://%s/%s: %w", b.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("close gs://%s/%s: %w", b.bucket, name, err)
	}
	b.log.Debug("Uploaded export object", "object", name, "bytes", n)
	return n, nil
}

func (b *exportBucket) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: b.objectName(prefix)})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", b.bucket, b.objectName(prefix), err)
		}
		out = append(out, b.relativeKey(attrs.Name))
	}
	return out, nil
}

// DeletePrefix removes every object below prefix and returns how many were
// deleted. It stops at the first failed delete.
func (b *exportBucket) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := b.ListKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		dctx, cancel := context.WithTimeout(ctx, listTimeout)
		err := b.client.Bucket(b.bucket).Object(b.objectName(k)).Delete(dctx)
		cancel()
		if err != nil {
			return n, fmt.Errorf("delete gs://%s/%s: %w", b.bucket, b.objectName(k), err)
		}
		n++
	}
	return n, nil
}

func (b *exportBucket) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", b.bucket, b.objectName(key))
}

func (b *exportBucket) Close() error {
	return b.client.Close()
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".csv"):
		return "text/csv; charset=utf-8"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".yaml"), strings.HasSuffix(s, ".yml"):
		return "application/yaml"
	case strings.HasSuffix(s, ".prom"), strings.HasSuffix(s, ".txt"):
		return "text/plain; charset=utf-8"
	default:
		return ""
	}
}
