package app

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/yungbote/longcovid-cohort/internal/export"
	"github.com/yungbote/longcovid-cohort/internal/platform/gcp"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

func TestClassifyExportSinkBootstrapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ExportSinkBootstrapErrorCode
	}{
		{"invalid mode", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidMode}, ExportSinkBootstrapErrorInvalidMode},
		{"missing bucket", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorMissingBucket}, ExportSinkBootstrapErrorMissingBucket},
		{"missing emulator host", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorMissingEmulatorHost}, ExportSinkBootstrapErrorMissingEmulatorHost},
		{"invalid emulator host", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidEmulatorHost}, ExportSinkBootstrapErrorInvalidEmulatorHost},
		{"connect failed", errors.New("dial tcp: connection refused"), ExportSinkBootstrapErrorConnectFailed},
	}
	storageCfg := gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCSEmulator, EmulatorHost: "fake-gcs:4443"}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyExportSinkBootstrapError(storageCfg, tc.err)
			var got *ExportSinkBootstrapError
			if !errors.As(err, &got) {
				t.Fatalf("expected ExportSinkBootstrapError, got=%T", err)
			}
			if got.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, got.Code)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("cause not preserved: %v", err)
			}
		})
	}
}

func TestResolveExportSinkDir(t *testing.T) {
	dir := t.TempDir()
	sink, bucket, err := resolveExportSink(context.Background(), logger.Nop(), ExportConfig{Dir: dir})
	if err != nil {
		t.Fatalf("resolveExportSink: %v", err)
	}
	if bucket != nil {
		t.Fatalf("bucket: want nil for dir sink")
	}
	ds, ok := sink.(export.DirSink)
	if !ok || ds.Dir != dir {
		t.Fatalf("sink: want DirSink{%s} got=%#v", dir, sink)
	}
}

func TestResolveExportSinkDisabled(t *testing.T) {
	sink, bucket, err := resolveExportSink(context.Background(), logger.Nop(), ExportConfig{})
	if err != nil || sink != nil || bucket != nil {
		t.Fatalf("resolveExportSink: want disabled, got sink=%v bucket=%v err=%v", sink, bucket, err)
	}
}

func TestResolveExportSinkBucket(t *testing.T) {
	orig := newExportBucket
	t.Cleanup(func() { newExportBucket = orig })

	var captured gcp.ObjectStorageConfig
	expected := &testExportBucket{}
	newExportBucket = func(_ context.Context, _ *logger.Logger, cfg gcp.ObjectStorageConfig) (gcp.ExportBucket, error) {
		captured = cfg
		return expected, nil
	}

	sink, bucket, err := resolveExportSink(context.Background(), logger.Nop(), ExportConfig{
		Bucket: gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCSEmulator, EmulatorHost: "http://fake-gcs:4443", Bucket: "exports"},
	})
	if err != nil {
		t.Fatalf("resolveExportSink: %v", err)
	}
	if bucket != expected {
		t.Fatalf("bucket: expected stub bucket instance")
	}
	if sink.Name() != "gcs" || sink.Location("r/x.csv") != "gs://exports/r/x.csv" {
		t.Fatalf("sink: name=%s location=%s", sink.Name(), sink.Location("r/x.csv"))
	}
	if captured.EmulatorHost != "http://fake-gcs:4443" {
		t.Fatalf("emulator host: want=%q got=%q", "http://fake-gcs:4443", captured.EmulatorHost)
	}
}

func TestResolveExportSinkMissingEmulatorHost(t *testing.T) {
	_, _, err := resolveExportSink(context.Background(), logger.Nop(), ExportConfig{
		Bucket: gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCSEmulator, Bucket: "exports"},
	})
	var got *ExportSinkBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected ExportSinkBootstrapError, got=%T (%v)", err, err)
	}
	if got.Code != ExportSinkBootstrapErrorMissingEmulatorHost {
		t.Fatalf("code: want=%q got=%q", ExportSinkBootstrapErrorMissingEmulatorHost, got.Code)
	}
}

type testExportBucket struct{}

func (b *testExportBucket) Upload(ctx context.Context, key string, r io.Reader) (int64, error) {
	return io.Copy(io.Discard, r)
}

func (b *testExportBucket) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func (b *testExportBucket) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return 0, nil
}

func (b *testExportBucket) URI(key string) string { return "gs://exports/" + key }

func (b *testExportBucket) Close() error { return nil }
