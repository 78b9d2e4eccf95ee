package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/longcovid-cohort/internal/export"
	"github.com/yungbote/longcovid-cohort/internal/platform/gcp"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

var newExportBucket = gcp.NewExportBucket

type ExportSinkBootstrapErrorCode string

const (
	ExportSinkBootstrapErrorInvalidMode         ExportSinkBootstrapErrorCode = "invalid_mode"
	ExportSinkBootstrapErrorMissingBucket       ExportSinkBootstrapErrorCode = "missing_bucket"
	ExportSinkBootstrapErrorMissingEmulatorHost ExportSinkBootstrapErrorCode = "missing_emulator_host"
	ExportSinkBootstrapErrorInvalidEmulatorHost ExportSinkBootstrapErrorCode = "invalid_emulator_host"
	ExportSinkBootstrapErrorConnectFailed       ExportSinkBootstrapErrorCode = "connect_failed"
)

type ExportSinkBootstrapError struct {
	Code         ExportSinkBootstrapErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *ExportSinkBootstrapError) Error() string {
	if e == nil {
		return "export sink bootstrap failed"
	}
	return fmt.Sprintf(
		"export sink bootstrap failed (code=%s mode=%q emulator_host=%q): %v",
		e.Code,
		e.Mode,
		e.EmulatorHost,
		e.Cause,
	)
}

func (e *ExportSinkBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveExportSink picks the directory sink, the bucket sink or none. The
// returned bucket is nil unless the bucket sink was selected.
func resolveExportSink(ctx context.Context, log *logger.Logger, cfg ExportConfig) (export.Sink, gcp.ExportBucket, error) {
	if cfg.Dir != "" {
		log.Info("Selecting export sink", "sink", "dir", "dir", cfg.Dir)
		return export.DirSink{Dir: cfg.Dir}, nil, nil
	}
	storageCfg := cfg.Bucket
	if !storageCfg.Enabled() {
		log.Info("Export disabled: no export directory or bucket configured")
		return nil, nil, nil
	}

	log.Info(
		"Selecting export sink",
		"sink", "gcs",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"compatibility_fallback", storageCfg.CompatibilityFallback,
		"emulator_host", storageCfg.EmulatorHost,
		"bucket", storageCfg.Bucket,
	)
	bucket, err := newExportBucket(ctx, log, storageCfg)
	if err != nil {
		classified := classifyExportSinkBootstrapError(storageCfg, err)
		log.Error(
			"Export sink bootstrap failed",
			"mode", storageCfg.Mode,
			"mode_source", storageCfg.ModeSource(),
			"emulator_host", storageCfg.EmulatorHost,
			"error_code", exportSinkBootstrapErrorCode(classified),
			"error", classified,
		)
		return nil, nil, classified
	}
	return export.BucketSink{Bucket: bucket}, bucket, nil
}

func classifyExportSinkBootstrapError(storageCfg gcp.ObjectStorageConfig, err error) error {
	code := ExportSinkBootstrapErrorConnectFailed
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case gcp.ObjectStorageConfigErrorInvalidMode:
			code = ExportSinkBootstrapErrorInvalidMode
		case gcp.ObjectStorageConfigErrorMissingBucket:
			code = ExportSinkBootstrapErrorMissingBucket
		case gcp.ObjectStorageConfigErrorMissingEmulatorHost:
			code = ExportSinkBootstrapErrorMissingEmulatorHost
		case gcp.ObjectStorageConfigErrorInvalidEmulatorHost:
			code = ExportSinkBootstrapErrorInvalidEmulatorHost
		}
	}
	return &ExportSinkBootstrapError{
		Code:         code,
		Mode:         string(storageCfg.Mode),
		EmulatorHost: storageCfg.EmulatorHost,
		Cause:        err,
	}
}

func exportSinkBootstrapErrorCode(err error) ExportSinkBootstrapErrorCode {
	var bootstrapErr *ExportSinkBootstrapError
	if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
		return bootstrapErr.Code
	}
	return ExportSinkBootstrapErrorConnectFailed
}
