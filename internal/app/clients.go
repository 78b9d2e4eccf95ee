package app

import (
	"context"
	"fmt"

	"github.com/yungbote/longcovid-cohort/internal/clients/redis"
	"github.com/yungbote/longcovid-cohort/internal/export"
	"github.com/yungbote/longcovid-cohort/internal/platform/gcp"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

type Clients struct {
	RunBus       redis.RunBus
	ExportSink   export.Sink
	ExportBucket gcp.ExportBucket
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	// Redis
	var bus redis.RunBus
	if cfg.Redis.Addr != "" {
		b, err := redis.NewRunBus(log, cfg.Redis.Addr, cfg.Redis.Channel)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis run bus: %w", err)
		}
		bus = b
	}

	// Export
	sink, bucket, err := resolveExportSink(ctx, log, cfg.Export)
	if err != nil {
		if bus != nil {
			_ = bus.Close()
		}
		return Clients{}, err
	}

	return Clients{
		RunBus:       bus,
		ExportSink:   sink,
		ExportBucket: bucket,
	}, nil
}

func (c Clients) Close() {
	if c.RunBus != nil {
		_ = c.RunBus.Close()
	}
	if c.ExportBucket != nil {
		_ = c.ExportBucket.Close()
	}
}
