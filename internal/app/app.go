package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/longcovid-cohort/internal/clients/redis"
	"github.com/yungbote/longcovid-cohort/internal/data/db"
	"github.com/yungbote/longcovid-cohort/internal/domain/snapshot"
	"github.com/yungbote/longcovid-cohort/internal/export"
	"github.com/yungbote/longcovid-cohort/internal/observability"
	"github.com/yungbote/longcovid-cohort/internal/pipeline"
	"github.com/yungbote/longcovid-cohort/internal/pkg/dbctx"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

// Version is stamped at build time.
var Version = "dev"

// ErrNoBucket is returned by bucket-only operations when exports go to a
// directory or are disabled.
var ErrNoBucket = errors.New("no export bucket configured")

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Metrics  *observability.Metrics
	Store    *db.Store
	Source   *db.Source
	Repos    SourceRepos
	Snapshot pipeline.Store
	Clients  Clients
	Pipeline *pipeline.Pipeline

	shutdownOTel func(context.Context) error
}

func New(ctx context.Context, cfg Config) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "cohortctl",
		Environment: cfg.Environment,
		Version:     Version,
	})
	metrics := observability.NewMetrics()

	store, err := db.OpenStore(cfg.Store, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init store: %w", err)
	}

	var src *db.Source
	if strings.TrimSpace(cfg.SourceDSN) != "" {
		if src, err = db.NewSource(cfg.SourceDSN, log, metrics); err != nil {
			_ = store.Close()
			log.Sync()
			return nil, fmt.Errorf("init source: %w", err)
		}
	}

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = store.Close()
		log.Sync()
		return nil, err
	}

	reposet := wireSourceRepos(src, log)
	snap := wireStore(store.DB(), log)

	reporters := []observability.Reporter{
		observability.NewLogReporter(log),
		metrics,
		observability.NewTraceReporter(),
	}
	if clients.RunBus != nil {
		reporters = append(reporters, clients.RunBus)
	}

	var exporter *export.Exporter
	if clients.ExportSink != nil {
		exporter = export.NewExporter(clients.ExportSink, log, metrics)
	}

	deps := pipeline.Deps{
		Store:    snap,
		Reporter: observability.Multi(reporters...),
		Exporter: exporter,
		Rows:     metrics,
		Runs:     metrics,
	}
	if src != nil {
		deps.Answers = reposet.Answers
		deps.Vitals = reposet.Vitals
		deps.Users = reposet.Users
	}
	p, err := pipeline.New(cfg.Pipeline, deps, log)
	if err != nil {
		clients.Close()
		_ = store.Close()
		log.Sync()
		return nil, err
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		Metrics:      metrics,
		Store:        store,
		Source:       src,
		Repos:        reposet,
		Snapshot:     snap,
		Clients:      clients,
		Pipeline:     p,
		shutdownOTel: shutdown,
	}, nil
}

// RequireSource fails when extract would run without a source database.
func (a *App) RequireSource() error {
	if a.Source == nil {
		return fmt.Errorf("extract needs a source database: set SOURCE_DSN or source_dsn")
	}
	return nil
}

func (a *App) Runs(ctx context.Context, limit int) ([]*snapshot.PipelineRun, error) {
	return a.Snapshot.Runs.List(dbctx.Context{Ctx: ctx}, limit)
}

// Watch forwards run events from the bus until ctx is done.
func (a *App) Watch(ctx context.Context, onEvent func(redis.RunEvent)) error {
	if a.Clients.RunBus == nil {
		return fmt.Errorf("watch needs a redis run bus: set REDIS_ADDR")
	}
	if err := a.Clients.RunBus.StartForwarder(ctx, onEvent); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// ListExports lists the object keys of exported runs below prefix.
func (a *App) ListExports(ctx context.Context, prefix string) ([]string, error) {
	if a.Clients.ExportBucket == nil {
		return nil, ErrNoBucket
	}
	return a.Clients.ExportBucket.ListKeys(ctx, prefix)
}

// DeleteExport removes every exported object of one run.
func (a *App) DeleteExport(ctx context.Context, runID string) (int, error) {
	if a.Clients.ExportBucket == nil {
		return 0, ErrNoBucket
	}
	runID = strings.Trim(strings.TrimSpace(runID), "/")
	if runID == "" {
		return 0, fmt.Errorf("run id required")
	}
	n, err := a.Clients.ExportBucket.DeletePrefix(ctx, runID+"/")
	if err != nil {
		return n, err
	}
	a.Log.Info("Export deleted", "run_id", runID, "objects", n)
	return n, nil
}

// Close flushes metrics and traces and releases connections.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Cfg.MetricsFile != "" {
		if err := a.Metrics.WriteTextfile(a.Cfg.MetricsFile); err != nil {
			a.Log.Warn("write metrics textfile failed", "path", a.Cfg.MetricsFile, "error", err)
		}
	}
	if a.shutdownOTel != nil {
		if err := a.shutdownOTel(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Clients.Close()
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
