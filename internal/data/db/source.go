package db

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

// QueryObserver receives the outcome of every raw query.
type QueryObserver interface {
	ObserveQuery(op, status string, rows int, dur time.Duration)
}

// Source runs read-only queries against the study database. Every query
// opens its own connection and closes it before returning; nothing is
// pooled or retried.
type Source struct {
	dsn string
	log *logger.Logger
	obs QueryObserver
}

func NewSource(dsn string, baseLog *logger.Logger, obs QueryObserver) (*Source, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, apperr.InvalidConfig("source dsn is empty")
	}
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return nil, apperr.InvalidConfig("parse source dsn: %v", err)
	}
	return &Source{dsn: dsn, log: baseLog.With("service", "Source"), obs: obs}, nil
}

// Collect runs sql on a fresh connection and scans every row with scan.
func Collect[T any](ctx context.Context, s *Source, op, sql string, args []any, scan pgx.RowToFunc[T]) ([]T, error) {
	start := time.Now()
	out, err := collect(ctx, s, op, sql, args, scan)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if s.obs != nil {
		s.obs.ObserveQuery(op, status, len(out), time.Since(start))
	}
	if err != nil {
		s.log.Error("Query failed", "op", op, "error", err)
		return nil, err
	}
	s.log.Debug("Query done", "op", op, "rows", len(out), "duration", time.Since(start).String())
	return out, nil
}

func collect[T any](ctx context.Context, s *Source, op, sql string, args []any, scan pgx.RowToFunc[T]) ([]T, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, ClassifyError(op+": connect", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := conn.Close(closeCtx); cerr != nil {
			s.log.Warn("Closing source connection failed", "op", op, "error", cerr)
		}
	}()

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, ClassifyError(op, err)
	}
	out, err := pgx.CollectRows(rows, scan)
	if err != nil {
		return nil, ClassifyError(op, err)
	}
	return out, nil
}
