package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

const (
	StatusStarted   = "started"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// StageEvent describes a stage transition of a pipeline run.
type StageEvent struct {
	RunID    string        `json:"run_id"`
	Command  string        `json:"command"`
	Stage    string        `json:"stage"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration_ns,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// Reporter receives step counts and stage transitions. Implementations must
// not fail the run; delivery problems are theirs to log.
type Reporter interface {
	ReportTally(ctx context.Context, runID string, t *tally.Tally)
	ReportStage(ctx context.Context, ev StageEvent)
}

// Multi fans out to every non-nil reporter in order.
func Multi(reporters ...Reporter) Reporter {
	out := multi{}
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multi []Reporter

func (m multi) ReportTally(ctx context.Context, runID string, t *tally.Tally) {
	for _, r := range m {
		r.ReportTally(ctx, runID, t)
	}
}

func (m multi) ReportStage(ctx context.Context, ev StageEvent) {
	for _, r := range m {
		r.ReportStage(ctx, ev)
	}
}

type logReporter struct {
	log *logger.Logger
}

// NewLogReporter logs every step count at info level.
func NewLogReporter(log *logger.Logger) Reporter {
	return &logReporter{log: log.With("component", "Reporter")}
}

func (r *logReporter) ReportTally(ctx context.Context, runID string, t *tally.Tally) {
	if t == nil {
		return
	}
	for _, s := range t.Steps {
		r.log.Info("step",
			"run_id", runID,
			"stage", s.Stage,
			"step", s.Name,
			"unit", s.Unit,
			"dropped", s.Dropped,
			"remaining", s.Remaining,
		)
	}
}

func (r *logReporter) ReportStage(ctx context.Context, ev StageEvent) {
	kv := []any{"run_id", ev.RunID, "command", ev.Command, "stage", ev.Stage, "status", ev.Status}
	if ev.Duration > 0 {
		kv = append(kv, "duration", ev.Duration.String())
	}
	if ev.Error != "" {
		r.log.Error("stage failed", append(kv, "error", ev.Error)...)
		return
	}
	r.log.Info("stage", kv...)
}

func (m *Metrics) ReportTally(ctx context.Context, runID string, t *tally.Tally) {
	if m == nil || t == nil {
		return
	}
	for _, s := range t.Steps {
		m.ObserveStep(s.Stage, s.Name, s.Unit, s.Dropped, s.Remaining)
	}
}

func (m *Metrics) ReportStage(ctx context.Context, ev StageEvent) {
	if m == nil || ev.Status == StatusStarted {
		return
	}
	m.ObserveStage(ev.Stage, ev.Status, ev.Duration)
}

type traceReporter struct{}

// NewTraceReporter records step counts as events on the span in ctx.
func NewTraceReporter() Reporter { return traceReporter{} }

func (traceReporter) ReportTally(ctx context.Context, runID string, t *tally.Tally) {
	span := trace.SpanFromContext(ctx)
	if t == nil || !span.IsRecording() {
		return
	}
	for _, s := range t.Steps {
		span.AddEvent(s.Name, trace.WithAttributes(
			attribute.String("cohort.stage", s.Stage),
			attribute.String("cohort.unit", s.Unit),
			attribute.Int("cohort.dropped", s.Dropped),
			attribute.Int("cohort.remaining", s.Remaining),
		))
	}
}

func (traceReporter) ReportStage(ctx context.Context, ev StageEvent) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() || ev.Status != StatusFailed {
		return
	}
	span.RecordError(errors.New(ev.Error))
	span.SetStatus(codes.Error, ev.Error)
}
