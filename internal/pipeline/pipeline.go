// Package pipeline runs the extraction and computation stages against the
// source database and the snapshot store. Every command is recorded in the
// run ledger together with the step counts of its stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/yungbote/longcovid-cohort/internal/data/repos/snapshots"
	"github.com/yungbote/longcovid-cohort/internal/data/repos/source"
	"github.com/yungbote/longcovid-cohort/internal/domain/snapshot"
	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	"github.com/yungbote/longcovid-cohort/internal/domain/user"
	"github.com/yungbote/longcovid-cohort/internal/domain/vitals"
	"github.com/yungbote/longcovid-cohort/internal/export"
	"github.com/yungbote/longcovid-cohort/internal/observability"
	"github.com/yungbote/longcovid-cohort/internal/pkg/dbctx"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

const (
	CommandExtract = "extract"
	CommandCompute = "compute"
	CommandRun     = "run"
	CommandExport  = "export"
)

// ErrExportDisabled is returned by Export when no export sink is configured.
var ErrExportDisabled = errors.New("export disabled: no export directory or bucket configured")

type AnswerSource interface {
	List(ctx context.Context, q source.AnswerQuery) ([]survey.Answer, error)
}

type VitalSource interface {
	List(ctx context.Context, userIDs []int64, types []vitals.Type, maxDate civil.Date) ([]vitals.Sample, error)
}

type UserSource interface {
	List(ctx context.Context, userIDs []int64) ([]user.Record, error)
}

// RowObserver counts rows written to snapshot tables.
type RowObserver interface {
	AddRowsWritten(table string, n int)
}

// RunObserver records the outcome of a finished command.
type RunObserver interface {
	ObserveRun(command, status string, finished time.Time)
}

// Store groups the snapshot repos. DB opens the transactions snapshot
// writes run in.
type Store struct {
	DB           *gorm.DB
	Vaccinations snapshots.VaccinationRepo
	Tests        snapshots.TestResultRepo
	Samples      snapshots.VitalSampleRepo
	Users        snapshots.UserRepo
	Baselines    snapshots.BaselineRepo
	Deviations   snapshots.DeviationRepo
	Cohorts      snapshots.CohortRepo
	Runs         snapshots.RunRepo
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) Store {
	return Store{
		DB:           db,
		Vaccinations: snapshots.NewVaccinationRepo(db, baseLog),
		Tests:        snapshots.NewTestResultRepo(db, baseLog),
		Samples:      snapshots.NewVitalSampleRepo(db, baseLog),
		Users:        snapshots.NewUserRepo(db, baseLog),
		Baselines:    snapshots.NewBaselineRepo(db, baseLog),
		Deviations:   snapshots.NewDeviationRepo(db, baseLog),
		Cohorts:      snapshots.NewCohortRepo(db, baseLog),
		Runs:         snapshots.NewRunRepo(db, baseLog),
	}
}

// Deps wires a Pipeline. Sources are only needed by extract; Exporter is
// optional and disables export when nil.
type Deps struct {
	Answers  AnswerSource
	Vitals   VitalSource
	Users    UserSource
	Store    Store
	Reporter observability.Reporter
	Exporter *export.Exporter
	Rows     RowObserver
	Runs     RunObserver
}

type Pipeline struct {
	cfg  Config
	deps Deps
	log  *logger.Logger
	now  func() time.Time
}

func New(cfg Config, deps Deps, baseLog *logger.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store.DB == nil || deps.Store.Runs == nil {
		return nil, fmt.Errorf("pipeline: snapshot store required")
	}
	if deps.Reporter == nil {
		deps.Reporter = observability.Multi()
	}
	return &Pipeline{
		cfg:  cfg,
		deps: deps,
		log:  baseLog.With("service", "Pipeline"),
		now:  time.Now,
	}, nil
}

// Summary describes a finished command.
type Summary struct {
	RunID    uuid.UUID
	Command  string
	Status   string
	Steps    []tally.Step
	Manifest *export.Manifest
}

// run is the state of one ledger entry while its stages execute.
type run struct {
	id       uuid.UUID
	command  string
	steps    *tally.Tally
	manifest *export.Manifest
}

func (p *Pipeline) Extract(ctx context.Context) (Summary, error) {
	return p.execute(ctx, CommandExtract, p.extract)
}

func (p *Pipeline) Compute(ctx context.Context) (Summary, error) {
	return p.execute(ctx, CommandCompute, p.compute)
}

// Run extracts, computes and, when an exporter is configured, exports the
// resulting snapshots under the run's id.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	return p.execute(ctx, CommandRun, func(ctx context.Context, r *run) error {
		if err := p.extract(ctx, r); err != nil {
			return err
		}
		if err := p.compute(ctx, r); err != nil {
			return err
		}
		if p.deps.Exporter == nil {
			p.log.Info("Export skipped", "run_id", r.id.String())
			return nil
		}
		return p.export(ctx, r)
	})
}

// Export writes the current snapshot tables as a new export run.
func (p *Pipeline) Export(ctx context.Context) (Summary, error) {
	if p.deps.Exporter == nil {
		return Summary{}, ErrExportDisabled
	}
	return p.execute(ctx, CommandExport, p.export)
}

func (p *Pipeline) execute(ctx context.Context, command string, body func(context.Context, *run) error) (Summary, error) {
	ledger, err := p.deps.Store.Runs.Start(dbctx.Context{Ctx: ctx}, command, p.cfg)
	if err != nil {
		return Summary{}, err
	}
	r := &run{id: ledger.ID, command: command, steps: tally.New(command)}
	p.log.Info("Run started", "run_id", r.id.String(), "command", command)

	runErr := body(ctx, r)
	status := snapshotStatus(runErr)

	// The ledger is closed even when ctx was cancelled mid-run.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	finishErr := p.deps.Store.Runs.Finish(dbctx.Context{Ctx: finishCtx}, r.id, status, r.steps.Steps, runErr)
	if p.deps.Runs != nil {
		p.deps.Runs.ObserveRun(command, status, p.now())
	}

	sum := Summary{RunID: r.id, Command: command, Status: status, Steps: r.steps.Steps, Manifest: r.manifest}
	if runErr != nil {
		p.log.Error("Run failed", "run_id", r.id.String(), "command", command, "error", runErr)
		return sum, errors.Join(runErr, finishErr)
	}
	if finishErr != nil {
		return sum, finishErr
	}
	p.log.Info("Run finished", "run_id", r.id.String(), "command", command, "steps", len(r.steps.Steps))
	return sum, nil
}

func snapshotStatus(err error) string {
	if err != nil {
		return snapshot.RunStatusFailed
	}
	return snapshot.RunStatusSucceeded
}

// stage runs fn inside a span, reports its transitions and step counts and
// appends the steps to the run's trail.
func (p *Pipeline) stage(ctx context.Context, r *run, name string, fn func(context.Context) (*tally.Tally, error)) error {
	ctx, span := observability.StartStage(ctx, r.command, name, attribute.String("cohort.run_id", r.id.String()))
	defer span.End()

	rep := p.deps.Reporter
	start := p.now()
	rep.ReportStage(ctx, observability.StageEvent{
		RunID: r.id.String(), Command: r.command, Stage: name, Status: observability.StatusStarted, At: start.UTC(),
	})

	t, err := fn(ctx)
	if t != nil {
		p.logSkipped(r, name, t.Skipped)
		r.steps.Merge(t)
		rep.ReportTally(ctx, r.id.String(), t)
	}

	ev := observability.StageEvent{
		RunID:    r.id.String(),
		Command:  r.command,
		Stage:    name,
		Status:   observability.StatusSucceeded,
		Duration: p.now().Sub(start),
		At:       p.now().UTC(),
	}
	if err != nil {
		ev.Status = observability.StatusFailed
		ev.Error = err.Error()
	}
	rep.ReportStage(ctx, ev)
	if err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	return nil
}

// logSkipped warns once per record a stage dropped leniently.
func (p *Pipeline) logSkipped(r *run, stage string, skipped []error) {
	for _, err := range skipped {
		kv := []interface{}{"run_id", r.id.String(), "stage", stage, "error", err}
		var mde *apperr.MalformedDateError
		if errors.As(err, &mde) {
			kv = append(kv, "field", mde.Field, "text", mde.Text, "user_id", mde.UserID)
		}
		p.log.Warn("Record skipped", kv...)
	}
}

func (p *Pipeline) written(table string, n int) {
	if p.deps.Rows != nil {
		p.deps.Rows.AddRowsWritten(table, n)
	}
}
