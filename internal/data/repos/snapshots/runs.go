package snapshots

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/longcovid-cohort/internal/domain/snapshot"
	"github.com/yungbote/longcovid-cohort/internal/pkg/dbctx"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

// RunRepo is the run ledger. A run is created as running and finished
// exactly once with the steps it recorded.
type RunRepo interface {
	Start(dbc dbctx.Context, command string, config any) (*snapshot.PipelineRun, error)
	Finish(dbc dbctx.Context, id uuid.UUID, status string, steps []tally.Step, runErr error) error
	Get(dbc dbctx.Context, id uuid.UUID) (*snapshot.PipelineRun, error)
	Latest(dbc dbctx.Context, command string) (*snapshot.PipelineRun, error)
	List(dbc dbctx.Context, limit int) ([]*snapshot.PipelineRun, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	return &runRepo{db: db, log: baseLog.With("repo", "RunRepo"), now: time.Now}
}

func (r *runRepo) Start(dbc dbctx.Context, command string, config any) (*snapshot.PipelineRun, error) {
	cfg, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal run config: %w", err)
	}
	run := &snapshot.PipelineRun{
		ID:        uuid.New(),
		Command:   command,
		Status:    snapshot.RunStatusRunning,
		StartedAt: r.now().UTC(),
		Config:    datatypes.JSON(cfg),
		Steps:     datatypes.JSON([]byte("[]")),
	}
	if err := dbc.DB(r.db).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create pipeline_run: %w", err)
	}
	return run, nil
}

func (r *runRepo) Finish(dbc dbctx.Context, id uuid.UUID, status string, steps []tally.Step, runErr error) error {
	if steps == nil {
		steps = []tally.Step{}
	}
	raw, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal run steps: %w", err)
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res := dbc.DB(r.db).
		Model(&snapshot.PipelineRun{}).
		Where("id = ? AND status = ?", id, snapshot.RunStatusRunning).
		Updates(map[string]any{
			"status":      status,
			"finished_at": r.now().UTC(),
			"error":       msg,
			"steps":       datatypes.JSON(raw),
		})
	if res.Error != nil {
		return fmt.Errorf("finish pipeline_run %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finish pipeline_run %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (r *runRepo) Get(dbc dbctx.Context, id uuid.UUID) (*snapshot.PipelineRun, error) {
	var run snapshot.PipelineRun
	err := dbc.DB(r.db).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("pipeline_run %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepo) Latest(dbc dbctx.Context, command string) (*snapshot.PipelineRun, error) {
	var run snapshot.PipelineRun
	q := dbc.DB(r.db).Order("started_at DESC")
	if command != "" {
		q = q.Where("command = ?", command)
	}
	err := q.First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("latest %q run: %w", command, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepo) List(dbc dbctx.Context, limit int) ([]*snapshot.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*snapshot.PipelineRun
	if err := dbc.DB(r.db).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Steps decodes the recorded steps of a run.
func Steps(run *snapshot.PipelineRun) ([]tally.Step, error) {
	if run == nil || len(run.Steps) == 0 {
		return nil, nil
	}
	var steps []tally.Step
	if err := json.Unmarshal(run.Steps, &steps); err != nil {
		return nil, fmt.Errorf("decode steps of run %s: %w", run.ID, err)
	}
	return steps, nil
}
