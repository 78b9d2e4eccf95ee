package pipeline

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/longcovid-cohort/internal/domain/cohort"
	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	"github.com/yungbote/longcovid-cohort/internal/domain/vitals"
	"github.com/yungbote/longcovid-cohort/internal/modules/cohorts"
	vitalsmod "github.com/yungbote/longcovid-cohort/internal/modules/vitals"
	"github.com/yungbote/longcovid-cohort/internal/pkg/dbctx"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
)

const (
	stageLoad           = "load"
	stagePersistCompute = "persist_compute"
)

type computed struct {
	cohorts    []cohort.Membership
	baselines  []vitals.Baseline
	deviations []vitals.WeeklyDeviation
}

func (p *Pipeline) compute(ctx context.Context, r *run) error {
	var (
		vaccs   []survey.VaccinationRecord
		tests   []survey.TestRecord
		samples []vitals.Sample
	)
	err := p.stage(ctx, r, stageLoad, func(ctx context.Context) (*tally.Tally, error) {
		s := p.deps.Store
		dbc := dbctx.Context{Ctx: ctx}
		var err error
		if vaccs, err = s.Vaccinations.List(dbc); err != nil {
			return nil, err
		}
		if tests, err = s.Tests.List(dbc); err != nil {
			return nil, err
		}
		if samples, err = s.Samples.List(dbc); err != nil {
			return nil, err
		}
		t := tally.New(stageLoad)
		t.Rows("vaccination", 0, len(vaccs))
		t.Rows("test_results", 0, len(tests))
		t.Rows("vital_samples", 0, len(samples))
		return t, nil
	})
	if err != nil {
		return err
	}

	var out computed
	err = p.stage(ctx, r, cohorts.Stage, func(ctx context.Context) (*tally.Tally, error) {
		ms, t, err := cohorts.Classify(p.cfg.Cohorts, survey.JoinMetadata(vaccs, tests))
		out.cohorts = ms
		return t, err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, r, vitalsmod.Stage, func(ctx context.Context) (*tally.Tally, error) {
		res, t, err := vitalsmod.Deviations(p.cfg.Vitals, samples, tests)
		out.baselines = res.Baselines
		out.deviations = res.Deviations
		return t, err
	})
	if err != nil {
		return err
	}

	return p.stage(ctx, r, stagePersistCompute, func(ctx context.Context) (*tally.Tally, error) {
		return p.persistCompute(ctx, r.id, out)
	})
}

func (p *Pipeline) persistCompute(ctx context.Context, runID uuid.UUID, out computed) (*tally.Tally, error) {
	s := p.deps.Store
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.Cohorts.Replace(dbc, runID, out.cohorts); err != nil {
			return err
		}
		if err := s.Baselines.Replace(dbc, runID, out.baselines); err != nil {
			return err
		}
		return s.Deviations.Replace(dbc, runID, out.deviations)
	})
	if err != nil {
		return nil, err
	}
	t := tally.New(stagePersistCompute)
	for _, w := range []struct {
		table string
		n     int
	}{
		{"cohorts", len(out.cohorts)},
		{"vital_baselines", len(out.baselines)},
		{"weekly_deviations", len(out.deviations)},
	} {
		t.Rows(w.table, 0, w.n)
		p.written(w.table, w.n)
	}
	return t, nil
}
