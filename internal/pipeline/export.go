package pipeline

import (
	"context"

	"github.com/yungbote/longcovid-cohort/internal/export"
	"github.com/yungbote/longcovid-cohort/internal/pkg/dbctx"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
)

const stageExport = "export"

func (p *Pipeline) export(ctx context.Context, r *run) error {
	return p.stage(ctx, r, stageExport, func(ctx context.Context) (*tally.Tally, error) {
		tables, err := p.snapshotTables(dbctx.Context{Ctx: ctx})
		if err != nil {
			return nil, err
		}
		m, err := p.deps.Exporter.Export(ctx, r.id.String(), tables)
		if err != nil {
			return nil, err
		}
		r.manifest = &m
		t := tally.New(stageExport)
		for _, f := range m.Files {
			t.Rows(f.Key, 0, f.Rows)
		}
		return t, nil
	})
}

func (p *Pipeline) snapshotTables(dbc dbctx.Context) ([]export.Table, error) {
	s := p.deps.Store
	vaccs, err := s.Vaccinations.List(dbc)
	if err != nil {
		return nil, err
	}
	tests, err := s.Tests.List(dbc)
	if err != nil {
		return nil, err
	}
	samples, err := s.Samples.List(dbc)
	if err != nil {
		return nil, err
	}
	us, err := s.Users.List(dbc)
	if err != nil {
		return nil, err
	}
	bs, err := s.Baselines.List(dbc)
	if err != nil {
		return nil, err
	}
	ds, err := s.Deviations.List(dbc)
	if err != nil {
		return nil, err
	}
	ms, err := s.Cohorts.List(dbc)
	if err != nil {
		return nil, err
	}
	return []export.Table{
		export.VaccinationTable(vaccs),
		export.TestTable(tests),
		export.VitalTable(samples),
		export.UserTable(us),
		export.BaselineTable(bs),
		export.DeviationTable(ds),
		export.CohortTable(ms),
	}, nil
}
