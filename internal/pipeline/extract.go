package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/longcovid-cohort/internal/data/repos/source"
	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	"github.com/yungbote/longcovid-cohort/internal/domain/user"
	"github.com/yungbote/longcovid-cohort/internal/domain/vitals"
	"github.com/yungbote/longcovid-cohort/internal/modules/testresults"
	"github.com/yungbote/longcovid-cohort/internal/modules/users"
	"github.com/yungbote/longcovid-cohort/internal/modules/vaccination"
	vitalsmod "github.com/yungbote/longcovid-cohort/internal/modules/vitals"
	"github.com/yungbote/longcovid-cohort/internal/pkg/dbctx"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
)

const (
	stageMetadata       = "metadata"
	stagePersistExtract = "persist_extract"
)

var errSourcesRequired = errors.New("extract requires answer, vital and user sources")

type extracted struct {
	vaccinations []survey.VaccinationRecord
	tests        []survey.TestRecord
	samples      []vitals.Sample
	users        []user.Record
}

func (p *Pipeline) extract(ctx context.Context, r *run) error {
	if p.deps.Answers == nil || p.deps.Vitals == nil || p.deps.Users == nil {
		return errSourcesRequired
	}
	var out extracted

	err := p.stage(ctx, r, vaccination.Stage, func(ctx context.Context) (*tally.Tally, error) {
		in := vaccination.Input{}
		var err error
		if p.cfg.Vaccination.Source != vaccination.SourceUpdate {
			if in.Initial, err = p.answers(ctx, survey.VaccinationQuestions, survey.QuestionnaireTestsSymptoms); err != nil {
				return nil, err
			}
		}
		if p.cfg.Vaccination.Source != vaccination.SourceInitial {
			if in.Update, err = p.answers(ctx, survey.VaccinationQuestions, survey.QuestionnaireVaccinationUpdate); err != nil {
				return nil, err
			}
		}
		recs, t, err := vaccination.Reconcile(p.cfg.Vaccination, in)
		out.vaccinations = recs
		return t, err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, r, testresults.Stage, func(ctx context.Context) (*tally.Tally, error) {
		weekly, err := p.answers(ctx, survey.WeeklyTestQuestions, 0)
		if err != nil {
			return nil, err
		}
		oneOff, err := p.answers(ctx, survey.OneOffTestQuestions, 0)
		if err != nil {
			return nil, err
		}
		recs, t, err := testresults.Resolve(p.cfg.TestResults, testresults.Input{Weekly: weekly, OneOff: oneOff})
		out.tests = recs
		return t, err
	})
	if err != nil {
		return err
	}

	var ids []int64
	err = p.stage(ctx, r, stageMetadata, func(ctx context.Context) (*tally.Tally, error) {
		md := survey.JoinMetadata(out.vaccinations, out.tests)
		ids = survey.UserIDs(md)
		t := tally.New(stageMetadata)
		t.Users("vaccination_without_test", len(out.vaccinations)-len(md), len(md))
		t.Users("test_without_vaccination", len(out.tests)-len(md), len(md))
		return t, nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, r, vitalsmod.PreprocessStage, func(ctx context.Context) (*tally.Tally, error) {
		raw, err := p.deps.Vitals.List(ctx, ids, vitals.Types, p.cfg.VitalsMaxDate)
		if err != nil {
			return nil, err
		}
		samples, t, err := vitalsmod.Preprocess(p.cfg.Preprocess, raw)
		out.samples = samples
		return t, err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, r, users.Stage, func(ctx context.Context) (*tally.Tally, error) {
		raw, err := p.deps.Users.List(ctx, ids)
		if err != nil {
			return nil, err
		}
		recs, t, err := users.Prepare(p.cfg.Users, raw)
		out.users = recs
		return t, err
	})
	if err != nil {
		return err
	}

	return p.stage(ctx, r, stagePersistExtract, func(ctx context.Context) (*tally.Tally, error) {
		return p.persistExtract(ctx, r.id, out)
	})
}

func (p *Pipeline) answers(ctx context.Context, questions []int, q survey.Questionnaire) ([]survey.Answer, error) {
	return p.deps.Answers.List(ctx, source.AnswerQuery{
		Questions:     questions,
		Questionnaire: q,
		CreatedBefore: p.cfg.SurveyCutoffMillis,
	})
}

// persistExtract replaces all extract snapshots in one transaction so a
// failed run leaves the previous snapshots intact.
func (p *Pipeline) persistExtract(ctx context.Context, runID uuid.UUID, out extracted) (*tally.Tally, error) {
	s := p.deps.Store
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.Vaccinations.Replace(dbc, runID, out.vaccinations); err != nil {
			return err
		}
		if err := s.Tests.Replace(dbc, runID, out.tests); err != nil {
			return err
		}
		if err := s.Samples.Replace(dbc, runID, out.samples); err != nil {
			return err
		}
		return s.Users.Replace(dbc, runID, out.users)
	})
	if err != nil {
		return nil, err
	}
	t := tally.New(stagePersistExtract)
	for _, w := range []struct {
		table string
		n     int
	}{
		{"vaccination", len(out.vaccinations)},
		{"test_results", len(out.tests)},
		{"vital_samples", len(out.samples)},
		{"users", len(out.users)},
	} {
		t.Rows(w.table, 0, w.n)
		p.written(w.table, w.n)
	}
	return t, nil
}
