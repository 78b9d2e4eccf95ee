package snapshots

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/longcovid-cohort/internal/domain/cohort"
	"github.com/yungbote/longcovid-cohort/internal/domain/snapshot"
	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	"github.com/yungbote/longcovid-cohort/internal/domain/user"
	"github.com/yungbote/longcovid-cohort/internal/domain/vitals"
	"github.com/yungbote/longcovid-cohort/internal/pkg/dbctx"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

const batchSize = 500

// replaceAll empties the table of T and inserts rows in one transaction.
func replaceAll[T any](dbc dbctx.Context, db *gorm.DB, rows []T) error {
	return dbc.DB(db).Transaction(func(tx *gorm.DB) error {
		var model T
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model).Error; err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&rows, batchSize).Error; err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
}

func listAll[T any](dbc dbctx.Context, db *gorm.DB, order string) ([]T, error) {
	var rows []T
	if err := dbc.DB(db).Order(order).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func convert[S, T any](in []S, f func(S) T) []T {
	out := make([]T, 0, len(in))
	for _, s := range in {
		out = append(out, f(s))
	}
	return out
}

type VaccinationRepo interface {
	Replace(dbc dbctx.Context, runID uuid.UUID, recs []survey.VaccinationRecord) error
	List(dbc dbctx.Context) ([]survey.VaccinationRecord, error)
}

type vaccinationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVaccinationRepo(db *gorm.DB, baseLog *logger.Logger) VaccinationRepo {
	return &vaccinationRepo{db: db, log: baseLog.With("repo", "VaccinationRepo")}
}

func (r *vaccinationRepo) Replace(dbc dbctx.Context, runID uuid.UUID, recs []survey.VaccinationRecord) error {
	rows := convert(recs, func(v survey.VaccinationRecord) snapshot.Vaccination { return snapshot.FromVaccination(runID, v) })
	if err := replaceAll(dbc, r.db, rows); err != nil {
		return fmt.Errorf("replace vaccination: %w", err)
	}
	r.log.Debug("Replaced snapshot", "table", "vaccination", "rows", len(rows))
	return nil
}

func (r *vaccinationRepo) List(dbc dbctx.Context) ([]survey.VaccinationRecord, error) {
	rows, err := listAll[snapshot.Vaccination](dbc, r.db, "user_id")
	if err != nil {
		return nil, fmt.Errorf("list vaccination: %w", err)
	}
	return convert(rows, snapshot.Vaccination.Record), nil
}

type TestResultRepo interface {
	Replace(dbc dbctx.Context, runID uuid.UUID, recs []survey.TestRecord) error
	List(dbc dbctx.Context) ([]survey.TestRecord, error)
}

type testResultRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTestResultRepo(db *gorm.DB, baseLog *logger.Logger) TestResultRepo {
	return &testResultRepo{db: db, log: baseLog.With("repo", "TestResultRepo")}
}

func (r *testResultRepo) Replace(dbc dbctx.Context, runID uuid.UUID, recs []survey.TestRecord) error {
	rows := convert(recs, func(t survey.TestRecord) snapshot.TestResult { return snapshot.FromTestRecord(runID, t) })
	if err := replaceAll(dbc, r.db, rows); err != nil {
		return fmt.Errorf("replace test_results: %w", err)
	}
	r.log.Debug("Replaced snapshot", "table", "test_results", "rows", len(rows))
	return nil
}

func (r *testResultRepo) List(dbc dbctx.Context) ([]survey.TestRecord, error) {
	rows, err := listAll[snapshot.TestResult](dbc, r.db, "user_id")
	if err != nil {
		return nil, fmt.Errorf("list test_results: %w", err)
	}
	return convert(rows, snapshot.TestResult.Record), nil
}

type VitalSampleRepo interface {
	Replace(dbc dbctx.Context, runID uuid.UUID, samples []vitals.Sample) error
	List(dbc dbctx.Context) ([]vitals.Sample, error)
}

type vitalSampleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVitalSampleRepo(db *gorm.DB, baseLog *logger.Logger) VitalSampleRepo {
	return &vitalSampleRepo{db: db, log: baseLog.With("repo", "VitalSampleRepo")}
}

func (r *vitalSampleRepo) Replace(dbc dbctx.Context, runID uuid.UUID, samples []vitals.Sample) error {
	rows := convert(samples, func(s vitals.Sample) snapshot.VitalSample { return snapshot.FromSample(runID, s) })
	if err := replaceAll(dbc, r.db, rows); err != nil {
		return fmt.Errorf("replace vital_samples: %w", err)
	}
	r.log.Debug("Replaced snapshot", "table", "vital_samples", "rows", len(rows))
	return nil
}

func (r *vitalSampleRepo) List(dbc dbctx.Context) ([]vitals.Sample, error) {
	rows, err := listAll[snapshot.VitalSample](dbc, r.db, "user_id, vital_id, date, device_id, id")
	if err != nil {
		return nil, fmt.Errorf("list vital_samples: %w", err)
	}
	return convert(rows, snapshot.VitalSample.Sample), nil
}

type UserRepo interface {
	Replace(dbc dbctx.Context, runID uuid.UUID, recs []user.Record) error
	List(dbc dbctx.Context) ([]user.Record, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func (r *userRepo) Replace(dbc dbctx.Context, runID uuid.UUID, recs []user.Record) error {
	rows := convert(recs, func(u user.Record) snapshot.User { return snapshot.FromUser(runID, u) })
	if err := replaceAll(dbc, r.db, rows); err != nil {
		return fmt.Errorf("replace users: %w", err)
	}
	r.log.Debug("Replaced snapshot", "table", "users", "rows", len(rows))
	return nil
}

func (r *userRepo) List(dbc dbctx.Context) ([]user.Record, error) {
	rows, err := listAll[snapshot.User](dbc, r.db, "user_id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return convert(rows, snapshot.User.Record), nil
}

type BaselineRepo interface {
	Replace(dbc dbctx.Context, runID uuid.UUID, bs []vitals.Baseline) error
	List(dbc dbctx.Context) ([]vitals.Baseline, error)
}

type baselineRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBaselineRepo(db *gorm.DB, baseLog *logger.Logger) BaselineRepo {
	return &baselineRepo{db: db, log: baseLog.With("repo", "BaselineRepo")}
}

func (r *baselineRepo) Replace(dbc dbctx.Context, runID uuid.UUID, bs []vitals.Baseline) error {
	rows := convert(bs, func(b vitals.Baseline) snapshot.Baseline { return snapshot.FromBaseline(runID, b) })
	if err := replaceAll(dbc, r.db, rows); err != nil {
		return fmt.Errorf("replace vital_baselines: %w", err)
	}
	r.log.Debug("Replaced snapshot", "table", "vital_baselines", "rows", len(rows))
	return nil
}

func (r *baselineRepo) List(dbc dbctx.Context) ([]vitals.Baseline, error) {
	rows, err := listAll[snapshot.Baseline](dbc, r.db, "user_id, vital_id")
	if err != nil {
		return nil, fmt.Errorf("list vital_baselines: %w", err)
	}
	return convert(rows, snapshot.Baseline.Baseline), nil
}

type DeviationRepo interface {
	Replace(dbc dbctx.Context, runID uuid.UUID, ds []vitals.WeeklyDeviation) error
	List(dbc dbctx.Context) ([]vitals.WeeklyDeviation, error)
}

type deviationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeviationRepo(db *gorm.DB, baseLog *logger.Logger) DeviationRepo {
	return &deviationRepo{db: db, log: baseLog.With("repo", "DeviationRepo")}
}

func (r *deviationRepo) Replace(dbc dbctx.Context, runID uuid.UUID, ds []vitals.WeeklyDeviation) error {
	rows := convert(ds, func(d vitals.WeeklyDeviation) snapshot.Deviation { return snapshot.FromDeviation(runID, d) })
	if err := replaceAll(dbc, r.db, rows); err != nil {
		return fmt.Errorf("replace weekly_deviations: %w", err)
	}
	r.log.Debug("Replaced snapshot", "table", "weekly_deviations", "rows", len(rows))
	return nil
}

func (r *deviationRepo) List(dbc dbctx.Context) ([]vitals.WeeklyDeviation, error) {
	rows, err := listAll[snapshot.Deviation](dbc, r.db, "user_id, vital_id, weeks_since_test")
	if err != nil {
		return nil, fmt.Errorf("list weekly_deviations: %w", err)
	}
	return convert(rows, snapshot.Deviation.Deviation), nil
}

type CohortRepo interface {
	Replace(dbc dbctx.Context, runID uuid.UUID, ms []cohort.Membership) error
	List(dbc dbctx.Context) ([]cohort.Membership, error)
}

type cohortRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCohortRepo(db *gorm.DB, baseLog *logger.Logger) CohortRepo {
	return &cohortRepo{db: db, log: baseLog.With("repo", "CohortRepo")}
}

func (r *cohortRepo) Replace(dbc dbctx.Context, runID uuid.UUID, ms []cohort.Membership) error {
	rows := convert(ms, func(m cohort.Membership) snapshot.Cohort { return snapshot.FromMembership(runID, m) })
	if err := replaceAll(dbc, r.db, rows); err != nil {
		return fmt.Errorf("replace cohorts: %w", err)
	}
	r.log.Debug("Replaced snapshot", "table", "cohorts", "rows", len(rows))
	return nil
}

func (r *cohortRepo) List(dbc dbctx.Context) ([]cohort.Membership, error) {
	rows, err := listAll[snapshot.Cohort](dbc, r.db, "user_id")
	if err != nil {
		return nil, fmt.Errorf("list cohorts: %w", err)
	}
	return convert(rows, snapshot.Cohort.Membership), nil
}
