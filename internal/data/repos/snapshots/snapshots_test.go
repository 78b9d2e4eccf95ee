package snapshots

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/longcovid-cohort/internal/data/db"
	"github.com/yungbote/longcovid-cohort/internal/domain/cohort"
	"github.com/yungbote/longcovid-cohort/internal/domain/snapshot"
	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	"github.com/yungbote/longcovid-cohort/internal/domain/user"
	"github.com/yungbote/longcovid-cohort/internal/domain/vitals"
	"github.com/yungbote/longcovid-cohort/internal/pkg/dbctx"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

func openStore(t *testing.T) *gorm.DB {
	t.Helper()
	store, err := db.OpenStore(db.StoreConfig{
		Driver:  db.DriverSQLite,
		DSN:     filepath.Join(t.TempDir(), "store.db"),
		Migrate: true,
	}, logger.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store.DB()
}

func dbc() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func month(y int, m time.Month) civil.Date { return civil.Date{Year: y, Month: m, Day: 1} }

func f64(v float64) *float64 { return &v }

func TestVaccinationReplaceAndList(t *testing.T) {
	gdb := openStore(t)
	repo := NewVaccinationRepo(gdb, logger.Nop())

	first := []survey.VaccinationRecord{
		{UserID: 9, Status: survey.StatusUnvaccinated},
	}
	if err := repo.Replace(dbc(), uuid.New(), first); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	want := []survey.VaccinationRecord{
		{UserID: 1, Status: survey.StatusFull, FirstDose: month(2021, time.May), SecondDose: month(2021, time.June), PreviouslyInfected: false},
		{UserID: 2, Status: survey.StatusBooster, FirstDose: month(2021, time.April), ThirdDose: month(2021, time.December), JansenReceived: true},
	}
	if err := repo.Replace(dbc(), uuid.New(), []survey.VaccinationRecord{want[1], want[0]}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	got, err := repo.List(dbc())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("vaccination (-want +got):\n%s", diff)
	}
}

func TestExtractTablesRoundTrip(t *testing.T) {
	gdb := openStore(t)
	runID := uuid.New()
	day := civil.Date{Year: 2021, Month: time.November, Day: 1}

	tests := []survey.TestRecord{{UserID: 1, Result: survey.ResultPositive, TestDate: day}}
	testRepo := NewTestResultRepo(gdb, logger.Nop())
	if err := testRepo.Replace(dbc(), runID, tests); err != nil {
		t.Fatalf("tests Replace: %v", err)
	}
	gotTests, err := testRepo.List(dbc())
	if err != nil {
		t.Fatalf("tests List: %v", err)
	}
	if diff := cmp.Diff(tests, gotTests); diff != "" {
		t.Fatalf("tests (-want +got):\n%s", diff)
	}

	samples := []vitals.Sample{
		{UserID: 1, Type: vitals.TypeSteps, Date: day, DeviceID: 1, RawValue: 8000, Value: -200},
		{UserID: 1, Type: vitals.TypeSteps, Date: day, DeviceID: 2, RawValue: 8400, Value: 200},
	}
	sampleRepo := NewVitalSampleRepo(gdb, logger.Nop())
	if err := sampleRepo.Replace(dbc(), runID, samples); err != nil {
		t.Fatalf("samples Replace: %v", err)
	}
	gotSamples, err := sampleRepo.List(dbc())
	if err != nil {
		t.Fatalf("samples List: %v", err)
	}
	if diff := cmp.Diff(samples, gotSamples); diff != "" {
		t.Fatalf("samples (-want +got):\n%s", diff)
	}

	users := []user.Record{
		{UserID: 1, BirthYear: f64(1985), Salutation: f64(30), ZipCode: "10115", Age: f64(39)},
		{UserID: 2},
	}
	userRepo := NewUserRepo(gdb, logger.Nop())
	if err := userRepo.Replace(dbc(), runID, users); err != nil {
		t.Fatalf("users Replace: %v", err)
	}
	gotUsers, err := userRepo.List(dbc())
	if err != nil {
		t.Fatalf("users List: %v", err)
	}
	if diff := cmp.Diff(users, gotUsers); diff != "" {
		t.Fatalf("users (-want +got):\n%s", diff)
	}
}

func TestComputeTablesRoundTrip(t *testing.T) {
	gdb := openStore(t)
	runID := uuid.New()

	baselines := []vitals.Baseline{{UserID: 1, Type: vitals.TypeRestingHeartRate, Value: 61.5, Weeks: 4}}
	bRepo := NewBaselineRepo(gdb, logger.Nop())
	if err := bRepo.Replace(dbc(), runID, baselines); err != nil {
		t.Fatalf("baselines Replace: %v", err)
	}
	gotB, err := bRepo.List(dbc())
	if err != nil {
		t.Fatalf("baselines List: %v", err)
	}
	if diff := cmp.Diff(baselines, gotB); diff != "" {
		t.Fatalf("baselines (-want +got):\n%s", diff)
	}

	devs := []vitals.WeeklyDeviation{
		{UserID: 1, Type: vitals.TypeRestingHeartRate, WeeksSinceTest: -8, Result: survey.ResultPositive, Change: -0.5},
		{UserID: 1, Type: vitals.TypeRestingHeartRate, WeeksSinceTest: 3, Result: survey.ResultPositive, Change: 2.25},
	}
	dRepo := NewDeviationRepo(gdb, logger.Nop())
	if err := dRepo.Replace(dbc(), runID, []vitals.WeeklyDeviation{devs[1], devs[0]}); err != nil {
		t.Fatalf("deviations Replace: %v", err)
	}
	gotD, err := dRepo.List(dbc())
	if err != nil {
		t.Fatalf("deviations List: %v", err)
	}
	if diff := cmp.Diff(devs, gotD); diff != "" {
		t.Fatalf("deviations (-want +got):\n%s", diff)
	}

	ms := []cohort.Membership{{UserID: 1, Positive: true, Vaccinated: true, VaccinatedOmicron: true, Total: true}}
	cRepo := NewCohortRepo(gdb, logger.Nop())
	if err := cRepo.Replace(dbc(), runID, ms); err != nil {
		t.Fatalf("cohorts Replace: %v", err)
	}
	if err := cRepo.Replace(dbc(), runID, nil); err != nil {
		t.Fatalf("cohorts Replace empty: %v", err)
	}
	gotC, err := cRepo.List(dbc())
	if err != nil {
		t.Fatalf("cohorts List: %v", err)
	}
	if len(gotC) != 0 {
		t.Fatalf("cohorts after empty replace: want none got=%v", gotC)
	}
}

func TestRunLedger(t *testing.T) {
	gdb := openStore(t)
	repo := NewRunRepo(gdb, logger.Nop()).(*runRepo)
	clock := time.Date(2022, time.April, 4, 8, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }

	run, err := repo.Start(dbc(), "extract", map[string]any{"survey_cutoff_ms": 1672527600000})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Status != snapshot.RunStatusRunning {
		t.Fatalf("status: want=%s got=%s", snapshot.RunStatusRunning, run.Status)
	}

	steps := []tally.Step{{Stage: "vaccination", Name: "latest_session", Unit: "users", Dropped: 2, Remaining: 40}}
	clock = clock.Add(time.Minute)
	if err := repo.Finish(dbc(), run.ID, snapshot.RunStatusSucceeded, steps, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := repo.Finish(dbc(), run.ID, snapshot.RunStatusFailed, nil, errors.New("again")); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("second Finish: want ErrNotFound got=%v", err)
	}

	got, err := repo.Get(dbc(), run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != snapshot.RunStatusSucceeded || got.FinishedAt == nil {
		t.Fatalf("finished run: got=%+v", got)
	}
	gotSteps, err := Steps(got)
	if err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if diff := cmp.Diff(steps, gotSteps); diff != "" {
		t.Fatalf("steps (-want +got):\n%s", diff)
	}

	clock = clock.Add(time.Hour)
	second, err := repo.Start(dbc(), "compute", nil)
	if err != nil {
		t.Fatalf("Start compute: %v", err)
	}
	latest, err := repo.Latest(dbc(), "")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("latest: want=%s got=%s", second.ID, latest.ID)
	}
	latestExtract, err := repo.Latest(dbc(), "extract")
	if err != nil || latestExtract.ID != run.ID {
		t.Fatalf("latest extract: want=%s got=%v err=%v", run.ID, latestExtract, err)
	}
	if _, err := repo.Latest(dbc(), "export"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("latest export: want ErrNotFound got=%v", err)
	}
	runs, err := repo.List(dbc(), 0)
	if err != nil || len(runs) != 2 {
		t.Fatalf("List: want 2 runs got=%d err=%v", len(runs), err)
	}
}
