package vitals

import (
	"errors"
	"math"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"

	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	domain "github.com/yungbote/longcovid-cohort/internal/domain/vitals"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
)

var testDay = civil.Date{Year: 2021, Month: time.November, Day: 1}

func positive(user int64) survey.TestRecord {
	return survey.TestRecord{UserID: user, Result: survey.ResultPositive, TestDate: testDay}
}

// week returns n daily samples starting on the first day of the given week
// offset, all with value v.
func week(user int64, typ domain.Type, offset, n int, v float64) []domain.Sample {
	out := make([]domain.Sample, 0, n)
	start := testDay.AddDays(offset * 7)
	for i := 0; i < n; i++ {
		out = append(out, domain.Sample{UserID: user, Type: typ, Date: start.AddDays(i), DeviceID: 1, RawValue: v, Value: v})
	}
	return out
}

func join(parts ...[]domain.Sample) []domain.Sample {
	var out []domain.Sample
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestWeeksSinceFloors(t *testing.T) {
	cases := map[int]int{0: 0, 6: 0, 7: 1, -1: -1, -7: -1, -8: -2, -56: -8, -57: -9, 146: 20, 147: 21}
	for days, want := range cases {
		if got := WeeksSince(days); got != want {
			t.Fatalf("WeeksSince(%d): want=%d got=%d", days, want, got)
		}
	}
}

func TestDeviationsBaselineFromThreeWeeks(t *testing.T) {
	samples := join(
		week(1, domain.TypeSteps, -5, 7, 8000),
		week(1, domain.TypeSteps, -3, 7, 9000),
		week(1, domain.TypeSteps, -2, 7, 10000),
		week(1, domain.TypeSteps, 0, 6, 5000),
		week(1, domain.TypeSteps, 1, 5, 6000),
	)
	res, _, err := Deviations(DefaultConfig(), samples, []survey.TestRecord{positive(1)})
	if err != nil {
		t.Fatalf("Deviations: %v", err)
	}
	wantBase := []domain.Baseline{{UserID: 1, Type: domain.TypeSteps, Value: 9000, Weeks: 3}}
	if diff := cmp.Diff(wantBase, res.Baselines); diff != "" {
		t.Fatalf("baselines (-want +got):\n%s", diff)
	}
	want := []domain.WeeklyDeviation{
		{UserID: 1, Type: domain.TypeSteps, WeeksSinceTest: -5, Result: survey.ResultPositive, Change: -1000},
		{UserID: 1, Type: domain.TypeSteps, WeeksSinceTest: -3, Result: survey.ResultPositive, Change: 0},
		{UserID: 1, Type: domain.TypeSteps, WeeksSinceTest: -2, Result: survey.ResultPositive, Change: 1000},
		{UserID: 1, Type: domain.TypeSteps, WeeksSinceTest: 0, Result: survey.ResultPositive, Change: -4000},
	}
	if diff := cmp.Diff(want, res.Deviations); diff != "" {
		t.Fatalf("deviations (-want +got):\n%s", diff)
	}
}

func TestDeviationsNeedEnoughBaselineWeeks(t *testing.T) {
	samples := join(
		week(1, domain.TypeRestingHeartRate, -5, 7, 60),
		week(1, domain.TypeRestingHeartRate, -2, 7, 62),
		// week -1 is too close to the test to count
		week(1, domain.TypeRestingHeartRate, -1, 7, 64),
		week(1, domain.TypeRestingHeartRate, 2, 7, 70),
	)
	res, tl, err := Deviations(DefaultConfig(), samples, []survey.TestRecord{positive(1)})
	if err != nil {
		t.Fatalf("Deviations: %v", err)
	}
	if len(res.Baselines) != 0 || len(res.Deviations) != 0 {
		t.Fatalf("want no output, got baselines=%v deviations=%v", res.Baselines, res.Deviations)
	}
	if n := tl.Dropped("without_baseline"); n != 4 {
		t.Fatalf("without_baseline: want=4 got=%d", n)
	}
}

func TestDeviationsSparseBaselineWeekDoesNotCount(t *testing.T) {
	samples := join(
		week(1, domain.TypeSteps, -6, 7, 100),
		week(1, domain.TypeSteps, -4, 7, 100),
		week(1, domain.TypeSteps, -3, 5, 100),
		week(1, domain.TypeSteps, 0, 7, 100),
	)
	res, _, err := Deviations(DefaultConfig(), samples, []survey.TestRecord{positive(1)})
	if err != nil {
		t.Fatalf("Deviations: %v", err)
	}
	if len(res.Baselines) != 0 {
		t.Fatalf("baselines: want none got=%v", res.Baselines)
	}
}

func TestDeviationsWindowBounds(t *testing.T) {
	base := join(
		week(1, domain.TypeSteps, -7, 7, 100),
		week(1, domain.TypeSteps, -6, 7, 100),
		week(1, domain.TypeSteps, -5, 7, 100),
	)
	samples := join(base,
		week(1, domain.TypeSteps, -9, 7, 100),
		week(1, domain.TypeSteps, -8, 7, 100),
		week(1, domain.TypeSteps, 20, 7, 100),
		week(1, domain.TypeSteps, 21, 7, 100),
	)
	res, tl, err := Deviations(DefaultConfig(), samples, []survey.TestRecord{positive(1)})
	if err != nil {
		t.Fatalf("Deviations: %v", err)
	}
	var got []int
	for _, d := range res.Deviations {
		got = append(got, d.WeeksSinceTest)
	}
	if diff := cmp.Diff([]int{-8, -7, -6, -5, 20}, got); diff != "" {
		t.Fatalf("weeks (-want +got):\n%s", diff)
	}
	if n := tl.Dropped("outside_window"); n != 14 {
		t.Fatalf("outside_window: want=14 got=%d", n)
	}
}

func TestDeviationsImplausibleThresholdIsHalfOpen(t *testing.T) {
	samples := join(
		week(1, domain.TypeSteps, -7, 7, 100),
		week(1, domain.TypeSteps, -6, 7, 100),
		week(1, domain.TypeSteps, -5, 7, 100),
		week(1, domain.TypeSteps, 3, 6, 100),
	)
	big := week(1, domain.TypeSteps, 3, 2, 0)
	big[0].RawValue, big[0].Value = 999999, 999999
	big[1].RawValue, big[1].Value = 1000000, 1000000
	samples = append(samples, big...)

	res, tl, err := Deviations(DefaultConfig(), samples, []survey.TestRecord{positive(1)})
	if err != nil {
		t.Fatalf("Deviations: %v", err)
	}
	if n := tl.Dropped("implausible_value"); n != 1 {
		t.Fatalf("implausible_value: want=1 got=%d", n)
	}
	last := res.Deviations[len(res.Deviations)-1]
	wantChange := (6*100.0+999999)/7 - 100
	if last.WeeksSinceTest != 3 || math.Abs(last.Change-wantChange) > 1e-6 {
		t.Fatalf("week 3: want change=%v got=%+v", wantChange, last)
	}
}

func TestDeviationsMinPointsPerWeek(t *testing.T) {
	base := join(
		week(1, domain.TypeSleepDuration, -7, 7, 420),
		week(1, domain.TypeSleepDuration, -6, 7, 420),
		week(1, domain.TypeSleepDuration, -5, 7, 420),
		week(2, domain.TypeSleepDuration, -7, 7, 420),
		week(2, domain.TypeSleepDuration, -6, 7, 420),
		week(2, domain.TypeSleepDuration, -5, 7, 420),
	)
	samples := join(base,
		week(1, domain.TypeSleepDuration, 0, 6, 400),
		week(2, domain.TypeSleepDuration, 0, 5, 400),
	)
	tests := []survey.TestRecord{positive(1), {UserID: 2, Result: survey.ResultNegative, TestDate: testDay}}
	res, _, err := Deviations(DefaultConfig(), samples, tests)
	if err != nil {
		t.Fatalf("Deviations: %v", err)
	}
	week0 := map[int64]bool{}
	for _, d := range res.Deviations {
		if d.WeeksSinceTest == 0 {
			week0[d.UserID] = true
		}
		if d.UserID == 2 && d.Result != survey.ResultNegative {
			t.Fatalf("user 2 result: want=negative got=%s", d.Result)
		}
	}
	if !week0[1] || week0[2] {
		t.Fatalf("week 0 rows: want user 1 only, got=%v", week0)
	}
}

func TestDeviationsBaselineModes(t *testing.T) {
	samples := join(
		week(1, domain.TypeSteps, -5, 7, 100),
		week(1, domain.TypeSteps, -4, 6, 200),
		week(1, domain.TypeSteps, -3, 6, 300),
	)
	tests := []survey.TestRecord{positive(1)}

	weekly, _, err := Deviations(DefaultConfig(), samples, tests)
	if err != nil {
		t.Fatalf("Deviations: %v", err)
	}
	if got := weekly.Baselines[0].Value; got != 200 {
		t.Fatalf("weekly baseline: want=200 got=%v", got)
	}

	cfg := DefaultConfig()
	cfg.BaselineMode = BaselineSamples
	pooled, _, err := Deviations(cfg, samples, tests)
	if err != nil {
		t.Fatalf("Deviations: %v", err)
	}
	want := (7*100.0 + 6*200 + 6*300) / 19
	if got := pooled.Baselines[0].Value; math.Abs(got-want) > 1e-9 {
		t.Fatalf("pooled baseline: want=%v got=%v", want, got)
	}
}

func TestDeviationsDropsUsersWithoutTest(t *testing.T) {
	samples := week(9, domain.TypeSteps, 0, 7, 100)
	res, tl, err := Deviations(DefaultConfig(), samples, nil)
	if err != nil {
		t.Fatalf("Deviations: %v", err)
	}
	if len(res.Deviations) != 0 {
		t.Fatalf("deviations: want none got=%v", res.Deviations)
	}
	if n := tl.Dropped("without_test_record"); n != 7 {
		t.Fatalf("without_test_record: want=7 got=%d", n)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.WindowMinWeek, c.WindowMaxWeek = 5, 4 },
		func(c *Config) { c.WindowMinWeek = -1 },
		func(c *Config) { c.MinPointsPerWeek = 0 },
		func(c *Config) { c.MinWeeksForBaseline = 0 },
		func(c *Config) { c.ImplausibleThreshold = 0 },
		func(c *Config) { c.BaselineMode = "median" },
	}
	for i, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, apperr.ErrInvalidConfig) {
			t.Fatalf("case %d: want ErrInvalidConfig got=%v", i, err)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
}

func TestDeviationsBaselineIsBitStable(t *testing.T) {
	values := []float64{0.1, 0.7, 1e-9, 3.3, 12345.678901, 0.2}
	var samples []domain.Sample
	for i, v := range values {
		samples = append(samples, week(1, domain.TypeSteps, -8+i, 7, v)...)
	}
	samples = append(samples, week(1, domain.TypeSteps, 0, 7, 1)...)

	// Week means summed in week order, as the baseline does.
	var sum float64
	for _, v := range values {
		var wk float64
		for i := 0; i < 7; i++ {
			wk += v
		}
		sum += wk / 7
	}
	want := math.Float64bits(sum / float64(len(values)))

	tests := []survey.TestRecord{positive(1)}
	for run := 0; run < 200; run++ {
		res, _, err := Deviations(DefaultConfig(), samples, tests)
		if err != nil {
			t.Fatalf("Deviations: %v", err)
		}
		if len(res.Baselines) != 1 {
			t.Fatalf("baselines: want=1 got=%d", len(res.Baselines))
		}
		if got := math.Float64bits(res.Baselines[0].Value); got != want {
			t.Fatalf("run %d baseline bits: want=%x got=%x", run, want, got)
		}
	}
}
