package vitals

import (
	"sort"

	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	domain "github.com/yungbote/longcovid-cohort/internal/domain/vitals"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
)

const Stage = "vitals"

// BaselineMode selects how qualifying baseline weeks are averaged.
type BaselineMode string

const (
	// BaselineWeekly averages the weekly means, one vote per week.
	BaselineWeekly BaselineMode = "weekly"
	// BaselineSamples pools every sample of the qualifying weeks.
	BaselineSamples BaselineMode = "samples"
)

// Weeks before this offset feed the baseline.
const baselineBeforeWeek = -1

type Config struct {
	WindowMinWeek        int          `yaml:"window_min_week"`
	WindowMaxWeek        int          `yaml:"window_max_week"`
	MinPointsPerWeek     int          `yaml:"min_points_per_week"`
	MinWeeksForBaseline  int          `yaml:"min_weeks_for_baseline"`
	ImplausibleThreshold float64      `yaml:"implausible_threshold"`
	BaselineMode         BaselineMode `yaml:"baseline_mode"`
}

func DefaultConfig() Config {
	return Config{
		WindowMinWeek:        -8,
		WindowMaxWeek:        20,
		MinPointsPerWeek:     6,
		MinWeeksForBaseline:  3,
		ImplausibleThreshold: 1e6,
		BaselineMode:         BaselineWeekly,
	}
}

func (c Config) Validate() error {
	if c.WindowMinWeek > c.WindowMaxWeek {
		return apperr.InvalidConfig("vital window [%d, %d] is empty", c.WindowMinWeek, c.WindowMaxWeek)
	}
	if c.WindowMinWeek >= baselineBeforeWeek {
		return apperr.InvalidConfig("vital window must start before week %d to leave room for a baseline, got %d", baselineBeforeWeek, c.WindowMinWeek)
	}
	if c.MinPointsPerWeek < 1 {
		return apperr.InvalidConfig("min_points_per_week must be positive, got %d", c.MinPointsPerWeek)
	}
	if c.MinWeeksForBaseline < 1 {
		return apperr.InvalidConfig("min_weeks_for_baseline must be positive, got %d", c.MinWeeksForBaseline)
	}
	if c.ImplausibleThreshold <= 0 {
		return apperr.InvalidConfig("implausible_threshold must be positive, got %v", c.ImplausibleThreshold)
	}
	switch c.BaselineMode {
	case BaselineWeekly, BaselineSamples:
	default:
		return apperr.InvalidConfig("baseline_mode must be weekly or samples, got %q", c.BaselineMode)
	}
	return nil
}

// Result is the output of Deviations.
type Result struct {
	Deviations []domain.WeeklyDeviation
	Baselines  []domain.Baseline
}

type seriesKey struct {
	user int64
	typ  domain.Type
}

type weekKey struct {
	seriesKey
	week int
}

type bucket struct {
	sum float64
	n   int
}

func (b bucket) mean() float64 { return b.sum / float64(b.n) }

// WeeksSince returns the floored week offset of a day difference, so -1 day
// is week -1 and -8 days is week -2.
func WeeksSince(days int) int {
	w := days / 7
	if days%7 != 0 && days < 0 {
		w--
	}
	return w
}

// Deviations aligns samples to each user's test date and returns the weekly
// change against the user's pre-test baseline. Weeks with too few samples
// and series without enough baseline weeks produce no rows.
func Deviations(cfg Config, samples []domain.Sample, tests []survey.TestRecord) (Result, *tally.Tally, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, nil, err
	}
	t := tally.New(Stage)

	testByUser := make(map[int64]survey.TestRecord, len(tests))
	for _, tr := range tests {
		testByUser[tr.UserID] = tr
	}

	buckets := map[weekKey]*bucket{}
	noTest, outside, implausible := 0, 0, 0
	users := map[int64]struct{}{}
	for _, s := range samples {
		tr, ok := testByUser[s.UserID]
		if !ok {
			noTest++
			continue
		}
		week := WeeksSince(s.Date.DaysSince(tr.TestDate))
		if week < cfg.WindowMinWeek || week > cfg.WindowMaxWeek {
			outside++
			continue
		}
		if s.RawValue >= cfg.ImplausibleThreshold {
			implausible++
			continue
		}
		k := weekKey{seriesKey{s.UserID, s.Type}, week}
		b := buckets[k]
		if b == nil {
			b = &bucket{}
			buckets[k] = b
		}
		b.sum += s.Value
		b.n++
		users[s.UserID] = struct{}{}
	}
	remaining := len(samples) - noTest
	t.Rows("without_test_record", noTest, remaining)
	remaining -= outside
	t.Rows("outside_window", outside, remaining)
	remaining -= implausible
	t.Rows("implausible_value", implausible, remaining)
	t.Users("with_samples_in_window", 0, len(users))

	weeks := make(map[weekKey]bucket, len(buckets))
	for k, b := range buckets {
		if b.n >= cfg.MinPointsPerWeek {
			weeks[k] = *b
		}
	}
	t.Rows("sparse_week", len(buckets)-len(weeks), len(weeks))
	t.Users("with_dense_week", 0, countUsers(weeks))

	baselines := computeBaselines(cfg, weeks)
	t.Users("with_baseline", 0, countSeriesUsers(baselines))

	var res Result
	for k, b := range weeks {
		base, ok := baselines[k.seriesKey]
		if !ok {
			continue
		}
		res.Deviations = append(res.Deviations, domain.WeeklyDeviation{
			UserID:         k.user,
			Type:           k.typ,
			WeeksSinceTest: k.week,
			Result:         testByUser[k.user].Result,
			Change:         b.mean() - base.Value,
		})
	}
	t.Rows("without_baseline", len(weeks)-len(res.Deviations), len(res.Deviations))
	sort.Slice(res.Deviations, func(i, j int) bool {
		a, b := res.Deviations[i], res.Deviations[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.WeeksSinceTest < b.WeeksSinceTest
	})

	res.Baselines = make([]domain.Baseline, 0, len(baselines))
	for _, b := range baselines {
		res.Baselines = append(res.Baselines, b)
	}
	sort.Slice(res.Baselines, func(i, j int) bool {
		a, b := res.Baselines[i], res.Baselines[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.Type < b.Type
	})
	return res, t, nil
}

// computeBaselines averages the dense weeks before baselineBeforeWeek per
// series and keeps series with at least MinWeeksForBaseline such weeks.
func computeBaselines(cfg Config, weeks map[weekKey]bucket) map[seriesKey]domain.Baseline {
	type acc struct {
		meanSum float64
		pooled  bucket
		weeks   int
	}
	accs := map[seriesKey]*acc{}
	// Summed in week order so the float result does not depend on map order.
	for _, k := range sortedWeekKeys(weeks) {
		b := weeks[k]
		if k.week >= baselineBeforeWeek {
			continue
		}
		a := accs[k.seriesKey]
		if a == nil {
			a = &acc{}
			accs[k.seriesKey] = a
		}
		a.meanSum += b.mean()
		a.pooled.sum += b.sum
		a.pooled.n += b.n
		a.weeks++
	}

	out := make(map[seriesKey]domain.Baseline, len(accs))
	for k, a := range accs {
		if a.weeks < cfg.MinWeeksForBaseline {
			continue
		}
		v := a.meanSum / float64(a.weeks)
		if cfg.BaselineMode == BaselineSamples {
			v = a.pooled.mean()
		}
		out[k] = domain.Baseline{UserID: k.user, Type: k.typ, Value: v, Weeks: a.weeks}
	}
	return out
}

func sortedWeekKeys(weeks map[weekKey]bucket) []weekKey {
	keys := make([]weekKey, 0, len(weeks))
	for k := range weeks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.user != b.user {
			return a.user < b.user
		}
		if a.typ != b.typ {
			return a.typ < b.typ
		}
		return a.week < b.week
	})
	return keys
}

func countUsers(weeks map[weekKey]bucket) int {
	users := map[int64]struct{}{}
	for k := range weeks {
		users[k.user] = struct{}{}
	}
	return len(users)
}

func countSeriesUsers(baselines map[seriesKey]domain.Baseline) int {
	users := map[int64]struct{}{}
	for k := range baselines {
		users[k.user] = struct{}{}
	}
	return len(users)
}
