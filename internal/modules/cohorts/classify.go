package cohorts

import (
	"sort"

	"cloud.google.com/go/civil"

	"github.com/yungbote/longcovid-cohort/internal/domain/cohort"
	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
)

const Stage = "cohorts"

type Config struct {
	// OmicronCutoff splits vaccinated users by test date: earlier tests count
	// as delta, tests on or after it as omicron.
	OmicronCutoff civil.Date `yaml:"omicron_cutoff"`
}

func DefaultConfig() Config {
	return Config{OmicronCutoff: civil.Date{Year: 2021, Month: 12, Day: 15}}
}

func (c Config) Validate() error {
	if !c.OmicronCutoff.IsValid() {
		return apperr.InvalidConfig("omicron cutoff %v is not a valid date", c.OmicronCutoff)
	}
	return nil
}

// Classify labels every user of md, which must already be the inner join of
// vaccinations and test results. One membership per user, sorted by user id.
func Classify(cfg Config, md []survey.Metadata) ([]cohort.Membership, *tally.Tally, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	t := tally.New(Stage)

	byUser := make(map[int64]survey.Metadata, len(md))
	for _, m := range md {
		byUser[m.UserID] = m
	}
	out := make([]cohort.Membership, 0, len(byUser))
	for _, m := range byUser {
		out = append(out, Label(cfg, m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })

	t.Users("metadata", len(md)-len(out), len(out))
	for _, f := range cohort.Flags {
		n := 0
		for _, m := range out {
			if m.Has(f) {
				n++
			}
		}
		t.Users(string(f), 0, n)
	}
	return out, t, nil
}

// Label derives the cohort flags of a single user. Missing dose dates never
// satisfy a date comparison.
func Label(cfg Config, m survey.Metadata) cohort.Membership {
	out := cohort.Membership{
		UserID:   m.UserID,
		Positive: m.Result == survey.ResultPositive,
		Negative: m.Result == survey.ResultNegative,
	}
	out.Unvaccinated = out.Positive && !m.FirstDose.IsZero() && m.FirstDose.After(m.TestDate)
	out.Vaccinated = out.Positive &&
		(m.Status == survey.StatusFull || m.Status == survey.StatusBooster) &&
		!m.SecondDose.IsZero() && m.SecondDose.Before(m.TestDate) &&
		!m.JansenReceived
	out.VaccinatedDelta = out.Vaccinated && m.TestDate.Before(cfg.OmicronCutoff)
	out.VaccinatedOmicron = out.Vaccinated && !m.TestDate.Before(cfg.OmicronCutoff)
	out.Total = out.Vaccinated || out.Unvaccinated || out.Negative
	return out
}
