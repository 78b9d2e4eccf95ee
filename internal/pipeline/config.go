package pipeline

import (
	"cloud.google.com/go/civil"

	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	"github.com/yungbote/longcovid-cohort/internal/modules/cohorts"
	"github.com/yungbote/longcovid-cohort/internal/modules/testresults"
	"github.com/yungbote/longcovid-cohort/internal/modules/users"
	"github.com/yungbote/longcovid-cohort/internal/modules/vaccination"
	"github.com/yungbote/longcovid-cohort/internal/modules/vitals"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
)

// DefaultSurveyCutoffMillis is 2022-12-31 23:00 UTC.
const DefaultSurveyCutoffMillis int64 = 1672527600000

type Config struct {
	// SurveyCutoffMillis is the exclusive upper bound on answer timestamps.
	SurveyCutoffMillis int64 `yaml:"survey_cutoff_ms" json:"survey_cutoff_ms"`
	// VitalsMaxDate is the last sample date loaded, inclusive.
	VitalsMaxDate civil.Date `yaml:"vitals_max_date" json:"vitals_max_date"`

	Vaccination vaccination.Config      `yaml:"vaccination" json:"vaccination"`
	TestResults testresults.Config      `yaml:"test_results" json:"test_results"`
	Cohorts     cohorts.Config          `yaml:"cohorts" json:"cohorts"`
	Preprocess  vitals.PreprocessConfig `yaml:"preprocess" json:"preprocess"`
	Vitals      vitals.Config           `yaml:"vitals" json:"vitals"`
	Users       users.Config            `yaml:"users" json:"users"`
}

func DefaultConfig() Config {
	return Config{
		SurveyCutoffMillis: DefaultSurveyCutoffMillis,
		VitalsMaxDate:      civil.Date{Year: 2022, Month: 4, Day: 3},
		Vaccination:        vaccination.DefaultConfig(),
		TestResults:        testresults.DefaultConfig(),
		Cohorts:            cohorts.DefaultConfig(),
		Preprocess:         vitals.DefaultPreprocessConfig(),
		Vitals:             vitals.DefaultConfig(),
		Users:              users.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if c.SurveyCutoffMillis <= survey.ResponsesNotBeforeMillis {
		return apperr.InvalidConfig("survey cutoff %d must be after %d", c.SurveyCutoffMillis, survey.ResponsesNotBeforeMillis)
	}
	if !c.VitalsMaxDate.IsValid() {
		return apperr.InvalidConfig("vitals_max_date %v is not a valid date", c.VitalsMaxDate)
	}
	for _, v := range []interface{ Validate() error }{c.Vaccination, c.Cohorts, c.Preprocess, c.Vitals, c.Users} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
