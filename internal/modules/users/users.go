package users

import (
	"math"

	"github.com/yungbote/longcovid-cohort/internal/domain/user"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
)

const Stage = "users"

type Config struct {
	// ReferenceYear is the fractional year ages are computed against.
	ReferenceYear float64 `yaml:"reference_year"`
	// AgeOffset centres ages on the middle of the five-year birth year bins.
	AgeOffset float64 `yaml:"age_offset"`
	// DefaultSalutation replaces a missing salutation answer.
	DefaultSalutation float64 `yaml:"default_salutation"`
}

func DefaultConfig() Config {
	return Config{
		ReferenceYear:     2022 + 4.0/12,
		AgeOffset:         2.5,
		DefaultSalutation: 30,
	}
}

func (c Config) Validate() error {
	if c.ReferenceYear < 1900 {
		return apperr.InvalidConfig("users reference_year %v is implausible", c.ReferenceYear)
	}
	return nil
}

// Prepare fills default salutations and derives ages. Users without a birth
// year keep a nil age.
func Prepare(cfg Config, in []user.Record) ([]user.Record, *tally.Tally, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	t := tally.New(Stage)
	out := make([]user.Record, len(in))
	noSalutation, noAge := 0, 0
	for i, r := range in {
		if r.Salutation == nil {
			s := cfg.DefaultSalutation
			r.Salutation = &s
			noSalutation++
		}
		r.Age = nil
		if r.BirthYear != nil {
			age := math.Floor(cfg.ReferenceYear - *r.BirthYear + cfg.AgeOffset)
			r.Age = &age
		} else {
			noAge++
		}
		out[i] = r
	}
	t.Users("default_salutation", 0, noSalutation)
	t.Users("without_age", 0, noAge)
	t.Users("prepared", 0, len(out))
	return out, t, nil
}
