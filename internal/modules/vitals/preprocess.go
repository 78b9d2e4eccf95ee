package vitals

import (
	"cloud.google.com/go/civil"

	domain "github.com/yungbote/longcovid-cohort/internal/domain/vitals"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
)

const PreprocessStage = "vitals_preprocess"

type PreprocessConfig struct {
	// ExcludedDevices are device codes with too few users to be comparable.
	ExcludedDevices []int `yaml:"excluded_devices"`
	// AppleSleepCutoff drops Apple sleep samples on or after this date; an
	// OS update changed how sleep is recorded. Zero disables the rule.
	AppleSleepCutoff civil.Date `yaml:"apple_sleep_cutoff"`
	// NormalizeDaily subtracts the mean over all users of the same vital,
	// date and device from every sample.
	NormalizeDaily bool `yaml:"normalize_daily"`
}

func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		ExcludedDevices:  []int{19, 46, 48},
		AppleSleepCutoff: civil.Date{Year: 2021, Month: 10, Day: 20},
	}
}

func (c PreprocessConfig) Validate() error {
	if !c.AppleSleepCutoff.IsZero() && !c.AppleSleepCutoff.IsValid() {
		return apperr.InvalidConfig("apple sleep cutoff %v is not a valid date", c.AppleSleepCutoff)
	}
	return nil
}

// Preprocess filters unusable samples and optionally normalises values. The
// input is not modified.
func Preprocess(cfg PreprocessConfig, samples []domain.Sample) ([]domain.Sample, *tally.Tally, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	t := tally.New(PreprocessStage)
	t.Rows("raw_samples", 0, len(samples))

	excluded := make(map[int]struct{}, len(cfg.ExcludedDevices))
	for _, d := range cfg.ExcludedDevices {
		excluded[d] = struct{}{}
	}
	out := make([]domain.Sample, 0, len(samples))
	for _, s := range samples {
		if _, ok := excluded[s.DeviceID]; !ok {
			out = append(out, s)
		}
	}
	t.Rows("excluded_device", len(samples)-len(out), len(out))

	if !cfg.AppleSleepCutoff.IsZero() {
		kept := out[:0]
		for _, s := range out {
			if s.DeviceID == domain.DeviceApple && s.Type == domain.TypeSleepDuration && !s.Date.Before(cfg.AppleSleepCutoff) {
				continue
			}
			kept = append(kept, s)
		}
		t.Rows("apple_sleep", len(out)-len(kept), len(kept))
		out = kept
	}

	for i := range out {
		out[i].Value = out[i].RawValue
	}
	if cfg.NormalizeDaily {
		normalizeDaily(out)
		t.Rows("normalized", 0, len(out))
	}
	return out, t, nil
}

func normalizeDaily(samples []domain.Sample) {
	type key struct {
		typ    domain.Type
		date   civil.Date
		device int
	}
	type acc struct {
		sum float64
		n   int
	}
	means := map[key]*acc{}
	for _, s := range samples {
		k := key{s.Type, s.Date, s.DeviceID}
		a := means[k]
		if a == nil {
			a = &acc{}
			means[k] = a
		}
		a.sum += s.RawValue
		a.n++
	}
	for i := range samples {
		a := means[key{samples[i].Type, samples[i].Date, samples[i].DeviceID}]
		samples[i].Value = samples[i].RawValue - a.sum/float64(a.n)
	}
}
