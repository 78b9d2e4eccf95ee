package vitals

import (
	"cloud.google.com/go/civil"

	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
)

// Type is the vital signal code used by the device-sync tables.
type Type int

const (
	TypeSteps            Type = 9
	TypeSleepDuration    Type = 43
	TypeRestingHeartRate Type = 65
)

var Types = []Type{TypeSteps, TypeSleepDuration, TypeRestingHeartRate}

func (t Type) String() string {
	switch t {
	case TypeSteps:
		return "steps"
	case TypeSleepDuration:
		return "sleep_duration"
	case TypeRestingHeartRate:
		return "resting_heart_rate"
	default:
		return "unknown"
	}
}

// DeviceApple is the device source code of Apple Health exports.
const DeviceApple = 6

// Sample is one daily vital value synced from a device. Value is what the
// deviation engine aggregates; it equals RawValue unless daily
// normalisation was applied.
type Sample struct {
	UserID   int64
	Type     Type
	Date     civil.Date
	DeviceID int
	RawValue float64
	Value    float64
}

// Baseline is a user's reference level for one vital. Weeks is the number of
// contributing weeks.
type Baseline struct {
	UserID int64
	Type   Type
	Value  float64
	Weeks  int
}

// WeeklyDeviation is the difference between a week's mean and the baseline.
type WeeklyDeviation struct {
	UserID         int64
	Type           Type
	WeeksSinceTest int
	Result         survey.TestResult
	Change         float64
}
