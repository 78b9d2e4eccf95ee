package survey

import "cloud.google.com/go/civil"

type VaccinationStatus string

const (
	StatusMissing      VaccinationStatus = ""
	StatusUnvaccinated VaccinationStatus = "unvaccinated"
	StatusPartial      VaccinationStatus = "partial"
	StatusFull         VaccinationStatus = "full"
	StatusBooster      VaccinationStatus = "booster"
)

func (s VaccinationStatus) Valid() bool {
	switch s {
	case StatusUnvaccinated, StatusPartial, StatusFull, StatusBooster:
		return true
	default:
		return false
	}
}

func (s VaccinationStatus) String() string {
	if s == StatusMissing {
		return "missing"
	}
	return string(s)
}

type TestResult string

const (
	ResultNegative TestResult = "negative"
	ResultPositive TestResult = "positive"
)

// VaccinationRecord is the reconciled vaccination state of one user. Zero
// dose dates mean the dose was not reported. Dose dates carry month
// precision and always fall on the first of the month.
type VaccinationRecord struct {
	UserID             int64
	Status             VaccinationStatus
	FirstDose          civil.Date
	SecondDose         civil.Date
	ThirdDose          civil.Date
	JansenReceived     bool
	PreviouslyInfected bool
}

// TestRecord is the single resolved PCR result of one user. TestDate is the
// first day of the week in which the test was taken.
type TestRecord struct {
	UserID   int64
	Result   TestResult
	TestDate civil.Date
}

// Metadata is a vaccination record joined with the user's test record.
type Metadata struct {
	VaccinationRecord
	Result   TestResult
	TestDate civil.Date
}

// JoinMetadata inner-joins vaccinations and tests on user id, in the order
// of vaccs.
func JoinMetadata(vaccs []VaccinationRecord, tests []TestRecord) []Metadata {
	byUser := make(map[int64]TestRecord, len(tests))
	for _, t := range tests {
		byUser[t.UserID] = t
	}
	out := make([]Metadata, 0, len(vaccs))
	for _, v := range vaccs {
		t, ok := byUser[v.UserID]
		if !ok {
			continue
		}
		out = append(out, Metadata{VaccinationRecord: v, Result: t.Result, TestDate: t.TestDate})
	}
	return out
}

// UserIDs returns the user ids of md in order.
func UserIDs(md []Metadata) []int64 {
	out := make([]int64, 0, len(md))
	for _, m := range md {
		out = append(out, m.UserID)
	}
	return out
}
