// Package snapshot holds the persisted tables of a pipeline run. Every table
// except pipeline_run is replaced as a whole by the stage that produces it;
// RunID points at the run that wrote the rows.
package snapshot

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/longcovid-cohort/internal/domain/cohort"
	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	"github.com/yungbote/longcovid-cohort/internal/domain/user"
	"github.com/yungbote/longcovid-cohort/internal/domain/vitals"
)

type Vaccination struct {
	UserID             int64      `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"user_id"`
	Status             string     `gorm:"column:status;not null" json:"status"`
	FirstDose          *time.Time `gorm:"column:first_dose;type:date" json:"first_dose,omitempty"`
	SecondDose         *time.Time `gorm:"column:second_dose;type:date" json:"second_dose,omitempty"`
	ThirdDose          *time.Time `gorm:"column:third_dose;type:date" json:"third_dose,omitempty"`
	JansenReceived     bool       `gorm:"column:jansen_received;not null;default:false" json:"jansen_received"`
	PreviouslyInfected bool       `gorm:"column:previously_infected;not null;default:false" json:"previously_infected"`
	RunID              uuid.UUID  `gorm:"column:run_id;type:uuid;index" json:"run_id"`
}

func (Vaccination) TableName() string { return "vaccination" }

func FromVaccination(runID uuid.UUID, r survey.VaccinationRecord) Vaccination {
	return Vaccination{
		UserID:             r.UserID,
		Status:             string(r.Status),
		FirstDose:          DateColumn(r.FirstDose),
		SecondDose:         DateColumn(r.SecondDose),
		ThirdDose:          DateColumn(r.ThirdDose),
		JansenReceived:     r.JansenReceived,
		PreviouslyInfected: r.PreviouslyInfected,
		RunID:              runID,
	}
}

func (v Vaccination) Record() survey.VaccinationRecord {
	return survey.VaccinationRecord{
		UserID:             v.UserID,
		Status:             survey.VaccinationStatus(v.Status),
		FirstDose:          CivilDate(v.FirstDose),
		SecondDose:         CivilDate(v.SecondDose),
		ThirdDose:          CivilDate(v.ThirdDose),
		JansenReceived:     v.JansenReceived,
		PreviouslyInfected: v.PreviouslyInfected,
	}
}

type TestResult struct {
	UserID   int64     `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"user_id"`
	Result   string    `gorm:"column:test_result;not null" json:"test_result"`
	TestDate time.Time `gorm:"column:test_date;type:date;not null" json:"test_date"`
	RunID    uuid.UUID `gorm:"column:run_id;type:uuid;index" json:"run_id"`
}

func (TestResult) TableName() string { return "test_results" }

func FromTestRecord(runID uuid.UUID, r survey.TestRecord) TestResult {
	return TestResult{UserID: r.UserID, Result: string(r.Result), TestDate: r.TestDate.In(time.UTC), RunID: runID}
}

func (t TestResult) Record() survey.TestRecord {
	return survey.TestRecord{UserID: t.UserID, Result: survey.TestResult(t.Result), TestDate: civil.DateOf(t.TestDate.UTC())}
}

type VitalSample struct {
	ID       uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	UserID   int64     `gorm:"column:user_id;not null;index:idx_vital_samples_user_type" json:"user_id"`
	Type     int       `gorm:"column:vital_id;not null;index:idx_vital_samples_user_type" json:"vital_id"`
	Date     time.Time `gorm:"column:date;type:date;not null" json:"date"`
	DeviceID int       `gorm:"column:device_id;not null" json:"device_id"`
	RawValue float64   `gorm:"column:raw_value;not null" json:"raw_value"`
	Value    float64   `gorm:"column:value;not null" json:"value"`
	RunID    uuid.UUID `gorm:"column:run_id;type:uuid;index" json:"run_id"`
}

func (VitalSample) TableName() string { return "vital_samples" }

func FromSample(runID uuid.UUID, s vitals.Sample) VitalSample {
	return VitalSample{
		UserID:   s.UserID,
		Type:     int(s.Type),
		Date:     s.Date.In(time.UTC),
		DeviceID: s.DeviceID,
		RawValue: s.RawValue,
		Value:    s.Value,
		RunID:    runID,
	}
}

func (v VitalSample) Sample() vitals.Sample {
	return vitals.Sample{
		UserID:   v.UserID,
		Type:     vitals.Type(v.Type),
		Date:     civil.DateOf(v.Date.UTC()),
		DeviceID: v.DeviceID,
		RawValue: v.RawValue,
		Value:    v.Value,
	}
}

type User struct {
	UserID     int64     `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"user_id"`
	BirthYear  *float64  `gorm:"column:birth_date" json:"birth_date,omitempty"`
	Salutation *float64  `gorm:"column:salutation" json:"salutation,omitempty"`
	ZipCode    string    `gorm:"column:plz" json:"plz"`
	Age        *float64  `gorm:"column:age" json:"age,omitempty"`
	RunID      uuid.UUID `gorm:"column:run_id;type:uuid;index" json:"run_id"`
}

func (User) TableName() string { return "users" }

func FromUser(runID uuid.UUID, r user.Record) User {
	return User{UserID: r.UserID, BirthYear: r.BirthYear, Salutation: r.Salutation, ZipCode: r.ZipCode, Age: r.Age, RunID: runID}
}

func (u User) Record() user.Record {
	return user.Record{UserID: u.UserID, BirthYear: u.BirthYear, Salutation: u.Salutation, ZipCode: u.ZipCode, Age: u.Age}
}

type Baseline struct {
	UserID int64     `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"user_id"`
	Type   int       `gorm:"column:vital_id;primaryKey;autoIncrement:false" json:"vital_id"`
	Value  float64   `gorm:"column:baseline_value;not null" json:"baseline_value"`
	Weeks  int       `gorm:"column:sample_count;not null" json:"sample_count"`
	RunID  uuid.UUID `gorm:"column:run_id;type:uuid;index" json:"run_id"`
}

func (Baseline) TableName() string { return "vital_baselines" }

func FromBaseline(runID uuid.UUID, b vitals.Baseline) Baseline {
	return Baseline{UserID: b.UserID, Type: int(b.Type), Value: b.Value, Weeks: b.Weeks, RunID: runID}
}

func (b Baseline) Baseline() vitals.Baseline {
	return vitals.Baseline{UserID: b.UserID, Type: vitals.Type(b.Type), Value: b.Value, Weeks: b.Weeks}
}

type Deviation struct {
	UserID         int64     `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"user_id"`
	Type           int       `gorm:"column:vital_id;primaryKey;autoIncrement:false" json:"vital_id"`
	WeeksSinceTest int       `gorm:"column:weeks_since_test;primaryKey;autoIncrement:false" json:"weeks_since_test"`
	Result         string    `gorm:"column:test_result;not null" json:"test_result"`
	Change         float64   `gorm:"column:vital_change;not null" json:"vital_change"`
	RunID          uuid.UUID `gorm:"column:run_id;type:uuid;index" json:"run_id"`
}

func (Deviation) TableName() string { return "weekly_deviations" }

func FromDeviation(runID uuid.UUID, d vitals.WeeklyDeviation) Deviation {
	return Deviation{
		UserID:         d.UserID,
		Type:           int(d.Type),
		WeeksSinceTest: d.WeeksSinceTest,
		Result:         string(d.Result),
		Change:         d.Change,
		RunID:          runID,
	}
}

func (d Deviation) Deviation() vitals.WeeklyDeviation {
	return vitals.WeeklyDeviation{
		UserID:         d.UserID,
		Type:           vitals.Type(d.Type),
		WeeksSinceTest: d.WeeksSinceTest,
		Result:         survey.TestResult(d.Result),
		Change:         d.Change,
	}
}

type Cohort struct {
	UserID            int64     `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"user_id"`
	Positive          bool      `gorm:"column:positive;not null" json:"positive"`
	Negative          bool      `gorm:"column:negative;not null" json:"negative"`
	Unvaccinated      bool      `gorm:"column:unvaccinated;not null" json:"unvaccinated"`
	Vaccinated        bool      `gorm:"column:vaccinated;not null" json:"vaccinated"`
	VaccinatedDelta   bool      `gorm:"column:vaccinated_delta;not null" json:"vaccinated_delta"`
	VaccinatedOmicron bool      `gorm:"column:vaccinated_omicron;not null" json:"vaccinated_omicron"`
	Total             bool      `gorm:"column:total;not null" json:"total"`
	RunID             uuid.UUID `gorm:"column:run_id;type:uuid;index" json:"run_id"`
}

func (Cohort) TableName() string { return "cohorts" }

func FromMembership(runID uuid.UUID, m cohort.Membership) Cohort {
	return Cohort{
		UserID:            m.UserID,
		Positive:          m.Positive,
		Negative:          m.Negative,
		Unvaccinated:      m.Unvaccinated,
		Vaccinated:        m.Vaccinated,
		VaccinatedDelta:   m.VaccinatedDelta,
		VaccinatedOmicron: m.VaccinatedOmicron,
		Total:             m.Total,
		RunID:             runID,
	}
}

func (c Cohort) Membership() cohort.Membership {
	return cohort.Membership{
		UserID:            c.UserID,
		Positive:          c.Positive,
		Negative:          c.Negative,
		Unvaccinated:      c.Unvaccinated,
		Vaccinated:        c.Vaccinated,
		VaccinatedDelta:   c.VaccinatedDelta,
		VaccinatedOmicron: c.VaccinatedOmicron,
		Total:             c.Total,
	}
}

const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// PipelineRun is one invocation of extract, compute or run. Steps holds the
// merged tally of every stage the run completed.
type PipelineRun struct {
	ID         uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Command    string         `gorm:"column:command;not null;index" json:"command"`
	Status     string         `gorm:"column:status;not null;index" json:"status"`
	StartedAt  time.Time      `gorm:"column:started_at;not null;index" json:"started_at"`
	FinishedAt *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	Error      string         `gorm:"column:error" json:"error,omitempty"`
	Config     datatypes.JSON `gorm:"column:config" json:"config,omitempty"`
	Steps      datatypes.JSON `gorm:"column:steps" json:"steps,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (PipelineRun) TableName() string { return "pipeline_run" }

// DateColumn maps a zero civil date to NULL.
func DateColumn(d civil.Date) *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.In(time.UTC)
	return &t
}

// CivilDate maps NULL back to the zero civil date.
func CivilDate(t *time.Time) civil.Date {
	if t == nil {
		return civil.Date{}
	}
	return civil.DateOf(t.UTC())
}
