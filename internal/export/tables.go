package export

import (
	"strconv"

	"cloud.google.com/go/civil"

	"github.com/yungbote/longcovid-cohort/internal/domain/cohort"
	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	"github.com/yungbote/longcovid-cohort/internal/domain/user"
	"github.com/yungbote/longcovid-cohort/internal/domain/vitals"
)

// Table is one CSV file. Name is the file stem.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

func formatDate(d civil.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func VaccinationTable(recs []survey.VaccinationRecord) Table {
	t := Table{
		Name:   "vaccination",
		Header: []string{"user_id", "status", "first_dose", "second_dose", "third_dose", "jansen_received", "previously_infected"},
		Rows:   make([][]string, 0, len(recs)),
	}
	for _, r := range recs {
		t.Rows = append(t.Rows, []string{
			formatID(r.UserID),
			r.Status.String(),
			formatDate(r.FirstDose),
			formatDate(r.SecondDose),
			formatDate(r.ThirdDose),
			strconv.FormatBool(r.JansenReceived),
			strconv.FormatBool(r.PreviouslyInfected),
		})
	}
	return t
}

func TestTable(recs []survey.TestRecord) Table {
	t := Table{
		Name:   "tests",
		Header: []string{"user_id", "test_result", "test_date"},
		Rows:   make([][]string, 0, len(recs)),
	}
	for _, r := range recs {
		t.Rows = append(t.Rows, []string{formatID(r.UserID), string(r.Result), formatDate(r.TestDate)})
	}
	return t
}

func VitalTable(samples []vitals.Sample) Table {
	t := Table{
		Name:   "vitals",
		Header: []string{"user_id", "date", "vital_id", "device_id", "raw_value", "value"},
		Rows:   make([][]string, 0, len(samples)),
	}
	for _, s := range samples {
		t.Rows = append(t.Rows, []string{
			formatID(s.UserID),
			formatDate(s.Date),
			strconv.Itoa(int(s.Type)),
			strconv.Itoa(s.DeviceID),
			formatFloat(s.RawValue),
			formatFloat(s.Value),
		})
	}
	return t
}

func UserTable(recs []user.Record) Table {
	t := Table{
		Name:   "users",
		Header: []string{"user_id", "birth_date", "salutation", "plz", "age"},
		Rows:   make([][]string, 0, len(recs)),
	}
	for _, r := range recs {
		t.Rows = append(t.Rows, []string{
			formatID(r.UserID),
			formatOptional(r.BirthYear),
			formatOptional(r.Salutation),
			r.ZipCode,
			formatOptional(r.Age),
		})
	}
	return t
}

func BaselineTable(bs []vitals.Baseline) Table {
	t := Table{
		Name:   "baselines",
		Header: []string{"user_id", "vital_id", "baseline_value", "sample_count"},
		Rows:   make([][]string, 0, len(bs)),
	}
	for _, b := range bs {
		t.Rows = append(t.Rows, []string{formatID(b.UserID), strconv.Itoa(int(b.Type)), formatFloat(b.Value), strconv.Itoa(b.Weeks)})
	}
	return t
}

func DeviationTable(ds []vitals.WeeklyDeviation) Table {
	t := Table{
		Name:   "weekly_deviations",
		Header: []string{"user_id", "vital_id", "weeks_since_test", "test_result", "vital_change"},
		Rows:   make([][]string, 0, len(ds)),
	}
	for _, d := range ds {
		t.Rows = append(t.Rows, []string{
			formatID(d.UserID),
			strconv.Itoa(int(d.Type)),
			strconv.Itoa(d.WeeksSinceTest),
			string(d.Result),
			formatFloat(d.Change),
		})
	}
	return t
}

func CohortTable(ms []cohort.Membership) Table {
	header := []string{"user_id"}
	for _, f := range cohort.Flags {
		header = append(header, string(f))
	}
	t := Table{Name: "cohorts", Header: header, Rows: make([][]string, 0, len(ms))}
	for _, m := range ms {
		row := []string{formatID(m.UserID)}
		for _, f := range cohort.Flags {
			row = append(row, strconv.FormatBool(m.Has(f)))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}
