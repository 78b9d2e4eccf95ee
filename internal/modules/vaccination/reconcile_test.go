package vaccination

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"

	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
)

const (
	textFull         = "Ja"
	textPartial      = "Nein, nur teilweise geimpft"
	textUnvaccinated = "Nein, überhaupt nicht geimpft"
	textBooster      = "mit Auffrischimpfung (Booster)"
)

type session struct {
	user    int64
	session int64
	status  string
	first   string
	second  string
	third   string
}

func answers(q survey.Questionnaire, sessions ...session) []survey.Answer {
	var out []survey.Answer
	add := func(s session, question int, text string) {
		if text == "" {
			return
		}
		out = append(out, survey.Answer{
			UserID:        s.user,
			Questionnaire: q,
			Question:      question,
			Session:       s.session,
			Text:          text,
			CreatedAt:     survey.ResponsesNotBeforeMillis + s.session*1000,
		})
	}
	statusQuestion := survey.QuestionStatusUpdate
	if q == survey.QuestionnaireTestsSymptoms {
		statusQuestion = survey.QuestionStatusInitial
	}
	for _, s := range sessions {
		add(s, statusQuestion, s.status)
		add(s, survey.QuestionFirstDose, s.first)
		add(s, survey.QuestionSecondDose, s.second)
		add(s, survey.QuestionThirdDose, s.third)
	}
	return out
}

func initial(sessions ...session) []survey.Answer {
	return answers(survey.QuestionnaireTestsSymptoms, sessions...)
}

func update(sessions ...session) []survey.Answer {
	return answers(survey.QuestionnaireVaccinationUpdate, sessions...)
}

func month(y int, m time.Month) civil.Date {
	return civil.Date{Year: y, Month: m, Day: 1}
}

func reconcile(t *testing.T, in Input) []survey.VaccinationRecord {
	t.Helper()
	recs, _, err := Reconcile(DefaultConfig(), in)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	for _, r := range recs {
		if !Valid(r) {
			t.Fatalf("Reconcile produced invalid record %+v", r)
		}
	}
	return recs
}

func TestReconcileConsistentOverlapUsesUpdate(t *testing.T) {
	in := Input{
		Initial: initial(session{user: 1, session: 10, status: textFull, first: "März 2021", second: "Mai 2021"}),
		Update:  update(session{user: 1, session: 50, status: textFull, first: "März 2021", second: "Mai 2021"}),
	}
	got := reconcile(t, in)
	want := []survey.VaccinationRecord{{
		UserID:     1,
		Status:     survey.StatusFull,
		FirstDose:  month(2021, time.March),
		SecondDose: month(2021, time.May),
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}
}

func TestReconcileUpgradeTakesUpdateValues(t *testing.T) {
	in := Input{
		Initial: initial(session{user: 2, session: 1, status: textPartial, first: "Mai 2021"}),
		Update:  update(session{user: 2, session: 7, status: textBooster, first: "Mai 2021", second: "Juni 2021", third: "Dezember 2021"}),
	}
	got := reconcile(t, in)
	if len(got) != 1 {
		t.Fatalf("records: want=1 got=%d", len(got))
	}
	if got[0].Status != survey.StatusBooster || got[0].ThirdDose != month(2021, time.December) {
		t.Fatalf("record: got=%+v", got[0])
	}
}

func TestReconcileDropsImplausible(t *testing.T) {
	cases := []struct {
		name string
		s    session
		step string
	}{
		{"unvaccinated with first dose", session{user: 3, session: 1, status: textUnvaccinated, first: "Mai 2021"}, "initial_unvaccinated_with_first_dose"},
		{"partial with second dose", session{user: 3, session: 1, status: textPartial, first: "Mai 2021", second: "Juni 2021"}, "initial_partial_with_second_dose"},
		{"full with third dose", session{user: 3, session: 1, status: textFull, first: "Mai 2021", second: "Juni 2021", third: "Juli 2021"}, "initial_full_with_third_dose"},
		{"partial without first dose", session{user: 3, session: 1, status: textPartial}, "initial_partial_missing_first_dose"},
		{"full without second dose", session{user: 3, session: 1, status: textFull, first: "Mai 2021"}, "initial_full_missing_second_dose"},
		{"booster without third dose", session{user: 3, session: 1, status: textBooster, first: "Mai 2021", second: "Juni 2021"}, "initial_booster_missing_third_dose"},
		{"missing status", session{user: 3, session: 1, first: "Mai 2021"}, "initial_missing_status"},
		{"unknown status text", session{user: 3, session: 1, status: "vielleicht"}, "initial_missing_status"},
		{"booster without official second dose", session{user: 3, session: 1, status: textBooster, first: "Mai 2021", second: SecondDoseOtherReasonText, third: "Dezember 2021"}, "initial_booster_without_second_dose"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recs, tl, err := Reconcile(DefaultConfig(), Input{Initial: initial(tc.s)})
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if len(recs) != 0 {
				t.Fatalf("records: want=0 got=%+v", recs)
			}
			if got := tl.Dropped(tc.step); got != 1 {
				t.Fatalf("dropped(%s): want=1 got=%d (steps=%v)", tc.step, got, tl.Steps)
			}
		})
	}
}

func TestReconcileDropsConflictingUsers(t *testing.T) {
	cases := []struct {
		name string
		a, b session
		step string
	}{
		{
			"first dose differs",
			session{user: 4, session: 1, status: textFull, first: "März 2021", second: "Mai 2021"},
			session{user: 4, session: 9, status: textFull, first: "April 2021", second: "Mai 2021"},
			"inconsistent_first_dose",
		},
		{
			"second dose differs",
			session{user: 4, session: 1, status: textFull, first: "März 2021", second: "Mai 2021"},
			session{user: 4, session: 9, status: textFull, first: "März 2021", second: "Juni 2021"},
			"inconsistent_second_dose",
		},
		{
			"full to unvaccinated",
			session{user: 4, session: 1, status: textFull, first: "März 2021", second: "Mai 2021"},
			session{user: 4, session: 9, status: "gar nicht geimpft"},
			"inconsistent_first_dose",
		},
		{
			"partial to unvaccinated",
			session{user: 4, session: 1, status: textPartial, first: "März 2021"},
			session{user: 4, session: 9, status: "gar nicht geimpft"},
			"inconsistent_first_dose",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keep := session{user: 99, session: 3, status: textUnvaccinated}
			recs, tl, err := Reconcile(DefaultConfig(), Input{Initial: initial(tc.a, keep), Update: update(tc.b)})
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if len(recs) != 1 || recs[0].UserID != 99 {
				t.Fatalf("records: want only user 99, got=%+v", recs)
			}
			if got := tl.Dropped(tc.step); got != 1 {
				t.Fatalf("dropped(%s): want=1 got=%d", tc.step, got)
			}
		})
	}
}

func TestReconcileStatusRegressionWithoutDoseConflict(t *testing.T) {
	// Same first dose in both surveys, but the update claims only a partial
	// vaccination after a full one.
	a := session{user: 5, session: 1, status: textFull, first: "März 2021", second: "Mai 2021"}
	b := session{user: 5, session: 9, status: textPartial, first: "März 2021"}
	recs, tl, err := Reconcile(DefaultConfig(), Input{Initial: initial(a), Update: update(b)})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("records: want=0 got=%+v", recs)
	}
	if got := tl.Dropped("inconsistent_second_dose"); got != 1 {
		t.Fatalf("dropped(inconsistent_second_dose): want=1 got=%d", got)
	}
}

func TestReconcileLatestSessionWins(t *testing.T) {
	in := Input{Update: update(
		session{user: 6, session: 20, status: textPartial, first: "Juni 2021"},
		session{user: 6, session: 11, status: textFull, first: "Juni 2021", second: "Juli 2021"},
	)}
	got := reconcile(t, in)
	if len(got) != 1 || got[0].Status != survey.StatusPartial {
		t.Fatalf("records: want partial from session 20, got=%+v", got)
	}
}

func TestReconcileSingleDoseFlags(t *testing.T) {
	in := Input{Update: update(
		session{user: 7, session: 1, status: textFull, first: "September 2021", second: SecondDoseJansenText},
		session{user: 8, session: 2, status: textFull, first: "Oktober 2021", second: SecondDoseOtherReasonText},
	)}
	got := reconcile(t, in)
	want := []survey.VaccinationRecord{
		{UserID: 7, Status: survey.StatusFull, FirstDose: month(2021, time.September), JansenReceived: true},
		{UserID: 8, Status: survey.StatusFull, FirstDose: month(2021, time.October), PreviouslyInfected: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}
}

func TestReconcileDropsUnorderedDoses(t *testing.T) {
	in := Input{Update: update(
		session{user: 9, session: 1, status: textFull, first: "Juli 2021", second: "Mai 2021"},
		session{user: 10, session: 1, status: textBooster, first: "Februar 2021", second: "Februar 2021", third: "Oktober 2021"},
	)}
	recs, tl, err := Reconcile(DefaultConfig(), in)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(recs) != 1 || recs[0].UserID != 10 {
		t.Fatalf("records: want only user 10, got=%+v", recs)
	}
	if got := tl.Dropped("first_dose_after_second_dose"); got != 1 {
		t.Fatalf("dropped(first_dose_after_second_dose): want=1 got=%d", got)
	}
}

func TestReconcileMalformedDates(t *testing.T) {
	in := Input{Update: update(
		session{user: 11, session: 1, status: textPartial, first: "Mittsommer 2021"},
		session{user: 12, session: 1, status: textPartial, first: "Mai 2021"},
	)}

	recs, tl, err := Reconcile(DefaultConfig(), in)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(recs) != 1 || recs[0].UserID != 12 {
		t.Fatalf("records: want only user 12, got=%+v", recs)
	}
	if got := tl.Dropped("malformed_date"); got != 1 {
		t.Fatalf("dropped(malformed_date): want=1 got=%d", got)
	}
	want := []error{&apperr.MalformedDateError{Field: "first_dose", Text: "Mittsommer 2021", UserID: 11}}
	if diff := cmp.Diff(want, tl.Skipped, cmp.Comparer(sameMalformedDate)); diff != "" {
		t.Fatalf("skipped (-want +got):\n%s", diff)
	}

	strict := DefaultConfig()
	strict.StrictDates = true
	_, _, err = Reconcile(strict, in)
	if !errors.Is(err, apperr.ErrMalformedDate) {
		t.Fatalf("strict: want ErrMalformedDate, got=%v", err)
	}
	var mde *apperr.MalformedDateError
	if !errors.As(err, &mde) || mde.UserID != 11 || mde.Field != "first_dose" {
		t.Fatalf("strict: unexpected error detail %+v", mde)
	}
}

func TestReconcileSourceSelection(t *testing.T) {
	in := Input{
		Initial: initial(session{user: 1, session: 1, status: textPartial, first: "Mai 2021"}),
		Update:  update(session{user: 2, session: 1, status: textUnvaccinated}),
	}
	for _, tc := range []struct {
		source Source
		want   []int64
	}{
		{SourceAll, []int64{1, 2}},
		{SourceInitial, []int64{1}},
		{SourceUpdate, []int64{2}},
	} {
		recs, _, err := Reconcile(Config{Source: tc.source}, in)
		if err != nil {
			t.Fatalf("Reconcile(%s): %v", tc.source, err)
		}
		var got []int64
		for _, r := range recs {
			got = append(got, r.UserID)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("users for %s (-want +got):\n%s", tc.source, diff)
		}
	}
	if _, _, err := Reconcile(Config{Source: "latest"}, in); !errors.Is(err, apperr.ErrInvalidConfig) {
		t.Fatalf("unknown source: want ErrInvalidConfig got=%v", err)
	}
}

func TestReconcileIgnoresRowOrder(t *testing.T) {
	in := Input{
		Initial: initial(
			session{user: 1, session: 1, status: textFull, first: "März 2021", second: "Mai 2021"},
			session{user: 2, session: 2, status: textPartial, first: "Juni 2021"},
			session{user: 2, session: 5, status: textFull, first: "Juni 2021", second: "Juli 2021"},
			session{user: 3, session: 3, status: textUnvaccinated},
		),
		Update: update(
			session{user: 1, session: 40, status: textBooster, first: "März 2021", second: "Mai 2021", third: "Dezember 2021"},
			session{user: 4, session: 41, status: textFull, first: "April 2021", second: SecondDoseJansenText},
			session{user: 4, session: 39, status: textPartial, first: "April 2021"},
		),
	}
	want := reconcile(t, in)
	if len(want) != 4 {
		t.Fatalf("records: want=4 got=%d", len(want))
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := Input{
			Initial: append([]survey.Answer(nil), in.Initial...),
			Update:  append([]survey.Answer(nil), in.Update...),
		}
		rng.Shuffle(len(shuffled.Initial), func(a, b int) { shuffled.Initial[a], shuffled.Initial[b] = shuffled.Initial[b], shuffled.Initial[a] })
		rng.Shuffle(len(shuffled.Update), func(a, b int) { shuffled.Update[a], shuffled.Update[b] = shuffled.Update[b], shuffled.Update[a] })
		got := reconcile(t, shuffled)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("shuffle %d changed output (-want +got):\n%s", i, diff)
		}
	}
}

func TestParseMonth(t *testing.T) {
	cases := []struct {
		text    string
		want    civil.Date
		wantErr bool
	}{
		{"Mai 2021", month(2021, time.May), false},
		{"März 2021", month(2021, time.March), false},
		{"Dezember 2020", month(2020, time.December), false},
		{"August 2021", month(2021, time.August), false},
		{"  Juli   2021 ", month(2021, time.July), false},
		{"", civil.Date{}, false},
		{"2021", civil.Date{}, true},
		{"Mai zweitausend", civil.Date{}, true},
		{"Brumaire 2021", civil.Date{}, true},
	}
	for _, tc := range cases {
		got, err := ParseMonth("first_dose", tc.text)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseMonth(%q): err=%v wantErr=%v", tc.text, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ParseMonth(%q): want=%v got=%v", tc.text, tc.want, got)
		}
	}
}

func sameMalformedDate(a, b error) bool {
	var x, y *apperr.MalformedDateError
	if !errors.As(a, &x) || !errors.As(b, &y) {
		return false
	}
	return x.Field == y.Field && x.Text == y.Text && x.UserID == y.UserID
}
