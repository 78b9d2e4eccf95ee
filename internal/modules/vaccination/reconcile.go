package vaccination

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
)

const Stage = "vaccination"

// Source selects which questionnaires feed the result.
type Source string

const (
	SourceAll     Source = "all"
	SourceInitial Source = "initial"
	SourceUpdate  Source = "update"
)

type Config struct {
	Source Source `yaml:"source"`
	// StrictDates turns the first unparseable dose date into a fatal error
	// instead of excluding the user.
	StrictDates bool `yaml:"strict_dates"`
}

func DefaultConfig() Config {
	return Config{Source: SourceAll}
}

func (c Config) Validate() error {
	switch c.Source {
	case SourceAll, SourceInitial, SourceUpdate:
		return nil
	default:
		return apperr.InvalidConfig("vaccination source must be all, initial or update, got %q", c.Source)
	}
}

// Input holds the raw answers of both questionnaires.
type Input struct {
	Initial []survey.Answer
	Update  []survey.Answer
}

// response is one user's latest answers in one questionnaire, still as
// survey text.
type response struct {
	UserID     int64
	Status     survey.VaccinationStatus
	FirstDose  string
	SecondDose string
	ThirdDose  string
}

func (r response) has(field string) bool {
	switch field {
	case "first_dose":
		return r.FirstDose != ""
	case "second_dose":
		return r.SecondDose != ""
	case "third_dose":
		return r.ThirdDose != ""
	default:
		return false
	}
}

// Reconcile turns raw answers into one consistent vaccination record per
// user, sorted by user id.
func Reconcile(cfg Config, in Input) ([]survey.VaccinationRecord, *tally.Tally, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	t := tally.New(Stage)

	var merged []response
	switch cfg.Source {
	case SourceInitial:
		merged = latestResponses(survey.QuestionnaireTestsSymptoms, in.Initial, t)
		merged = removeImplausible(merged, t, "initial")
	case SourceUpdate:
		merged = latestResponses(survey.QuestionnaireVaccinationUpdate, in.Update, t)
		merged = removeImplausible(merged, t, "update")
	default:
		initial := removeImplausible(latestResponses(survey.QuestionnaireTestsSymptoms, in.Initial, t), t, "initial")
		update := removeImplausible(latestResponses(survey.QuestionnaireVaccinationUpdate, in.Update, t), t, "update")
		merged = mergeSurveys(initial, update, t)
	}

	records, err := finalize(cfg, merged, t)
	if err != nil {
		return nil, t, err
	}
	return records, t, nil
}

// latestResponses pivots answers of one questionnaire into one response per
// user. Within a session the latest answer per question wins; across
// sessions the session with the highest ordinal wins as a whole, since
// duplicate submissions may contradict each other.
func latestResponses(q survey.Questionnaire, answers []survey.Answer, t *tally.Tally) []response {
	type sessionKey struct {
		user    int64
		session int64
	}
	type slot struct {
		answer survey.Answer
		set    bool
	}
	type session struct {
		status, first, second, third slot
	}
	pick := func(s *slot, a survey.Answer) {
		if !s.set || a.Later(s.answer) {
			s.answer = a
			s.set = true
		}
	}

	sessions := map[sessionKey]*session{}
	for _, a := range answers {
		if a.Questionnaire != 0 && a.Questionnaire != q {
			continue
		}
		k := sessionKey{a.UserID, a.Session}
		s := sessions[k]
		if s == nil {
			s = &session{}
			sessions[k] = s
		}
		switch a.Question {
		case survey.QuestionStatusInitial, survey.QuestionStatusUpdate:
			pick(&s.status, a)
		case survey.QuestionFirstDose:
			pick(&s.first, a)
		case survey.QuestionSecondDose:
			pick(&s.second, a)
		case survey.QuestionThirdDose:
			pick(&s.third, a)
		}
	}

	latest := map[int64]sessionKey{}
	for k := range sessions {
		cur, ok := latest[k.user]
		if !ok || k.session > cur.session {
			latest[k.user] = k
		}
	}

	text := func(s slot) string {
		if !s.set {
			return ""
		}
		return strings.TrimSpace(s.answer.Text)
	}
	out := make([]response, 0, len(latest))
	for user, k := range latest {
		s := sessions[k]
		out = append(out, response{
			UserID:     user,
			Status:     ParseStatus(text(s.status)),
			FirstDose:  text(s.first),
			SecondDose: text(s.second),
			ThirdDose:  text(s.third),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	t.Users(q.String()+"_latest_session", len(sessions)-len(out), len(out))
	return out
}

type doseRule struct {
	status survey.VaccinationStatus
	field  string
}

var (
	forbiddenDoses = []doseRule{
		{survey.StatusUnvaccinated, "first_dose"},
		{survey.StatusUnvaccinated, "second_dose"},
		{survey.StatusUnvaccinated, "third_dose"},
		{survey.StatusPartial, "second_dose"},
		{survey.StatusPartial, "third_dose"},
		{survey.StatusFull, "third_dose"},
	}
	requiredDoses = []doseRule{
		{survey.StatusPartial, "first_dose"},
		{survey.StatusFull, "first_dose"},
		{survey.StatusFull, "second_dose"},
		{survey.StatusBooster, "first_dose"},
		{survey.StatusBooster, "second_dose"},
		{survey.StatusBooster, "third_dose"},
	}
)

// plausible reports whether the status and reported doses of r fit together.
func plausible(r response) bool {
	if !r.Status.Valid() {
		return false
	}
	for _, rule := range forbiddenDoses {
		if r.Status == rule.status && r.has(rule.field) {
			return false
		}
	}
	for _, rule := range requiredDoses {
		if r.Status == rule.status && !r.has(rule.field) {
			return false
		}
	}
	return !(r.Status == survey.StatusBooster && isNoSecondDose(r.SecondDose))
}

// removeImplausible drops responses whose status contradicts the reported
// doses, one rule at a time so each rule gets its own count.
func removeImplausible(rs []response, t *tally.Tally, label string) []response {
	filter := func(name string, bad func(response) bool) {
		kept := rs[:0:0]
		for _, r := range rs {
			if !bad(r) {
				kept = append(kept, r)
			}
		}
		if dropped := len(rs) - len(kept); dropped > 0 {
			t.Users(label+"_"+name, dropped, len(kept))
		}
		rs = kept
	}

	for _, rule := range forbiddenDoses {
		filter(fmt.Sprintf("%s_with_%s", rule.status, rule.field), func(r response) bool {
			return r.Status == rule.status && r.has(rule.field)
		})
	}
	for _, rule := range requiredDoses {
		filter(fmt.Sprintf("%s_missing_%s", rule.status, rule.field), func(r response) bool {
			return r.Status == rule.status && !r.has(rule.field)
		})
	}
	filter("missing_status", func(r response) bool { return !r.Status.Valid() })
	// Boosted without an official second dose, either after Johnson & Johnson
	// or an infection. How to count these is unresolved, so they are excluded.
	filter("booster_without_second_dose", func(r response) bool {
		return r.Status == survey.StatusBooster && isNoSecondDose(r.SecondDose)
	})
	t.Users(label+"_valid", 0, len(rs))
	return rs
}

// mergeSurveys unions both questionnaires. Users present in both are kept
// only if their answers agree; the update survey's answers win then.
func mergeSurveys(initial, update []response, t *tally.Tally) []response {
	updByUser := make(map[int64]response, len(update))
	for _, r := range update {
		updByUser[r.UserID] = r
	}
	initialUsers := make(map[int64]struct{}, len(initial))

	out := make([]response, 0, len(initial)+len(update))
	var overlap [][2]response
	for _, a := range initial {
		initialUsers[a.UserID] = struct{}{}
		b, ok := updByUser[a.UserID]
		if !ok {
			out = append(out, a)
			continue
		}
		overlap = append(overlap, [2]response{a, b})
	}
	for _, b := range update {
		if _, ok := initialUsers[b.UserID]; !ok {
			out = append(out, b)
		}
	}
	t.Users("overlapping_users", 0, len(overlap))

	checks := []struct {
		name     string
		conflict func(a, b response) bool
	}{
		{"inconsistent_first_dose", func(a, b response) bool {
			return (a.Status == survey.StatusFull || a.Status == survey.StatusPartial) && a.FirstDose != b.FirstDose
		}},
		{"inconsistent_second_dose", func(a, b response) bool {
			return a.Status == survey.StatusFull && a.SecondDose != b.SecondDose
		}},
		{"full_to_partial_or_unvaccinated", func(a, b response) bool {
			return a.Status == survey.StatusFull && (b.Status == survey.StatusPartial || b.Status == survey.StatusUnvaccinated)
		}},
		{"partial_to_unvaccinated", func(a, b response) bool {
			return a.Status == survey.StatusPartial && b.Status == survey.StatusUnvaccinated
		}},
	}
	for _, c := range checks {
		kept := overlap[:0:0]
		for _, pair := range overlap {
			if !c.conflict(pair[0], pair[1]) {
				kept = append(kept, pair)
			}
		}
		t.Users(c.name, len(overlap)-len(kept), len(kept))
		overlap = kept
	}

	for _, pair := range overlap {
		out = append(out, pair[1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	t.Users("merged", 0, len(out))
	return out
}

// finalize derives the single-dose flags, parses dose dates and drops users
// whose doses are out of order.
func finalize(cfg Config, rs []response, t *tally.Tally) ([]survey.VaccinationRecord, error) {
	out := make([]survey.VaccinationRecord, 0, len(rs))
	malformed := 0
	for _, r := range rs {
		rec := survey.VaccinationRecord{
			UserID:             r.UserID,
			Status:             r.Status,
			JansenReceived:     isJansen(r.SecondDose),
			PreviouslyInfected: isOtherReason(r.SecondDose),
		}
		second := r.SecondDose
		if rec.JansenReceived || rec.PreviouslyInfected {
			second = ""
		}

		var err error
		if rec.FirstDose, err = ParseMonth("first_dose", r.FirstDose); err == nil {
			if rec.SecondDose, err = ParseMonth("second_dose", second); err == nil {
				rec.ThirdDose, err = ParseMonth("third_dose", r.ThirdDose)
			}
		}
		if err != nil {
			var mde *apperr.MalformedDateError
			if errors.As(err, &mde) {
				mde.UserID = r.UserID
			}
			if cfg.StrictDates {
				return nil, err
			}
			t.Skip(err)
			malformed++
			continue
		}
		out = append(out, rec)
	}
	t.Users("malformed_date", malformed, len(out))

	pairs := []struct {
		name string
		get  func(survey.VaccinationRecord) (civil.Date, civil.Date)
	}{
		{"first_dose_after_second_dose", func(r survey.VaccinationRecord) (civil.Date, civil.Date) { return r.FirstDose, r.SecondDose }},
		{"first_dose_after_third_dose", func(r survey.VaccinationRecord) (civil.Date, civil.Date) { return r.FirstDose, r.ThirdDose }},
		{"second_dose_after_third_dose", func(r survey.VaccinationRecord) (civil.Date, civil.Date) { return r.SecondDose, r.ThirdDose }},
	}
	for _, p := range pairs {
		kept := out[:0:0]
		for _, r := range out {
			a, b := p.get(r)
			if !a.IsZero() && !b.IsZero() && a.After(b) {
				continue
			}
			kept = append(kept, r)
		}
		t.Users(p.name, len(out)-len(kept), len(kept))
		out = kept
	}
	return out, nil
}

// Valid reports whether rec satisfies the status/dose compatibility table
// and chronological dose order.
func Valid(rec survey.VaccinationRecord) bool {
	r := response{Status: rec.Status}
	if !rec.FirstDose.IsZero() {
		r.FirstDose = "x"
	}
	if !rec.SecondDose.IsZero() || rec.JansenReceived || rec.PreviouslyInfected {
		r.SecondDose = "x"
	}
	if !rec.ThirdDose.IsZero() {
		r.ThirdDose = "x"
	}
	if !plausible(r) {
		return false
	}
	ordered := func(a, b civil.Date) bool { return a.IsZero() || b.IsZero() || !a.After(b) }
	return ordered(rec.FirstDose, rec.SecondDose) && ordered(rec.FirstDose, rec.ThirdDose) && ordered(rec.SecondDose, rec.ThirdDose)
}
