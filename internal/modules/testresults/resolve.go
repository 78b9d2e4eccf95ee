package testresults

import (
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
)

const Stage = "test_results"

// Answer texts of the weekly survey.
const (
	WeeklyPCRText      = "PCR-Test"
	WeeklyPositiveText = "Positiv (Infektion bestätigt)"
	WeeklyNegativeText = "Negativ (Infektion nicht bestätigt)"
)

// Answer texts of the one-off result question.
const (
	OneOffPositiveText = "Ja"
	OneOffNegativeText = "Nein"
	OneOffUnknownText  = "nicht bekannt"
)

// The weekly survey asks about the past seven days.
const weeklyLookbackDays = 7

type Config struct {
	StrictDates bool `yaml:"strict_dates"`
}

func DefaultConfig() Config { return Config{} }

// Input holds raw answers of both test surveys. Answers to unrelated
// questions are ignored.
type Input struct {
	Weekly []survey.Answer
	OneOff []survey.Answer
}

// Resolve returns exactly one test record per user: the earliest positive
// result if the user ever reported one, else the earliest negative result.
// Records are sorted by user id.
func Resolve(cfg Config, in Input) ([]survey.TestRecord, *tally.Tally, error) {
	t := tally.New(Stage)
	weekly := Weekly(in.Weekly, t)
	oneOff, err := OneOff(cfg, in.OneOff, t)
	if err != nil {
		return nil, t, err
	}
	return Merge(append(weekly, oneOff...), t), t, nil
}

type sessionKey struct {
	user    int64
	session int64
}

// Weekly resolves the weekly survey. Only sessions in which the user named a
// PCR test are kept; each result is dated to the start of the seven-day
// window preceding the response day.
func Weekly(answers []survey.Answer, t *tally.Tally) []survey.TestRecord {
	pcr := map[sessionKey]bool{}
	for _, a := range answers {
		if a.Question == survey.QuestionWeeklyTestType && strings.TrimSpace(a.Text) == WeeklyPCRText {
			pcr[sessionKey{a.UserID, a.Session}] = true
		}
	}

	var out []survey.TestRecord
	results, notPCR, unknown := 0, 0, 0
	for _, a := range answers {
		if a.Question != survey.QuestionWeeklyTestResult {
			continue
		}
		results++
		if !pcr[sessionKey{a.UserID, a.Session}] {
			notPCR++
			continue
		}
		var res survey.TestResult
		switch strings.TrimSpace(a.Text) {
		case WeeklyPositiveText:
			res = survey.ResultPositive
		case WeeklyNegativeText:
			res = survey.ResultNegative
		default:
			unknown++
			continue
		}
		out = append(out, survey.TestRecord{
			UserID:   a.UserID,
			Result:   res,
			TestDate: ResponseDay(a.CreatedAt).AddDays(-weeklyLookbackDays),
		})
	}
	t.Rows("weekly_results", 0, results)
	t.Rows("weekly_without_pcr", notPCR, results-notPCR)
	t.Rows("weekly_unrecognized_result", unknown, len(out))
	return out
}

// ResponseDay truncates a millisecond timestamp to its UTC day.
func ResponseDay(ms int64) civil.Date {
	return civil.DateOf(time.UnixMilli(ms).UTC())
}

// OneOff resolves the one-off survey: result and date answers are joined
// within a session and only the user's highest session is kept.
func OneOff(cfg Config, answers []survey.Answer, t *tally.Tally) ([]survey.TestRecord, error) {
	type pair struct {
		result, date survey.Answer
		hasResult    bool
		hasDate      bool
	}
	sessions := map[sessionKey]*pair{}
	for _, a := range answers {
		if a.Question != survey.QuestionOneOffTestResult && a.Question != survey.QuestionOneOffTestDate {
			continue
		}
		k := sessionKey{a.UserID, a.Session}
		p := sessions[k]
		if p == nil {
			p = &pair{}
			sessions[k] = p
		}
		if a.Question == survey.QuestionOneOffTestResult {
			if !p.hasResult || a.Later(p.result) {
				p.result, p.hasResult = a, true
			}
		} else if !p.hasDate || a.Later(p.date) {
			p.date, p.hasDate = a, true
		}
	}

	latest := map[int64]sessionKey{}
	complete := 0
	for k, p := range sessions {
		if !p.hasResult || !p.hasDate {
			continue
		}
		complete++
		if cur, ok := latest[k.user]; !ok || k.session > cur.session {
			latest[k.user] = k
		}
	}
	t.Rows("one_off_incomplete_session", len(sessions)-complete, complete)
	t.Users("one_off_latest_session", complete-len(latest), len(latest))

	users := make([]int64, 0, len(latest))
	for u := range latest {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	out := make([]survey.TestRecord, 0, len(users))
	unknown, malformed := 0, 0
	for _, u := range users {
		p := sessions[latest[u]]
		var res survey.TestResult
		switch strings.TrimSpace(p.result.Text) {
		case OneOffPositiveText:
			res = survey.ResultPositive
		case OneOffNegativeText:
			res = survey.ResultNegative
		default:
			unknown++
			continue
		}
		date, err := ParseOneOffDate(p.date.Text)
		if err != nil {
			var mde *apperr.MalformedDateError
			if errors.As(err, &mde) {
				mde.UserID = u
			}
			if cfg.StrictDates {
				return nil, err
			}
			t.Skip(err)
			malformed++
			continue
		}
		out = append(out, survey.TestRecord{UserID: u, Result: res, TestDate: date})
	}
	t.Users("one_off_unknown_result", unknown, len(users)-unknown)
	t.Users("malformed_date", malformed, len(out))
	return out, nil
}

// ParseOneOffDate reads the leading dd.mm.yyyy of a week interval such as
// "05.04.2021 - 11.04.2021".
func ParseOneOffDate(text string) (civil.Date, error) {
	text = strings.TrimSpace(text)
	if len(text) < 10 {
		return civil.Date{}, &apperr.MalformedDateError{Field: "test_date", Text: text}
	}
	ts, err := time.Parse("02.01.2006", text[:10])
	if err != nil {
		return civil.Date{}, &apperr.MalformedDateError{Field: "test_date", Text: text, Cause: err}
	}
	return civil.DateOf(ts), nil
}

// Merge keeps the earliest date per (user, result) and then a single record
// per user, preferring the positive one.
func Merge(records []survey.TestRecord, t *tally.Tally) []survey.TestRecord {
	type key struct {
		user   int64
		result survey.TestResult
	}
	earliest := map[key]civil.Date{}
	for _, r := range records {
		k := key{r.UserID, r.Result}
		if d, ok := earliest[k]; !ok || r.TestDate.Before(d) {
			earliest[k] = r.TestDate
		}
	}

	byUser := map[int64]survey.TestRecord{}
	for k, d := range earliest {
		cur, ok := byUser[k.user]
		if ok && cur.Result == survey.ResultPositive {
			continue
		}
		byUser[k.user] = survey.TestRecord{UserID: k.user, Result: k.result, TestDate: d}
	}

	out := make([]survey.TestRecord, 0, len(byUser))
	for _, r := range byUser {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	t.Rows("merged_results", 0, len(records))
	t.Users("one_result_per_user", 0, len(out))
	return out
}
