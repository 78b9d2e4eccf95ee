package vaccination

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	apperr "github.com/yungbote/longcovid-cohort/internal/pkg/errors"
)

// Choice texts of the status questions: 121 in the initial survey, 134 in
// the update.
const (
	statusTextFull         = "Ja"
	statusTextPartial      = "Nein, nur teilweise geimpft"
	statusTextUnvaccinated = "Nein, überhaupt nicht geimpft"
	statusTextBooster      = "mit Auffrischimpfung (Booster)"
	updateTextFull         = "vollständig erstimunisiert (zweite Dosis im Fall von Moderna, Biontech, Astra Zeneca oder erste Impfdosis im Fall von Johnson&Johnson)"
	updateTextPartial      = "unvollständig erstimunisiert (nur erste Impfdosis im Fall von Moderna, Biontech, Astra Zeneca)"
	updateTextUnvaccinated = "gar nicht geimpft"
)

var statusTexts = map[string]survey.VaccinationStatus{
	statusTextFull:         survey.StatusFull,
	statusTextPartial:      survey.StatusPartial,
	statusTextUnvaccinated: survey.StatusUnvaccinated,
	statusTextBooster:      survey.StatusBooster,
	updateTextFull:         survey.StatusFull,
	updateTextPartial:      survey.StatusPartial,
	updateTextUnvaccinated: survey.StatusUnvaccinated,
}

// ParseStatus maps a status choice text to the enum. Unknown texts map to
// StatusMissing.
func ParseStatus(text string) survey.VaccinationStatus {
	return statusTexts[strings.TrimSpace(text)]
}

// Free-text choices offered in the second dose question instead of a month.
const (
	secondDoseJansenMarker    = "Johnson"
	secondDoseOtherMarker     = "anderen"
	secondDoseNoneMarker      = "Ich"
	SecondDoseJansenText      = "Ich wurde mit dem Vakzin von Johnson & Johnson geimpft und benötigte daher keine zweite Impfdosis."
	SecondDoseOtherReasonText = "Ich habe aus anderen Gründen keine zweite Dosis erhalten"
)

func isJansen(secondDose string) bool {
	return strings.Contains(secondDose, secondDoseJansenMarker)
}

func isOtherReason(secondDose string) bool {
	return strings.Contains(secondDose, secondDoseOtherMarker)
}

// isNoSecondDose matches every "I did not get a second dose" choice.
func isNoSecondDose(secondDose string) bool {
	return strings.Contains(secondDose, secondDoseNoneMarker)
}

var months = map[string]time.Month{
	"januar":    time.January,
	"jänner":    time.January,
	"februar":   time.February,
	"märz":      time.March,
	"maerz":     time.March,
	"april":     time.April,
	"mai":       time.May,
	"juni":      time.June,
	"juli":      time.July,
	"august":    time.August,
	"september": time.September,
	"oktober":   time.October,
	"november":  time.November,
	"dezember":  time.December,
}

func init() {
	for m := time.January; m <= time.December; m++ {
		months[strings.ToLower(m.String())] = m
	}
}

// ParseMonth parses month-precision text such as "Mai 2021" into the first
// day of that month. Blank text yields the zero date and no error.
func ParseMonth(field, text string) (civil.Date, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return civil.Date{}, nil
	}
	parts := strings.Fields(text)
	if len(parts) != 2 {
		return civil.Date{}, &apperr.MalformedDateError{Field: field, Text: text}
	}
	month, ok := months[strings.ToLower(parts[0])]
	if !ok {
		return civil.Date{}, &apperr.MalformedDateError{Field: field, Text: text, Cause: fmt.Errorf("unknown month %q", parts[0])}
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil || year < 1900 || year > 2999 {
		return civil.Date{}, &apperr.MalformedDateError{Field: field, Text: text, Cause: err}
	}
	return civil.Date{Year: year, Month: month, Day: 1}, nil
}
