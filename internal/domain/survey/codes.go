package survey

// Questionnaire identifies a survey instrument in the answers table.
type Questionnaire int

const (
	// QuestionnaireTestsSymptoms is the one-off "tests & symptoms" study.
	QuestionnaireTestsSymptoms Questionnaire = 10
	// QuestionnaireVaccinationUpdate is the vaccination update launched in December 2021.
	QuestionnaireVaccinationUpdate Questionnaire = 13
)

func (q Questionnaire) String() string {
	switch q {
	case QuestionnaireTestsSymptoms:
		return "tests_symptoms"
	case QuestionnaireVaccinationUpdate:
		return "vaccination_update"
	default:
		return "unknown"
	}
}

// Question ids of the answers table.
const (
	QuestionWeeklyTestResult = 10
	QuestionOneOffTestDate   = 83
	QuestionWeeklyTestType   = 91
	QuestionStatusInitial    = 121
	QuestionFirstDose        = 122
	QuestionOneOffTestResult = 129
	QuestionSecondDose       = 130
	QuestionStatusUpdate     = 134
	QuestionThirdDose        = 136
)

// Answers before this instant (2021-10-19 UTC) predate the survey exports used here.
const ResponsesNotBeforeMillis int64 = 1634630400000

var (
	VaccinationQuestions = []int{QuestionStatusInitial, QuestionFirstDose, QuestionSecondDose, QuestionStatusUpdate, QuestionThirdDose}
	WeeklyTestQuestions  = []int{QuestionWeeklyTestType, QuestionWeeklyTestResult}
	OneOffTestQuestions  = []int{QuestionOneOffTestDate, QuestionOneOffTestResult}
)

// Answer is one raw answer row: the choice text a user picked for a question
// in a questionnaire session.
type Answer struct {
	UserID        int64
	Questionnaire Questionnaire
	Question      int
	Session       int64
	Text          string
	CreatedAt     int64 // unix milliseconds
}

// Later reports whether a should replace b when both answer the same question
// in the same session. Ordering is a pure function of the row contents.
func (a Answer) Later(b Answer) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.Text > b.Text
}
