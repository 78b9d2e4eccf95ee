package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/yungbote/longcovid-cohort/internal/data/db"
	"github.com/yungbote/longcovid-cohort/internal/domain/survey"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

// AnswerQuery selects raw answers. Questionnaire 0 means any questionnaire.
type AnswerQuery struct {
	Questions     []int
	Questionnaire survey.Questionnaire
	// CreatedBefore is the exclusive upper bound in unix milliseconds.
	CreatedBefore int64
}

type AnswerRepo interface {
	List(ctx context.Context, q AnswerQuery) ([]survey.Answer, error)
}

type answerRepo struct {
	src *db.Source
	log *logger.Logger
}

func NewAnswerRepo(src *db.Source, baseLog *logger.Logger) AnswerRepo {
	return &answerRepo{src: src, log: baseLog.With("repo", "AnswerRepo")}
}

const answersSQL = `
SELECT
	answers.user_id::int8,
	answers.questionnaire::int4,
	answers.question::int4,
	answers.questionnaire_session::int8,
	choice.text::text,
	answers.created_at::int8
FROM datenspende.answers
JOIN datenspende.choice ON answers.element = choice.element
WHERE answers.question = ANY($1)
	AND answers.created_at > $2
	AND answers.created_at < $3`

func (r *answerRepo) List(ctx context.Context, q AnswerQuery) ([]survey.Answer, error) {
	if len(q.Questions) == 0 {
		return []survey.Answer{}, nil
	}
	sql := answersSQL
	args := []any{q.Questions, survey.ResponsesNotBeforeMillis, q.CreatedBefore}
	if q.Questionnaire != 0 {
		sql += "\n\tAND answers.questionnaire = $4"
		args = append(args, int(q.Questionnaire))
	}
	op := "answers." + questionsLabel(q.Questions)
	out, err := db.Collect(ctx, r.src, op, sql, args, scanAnswer)
	if err != nil {
		return nil, err
	}
	r.log.Info("Loaded answers", "questions", q.Questions, "questionnaire", int(q.Questionnaire), "rows", len(out))
	return out, nil
}

func scanAnswer(row pgx.CollectableRow) (survey.Answer, error) {
	var (
		a             survey.Answer
		questionnaire int32
		question      int32
		text          *string
	)
	if err := row.Scan(&a.UserID, &questionnaire, &question, &a.Session, &text, &a.CreatedAt); err != nil {
		return survey.Answer{}, err
	}
	a.Questionnaire = survey.Questionnaire(questionnaire)
	a.Question = int(question)
	if text != nil {
		a.Text = *text
	}
	return a, nil
}

func questionsLabel(qs []int) string {
	parts := make([]string, 0, len(qs))
	for _, q := range qs {
		parts = append(parts, fmt.Sprint(q))
	}
	return strings.Join(parts, "_")
}
