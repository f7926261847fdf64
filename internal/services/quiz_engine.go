package services

import (
	"github.com/SAP-F-2025/workshop-progress/internal/models"
)

// AnswerResult is the verdict on a single answer.
type AnswerResult struct {
	QuestionID  uint   `json:"question_id"`
	Correct     bool   `json:"correct"`
	CorrectKey  string `json:"correct_key"`
	Explanation string `json:"explanation,omitempty"`
}

// QuizResult is the verdict on a whole quiz. PerQuestion follows the order of
// the questions given.
type QuizResult struct {
	Score       int            `json:"score"`
	Total       int            `json:"total"`
	PerQuestion []AnswerResult `json:"per_question"`
}

// QuizEngine scores answers against option keys. It is stateless.
type QuizEngine struct{}

func NewQuizEngine() *QuizEngine {
	return &QuizEngine{}
}

// EvaluateAnswer compares key to the question's answer by exact equality. A key
// that is not one of the question's options is rejected.
func (e *QuizEngine) EvaluateAnswer(question models.QuizQuestion, key string) (AnswerResult, error) {
	if !question.HasOption(key) {
		return AnswerResult{}, &InvalidAnswerKeyError{QuestionID: question.ID, Key: key}
	}
	return e.result(question, key), nil
}

// EvaluateQuizSubmission scores every question. Missing answers and keys that
// are not options count as incorrect; this never fails.
func (e *QuizEngine) EvaluateQuizSubmission(questions []models.QuizQuestion, answers map[uint]string) QuizResult {
	result := QuizResult{
		Total:       len(questions),
		PerQuestion: make([]AnswerResult, 0, len(questions)),
	}
	for _, q := range questions {
		key, ok := answers[q.ID]
		var r AnswerResult
		if ok && q.HasOption(key) {
			r = e.result(q, key)
		} else {
			r = AnswerResult{QuestionID: q.ID, CorrectKey: q.Answer, Explanation: q.ExplanationText()}
		}
		if r.Correct {
			result.Score++
		}
		result.PerQuestion = append(result.PerQuestion, r)
	}
	return result
}

func (e *QuizEngine) result(q models.QuizQuestion, key string) AnswerResult {
	return AnswerResult{
		QuestionID:  q.ID,
		Correct:     key == q.Answer,
		CorrectKey:  q.Answer,
		Explanation: q.ExplanationText(),
	}
}
