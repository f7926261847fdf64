package services

import (
	"errors"
	"testing"

	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuizEngine_EvaluateAnswer(t *testing.T) {
	engine := NewQuizEngine()
	q := question(1, "B")

	tests := []struct {
		name        string
		key         string
		wantCorrect bool
		wantErr     bool
	}{
		{name: "correct key", key: "B", wantCorrect: true},
		{name: "wrong key", key: "A", wantCorrect: false},
		{name: "lower case is not normalised", key: "b", wantErr: true},
		{name: "unknown key", key: "E", wantErr: true},
		{name: "empty key", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.EvaluateAnswer(q, tt.key)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidAnswerKey))
				var keyErr *InvalidAnswerKeyError
				require.True(t, errors.As(err, &keyErr))
				assert.Equal(t, uint(1), keyErr.QuestionID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCorrect, result.Correct)
			assert.Equal(t, "B", result.CorrectKey)
			assert.Equal(t, "because B", result.Explanation)
		})
	}
}

func TestQuizEngine_EvaluateQuizSubmission(t *testing.T) {
	engine := NewQuizEngine()

	t.Run("scenario B: one of two correct", func(t *testing.T) {
		questions := []models.QuizQuestion{question(1, "B"), question(2, "A")}
		result := engine.EvaluateQuizSubmission(questions, map[uint]string{1: "B", 2: "C"})

		assert.Equal(t, 1, result.Score)
		assert.Equal(t, 2, result.Total)
		require.Len(t, result.PerQuestion, 2)
		assert.True(t, result.PerQuestion[0].Correct)
		assert.False(t, result.PerQuestion[1].Correct)
		assert.Equal(t, "because A", result.PerQuestion[1].Explanation)
	})

	t.Run("scenario C: missing answer counts as incorrect", func(t *testing.T) {
		questions := []models.QuizQuestion{question(1, "B"), question(2, "A")}
		result := engine.EvaluateQuizSubmission(questions, map[uint]string{1: "B"})

		assert.Equal(t, 1, result.Score)
		assert.Equal(t, 2, result.Total)
		assert.False(t, result.PerQuestion[1].Correct)
	})

	t.Run("invalid key counts as incorrect", func(t *testing.T) {
		result := engine.EvaluateQuizSubmission([]models.QuizQuestion{question(1, "B")}, map[uint]string{1: "Z"})
		assert.Equal(t, 0, result.Score)
		assert.Equal(t, 1, result.Total)
	})

	t.Run("score does not depend on question order", func(t *testing.T) {
		answers := map[uint]string{1: "B", 2: "A", 3: "D"}
		a := []models.QuizQuestion{question(1, "B"), question(2, "C"), question(3, "D")}
		b := []models.QuizQuestion{a[2], a[0], a[1]}

		ra := engine.EvaluateQuizSubmission(a, answers)
		rb := engine.EvaluateQuizSubmission(b, answers)
		assert.Equal(t, ra.Score, rb.Score)
		assert.Equal(t, 2, ra.Score)
		assert.Equal(t, engine.EvaluateQuizSubmission(a, answers), ra)
	})

	t.Run("empty quiz", func(t *testing.T) {
		result := engine.EvaluateQuizSubmission(nil, nil)
		assert.Equal(t, 0, result.Score)
		assert.Equal(t, 0, result.Total)
		assert.Empty(t, result.PerQuestion)
	})
}
