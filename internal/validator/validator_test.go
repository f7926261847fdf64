package validator

import (
	"testing"

	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func question(id uint, answer string) models.QuizQuestion {
	return models.QuizQuestion{
		ID:       id,
		Question: "What does fmt.Println print?",
		Options:  map[string]string{"A": "a line", "B": "nothing", "C": "a panic", "D": "a rune"},
		Answer:   answer,
	}
}

func TestValidator_Workshop(t *testing.T) {
	v := New()

	tests := []struct {
		name      string
		workshop  *models.Workshop
		wantErr   bool
		wantField string
	}{
		{
			name: "valid section workshop",
			workshop: &models.Workshop{
				ID:    1,
				Title: "Go basics",
				Sections: []models.Section{
					{ID: 10, Title: "Intro", Questions: []models.QuizQuestion{question(1, "A")}},
				},
			},
		},
		{
			name: "answer key outside options",
			workshop: &models.Workshop{
				ID:    1,
				Title: "Go basics",
				Modules: []models.Module{{
					ID:    2,
					Title: "Types",
					Substeps: []models.Substep{
						{ID: 20, Title: "Ints", Questions: []models.QuizQuestion{
							{ID: 1, Question: "?", Options: map[string]string{"A": "x", "B": "y"}, Answer: "C"},
						}},
					},
				}},
			},
			wantErr:   true,
			wantField: "modules[0].substeps[0].questions[0].answer",
		},
		{
			name: "duplicate section ids",
			workshop: &models.Workshop{
				ID:    1,
				Title: "Go basics",
				Sections: []models.Section{
					{ID: 10, Title: "Intro"},
					{ID: 10, Title: "Again"},
				},
			},
			wantErr:   true,
			wantField: "sections[1].id",
		},
		{
			name: "duplicate module ids",
			workshop: &models.Workshop{
				ID:    1,
				Title: "Go basics",
				Modules: []models.Module{
					{ID: 2, Title: "Types", Substeps: []models.Substep{{ID: 20, Title: "Ints"}}},
					{ID: 2, Title: "Funcs", Substeps: []models.Substep{{ID: 21, Title: "Closures"}}},
				},
			},
			wantErr:   true,
			wantField: "modules[1].id",
		},
		{
			name: "lower-case option key",
			workshop: &models.Workshop{
				ID:    1,
				Title: "Go basics",
				FinalQuiz: &models.Quiz{ID: 5, Questions: []models.QuizQuestion{
					{ID: 1, Question: "?", Options: map[string]string{"a": "x", "b": "y"}, Answer: "a"},
				}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.workshop)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errs := ToValidationErrors(err)
			require.NotEmpty(t, errs)
			if tt.wantField != "" {
				fields := make([]string, 0, len(errs))
				for _, e := range errs {
					fields = append(fields, e.Field)
				}
				assert.Contains(t, fields, tt.wantField)
			}
		})
	}
}

func TestValidator_Feedback(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(&models.Feedback{UserID: "u1", WorkshopID: 1, Stars: 5}))

	err := v.Validate(&models.Feedback{UserID: "u1", WorkshopID: 1, Stars: 6})
	require.Error(t, err)
	errs := ToValidationErrors(err)
	require.Len(t, errs, 1)
	assert.Equal(t, "stars", errs[0].Rule)
	assert.Equal(t, "must be between 1 and 5", errs[0].Message)
}

func TestValidator_Identity(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(&models.Identity{UserID: "u1", Role: models.RoleTrainer}))
	assert.Error(t, v.Validate(&models.Identity{UserID: "u1", Role: "teacher"}))
}
