package validator

import (
	"fmt"

	"github.com/SAP-F-2025/workshop-progress/internal/models"
)

// ContentValidator checks workshop content invariants that struct tags cannot
// express.
type ContentValidator struct{}

// NewContentValidator creates a new content validator
func NewContentValidator() *ContentValidator {
	return &ContentValidator{}
}

// ValidateQuestion checks that the answer key is one of the option keys.
func (v *ContentValidator) ValidateQuestion(field string, q models.QuizQuestion) ValidationErrors {
	var errs ValidationErrors
	if len(q.Options) < 2 {
		errs = append(errs, ValidationError{
			Field:   field + ".options",
			Message: "must have at least 2 options",
			Value:   len(q.Options),
		})
	}
	if !q.HasOption(q.Answer) {
		errs = append(errs, ValidationError{
			Field:   field + ".answer",
			Message: "must be one of the option keys",
			Value:   q.Answer,
		})
	}
	return errs
}

// ValidateQuestions validates a question list and checks id uniqueness.
func (v *ContentValidator) ValidateQuestions(field string, questions []models.QuizQuestion) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[uint]bool, len(questions))
	for i, q := range questions {
		qField := fmt.Sprintf("%s[%d]", field, i)
		if seen[q.ID] {
			errs = append(errs, ValidationError{Field: qField + ".id", Message: "is duplicated", Value: q.ID})
		}
		seen[q.ID] = true
		errs = append(errs, v.ValidateQuestion(qField, q)...)
	}
	return errs
}

// ValidateWorkshop validates every quiz in the workshop and checks that step
// ids are unique within their module and module ids across the workshop.
func (v *ContentValidator) ValidateWorkshop(w *models.Workshop) ValidationErrors {
	var errs ValidationErrors

	if len(w.Modules) > 0 && len(w.Sections) > 0 {
		errs = append(errs, ValidationError{
			Field:   "workshop",
			Message: "must use either modules or sections, not both",
			Value:   w.ID,
		})
	}

	modules := make(map[uint]bool, len(w.Modules))
	for mi, m := range w.Modules {
		if modules[m.ID] {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("modules[%d].id", mi), Message: "is duplicated", Value: m.ID})
		}
		modules[m.ID] = true

		seen := make(map[uint]bool, len(m.Substeps))
		for si, s := range m.Substeps {
			field := fmt.Sprintf("modules[%d].substeps[%d]", mi, si)
			if seen[s.ID] {
				errs = append(errs, ValidationError{Field: field + ".id", Message: "is duplicated", Value: s.ID})
			}
			seen[s.ID] = true
			errs = append(errs, v.ValidateQuestions(field+".questions", s.Questions)...)
		}
	}

	seen := make(map[uint]bool, len(w.Sections))
	for si, s := range w.Sections {
		field := fmt.Sprintf("sections[%d]", si)
		if seen[s.ID] {
			errs = append(errs, ValidationError{Field: field + ".id", Message: "is duplicated", Value: s.ID})
		}
		seen[s.ID] = true
		errs = append(errs, v.ValidateQuestions(field+".questions", s.Questions)...)
	}

	if w.FinalQuiz != nil {
		errs = append(errs, v.ValidateQuestions("final_quiz.questions", w.FinalQuiz.Questions)...)
	}

	return errs
}
