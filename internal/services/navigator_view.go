package services

import (
	"context"

	"github.com/SAP-F-2025/workshop-progress/internal/models"
)

// QuestionView is a question without its answer key.
type QuestionView struct {
	ID       uint              `json:"id"`
	Question string            `json:"question"`
	Options  map[string]string `json:"options"`
	Position int               `json:"position"`
	Total    int               `json:"total"`
}

type StepStateView struct {
	Index            int       `json:"index"`
	ID               uint      `json:"id"`
	Title            string    `json:"title"`
	State            StepState `json:"state"`
	HasQuiz          bool      `json:"has_quiz"`
	SectionCompleted bool      `json:"section_completed,omitempty"`
}

type ModuleView struct {
	ModuleID         uint            `json:"module_id"`
	Title            string          `json:"title"`
	HighestCompleted int             `json:"highest_completed"`
	Completed        bool            `json:"completed"`
	Enterable        bool            `json:"enterable"`
	Steps            []StepStateView `json:"steps"`
}

// NavigatorView is everything the UI needs to render the current screen.
type NavigatorView struct {
	WorkshopID      uint                `json:"workshop_id"`
	Title           string              `json:"title"`
	Role            models.UserRole     `json:"role"`
	Phase           Phase               `json:"phase"`
	ModuleID        uint                `json:"module_id"`
	StepIndex       int                 `json:"step_index"`
	Step            *models.Step        `json:"step,omitempty"`
	CurrentQuestion *QuestionView       `json:"current_question,omitempty"`
	Modules         []ModuleView        `json:"modules"`
	FinalQuiz       []QuestionView      `json:"final_quiz,omitempty"`
	Certificate     *models.Certificate `json:"certificate,omitempty"`
}

// View renders the navigator state.
func (n *Navigator) View(ctx context.Context) NavigatorView {
	n.mu.Lock()
	defer n.mu.Unlock()

	view := NavigatorView{
		WorkshopID:  n.workshop.ID,
		Title:       n.workshop.Title,
		Role:        n.identity.Role,
		Phase:       n.phase,
		StepIndex:   n.stepIndex,
		Certificate: n.certificate,
	}

	var sections map[uint]bool
	if len(n.workshop.Sections) > 0 {
		sections = n.deps.Store.CompletedSections(ctx, n.identity.UserID, n.workshop.ID)
	}

	completion := n.moduleCompletion()
	for i, plan := range n.plans {
		highest := n.highest(plan)
		mv := ModuleView{
			ModuleID:         plan.ModuleID,
			Title:            plan.Title,
			HighestCompleted: highest,
			Completed:        completion[i],
			Enterable:        n.deps.Policy.CanEnterModule(n.identity.Role, i, completion),
			Steps:            make([]StepStateView, len(plan.Steps)),
		}
		for j, step := range plan.Steps {
			mv.Steps[j] = StepStateView{
				Index:            j,
				ID:               step.ID,
				Title:            step.Title,
				State:            n.deps.Policy.ComputeStepState(n.identity.Role, len(plan.Steps), highest, j),
				HasQuiz:          step.HasQuiz(),
				SectionCompleted: step.IsSection && sections[step.ID],
			}
		}
		view.Modules = append(view.Modules, mv)
	}
	if len(n.plans) > 0 {
		view.ModuleID = n.plans[n.moduleIdx].ModuleID
	}

	if step, ok := n.currentStep(); ok {
		view.Step = &step
		if (n.phase == PhaseAnswering || step.HasQuiz()) && !n.stepCompleted() {
			q := step.Questions[n.questionIdx]
			view.CurrentQuestion = questionView(q, n.questionIdx, len(step.Questions))
		}
	}

	if n.phase == PhaseFinalAssessment && n.workshop.HasFinalQuiz() {
		qs := n.workshop.FinalQuiz.Questions
		for i, q := range qs {
			view.FinalQuiz = append(view.FinalQuiz, *questionView(q, i, len(qs)))
		}
	}
	return view
}

// Phase returns the current phase.
func (n *Navigator) Phase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

// Position returns the current module id and step index.
func (n *Navigator) Position() (uint, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.plans) == 0 {
		return 0, n.stepIndex
	}
	return n.plans[n.moduleIdx].ModuleID, n.stepIndex
}

// Attempts returns the answers given on the current step.
func (n *Navigator) Attempts() []models.QuizAttempt {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.QuizAttempt, len(n.attempts))
	copy(out, n.attempts)
	return out
}

func questionView(q models.QuizQuestion, position, total int) *QuestionView {
	return &QuestionView{
		ID:       q.ID,
		Question: q.Question,
		Options:  q.Options,
		Position: position,
		Total:    total,
	}
}
