package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/workshop-progress/internal/events"
	"github.com/SAP-F-2025/workshop-progress/internal/models"
)

// Phase is the navigator's position in the workshop flow.
type Phase string

const (
	PhaseViewing         Phase = "viewing"
	PhaseAnswering       Phase = "answering"
	PhaseFinalAssessment Phase = "final_assessment"
	PhaseCertified       Phase = "certified"
)

// ProgressPersister is the part of ProgressSyncClient the navigator uses.
type ProgressPersister interface {
	PersistStepCompletion(ctx context.Context, token, userID string, moduleID uint, index, timeSpent int) CommandSnapshot
	PersistQuizSubmission(ctx context.Context, token, userID string, quizID uint, answers map[uint]string) (*models.QuizScore, error)
}

// NavigatorDeps are shared by every navigator of a session.
type NavigatorDeps struct {
	Store       *ProgressStore
	Persister   ProgressPersister
	Policy      *UnlockPolicy
	Engine      *QuizEngine
	Publisher   events.EventPublisher
	Logger      *slog.Logger
	PassPercent int
	// Clock defaults to time.Now
	Clock func() time.Time
}

// CompletedStep describes a step that was just completed.
type CompletedStep struct {
	ModuleID         uint `json:"module_id"`
	Index            int  `json:"index"`
	StepID           uint `json:"step_id"`
	HighestCompleted int  `json:"highest_completed"`
	TimeSpent        int  `json:"time_spent"`
}

// StepOutcome is returned by the operations that may complete a step.
type StepOutcome struct {
	Answer       *AnswerResult    `json:"answer,omitempty"`
	Completed    *CompletedStep   `json:"completed,omitempty"`
	Command      *CommandSnapshot `json:"command,omitempty"`
	Phase        Phase            `json:"phase"`
	ModuleID     uint             `json:"module_id"`
	StepIndex    int              `json:"step_index"`
	WorkshopDone bool             `json:"workshop_done"`
}

// FinalQuizOutcome carries the local score and, once the server accepted the
// submission, the certificate.
type FinalQuizOutcome struct {
	Local       QuizResult          `json:"local"`
	Certificate *models.Certificate `json:"certificate,omitempty"`
}

// Navigator drives one learner through one workshop. All methods are safe for
// concurrent use.
type Navigator struct {
	mu sync.Mutex

	identity models.Identity
	workshop *models.Workshop
	plans    []models.ModulePlan
	deps     NavigatorDeps
	logger   *slog.Logger

	phase       Phase
	moduleIdx   int
	stepIndex   int
	questionIdx int
	activatedAt time.Time
	attempts    []models.QuizAttempt
	certificate *models.Certificate
}

func NewNavigator(identity models.Identity, workshop *models.Workshop, deps NavigatorDeps) *Navigator {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Policy == nil {
		deps.Policy = NewUnlockPolicy()
	}
	if deps.Engine == nil {
		deps.Engine = NewQuizEngine()
	}
	n := &Navigator{
		identity: identity,
		workshop: workshop,
		plans:    workshop.Plan(),
		deps:     deps,
		logger:   deps.Logger.With("user_id", identity.UserID, "workshop_id", workshop.ID),
	}
	n.resume()
	return n
}

// resume places the navigator on the first incomplete step, or at the end of
// the workshop when everything is complete.
func (n *Navigator) resume() {
	for i, plan := range n.plans {
		highest := n.highest(plan)
		if next, done := n.deps.Policy.NextStep(len(plan.Steps), highest); !done {
			n.enterStep(i, next)
			return
		}
	}
	n.enterEnd()
}

// ===== OPERATIONS =====

// SelectModule opens a module. Students may only enter a module after every
// preceding module is complete; otherwise the call is a no-op.
func (n *Navigator) SelectModule(moduleID uint) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx := -1
	for i, plan := range n.plans {
		if plan.ModuleID == moduleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, ErrModuleNotFound
	}
	if !n.deps.Policy.CanEnterModule(n.identity.Role, idx, n.moduleCompletion()) {
		n.logger.Debug("Ignoring selection of locked module", "module_id", moduleID)
		return false, nil
	}

	plan := n.plans[idx]
	next, done := n.deps.Policy.NextStep(len(plan.Steps), n.highest(plan))
	if done {
		next = 0
	}
	n.enterStep(idx, next)
	return true, nil
}

// Activate opens a step of the current module. Locked steps are ignored.
func (n *Navigator) Activate(index int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.plans) == 0 {
		return false
	}
	plan := n.plans[n.moduleIdx]
	state := n.deps.Policy.ComputeStepState(n.identity.Role, len(plan.Steps), n.highest(plan), index)
	if !state.IsInteractable() {
		n.logger.Debug("Ignoring activation of locked step", "module_id", plan.ModuleID, "index", index)
		return false
	}
	n.enterStep(n.moduleIdx, index)
	return true
}

// SubmitStepAnswer answers the current question of the current step's quiz.
// A wrong answer keeps the learner on the question; a correct answer moves to
// the next question or completes the step.
func (n *Navigator) SubmitStepAnswer(ctx context.Context, questionID uint, key string) (*StepOutcome, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	step, ok := n.currentStep()
	if !ok || !step.HasQuiz() {
		return nil, ErrNoActiveQuiz
	}
	if n.stepCompleted() {
		return nil, ErrWrongPhase
	}
	if key == "" {
		return nil, ErrAnswerRequired
	}

	question := step.Questions[n.questionIdx]
	if questionID != question.ID {
		return nil, ErrQuestionNotFound
	}

	result, err := n.deps.Engine.EvaluateAnswer(question, key)
	if err != nil {
		return nil, err
	}

	n.phase = PhaseAnswering
	n.attempts = append(n.attempts, models.QuizAttempt{
		QuestionID:  question.ID,
		Answer:      key,
		SubmittedAt: n.deps.Clock(),
	})

	if !result.Correct {
		return n.outcome(&result), nil
	}
	if n.questionIdx < len(step.Questions)-1 {
		n.questionIdx++
		return n.outcome(&result), nil
	}

	out := n.completeCurrent(ctx)
	out.Answer = &result
	return out, nil
}

// CompleteStep completes a step that has no quiz.
func (n *Navigator) CompleteStep(ctx context.Context) (*StepOutcome, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	step, ok := n.currentStep()
	if !ok || n.stepCompleted() {
		return nil, ErrWrongPhase
	}
	if step.HasQuiz() {
		return nil, ErrQuizRequired
	}
	return n.completeCurrent(ctx), nil
}

// FinishLastModule enters the final assessment once every step is complete.
func (n *Navigator) FinishLastModule() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.phase == PhaseFinalAssessment || n.phase == PhaseCertified {
		return nil
	}
	for _, done := range n.moduleCompletion() {
		if !done {
			return ErrLockedStepAccess
		}
	}
	n.enterEnd()
	return nil
}

// SubmitFinalQuiz scores the final quiz locally and submits it. The server's
// score is authoritative; on success the navigator becomes certified. On
// failure the navigator stays in the final assessment and the error is
// returned with the local score.
func (n *Navigator) SubmitFinalQuiz(ctx context.Context, answers map[uint]string) (*FinalQuizOutcome, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.phase != PhaseFinalAssessment {
		return nil, ErrWrongPhase
	}

	quiz := n.workshop.FinalQuiz
	out := &FinalQuizOutcome{Local: n.deps.Engine.EvaluateQuizSubmission(quiz.Questions, answers)}

	score, err := n.deps.Persister.PersistQuizSubmission(ctx, n.identity.Token, n.identity.UserID, quiz.ID, answers)
	if err != nil {
		return out, err
	}
	if score.Total == 0 {
		score.Total = out.Local.Total
	}

	n.certify(ctx, score.Score, score.Total)
	out.Certificate = n.certificate
	return out, nil
}

// ===== STATE TRANSITIONS =====

func (n *Navigator) enterStep(moduleIdx, index int) {
	n.phase = PhaseViewing
	n.moduleIdx = moduleIdx
	n.stepIndex = index
	n.questionIdx = 0
	n.attempts = nil
	n.activatedAt = n.deps.Clock()
}

// enterEnd moves to the final assessment, or straight to certified when the
// workshop has no final quiz.
func (n *Navigator) enterEnd() {
	if len(n.plans) > 0 {
		n.moduleIdx = len(n.plans) - 1
		n.stepIndex = max(len(n.plans[n.moduleIdx].Steps)-1, 0)
	}
	n.questionIdx = 0
	n.attempts = nil

	if n.workshop.HasFinalQuiz() {
		n.phase = PhaseFinalAssessment
		return
	}
	n.phase = PhaseCertified
	if n.certificate == nil {
		n.certificate = n.newCertificate(0, 0)
	}
}

func (n *Navigator) completeCurrent(ctx context.Context) *StepOutcome {
	plan := n.plans[n.moduleIdx]
	step := plan.Steps[n.stepIndex]
	timeSpent := int(n.deps.Clock().Sub(n.activatedAt) / time.Second)

	highest := n.deps.Store.MarkCompleted(ctx, n.identity.UserID, plan.ModuleID, n.stepIndex)
	if step.IsSection {
		n.deps.Store.MarkSectionCompleted(ctx, n.identity.UserID, n.workshop.ID, step.ID)
	}
	cmd := n.deps.Persister.PersistStepCompletion(ctx, n.identity.Token, n.identity.UserID, plan.ModuleID, n.stepIndex, timeSpent)

	completed := &CompletedStep{
		ModuleID:         plan.ModuleID,
		Index:            n.stepIndex,
		StepID:           step.ID,
		HighestCompleted: highest,
		TimeSpent:        timeSpent,
	}
	n.logger.Info("Step completed",
		"module_id", plan.ModuleID,
		"index", n.stepIndex,
		"time_spent", timeSpent,
		"command_id", cmd.ID)

	done := n.advance()
	out := n.outcome(nil)
	out.Completed = completed
	out.Command = &cmd
	out.WorkshopDone = done
	return out
}

// advance moves past the step just completed. It reports whether the whole
// workshop is complete.
func (n *Navigator) advance() bool {
	if next := n.stepIndex + 1; next < len(n.plans[n.moduleIdx].Steps) {
		n.enterStep(n.moduleIdx, next)
		return false
	}
	for i := n.moduleIdx + 1; i < len(n.plans); i++ {
		if next, done := n.deps.Policy.NextStep(len(n.plans[i].Steps), n.highest(n.plans[i])); !done {
			n.enterStep(i, next)
			return false
		}
	}
	for i, done := range n.moduleCompletion() {
		if !done {
			// an earlier module is still open, which only staff can cause
			next, _ := n.deps.Policy.NextStep(len(n.plans[i].Steps), n.highest(n.plans[i]))
			n.enterStep(i, next)
			return false
		}
	}
	n.enterEnd()
	return true
}

func (n *Navigator) certify(ctx context.Context, score, total int) {
	n.phase = PhaseCertified
	n.certificate = n.newCertificate(score, total)

	n.logger.Info("Workshop certified", "score", score, "total", total, "passed", n.certificate.Passed)
	if n.deps.Publisher != nil {
		event := events.NewProgressEvent(events.EventWorkshopCertified, n.identity.UserID, events.WorkshopCertifiedEvent{
			WorkshopID: n.workshop.ID,
			Score:      score,
			Total:      total,
			Passed:     n.certificate.Passed,
		})
		if err := n.deps.Publisher.Publish(ctx, event); err != nil {
			n.logger.Warn("Failed to publish certification event", "error", err)
		}
	}
}

func (n *Navigator) newCertificate(score, total int) *models.Certificate {
	passed := total == 0 || score*100 >= n.deps.PassPercent*total
	return &models.Certificate{
		UserID:     n.identity.UserID,
		WorkshopID: n.workshop.ID,
		Title:      n.workshop.Title,
		Score:      score,
		Total:      total,
		Passed:     passed,
		IssuedAt:   n.deps.Clock().UTC(),
	}
}

// ===== HELPERS =====

func (n *Navigator) highest(plan models.ModulePlan) int {
	return n.deps.Store.GetHighestCompleted(n.identity.UserID, plan.ModuleID)
}

func (n *Navigator) moduleCompletion() []bool {
	out := make([]bool, len(n.plans))
	for i, plan := range n.plans {
		out[i] = n.highest(plan) >= len(plan.Steps)-1
	}
	return out
}

func (n *Navigator) currentStep() (models.Step, bool) {
	if n.phase != PhaseViewing && n.phase != PhaseAnswering {
		return models.Step{}, false
	}
	if len(n.plans) == 0 {
		return models.Step{}, false
	}
	steps := n.plans[n.moduleIdx].Steps
	if n.stepIndex < 0 || n.stepIndex >= len(steps) {
		return models.Step{}, false
	}
	return steps[n.stepIndex], true
}

// stepCompleted reports whether the current step was completed before. Such a
// step can be reviewed but not completed again.
func (n *Navigator) stepCompleted() bool {
	if len(n.plans) == 0 {
		return false
	}
	return n.stepIndex <= n.highest(n.plans[n.moduleIdx])
}

func (n *Navigator) outcome(answer *AnswerResult) *StepOutcome {
	out := &StepOutcome{
		Answer:    answer,
		Phase:     n.phase,
		StepIndex: n.stepIndex,
	}
	if len(n.plans) > 0 {
		out.ModuleID = n.plans[n.moduleIdx].ModuleID
	}
	return out
}
