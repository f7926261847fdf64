package models

// Workshop is the content tree served by the remote workshop service. It is
// read-only for the duration of a learner session.
type Workshop struct {
	ID          uint      `json:"id" validate:"required"`
	Title       string    `json:"title" validate:"required,min=1,max=200"`
	Description string    `json:"description"`
	TrainerID   uint      `json:"trainer_id"`
	Modules     []Module  `json:"modules,omitempty" validate:"dive"`
	Sections    []Section `json:"sections,omitempty" validate:"dive"`
	FinalQuiz   *Quiz     `json:"final_quiz,omitempty" validate:"omitempty"`
}

type Module struct {
	ID       uint      `json:"id" validate:"required"`
	Title    string    `json:"title" validate:"required"`
	Substeps []Substep `json:"substeps" validate:"dive"`
}

type Substep struct {
	ID        uint           `json:"id" validate:"required"`
	Title     string         `json:"title" validate:"required"`
	Content   string         `json:"content"`
	Questions []QuizQuestion `json:"questions,omitempty" validate:"dive"`
}

type Section struct {
	ID        uint           `json:"id" validate:"required"`
	Title     string         `json:"title" validate:"required"`
	PPTURL    string         `json:"ppt_url,omitempty"`
	Code      string         `json:"code,omitempty"`
	Questions []QuizQuestion `json:"questions,omitempty" validate:"dive"`
}

type QuizQuestion struct {
	ID          uint              `json:"id" validate:"required"`
	Question    string            `json:"question" validate:"required"`
	Options     map[string]string `json:"options" validate:"required,min=2,dive,keys,option_key,endkeys,required"`
	Answer      string            `json:"answer" validate:"required,option_key"`
	Explanation *string           `json:"explanation,omitempty"`
}

// Quiz is a standalone set of questions, used for the final certification quiz.
type Quiz struct {
	ID        uint           `json:"id" validate:"required"`
	Questions []QuizQuestion `json:"questions" validate:"dive"`
}

// HasOption reports whether key is one of the question's option keys.
func (q QuizQuestion) HasOption(key string) bool {
	_, ok := q.Options[key]
	return ok
}

// ExplanationText returns the explanation or an empty string.
func (q QuizQuestion) ExplanationText() string {
	if q.Explanation == nil {
		return ""
	}
	return *q.Explanation
}

// ===== NAVIGATION PLAN =====

// Step is the navigator's uniform view of a substep or a section.
type Step struct {
	ID        uint           `json:"id"`
	Title     string         `json:"title"`
	Content   string         `json:"content,omitempty"`
	PPTURL    string         `json:"ppt_url,omitempty"`
	Code      string         `json:"code,omitempty"`
	IsSection bool           `json:"is_section"`
	Questions []QuizQuestion `json:"-"`
}

// HasQuiz reports whether the step is gated by a quiz.
func (s Step) HasQuiz() bool {
	return len(s.Questions) > 0
}

// ModulePlan is an ordered list of steps that share one highest-completed counter.
type ModulePlan struct {
	ModuleID     uint   `json:"module_id"`
	Title        string `json:"title"`
	SectionBased bool   `json:"section_based"`
	Steps        []Step `json:"steps"`
}

// Plan flattens the workshop into module plans. In the section-based variant the
// sections form a single module whose id is the workshop id.
func (w *Workshop) Plan() []ModulePlan {
	if len(w.Modules) == 0 && len(w.Sections) > 0 {
		plan := ModulePlan{
			ModuleID:     w.ID,
			Title:        w.Title,
			SectionBased: true,
			Steps:        make([]Step, 0, len(w.Sections)),
		}
		for _, s := range w.Sections {
			plan.Steps = append(plan.Steps, Step{
				ID:        s.ID,
				Title:     s.Title,
				PPTURL:    s.PPTURL,
				Code:      s.Code,
				IsSection: true,
				Questions: s.Questions,
			})
		}
		return []ModulePlan{plan}
	}

	plans := make([]ModulePlan, 0, len(w.Modules))
	for _, m := range w.Modules {
		plan := ModulePlan{
			ModuleID: m.ID,
			Title:    m.Title,
			Steps:    make([]Step, 0, len(m.Substeps)),
		}
		for _, s := range m.Substeps {
			plan.Steps = append(plan.Steps, Step{
				ID:        s.ID,
				Title:     s.Title,
				Content:   s.Content,
				Questions: s.Questions,
			})
		}
		plans = append(plans, plan)
	}
	return plans
}

// HasFinalQuiz reports whether the workshop ends with a certification quiz.
func (w *Workshop) HasFinalQuiz() bool {
	return w.FinalQuiz != nil && len(w.FinalQuiz.Questions) > 0
}
