package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProgressUpdate is the wire body of a step-completion write. The remote service
// treats repeated writes of the same (user, module, position) as a no-op.
type ProgressUpdate struct {
	UserID          string `json:"user_id" validate:"required"`
	ModuleID        uint   `json:"module_id" validate:"required"`
	SubstepPosition int    `json:"substep_position" validate:"min=0"`
	TimeSpent       int    `json:"time_spent" validate:"min=0"`
}

// WorkshopProgress is the authoritative progress reported by the server.
type WorkshopProgress struct {
	UserID     string            `json:"user_id"`
	WorkshopID uint              `json:"workshop_id"`
	Modules    []ModuleProgress  `json:"modules"`
	Sections   []SectionProgress `json:"sections"`
}

type ModuleProgress struct {
	ModuleID         uint `json:"module_id"`
	HighestCompleted int  `json:"highest_completed"`
}

type SectionProgress struct {
	SectionID uint `json:"section_id"`
	Completed bool `json:"completed"`
}

// QuizSubmission is posted to the quiz endpoint of the remote service.
type QuizSubmission struct {
	UserID  string          `json:"user_id" validate:"required"`
	Answers map[uint]string `json:"answers"`
}

// QuizScore is the server's verdict on a quiz submission.
type QuizScore struct {
	Score int `json:"score"`
	Total int `json:"total"`
}

// QuizAttempt records one submitted answer. Correctness is derived, not stored.
type QuizAttempt struct {
	QuizID      uint      `json:"quiz_id,omitempty"`
	QuestionID  uint      `json:"question_id"`
	Answer      string    `json:"answer"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Feedback struct {
	UserID     string `json:"user_id" validate:"required"`
	WorkshopID uint   `json:"workshop_id" validate:"required"`
	Stars      int    `json:"stars" validate:"stars"`
	Comments   string `json:"comments" validate:"max=2000"`
}

// PendingProgressCommand is a step-completion write that exhausted its retries
// and waits in the outbox for the next delivery window.
type PendingProgressCommand struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	Sequence  uint64         `json:"sequence" gorm:"not null;index"`
	UserID    string         `json:"user_id" gorm:"not null;size:255;index:idx_pending_user_module"`
	ModuleID  uint           `json:"module_id" gorm:"not null;index:idx_pending_user_module"`
	Position  int            `json:"position" gorm:"not null"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error" gorm:"size:1000"`
	Payload   datatypes.JSON `json:"payload" gorm:"type:jsonb"` // ProgressUpdate
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (PendingProgressCommand) TableName() string {
	return "pending_progress_commands"
}
