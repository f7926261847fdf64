package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents different types of progress events
type EventType string

const (
	EventStepCompleted      EventType = "progress.step_completed"
	EventSectionCompleted   EventType = "progress.section_completed"
	EventProgressReconciled EventType = "progress.reconciled"
	EventQuizSubmitted      EventType = "quiz.submitted"
	EventWorkshopCertified  EventType = "workshop.certified"
)

const (
	eventSource  = "workshop-progress"
	eventVersion = "1.0"
)

// ProgressEvent is the envelope for every event this service publishes
type ProgressEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	UserID    string                 `json:"user_id"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewProgressEvent wraps a payload in an envelope with a fresh id.
func NewProgressEvent(eventType EventType, userID string, data interface{}) *ProgressEvent {
	return &ProgressEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    eventSource,
		Version:   eventVersion,
		UserID:    userID,
		Data:      data,
	}
}

// ===== PAYLOADS =====

type StepCompletedEvent struct {
	ModuleID         uint `json:"module_id"`
	Index            int  `json:"index"`
	PreviousHighest  int  `json:"previous_highest"`
	HighestCompleted int  `json:"highest_completed"`
}

type SectionCompletedEvent struct {
	WorkshopID uint `json:"workshop_id"`
	SectionID  uint `json:"section_id"`
}

type ProgressReconciledEvent struct {
	WorkshopID    uint   `json:"workshop_id"`
	AdvancedCount int    `json:"advanced_count"`
	ConflictCount int    `json:"conflict_count"`
	ModuleIDs     []uint `json:"module_ids,omitempty"`
}

type QuizSubmittedEvent struct {
	QuizID uint `json:"quiz_id"`
	Score  int  `json:"score"`
	Total  int  `json:"total"`
}

type WorkshopCertifiedEvent struct {
	WorkshopID uint `json:"workshop_id"`
	Score      int  `json:"score"`
	Total      int  `json:"total"`
	Passed     bool `json:"passed"`
}
