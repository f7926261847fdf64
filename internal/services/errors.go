package services

import (
	"errors"
	"fmt"

	apperrors "github.com/SAP-F-2025/workshop-progress/internal/errors"
)

// ===== COMMON SERVICE ERRORS =====

var (
	// Generic errors
	ErrNotFound         = errors.New("resource not found")
	ErrUnauthorized     = errors.New("unauthorized access")
	ErrForbidden        = errors.New("forbidden - insufficient permissions")
	ErrValidationFailed = errors.New("validation failed")

	// Quiz errors
	ErrInvalidAnswerKey = errors.New("answer key is not an option of the question")
	ErrQuestionNotFound = errors.New("question not found")
	ErrAnswerRequired   = errors.New("an answer is required")
	ErrNoActiveQuiz     = errors.New("no quiz is active")

	// Navigation errors
	ErrLockedStepAccess   = errors.New("step is locked")
	ErrStepOutOfRange     = errors.New("step index out of range")
	ErrQuizRequired       = errors.New("step must be completed through its quiz")
	ErrWrongPhase         = errors.New("operation not allowed in the current phase")
	ErrModuleNotFound     = errors.New("module not found")
	ErrWorkshopNotStarted = errors.New("workshop not started in this session")

	// Persistence errors
	ErrPersistenceFailure     = errors.New("failed to persist to the workshop service")
	ErrReconciliationConflict = errors.New("server progress is behind local progress")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRole     = errors.New("invalid user role")
)

// ===== CUSTOM ERROR TYPES =====

// Use shared validation errors from errors package
type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

// InvalidAnswerKeyError names the question and key that did not match.
type InvalidAnswerKeyError struct {
	QuestionID uint   `json:"question_id"`
	Key        string `json:"key"`
}

func (e *InvalidAnswerKeyError) Error() string {
	return fmt.Sprintf("question %d has no option %q", e.QuestionID, e.Key)
}

func (e *InvalidAnswerKeyError) Is(target error) bool {
	return target == ErrInvalidAnswerKey
}

// PersistenceError wraps a failed call to the workshop service.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailure
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ConflictError reports a module whose server progress is behind local progress.
type ConflictError struct {
	ModuleID    uint `json:"module_id"`
	LocalValue  int  `json:"local_highest_completed"`
	ServerValue int  `json:"server_highest_completed"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("module %d: server highest completed %d is behind local %d",
		e.ModuleID, e.ServerValue, e.LocalValue)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrReconciliationConflict
}

// ===== ERROR HELPERS =====

// NewValidationError creates a new validation error using the shared type
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return apperrors.NewValidationError(field, message, value)
}

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrQuestionNotFound) ||
		errors.Is(err, ErrModuleNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrWorkshopNotStarted)
}

// IsUnauthorized checks if error represents an "unauthorized" condition
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	if errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrInvalidAnswerKey) ||
		errors.Is(err, ErrAnswerRequired) ||
		errors.Is(err, ErrInvalidRole) {
		return true
	}
	var ve apperrors.ValidationErrors
	return errors.As(err, &ve)
}

// IsConflict checks if error represents an operation not allowed in the
// current navigation state
func IsConflict(err error) bool {
	return errors.Is(err, ErrLockedStepAccess) ||
		errors.Is(err, ErrStepOutOfRange) ||
		errors.Is(err, ErrQuizRequired) ||
		errors.Is(err, ErrWrongPhase) ||
		errors.Is(err, ErrNoActiveQuiz) ||
		errors.Is(err, ErrReconciliationConflict)
}

// IsPersistenceFailure checks if the workshop service could not be reached or
// rejected a write
func IsPersistenceFailure(err error) bool {
	return errors.Is(err, ErrPersistenceFailure)
}
