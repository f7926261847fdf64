package services

import (
	"github.com/SAP-F-2025/workshop-progress/internal/models"
)

// StepState is how a step is presented to the current user.
type StepState string

const (
	StepLocked    StepState = "locked"
	StepCompleted StepState = "completed"
	StepCurrent   StepState = "current"
	StepUpcoming  StepState = "upcoming"
)

// IsInteractable reports whether the user may open the step.
func (s StepState) IsInteractable() bool {
	return s != StepLocked
}

// UnlockPolicy decides which steps a role may see and open. Students move
// strictly in order; staff may open any step of the workshop.
type UnlockPolicy struct{}

func NewUnlockPolicy() *UnlockPolicy {
	return &UnlockPolicy{}
}

// ComputeStepState returns the state of step index given the highest
// completed index of its module (-1 when nothing is completed).
func (p *UnlockPolicy) ComputeStepState(role models.UserRole, totalSteps, highestCompleted, index int) StepState {
	if index < 0 || index >= totalSteps {
		return StepLocked
	}
	if index <= highestCompleted {
		return StepCompleted
	}
	if index == highestCompleted+1 {
		return StepCurrent
	}

	switch role {
	case models.RoleStudent:
		return StepLocked
	case models.RoleTrainer, models.RoleAdmin:
		return StepUpcoming
	default:
		// unknown roles never reach a session; treat them as least privileged
		return StepLocked
	}
}

// StepStates computes the state of every step in a module.
func (p *UnlockPolicy) StepStates(role models.UserRole, totalSteps, highestCompleted int) []StepState {
	states := make([]StepState, totalSteps)
	for i := range states {
		states[i] = p.ComputeStepState(role, totalSteps, highestCompleted, i)
	}
	return states
}

// NextStep returns the step to open after highestCompleted. done is true when
// every step is complete and the caller should move on to certification.
func (p *UnlockPolicy) NextStep(totalSteps, highestCompleted int) (index int, done bool) {
	next := highestCompleted + 1
	if next >= totalSteps {
		return totalSteps, true
	}
	if next < 0 {
		next = 0
	}
	return next, false
}

// CanEnterModule reports whether role may open the module at position
// moduleIndex given which modules are complete. Students must finish every
// preceding module first.
func (p *UnlockPolicy) CanEnterModule(role models.UserRole, moduleIndex int, completed []bool) bool {
	if moduleIndex < 0 || moduleIndex >= len(completed) {
		return false
	}
	switch role {
	case models.RoleStudent:
		for i := 0; i < moduleIndex; i++ {
			if !completed[i] {
				return false
			}
		}
		return true
	case models.RoleTrainer, models.RoleAdmin:
		return true
	default:
		return false
	}
}
