package services

import (
	"time"

	"github.com/SAP-F-2025/workshop-progress/internal/models"
)

// CommandStatus is the delivery state of a step-completion write.
type CommandStatus string

const (
	CommandPending CommandStatus = "pending"
	CommandAcked   CommandStatus = "acked"
	CommandFailed  CommandStatus = "failed"
)

// CommandSnapshot is a point-in-time copy of a queued command.
type CommandSnapshot struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	ModuleID  uint          `json:"module_id"`
	Position  int           `json:"substep_position"`
	TimeSpent int           `json:"time_spent"`
	Status    CommandStatus `json:"status"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"last_error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// progressCommand is mutated only while ProgressSyncClient.mu is held.
type progressCommand struct {
	id        string
	seq       uint64
	key       moduleKey
	update    models.ProgressUpdate
	token     string
	status    CommandStatus
	attempts  int
	lastError string
	stored    bool // present in the outbox
	createdAt time.Time
	updatedAt time.Time
}

func (c *progressCommand) snapshot() CommandSnapshot {
	return CommandSnapshot{
		ID:        c.id,
		UserID:    c.update.UserID,
		ModuleID:  c.update.ModuleID,
		Position:  c.update.SubstepPosition,
		TimeSpent: c.update.TimeSpent,
		Status:    c.status,
		Attempts:  c.attempts,
		LastError: c.lastError,
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
}

// commandQueue holds the unacknowledged commands of one (user, module) pair
// in submission order. At most one worker drains a queue at a time.
type commandQueue struct {
	items []*progressCommand
	// running is set while a worker owns the queue
	running bool
	// deferred is set when the head exhausted its retries and waits for the
	// next trigger
	deferred bool
}

func (q *commandQueue) head() *progressCommand {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *commandQueue) popHead() {
	q.items[0] = nil
	q.items = q.items[1:]
}

// find returns the queued command for the same position, if any.
func (q *commandQueue) find(position int) *progressCommand {
	for _, c := range q.items {
		if c.update.SubstepPosition == position {
			return c
		}
	}
	return nil
}

// insert keeps items ordered by sequence. Restored commands may arrive out of
// order relative to commands created in this process.
func (q *commandQueue) insert(cmd *progressCommand) {
	i := len(q.items)
	for i > 0 && q.items[i-1].seq > cmd.seq {
		i--
	}
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = cmd
}
