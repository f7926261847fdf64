package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/SAP-F-2025/workshop-progress/internal/repositories"
)

// OutboxMemory is a process-local outbox. Pending commands are lost on restart.
type OutboxMemory struct {
	mu       sync.RWMutex
	commands map[string]models.PendingProgressCommand
}

func NewOutboxMemory() repositories.OutboxRepository {
	return &OutboxMemory{commands: make(map[string]models.PendingProgressCommand)}
}

func (o *OutboxMemory) Save(ctx context.Context, cmd *models.PendingProgressCommand) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands[cmd.ID] = *cmd
	return nil
}

func (o *OutboxMemory) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.commands, id)
	return nil
}

func (o *OutboxMemory) GetByID(ctx context.Context, id string) (*models.PendingProgressCommand, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cmd, ok := o.commands[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &cmd, nil
}

func (o *OutboxMemory) List(ctx context.Context) ([]*models.PendingProgressCommand, error) {
	return o.filter(func(*models.PendingProgressCommand) bool { return true }), nil
}

func (o *OutboxMemory) ListByKey(ctx context.Context, userID string, moduleID uint) ([]*models.PendingProgressCommand, error) {
	return o.filter(func(c *models.PendingProgressCommand) bool {
		return c.UserID == userID && c.ModuleID == moduleID
	}), nil
}

func (o *OutboxMemory) Count(ctx context.Context) (int64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return int64(len(o.commands)), nil
}

func (o *OutboxMemory) filter(keep func(*models.PendingProgressCommand) bool) []*models.PendingProgressCommand {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*models.PendingProgressCommand, 0, len(o.commands))
	for _, c := range o.commands {
		c := c
		if keep(&c) {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}
