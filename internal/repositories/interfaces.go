package repositories

import (
	"context"
	"errors"

	"github.com/SAP-F-2025/workshop-progress/internal/models"
)

// ErrNotFound is returned when a pending command does not exist.
var ErrNotFound = errors.New("record not found")

// OutboxRepository keeps step-completion commands that exhausted their
// retries, so they survive restarts until the remote service accepts them.
type OutboxRepository interface {
	// Save inserts or replaces a pending command by id.
	Save(ctx context.Context, cmd *models.PendingProgressCommand) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.PendingProgressCommand, error)

	// List returns every pending command ordered by sequence.
	List(ctx context.Context) ([]*models.PendingProgressCommand, error)
	// ListByKey returns the pending commands of one (user, module) queue in order.
	ListByKey(ctx context.Context, userID string, moduleID uint) ([]*models.PendingProgressCommand, error)
	Count(ctx context.Context) (int64, error)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
