package postgres

import (
	"context"
	"errors"

	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/SAP-F-2025/workshop-progress/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxPostgreSQL struct {
	db *gorm.DB
}

func NewOutboxPostgreSQL(db *gorm.DB) repositories.OutboxRepository {
	return &OutboxPostgreSQL{db: db}
}

func (o OutboxPostgreSQL) Save(ctx context.Context, cmd *models.PendingProgressCommand) error {
	return o.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"attempts", "last_error", "payload", "updated_at"}),
		}).
		Create(cmd).Error
}

func (o OutboxPostgreSQL) Delete(ctx context.Context, id string) error {
	return o.db.WithContext(ctx).Delete(&models.PendingProgressCommand{}, "id = ?", id).Error
}

func (o OutboxPostgreSQL) GetByID(ctx context.Context, id string) (*models.PendingProgressCommand, error) {
	var cmd models.PendingProgressCommand
	if err := o.db.WithContext(ctx).Where("id = ?", id).First(&cmd).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &cmd, nil
}

func (o OutboxPostgreSQL) List(ctx context.Context) ([]*models.PendingProgressCommand, error) {
	var cmds []*models.PendingProgressCommand
	if err := o.db.WithContext(ctx).Order("sequence ASC").Find(&cmds).Error; err != nil {
		return nil, err
	}
	return cmds, nil
}

func (o OutboxPostgreSQL) ListByKey(ctx context.Context, userID string, moduleID uint) ([]*models.PendingProgressCommand, error) {
	var cmds []*models.PendingProgressCommand
	if err := o.db.WithContext(ctx).
		Where("user_id = ? AND module_id = ?", userID, moduleID).
		Order("sequence ASC").
		Find(&cmds).Error; err != nil {
		return nil, err
	}
	return cmds, nil
}

func (o OutboxPostgreSQL) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := o.db.WithContext(ctx).Model(&models.PendingProgressCommand{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
