package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"household-reminders/internal/model"
)

// ReminderRepository is the durable store of reminder records.
type ReminderRepository struct {
	db *gorm.DB
}

func NewReminderRepository(db *gorm.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Insert stores a new record and sets its ID. A second row for the same
// (task_key, scheduled_date, kind) fails with gorm.ErrDuplicatedKey.
func (r *ReminderRepository) Insert(ctx context.Context, reminder *model.Reminder) error {
	if reminder.NextFireAt != nil {
		utc := reminder.NextFireAt.UTC()
		reminder.NextFireAt = &utc
	}
	err := withRetry(ctx, "insert", func() error {
		return r.db.WithContext(ctx).Create(reminder).Error
	})
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

func (r *ReminderRepository) Get(ctx context.Context, id uint) (*model.Reminder, error) {
	var reminder model.Reminder
	err := withRetry(ctx, "get", func() error {
		return r.db.WithContext(ctx).First(&reminder, id).Error
	})
	if err != nil {
		return nil, fmt.Errorf("get reminder %d: %w", id, err)
	}
	return &reminder, nil
}

func (r *ReminderRepository) Find(ctx context.Context, taskKey, date string, kind model.ReminderKind) (*model.Reminder, error) {
	var reminder model.Reminder
	err := withRetry(ctx, "find", func() error {
		return r.db.WithContext(ctx).
			Where("task_key = ? AND scheduled_date = ? AND kind = ?", taskKey, date, kind).
			First(&reminder).Error
	})
	if err != nil {
		return nil, fmt.Errorf("find reminder %s@%s: %w", taskKey, date, err)
	}
	return &reminder, nil
}

// UpdateCompletion marks the record completed. next_fire_at is kept so an undo can re-arm it.
func (r *ReminderRepository) UpdateCompletion(ctx context.Context, id uint, actor string, at time.Time) error {
	return r.updateOne(ctx, "complete", id, map[string]interface{}{
		"is_completed": true,
		"completed_by": actor,
		"completed_at": at.UTC(),
	})
}

func (r *ReminderRepository) ResetCompletion(ctx context.Context, id uint) error {
	return r.updateOne(ctx, "reset completion", id, map[string]interface{}{
		"is_completed": false,
		"completed_by": nil,
		"completed_at": nil,
	})
}

// Snooze bumps the snooze counter and records the next fire time in one statement.
func (r *ReminderRepository) Snooze(ctx context.Context, id uint, nextFire time.Time) error {
	return r.updateOne(ctx, "snooze", id, map[string]interface{}{
		"snooze_count": gorm.Expr("snooze_count + 1"),
		"next_fire_at": nextFire.UTC(),
	})
}

func (r *ReminderRepository) SetNextFire(ctx context.Context, id uint, nextFire *time.Time) error {
	var value interface{}
	if nextFire != nil {
		value = nextFire.UTC()
	}
	return r.updateOne(ctx, "set next fire", id, map[string]interface{}{
		"next_fire_at": value,
	})
}

func (r *ReminderRepository) updateOne(ctx context.Context, op string, id uint, updates map[string]interface{}) error {
	err := withRetry(ctx, op, func() error {
		res := r.db.WithContext(ctx).Model(&model.Reminder{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s reminder %d: %w", op, id, err)
	}
	return nil
}

// ResetCompletionForDate clears completion of rows dated date that were completed before the given instant.
func (r *ReminderRepository) ResetCompletionForDate(ctx context.Context, kind model.ReminderKind, date string, completedBefore time.Time) (int64, error) {
	var affected int64
	err := withRetry(ctx, "reset day", func() error {
		res := r.db.WithContext(ctx).Model(&model.Reminder{}).
			Where("kind = ? AND scheduled_date = ? AND is_completed = ? AND (completed_at IS NULL OR completed_at < ?)", kind, date, true, completedBefore.UTC()).
			Updates(map[string]interface{}{
				"is_completed": false,
				"completed_by": nil,
				"completed_at": nil,
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("reset completion for %s: %w", date, err)
	}
	return affected, nil
}

// DeleteOlderThan removes rows of kind dated strictly before cutoffDate.
func (r *ReminderRepository) DeleteOlderThan(ctx context.Context, kind model.ReminderKind, cutoffDate string) (int64, error) {
	var affected int64
	err := withRetry(ctx, "purge", func() error {
		res := r.db.WithContext(ctx).
			Where("kind = ? AND scheduled_date < ?", kind, cutoffDate).
			Delete(&model.Reminder{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete reminders before %s: %w", cutoffDate, err)
	}
	return affected, nil
}

func (r *ReminderRepository) ListForChat(ctx context.Context, chatID int64) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := withRetry(ctx, "list chat", func() error {
		return r.db.WithContext(ctx).
			Where("chat_id = ?", chatID).
			Order("scheduled_date ASC, scheduled_time ASC, id ASC").
			Find(&reminders).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list reminders for chat %d: %w", chatID, err)
	}
	return reminders, nil
}

func (r *ReminderRepository) ListForDate(ctx context.Context, kind model.ReminderKind, date string) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := withRetry(ctx, "list date", func() error {
		return r.db.WithContext(ctx).
			Where("kind = ? AND scheduled_date = ?", kind, date).
			Order("scheduled_time ASC, id ASC").
			Find(&reminders).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list reminders for %s: %w", date, err)
	}
	return reminders, nil
}

// ListArmable returns incomplete rows with an outstanding fire time, dated fromDate or later.
func (r *ReminderRepository) ListArmable(ctx context.Context, fromDate string) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := withRetry(ctx, "list armable", func() error {
		return r.db.WithContext(ctx).
			Where("is_completed = ? AND next_fire_at IS NOT NULL AND scheduled_date >= ?", false, fromDate).
			Order("next_fire_at ASC").
			Find(&reminders).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list armable reminders: %w", err)
	}
	return reminders, nil
}

// AssignUnassigned gives every row without a destination the chat.
func (r *ReminderRepository) AssignUnassigned(ctx context.Context, chatID int64) (int64, error) {
	var affected int64
	err := withRetry(ctx, "assign", func() error {
		res := r.db.WithContext(ctx).Model(&model.Reminder{}).
			Where("chat_id IS NULL").
			Update("chat_id", chatID)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("assign reminders to chat %d: %w", chatID, err)
	}
	return affected, nil
}
