package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"household-reminders/internal/logger"
	"household-reminders/internal/model"
)

// TransitionResult is the record after a transition. Changed is false for no-op transitions.
type TransitionResult struct {
	Reminder *model.Reminder
	Changed  bool
}

// TransitionService applies button actions to reminder records.
type TransitionService struct {
	store          ReminderStore
	catalog        *Catalog
	scheduler      OneShotScheduler
	locks          *RecordLocks
	loc            *time.Location
	snoozeInterval time.Duration
	now            func() time.Time
}

func NewTransitionService(store ReminderStore, catalog *Catalog, scheduler OneShotScheduler, locks *RecordLocks, loc *time.Location, snoozeInterval time.Duration) *TransitionService {
	if snoozeInterval <= 0 {
		snoozeInterval = 30 * time.Minute
	}
	return &TransitionService{
		store:          store,
		catalog:        catalog,
		scheduler:      scheduler,
		locks:          locks,
		loc:            loc,
		snoozeInterval: snoozeInterval,
		now:            time.Now,
	}
}

// MarkDone completes a pending reminder. Completing an already completed reminder changes nothing.
func (s *TransitionService) MarkDone(ctx context.Context, chatID int64, id uint, actor string) (TransitionResult, error) {
	if actor != model.ActorRain && actor != model.ActorUser {
		return TransitionResult{}, NewValidationError(fmt.Sprintf("unknown actor %q", actor))
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	reminder, err := s.load(ctx, chatID, id)
	if err != nil {
		return TransitionResult{}, err
	}
	if actor == model.ActorRain && !s.catalog.SupportsRain(*reminder) {
		return TransitionResult{Reminder: reminder}, &Error{
			Code:    CodeNotSupported,
			Message: fmt.Sprintf("%s cannot be done by rain", reminder.TaskKey),
		}
	}
	if reminder.IsCompleted {
		return TransitionResult{Reminder: reminder}, nil
	}

	at := s.now()
	if err := s.store.UpdateCompletion(ctx, id, actor, at); err != nil {
		return TransitionResult{}, storeError("complete reminder", id, err)
	}
	s.scheduler.Cancel(id)

	reminder.IsCompleted = true
	reminder.CompletedBy = &actor
	reminder.CompletedAt = &at

	logger.Info("reminder completed",
		zap.Uint("reminder_id", id),
		zap.String("task_key", reminder.TaskKey),
		zap.String("actor", actor),
		zap.Int64("chat_id", chatID),
	)
	return TransitionResult{Reminder: reminder, Changed: true}, nil
}

// Snooze postpones a pending reminder by the snooze interval and replaces its single-shot fire time.
func (s *TransitionService) Snooze(ctx context.Context, chatID int64, id uint) (TransitionResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	reminder, err := s.load(ctx, chatID, id)
	if err != nil {
		return TransitionResult{}, err
	}
	if reminder.IsCompleted {
		return TransitionResult{Reminder: reminder}, nil
	}

	next := s.now().Add(s.snoozeInterval)
	if err := s.store.Snooze(ctx, id, next); err != nil {
		return TransitionResult{}, storeError("snooze reminder", id, err)
	}
	destination := chatID
	s.scheduler.ScheduleOneShot(id, next, &destination)

	reminder.SnoozeCount++
	reminder.NextFireAt = &next

	logger.Info("reminder snoozed",
		zap.Uint("reminder_id", id),
		zap.String("task_key", reminder.TaskKey),
		zap.Int("snooze_count", reminder.SnoozeCount),
		zap.Time("next_fire_at", next),
	)
	return TransitionResult{Reminder: reminder, Changed: true}, nil
}

// Undo reverts a completion and re-arms the fire time the reminder had, if it is still ahead.
// A fire time that passed while the reminder was completed is dropped. A pending reminder is left as is.
func (s *TransitionService) Undo(ctx context.Context, chatID int64, id uint) (TransitionResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	reminder, err := s.load(ctx, chatID, id)
	if err != nil {
		return TransitionResult{}, err
	}
	if !reminder.IsCompleted {
		return TransitionResult{Reminder: reminder}, nil
	}

	if err := s.store.ResetCompletion(ctx, id); err != nil {
		return TransitionResult{}, storeError("undo reminder", id, err)
	}
	reminder.IsCompleted = false
	reminder.CompletedBy = nil
	reminder.CompletedAt = nil

	if reminder.NextFireAt != nil {
		if err := s.rearm(ctx, chatID, reminder); err != nil {
			return TransitionResult{}, err
		}
	}

	logger.Info("reminder completion undone", zap.Uint("reminder_id", id), zap.String("task_key", reminder.TaskKey))
	return TransitionResult{Reminder: reminder, Changed: true}, nil
}

// rearm restores the single shot of a reminder brought back to pending.
// Regular slots of recurring reminders are fired by the chat's rule entries and need no single shot.
func (s *TransitionService) rearm(ctx context.Context, chatID int64, reminder *model.Reminder) error {
	at := *reminder.NextFireAt
	if !at.After(s.now()) {
		if err := s.store.SetNextFire(ctx, reminder.ID, nil); err != nil {
			return storeError("drop passed fire time", reminder.ID, err)
		}
		reminder.NextFireAt = nil
		return nil
	}
	switch {
	case reminder.Kind == model.KindOneOff:
		s.scheduler.ScheduleOneShot(reminder.ID, at, nil)
	case !reminder.IsRegularSlot(s.loc):
		destination := chatID
		s.scheduler.ScheduleOneShot(reminder.ID, at, &destination)
	}
	return nil
}

// load fetches the record as seen from chatID. Another chat's one-off does not exist for it.
func (s *TransitionService) load(ctx context.Context, chatID int64, id uint) (*model.Reminder, error) {
	reminder, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeError("load reminder", id, err)
	}
	if !visibleTo(*reminder, chatID) {
		return nil, NewNotFound(id)
	}
	return reminder, nil
}

func visibleTo(r model.Reminder, chatID int64) bool {
	if r.Kind != model.KindOneOff || r.ChatID == nil {
		return true
	}
	return *r.ChatID == chatID
}
