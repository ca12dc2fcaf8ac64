package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"household-reminders/internal/logger"
	"household-reminders/internal/model"
)

// GenerationReport summarizes one generator run.
type GenerationReport struct {
	Date     string
	Purged   int64
	Reset    int64
	Inserted int
}

// RecurrenceService materializes today's template instances and retires stale ones.
type RecurrenceService struct {
	store         ReminderStore
	chats         ChatStore
	catalog       *Catalog
	loc           *time.Location
	retentionDays int
	now           func() time.Time
}

func NewRecurrenceService(store ReminderStore, chats ChatStore, catalog *Catalog, loc *time.Location, retentionDays int) *RecurrenceService {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &RecurrenceService{
		store:         store,
		chats:         chats,
		catalog:       catalog,
		loc:           loc,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Run generates the instances for the current local date.
func (s *RecurrenceService) Run(ctx context.Context) (GenerationReport, error) {
	return s.RunAt(ctx, s.now())
}

// RunAt generates the instances for the local date of now. Running it twice for the same date is a no-op.
func (s *RecurrenceService) RunAt(ctx context.Context, now time.Time) (GenerationReport, error) {
	now = now.In(s.loc)
	dayStart := model.StartOfDay(now, s.loc)
	today := dayStart.Format(model.DateLayout)
	report := GenerationReport{Date: today}

	cutoff := dayStart.AddDate(0, 0, -s.retentionDays).Format(model.DateLayout)
	purged, err := s.store.DeleteOlderThan(ctx, model.KindRecurring, cutoff)
	if err != nil {
		return report, NewStorageError("purge recurring reminders", err)
	}
	report.Purged = purged

	// Only completions recorded before today began are stale; today's own completions survive a rerun.
	reset, err := s.store.ResetCompletionForDate(ctx, model.KindRecurring, today, dayStart)
	if err != nil {
		return report, NewStorageError("reset recurring reminders", err)
	}
	report.Reset = reset

	destination, err := s.chats.Primary(ctx)
	if err != nil {
		return report, NewStorageError("load primary chat", err)
	}

	var errs []error
	for _, tmpl := range s.catalog.All() {
		if !tmpl.ActiveOn(now) {
			continue
		}
		inserted, err := s.ensureInstance(ctx, tmpl, today, now, destination)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if inserted {
			report.Inserted++
		}
	}

	logger.Info("recurring reminders generated",
		zap.String("date", today),
		zap.Int64("purged", report.Purged),
		zap.Int64("reset", report.Reset),
		zap.Int("inserted", report.Inserted),
	)
	return report, errors.Join(errs...)
}

func (s *RecurrenceService) ensureInstance(ctx context.Context, tmpl model.TaskTemplate, today string, now time.Time, destination *int64) (bool, error) {
	_, err := s.store.Find(ctx, tmpl.Key, today, model.KindRecurring)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, NewStorageError(fmt.Sprintf("find %s", tmpl.Key), err)
	}

	reminder := model.Reminder{
		ChatID:        destination,
		TaskKey:       tmpl.Key,
		TaskName:      tmpl.DisplayName,
		ScheduledTime: tmpl.TimeOfDay(),
		ScheduledDate: today,
		Kind:          model.KindRecurring,
	}
	slot, err := reminder.FireAt(s.loc)
	if err != nil {
		return false, err
	}
	// Slots already behind us are not fired retroactively.
	if slot.After(now) {
		reminder.NextFireAt = &slot
	}

	if err := s.store.Insert(ctx, &reminder); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			conflict := NewSchedulingConflict(tmpl.Key, today, err)
			logger.Error("duplicate recurring instance", conflict, zap.String("task_key", tmpl.Key), zap.String("date", today))
			return false, conflict
		}
		return false, NewStorageError(fmt.Sprintf("insert %s", tmpl.Key), err)
	}
	return true, nil
}
