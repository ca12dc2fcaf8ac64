package model

import (
	"fmt"
	"time"
)

// ReminderKind separates template instances from user-created reminders.
type ReminderKind string

const (
	KindRecurring ReminderKind = "recurring"
	KindOneOff    ReminderKind = "one_off"
)

// Completion actors.
const (
	ActorRain = "rain"
	ActorUser = "user"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Reminder is one concrete occurrence: a recurring template instance for a day or a one-off reminder.
type Reminder struct {
	ID            uint         `gorm:"primaryKey"`
	ChatID        *int64       `gorm:"index"`
	TaskKey       string       `gorm:"not null;index:idx_reminder_occurrence,unique"`
	TaskName      string       `gorm:"not null"`
	ScheduledTime string       `gorm:"not null"`
	ScheduledDate string       `gorm:"not null;index:idx_reminder_occurrence,unique"`
	SnoozeCount   int          `gorm:"not null;default:0"`
	NextFireAt    *time.Time
	IsCompleted   bool         `gorm:"not null;default:false"`
	CompletedBy   *string
	CompletedAt   *time.Time
	Kind          ReminderKind `gorm:"not null;index:idx_reminder_occurrence,unique"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FireAt returns the wall-clock instant of the scheduled date and time in loc.
func (r Reminder) FireAt(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, r.ScheduledDate+" "+r.ScheduledTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule of reminder %d: %w", r.ID, err)
	}
	return t, nil
}

// IsRegularSlot reports whether NextFireAt points at the record's own scheduled time.
func (r Reminder) IsRegularSlot(loc *time.Location) bool {
	if r.NextFireAt == nil {
		return false
	}
	slot, err := r.FireAt(loc)
	if err != nil {
		return false
	}
	return r.NextFireAt.Equal(slot)
}

// DateOf formats the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// StartOfDay returns local midnight of t's date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
