package service

import (
	"context"
	"time"

	"household-reminders/internal/model"
)

// ReminderStore is the durable record store. *repository.ReminderRepository implements it.
type ReminderStore interface {
	Insert(ctx context.Context, reminder *model.Reminder) error
	Get(ctx context.Context, id uint) (*model.Reminder, error)
	Find(ctx context.Context, taskKey, date string, kind model.ReminderKind) (*model.Reminder, error)
	UpdateCompletion(ctx context.Context, id uint, actor string, at time.Time) error
	ResetCompletion(ctx context.Context, id uint) error
	Snooze(ctx context.Context, id uint, nextFire time.Time) error
	SetNextFire(ctx context.Context, id uint, nextFire *time.Time) error
	ResetCompletionForDate(ctx context.Context, kind model.ReminderKind, date string, completedBefore time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, kind model.ReminderKind, cutoffDate string) (int64, error)
	ListForChat(ctx context.Context, chatID int64) ([]model.Reminder, error)
	ListForDate(ctx context.Context, kind model.ReminderKind, date string) ([]model.Reminder, error)
	ListArmable(ctx context.Context, fromDate string) ([]model.Reminder, error)
	AssignUnassigned(ctx context.Context, chatID int64) (int64, error)
}

// ChatStore keeps registered chats. *repository.ChatRepository implements it.
type ChatStore interface {
	Register(ctx context.Context, chatID int64, title string) (*model.RegisteredChat, bool, error)
	Deregister(ctx context.Context, chatID int64) (bool, error)
	IsRegistered(ctx context.Context, chatID int64) (bool, error)
	Primary(ctx context.Context) (*int64, error)
	ListAll(ctx context.Context) ([]model.RegisteredChat, error)
}

// OneShotScheduler registers and cancels single fire times for a record.
type OneShotScheduler interface {
	ScheduleOneShot(id uint, at time.Time, chatID *int64)
	Cancel(id uint)
}

// Messenger delivers outbound effects to the chat transport.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard model.Keyboard) error
	EditMessage(ctx context.Context, ref model.MessageRef, text string, keyboard model.Keyboard) error
}

// Catalog indexes the configured task templates.
type Catalog struct {
	templates []model.TaskTemplate
	byKey     map[string]model.TaskTemplate
}

func NewCatalog(templates []model.TaskTemplate) *Catalog {
	byKey := make(map[string]model.TaskTemplate, len(templates))
	for _, t := range templates {
		byKey[t.Key] = t
	}
	return &Catalog{templates: templates, byKey: byKey}
}

func (c *Catalog) Get(key string) (model.TaskTemplate, bool) {
	t, ok := c.byKey[key]
	return t, ok
}

func (c *Catalog) All() []model.TaskTemplate {
	return c.templates
}

// SupportsRain reports whether the reminder accepts the "done by rain" shortcut.
func (c *Catalog) SupportsRain(r model.Reminder) bool {
	if r.Kind != model.KindRecurring {
		return false
	}
	t, ok := c.byKey[r.TaskKey]
	return ok && t.SupportsRain
}
