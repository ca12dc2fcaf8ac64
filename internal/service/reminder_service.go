package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"household-reminders/internal/logger"
	"household-reminders/internal/model"
)

const (
	iconPending   = "🕒"
	iconDone      = "✅"
	iconRain      = "🌧"
	iconSnoozed   = "⏰"
	iconRecurring = "♻️"
	iconOneOff    = "📌"

	maxTaskNameLen = 200
	listButtons    = 20
)

// ReminderService creates one-off reminders and renders reminders for the chat.
type ReminderService struct {
	store     ReminderStore
	catalog   *Catalog
	scheduler OneShotScheduler
	messenger Messenger
	loc       *time.Location
	now       func() time.Time
}

func NewReminderService(store ReminderStore, catalog *Catalog, scheduler OneShotScheduler, messenger Messenger, loc *time.Location) *ReminderService {
	return &ReminderService{
		store:     store,
		catalog:   catalog,
		scheduler: scheduler,
		messenger: messenger,
		loc:       loc,
		now:       time.Now,
	}
}

// CreateOneOff stores a one-off reminder for the chat and arms its fire time.
func (s *ReminderService) CreateOneOff(ctx context.Context, chatID int64, name string, at time.Time) (*model.Reminder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("task name is required")
	}
	if len([]rune(name)) > maxTaskNameLen {
		return nil, NewValidationError(fmt.Sprintf("task name is longer than %d characters", maxTaskNameLen))
	}
	at = at.In(s.loc).Truncate(time.Minute)
	if at.Before(s.now()) {
		return nil, NewValidationError("reminder time is in the past")
	}

	destination := chatID
	reminder := model.Reminder{
		ChatID:        &destination,
		TaskKey:       oneOffKey(),
		TaskName:      name,
		ScheduledDate: at.Format(model.DateLayout),
		ScheduledTime: at.Format(model.TimeLayout),
		Kind:          model.KindOneOff,
		NextFireAt:    &at,
	}
	if err := s.store.Insert(ctx, &reminder); err != nil {
		return nil, NewStorageError("create reminder", err)
	}
	s.scheduler.ScheduleOneShot(reminder.ID, at, &destination)

	logger.Info("one-off reminder created",
		zap.Int64("chat_id", chatID),
		zap.Uint("reminder_id", reminder.ID),
		zap.String("task_key", reminder.TaskKey),
		zap.Time("fire_at", at),
	)
	return &reminder, nil
}

func oneOffKey() string {
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Get loads a reminder as seen from the chat.
func (s *ReminderService) Get(ctx context.Context, chatID int64, id uint) (*model.Reminder, error) {
	reminder, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeError("load reminder", id, err)
	}
	if !visibleTo(*reminder, chatID) {
		return nil, NewNotFound(id)
	}
	return reminder, nil
}

func (s *ReminderService) ListForChat(ctx context.Context, chatID int64) ([]model.Reminder, error) {
	reminders, err := s.store.ListForChat(ctx, chatID)
	if err != nil {
		return nil, NewStorageError("list reminders", err)
	}
	return reminders, nil
}

// ListToday returns the recurring instances of the current local date.
func (s *ReminderService) ListToday(ctx context.Context) ([]model.Reminder, error) {
	today := model.DateOf(s.now(), s.loc)
	reminders, err := s.store.ListForDate(ctx, model.KindRecurring, today)
	if err != nil {
		return nil, NewStorageError("list today's reminders", err)
	}
	return reminders, nil
}

// NotifyDue sends the due prompt with its action buttons.
func (s *ReminderService) NotifyDue(ctx context.Context, event model.DueEvent) error {
	reminder, err := s.store.Get(ctx, event.ReminderID)
	if err != nil {
		return storeError("load due reminder", event.ReminderID, err)
	}
	return s.messenger.SendMessage(ctx, event.ChatID, s.FormatDue(*reminder), s.DueKeyboard(*reminder))
}

// DueKeyboard offers completion and snooze for a pending reminder.
func (s *ReminderService) DueKeyboard(r model.Reminder) model.Keyboard {
	var done []model.Button
	if s.catalog.SupportsRain(r) {
		done = append(done, model.Button{Text: iconRain + " Полил дождь", Payload: NewPayload(ActionDoneRain, r.ID).String()})
	}
	done = append(done, model.Button{Text: iconDone + " Сделано", Payload: NewPayload(ActionDoneUser, r.ID).String()})
	return model.Keyboard{
		done,
		{{Text: iconSnoozed + " Напомнить через 30 мин", Payload: NewPayload(ActionSnooze, r.ID).String()}},
	}
}

// UndoKeyboard lets the chat revert a completion.
func UndoKeyboard(r model.Reminder) model.Keyboard {
	return model.Keyboard{
		{{Text: "↩️ Отменить", Payload: NewPayload(ActionUndo, r.ID).String()}},
	}
}

// KeyboardFor picks the buttons that apply to the reminder's current state.
func (s *ReminderService) KeyboardFor(r model.Reminder) model.Keyboard {
	if r.IsCompleted {
		return UndoKeyboard(r)
	}
	return s.DueKeyboard(r)
}

func (s *ReminderService) FormatDue(r model.Reminder) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔔 <b>%s</b>\n", escapeName(r.TaskName)))
	sb.WriteString(fmt.Sprintf("🗓 %s · %s", formatDate(r.ScheduledDate), r.ScheduledTime))
	if r.SnoozeCount > 0 {
		sb.WriteString(fmt.Sprintf("\n%s Откладывали: %d раз", iconSnoozed, r.SnoozeCount))
	}
	return sb.String()
}

func (s *ReminderService) FormatDone(r model.Reminder) string {
	var sb strings.Builder
	icon := iconDone
	if r.CompletedBy != nil && *r.CompletedBy == model.ActorRain {
		icon = iconRain
	}
	sb.WriteString(fmt.Sprintf("%s <s>%s</s>\n", icon, escapeName(r.TaskName)))
	if r.CompletedAt != nil {
		sb.WriteString(fmt.Sprintf("Выполнено %s", r.CompletedAt.In(s.loc).Format("02.01.2006 15:04")))
	} else {
		sb.WriteString("Выполнено")
	}
	if r.CompletedBy != nil && *r.CompletedBy == model.ActorRain {
		sb.WriteString(" · полил дождь")
	}
	return sb.String()
}

func (s *ReminderService) FormatSnoozed(r model.Reminder) string {
	text := fmt.Sprintf("%s <b>%s</b>", iconSnoozed, escapeName(r.TaskName))
	if r.NextFireAt != nil {
		text += fmt.Sprintf("\nНапомню в %s", r.NextFireAt.In(s.loc).Format(model.TimeLayout))
	}
	return text
}

// FormatExpired is shown when a button refers to a reminder that no longer exists.
func FormatExpired() string {
	return "⌛ Напоминание уже неактуально."
}

func (s *ReminderService) FormatDetails(r model.Reminder) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s <b>%s</b>\n", kindIcon(r), escapeName(r.TaskName)))
	sb.WriteString(fmt.Sprintf("🗓 %s · %s\n", formatDate(r.ScheduledDate), r.ScheduledTime))
	if r.IsCompleted {
		sb.WriteString(statusIcon(r) + " Выполнено")
		if r.CompletedAt != nil {
			sb.WriteString(" " + r.CompletedAt.In(s.loc).Format("02.01 15:04"))
		}
	} else {
		sb.WriteString(iconPending + " Ждёт выполнения")
		if r.NextFireAt != nil {
			sb.WriteString(fmt.Sprintf("\n🔔 Следующее напоминание: %s", r.NextFireAt.In(s.loc).Format("02.01 15:04")))
		}
	}
	if r.SnoozeCount > 0 {
		sb.WriteString(fmt.Sprintf("\n%s Откладывали: %d раз", iconSnoozed, r.SnoozeCount))
	}
	return sb.String()
}

// FormatList renders the chat's reminders with a view button per pending one.
func (s *ReminderService) FormatList(reminders []model.Reminder) (string, model.Keyboard) {
	if len(reminders) == 0 {
		return "📋 Напоминаний пока нет. Добавь новое через /add_notify.", nil
	}

	var sb strings.Builder
	var keyboard model.Keyboard
	sb.WriteString("📋 <b>Твои напоминания</b>\n")
	currentDate := ""
	for _, r := range reminders {
		if r.ScheduledDate != currentDate {
			currentDate = r.ScheduledDate
			sb.WriteString(fmt.Sprintf("\n🗓 <b>%s</b>\n", formatDate(currentDate)))
		}
		sb.WriteString(formatLine(r))
		if !r.IsCompleted && len(keyboard) < listButtons {
			keyboard = append(keyboard, []model.Button{{
				Text:    fmt.Sprintf("#%d · %s", r.ID, shortName(r.TaskName, 24)),
				Payload: NewPayload(ActionView, r.ID).String(),
			}})
		}
	}
	return strings.TrimSpace(sb.String()), keyboard
}

// FormatToday renders today's recurring chores.
func (s *ReminderService) FormatToday(reminders []model.Reminder) (string, model.Keyboard) {
	today := s.now().In(s.loc)
	if len(reminders) == 0 {
		return fmt.Sprintf("♻️ На %s домашних дел нет.", today.Format("02.01.2006")), nil
	}

	var sb strings.Builder
	var keyboard model.Keyboard
	sb.WriteString(fmt.Sprintf("♻️ <b>Дела на сегодня</b> (%s)\n\n", today.Format("02.01.2006")))
	for _, r := range reminders {
		sb.WriteString(formatLine(r))
		if !r.IsCompleted {
			keyboard = append(keyboard, []model.Button{{
				Text:    fmt.Sprintf("%s · %s", r.ScheduledTime, shortName(r.TaskName, 24)),
				Payload: NewPayload(ActionView, r.ID).String(),
			}})
		}
	}
	return strings.TrimSpace(sb.String()), keyboard
}

// ChoreLine is a template with its next fire time.
type ChoreLine struct {
	Template model.TaskTemplate
	Next     time.Time
}

var weekdayShort = [7]string{"Пн", "Вт", "Ср", "Чт", "Пт", "Сб", "Вс"}

func (s *ReminderService) FormatChores(lines []ChoreLine) string {
	if len(lines) == 0 {
		return "♻️ Регулярных дел не настроено."
	}
	var sb strings.Builder
	sb.WriteString("♻️ <b>Регулярные дела</b>\n")
	for _, line := range lines {
		t := line.Template
		sb.WriteString(fmt.Sprintf("\n• <b>%s</b> в %s", escapeName(t.DisplayName), t.TimeOfDay()))
		sb.WriteString(fmt.Sprintf("\n   📆 %s", formatWeekdays(t.ActiveWeekdays)))
		if t.SupportsRain {
			sb.WriteString(" · " + iconRain)
		}
		if !line.Next.IsZero() {
			sb.WriteString(fmt.Sprintf("\n   🔔 Ближайшее: %s", line.Next.In(s.loc).Format("02.01 15:04")))
		}
	}
	return sb.String()
}

func formatWeekdays(days []int) string {
	if len(days) == 7 {
		return "каждый день"
	}
	names := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(weekdayShort) {
			names = append(names, weekdayShort[d])
		}
	}
	return strings.Join(names, ", ")
}

func formatLine(r model.Reminder) string {
	line := fmt.Sprintf("%s %s %s", statusIcon(r), r.ScheduledTime, escapeName(r.TaskName))
	if r.SnoozeCount > 0 && !r.IsCompleted {
		line += fmt.Sprintf(" <i>(%s×%d)</i>", iconSnoozed, r.SnoozeCount)
	}
	return line + "\n"
}

func statusIcon(r model.Reminder) string {
	if !r.IsCompleted {
		return iconPending
	}
	if r.CompletedBy != nil && *r.CompletedBy == model.ActorRain {
		return iconRain
	}
	return iconDone
}

func kindIcon(r model.Reminder) string {
	if r.Kind == model.KindRecurring {
		return iconRecurring
	}
	return iconOneOff
}

func formatDate(date string) string {
	t, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("02.01.2006")
}

func escapeName(name string) string {
	return html.EscapeString(strings.TrimSpace(name))
}

func shortName(name string, maxLen int) string {
	runes := []rune(strings.TrimSpace(name))
	if len(runes) <= maxLen {
		return string(runes)
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}
