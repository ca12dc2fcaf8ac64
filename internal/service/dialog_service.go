package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"household-reminders/internal/model"
)

type dialogStage int

const (
	stageAwaitingName dialogStage = iota + 1
	stageAwaitingDate
	stageAwaitingTime
)

func (s dialogStage) String() string {
	switch s {
	case stageAwaitingName:
		return "awaiting_name"
	case stageAwaitingDate:
		return "awaiting_date"
	case stageAwaitingTime:
		return "awaiting_time"
	default:
		return "none"
	}
}

type dialogState struct {
	stage dialogStage
	name  string
	date  time.Time
}

// ErrNoDialog is returned for dialog input when the chat has no reminder dialog in progress.
var ErrNoDialog = errors.New("no reminder dialog in progress")

// Reply is the bot's answer to a dialog step.
type Reply struct {
	Text     string
	Keyboard model.Keyboard
}

const (
	hintName = "✏️ Как назвать напоминание? Напиши название одним сообщением."
	hintDate = "📅 Введи дату в формате ДД ММ ГГГГ, например: 17 05 2025"
	hintTime = "🕒 Формат времени: ЧЧ:ММ, например: 18:30"
	hintPast = "⚠️ Дата и время не могут быть в прошлом. Попробуй снова."
	askDay   = "📆 Когда напомнить?"
	askTime  = "🕒 Выбери время напоминания или напиши своё (ЧЧ:ММ):"
)

const (
	firstPickHour = 6
	lastPickHour  = 21
)

var weekdayNames = [7]string{"Понедельник", "Вторник", "Среда", "Четверг", "Пятница", "Суббота", "Воскресенье"}

// DialogService walks a chat through creating a one-off reminder: name, day or date, time.
// State lives in memory and is dropped on restart.
type DialogService struct {
	reminders *ReminderService
	loc       *time.Location
	now       func() time.Time

	mu     sync.Mutex
	states map[int64]*dialogState
}

func NewDialogService(reminders *ReminderService, loc *time.Location) *DialogService {
	return &DialogService{
		reminders: reminders,
		loc:       loc,
		now:       time.Now,
		states:    make(map[int64]*dialogState),
	}
}

// Start begins a new dialog, discarding any unfinished one.
func (s *DialogService) Start(chatID int64) Reply {
	s.mu.Lock()
	s.states[chatID] = &dialogState{stage: stageAwaitingName}
	s.mu.Unlock()
	return Reply{Text: hintName}
}

// Cancel drops the chat's dialog. The bool reports whether one was in progress.
func (s *DialogService) Cancel(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[chatID]
	delete(s.states, chatID)
	return ok
}

func (s *DialogService) Active(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[chatID]
	return ok
}

// Describe dumps the dialog state for /debug.
func (s *DialogService) Describe(chatID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[chatID]
	if !ok {
		return "stage=none"
	}
	parts := []string{"stage=" + state.stage.String()}
	if state.name != "" {
		parts = append(parts, fmt.Sprintf("name=%q", state.name))
	}
	if !state.date.IsZero() {
		parts = append(parts, "date="+state.date.Format(model.DateLayout))
	}
	return strings.Join(parts, " ")
}

// HandleText consumes a free-text dialog answer.
func (s *DialogService) HandleText(ctx context.Context, chatID int64, text string) (Reply, error) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	state, ok := s.states[chatID]
	if !ok {
		s.mu.Unlock()
		return Reply{}, ErrNoDialog
	}
	stage := state.stage
	s.mu.Unlock()

	switch stage {
	case stageAwaitingName:
		if text == "" {
			return Reply{Text: hintName}, NewValidationError("task name is required")
		}
		if len([]rune(text)) > maxTaskNameLen {
			return Reply{Text: fmt.Sprintf("✂️ Слишком длинное название, максимум %d символов.", maxTaskNameLen)},
				NewValidationError("task name is too long")
		}
		err := s.advance(chatID, stageAwaitingName, func(st *dialogState) {
			st.name = text
			st.stage = stageAwaitingDate
		})
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: askDay, Keyboard: dayKeyboard()}, nil
	case stageAwaitingDate:
		date, err := ParseDate(text, s.loc)
		if err != nil {
			return Reply{Text: hintDate}, err
		}
		return s.setDate(chatID, date)
	case stageAwaitingTime:
		hour, minute, err := ParseClock(text)
		if err != nil {
			return Reply{Text: hintTime}, err
		}
		return s.finish(ctx, chatID, hour, minute)
	default:
		return Reply{}, ErrNoDialog
	}
}

// PickDay resolves a weekday button to the nearest such date, today included.
func (s *DialogService) PickDay(chatID int64, weekday int) (Reply, error) {
	if weekday < 0 || weekday > 6 {
		return Reply{Text: askDay, Keyboard: dayKeyboard()}, NewValidationError(fmt.Sprintf("weekday %d out of range", weekday))
	}
	if err := s.expect(chatID, stageAwaitingDate); err != nil {
		return Reply{}, err
	}
	now := s.now().In(s.loc)
	ahead := (weekday - model.Weekday(now.Weekday()) + 7) % 7
	return s.setDate(chatID, model.StartOfDay(now, s.loc).AddDate(0, 0, ahead))
}

// AskCustomDate switches the day step to typed input.
func (s *DialogService) AskCustomDate(chatID int64) (Reply, error) {
	if err := s.expect(chatID, stageAwaitingDate); err != nil {
		return Reply{}, err
	}
	return Reply{Text: hintDate}, nil
}

// PickTime completes the dialog from a time button.
func (s *DialogService) PickTime(ctx context.Context, chatID int64, clock string) (Reply, error) {
	if err := s.expect(chatID, stageAwaitingTime); err != nil {
		return Reply{}, err
	}
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return Reply{Text: hintTime}, err
	}
	return s.finish(ctx, chatID, hour, minute)
}

func (s *DialogService) setDate(chatID int64, date time.Time) (Reply, error) {
	today := model.StartOfDay(s.now(), s.loc)
	if date.Before(today) {
		return Reply{Text: hintPast}, NewValidationError("reminder date is in the past")
	}
	err := s.advance(chatID, stageAwaitingDate, func(st *dialogState) {
		st.date = date
		st.stage = stageAwaitingTime
	})
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("%s\n🗓 %s", askTime, date.Format("02.01.2006")), Keyboard: timeKeyboard()}, nil
}

func (s *DialogService) finish(ctx context.Context, chatID int64, hour, minute int) (Reply, error) {
	s.mu.Lock()
	state, ok := s.states[chatID]
	if !ok || state.stage != stageAwaitingTime {
		s.mu.Unlock()
		return Reply{}, ErrNoDialog
	}
	name, date := state.name, state.date
	s.mu.Unlock()

	at := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, s.loc)
	if at.Before(s.now()) {
		return Reply{Text: hintPast}, NewValidationError("reminder time is in the past")
	}

	reminder, err := s.reminders.CreateOneOff(ctx, chatID, name, at)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return Reply{Text: hintPast}, err
		}
		return Reply{}, err
	}
	s.Cancel(chatID)

	text := fmt.Sprintf("✅ Задача добавлена!\n%s <b>%s</b>\n🗓 %s · %s",
		iconOneOff, escapeName(reminder.TaskName), at.Format("02.01.2006"), reminder.ScheduledTime)
	return Reply{Text: text}, nil
}

func (s *DialogService) expect(chatID int64, stage dialogStage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[chatID]
	if !ok || state.stage != stage {
		return ErrNoDialog
	}
	return nil
}

// advance applies fn if the chat's dialog is still at stage. A dialog cancelled or moved on meanwhile yields ErrNoDialog.
func (s *DialogService) advance(chatID int64, stage dialogStage, fn func(*dialogState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[chatID]
	if !ok || state.stage != stage {
		return ErrNoDialog
	}
	fn(state)
	return nil
}

// ParseDate reads "DD MM YYYY" as local midnight.
func ParseDate(text string, loc *time.Location) (time.Time, error) {
	fields := strings.Fields(text)
	if len(fields) != 3 {
		return time.Time{}, NewValidationError(fmt.Sprintf("date %q: expected DD MM YYYY", text))
	}
	nums := make([]int, 3)
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return time.Time{}, NewValidationError(fmt.Sprintf("date %q: expected DD MM YYYY", text))
		}
		nums[i] = n
	}
	day, month, year := nums[0], nums[1], nums[2]
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	// time.Date normalizes overflow, so 31 02 rolls into March.
	if date.Day() != day || int(date.Month()) != month || date.Year() != year {
		return time.Time{}, NewValidationError(fmt.Sprintf("date %q does not exist", text))
	}
	return date, nil
}

// ParseClock reads "HH:MM".
func ParseClock(text string) (int, int, error) {
	hourStr, minuteStr, ok := strings.Cut(strings.TrimSpace(text), ":")
	if !ok {
		return 0, 0, NewValidationError(fmt.Sprintf("time %q: expected HH:MM", text))
	}
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, NewValidationError(fmt.Sprintf("invalid hour in %q", text))
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, NewValidationError(fmt.Sprintf("invalid minute in %q", text))
	}
	return hour, minute, nil
}

func dayKeyboard() model.Keyboard {
	keyboard := make(model.Keyboard, 0, len(weekdayNames)+1)
	for i, name := range weekdayNames {
		keyboard = append(keyboard, []model.Button{{Text: name, Payload: NewPayload(ActionDay, i).String()}})
	}
	return append(keyboard, []model.Button{{Text: "✍️ Ввести дату", Payload: ActionCustomDate}})
}

func timeKeyboard() model.Keyboard {
	var keyboard model.Keyboard
	var row []model.Button
	for hour := firstPickHour; hour <= lastPickHour; hour++ {
		clock := fmt.Sprintf("%02d:00", hour)
		row = append(row, model.Button{Text: clock, Payload: NewPayload(ActionTime, clock).String()})
		if len(row) == 4 {
			keyboard = append(keyboard, row)
			row = nil
		}
	}
	if len(row) > 0 {
		keyboard = append(keyboard, row)
	}
	return keyboard
}
