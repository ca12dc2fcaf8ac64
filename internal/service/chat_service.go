package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"household-reminders/internal/logger"
	"household-reminders/internal/model"
)

// ChatScheduler is the part of the schedule engine the chat commands drive.
type ChatScheduler interface {
	ArmChat(chatID int64) error
	DisarmChat(chatID int64)
	NextOccurrence(tmpl model.TaskTemplate, after time.Time) (time.Time, error)
}

const (
	textStorageFailure = "😔 Не получилось сохранить изменения. Попробуй ещё раз чуть позже."
	textNotUnderstood  = "Я пока не понял сообщение. Набери /add_notify, чтобы добавить напоминание, или /help для списка команд."
	textDialogOver     = "Диалог уже завершён. Начни заново с /add_notify."
)

// ChatService routes chat events to the reminder services and answers through the Messenger.
type ChatService struct {
	chats       ChatStore
	store       ReminderStore
	catalog     *Catalog
	scheduler   ChatScheduler
	reminders   *ReminderService
	transitions *TransitionService
	dialogs     *DialogService
	messenger   Messenger
	now         func() time.Time
}

func NewChatService(
	chats ChatStore,
	store ReminderStore,
	catalog *Catalog,
	scheduler ChatScheduler,
	reminders *ReminderService,
	transitions *TransitionService,
	dialogs *DialogService,
	messenger Messenger,
) *ChatService {
	return &ChatService{
		chats:       chats,
		store:       store,
		catalog:     catalog,
		scheduler:   scheduler,
		reminders:   reminders,
		transitions: transitions,
		dialogs:     dialogs,
		messenger:   messenger,
		now:         time.Now,
	}
}

// HandleCommand answers a slash command.
func (s *ChatService) HandleCommand(ctx context.Context, cmd model.CommandInvoked) error {
	logger.Info("command", zap.Int64("chat_id", cmd.ChatID), zap.String("command", cmd.Command), zap.String("args", cmd.Args))

	switch cmd.Command {
	case "start":
		return s.handleStart(ctx, cmd)
	case "stop":
		return s.handleStop(ctx, cmd.ChatID)
	case "help":
		return s.send(ctx, cmd.ChatID, helpText(), nil)
	case "list":
		reminders, err := s.reminders.ListForChat(ctx, cmd.ChatID)
		if err != nil {
			return s.storageFailure(ctx, cmd.ChatID, err)
		}
		text, keyboard := s.reminders.FormatList(reminders)
		return s.send(ctx, cmd.ChatID, text, keyboard)
	case "list_daily":
		reminders, err := s.reminders.ListToday(ctx)
		if err != nil {
			return s.storageFailure(ctx, cmd.ChatID, err)
		}
		text, keyboard := s.reminders.FormatToday(reminders)
		return s.send(ctx, cmd.ChatID, text, keyboard)
	case "chores":
		return s.handleChores(ctx, cmd.ChatID)
	case "add_notify":
		reply := s.dialogs.Start(cmd.ChatID)
		return s.send(ctx, cmd.ChatID, reply.Text, reply.Keyboard)
	case "cancel":
		if s.dialogs.Cancel(cmd.ChatID) {
			return s.send(ctx, cmd.ChatID, "⏪ Добавление напоминания отменено.", nil)
		}
		return s.send(ctx, cmd.ChatID, "Отменять нечего.", nil)
	case "debug":
		return s.handleDebug(ctx, cmd.ChatID)
	default:
		return s.send(ctx, cmd.ChatID, "Команда не поддерживается. Загляни в /help.", nil)
	}
}

func (s *ChatService) handleStart(ctx context.Context, cmd model.CommandInvoked) error {
	_, created, err := s.chats.Register(ctx, cmd.ChatID, cmd.Title)
	if err != nil {
		return s.storageFailure(ctx, cmd.ChatID, err)
	}
	assigned, err := s.store.AssignUnassigned(ctx, cmd.ChatID)
	if err != nil {
		return s.storageFailure(ctx, cmd.ChatID, err)
	}
	if err := s.scheduler.ArmChat(cmd.ChatID); err != nil {
		return fmt.Errorf("arm chat %d: %w", cmd.ChatID, err)
	}
	logger.Info("chat registered",
		zap.Int64("chat_id", cmd.ChatID),
		zap.Bool("created", created),
		zap.Int64("assigned", assigned),
	)

	greeting := "👋 Привет! <b>Я бот-напоминалка для домашних дел.</b>"
	if !created {
		greeting = "👋 Я уже на связи и продолжаю напоминать."
	}
	return s.send(ctx, cmd.ChatID, greeting+"\n\n"+commandList(), nil)
}

func (s *ChatService) handleStop(ctx context.Context, chatID int64) error {
	removed, err := s.chats.Deregister(ctx, chatID)
	if err != nil {
		return s.storageFailure(ctx, chatID, err)
	}
	s.scheduler.DisarmChat(chatID)
	s.dialogs.Cancel(chatID)
	if !removed {
		return s.send(ctx, chatID, "Этот чат и так не получает напоминания о домашних делах.", nil)
	}
	logger.Info("chat deregistered", zap.Int64("chat_id", chatID))
	return s.send(ctx, chatID, "🔕 Больше не напоминаю о домашних делах в этом чате. Вернуть: /start", nil)
}

func (s *ChatService) handleChores(ctx context.Context, chatID int64) error {
	now := s.now()
	lines := make([]ChoreLine, 0, len(s.catalog.All()))
	for _, tmpl := range s.catalog.All() {
		next, err := s.scheduler.NextOccurrence(tmpl, now)
		if err != nil {
			logger.Warn("next occurrence", zap.String("task_key", tmpl.Key), zap.Error(err))
		}
		lines = append(lines, ChoreLine{Template: tmpl, Next: next})
	}
	return s.send(ctx, chatID, s.reminders.FormatChores(lines), nil)
}

func (s *ChatService) handleDebug(ctx context.Context, chatID int64) error {
	registered, err := s.chats.IsRegistered(ctx, chatID)
	if err != nil {
		return s.storageFailure(ctx, chatID, err)
	}
	text := fmt.Sprintf("DEBUG\nchat_id=%d\nregistered=%s\ndialog: %s",
		chatID, strconv.FormatBool(registered), html.EscapeString(s.dialogs.Describe(chatID)))
	return s.send(ctx, chatID, "<code>"+text+"</code>", nil)
}

// HandleButton applies a button press. It returns the short notice shown on the button.
func (s *ChatService) HandleButton(ctx context.Context, press model.ButtonPressed) (string, error) {
	payload, err := ParsePayload(press.Payload)
	if err != nil {
		logger.Warn("bad button payload", zap.Int64("chat_id", press.ChatID), zap.String("payload", press.Payload), zap.Error(err))
		return "Кнопка устарела", nil
	}

	switch payload.Action {
	case ActionDoneRain, ActionDoneUser, ActionSnooze, ActionUndo, ActionView:
		id, err := payload.ReminderID()
		if err != nil {
			return "Кнопка устарела", nil
		}
		return s.handleReminderButton(ctx, press, payload.Action, id)
	case ActionDay:
		weekday, err := strconv.Atoi(payload.Arg)
		if err != nil {
			return "Кнопка устарела", nil
		}
		reply, err := s.dialogs.PickDay(press.ChatID, weekday)
		return s.dialogStep(ctx, press, reply, err)
	case ActionCustomDate:
		reply, err := s.dialogs.AskCustomDate(press.ChatID)
		return s.dialogStep(ctx, press, reply, err)
	case ActionTime:
		reply, err := s.dialogs.PickTime(ctx, press.ChatID, payload.Arg)
		return s.dialogStep(ctx, press, reply, err)
	default:
		return "Кнопка пока ничего не делает", nil
	}
}

func (s *ChatService) handleReminderButton(ctx context.Context, press model.ButtonPressed, action string, id uint) (string, error) {
	var (
		result TransitionResult
		err    error
	)
	switch action {
	case ActionDoneRain:
		result, err = s.transitions.MarkDone(ctx, press.ChatID, id, model.ActorRain)
	case ActionDoneUser:
		result, err = s.transitions.MarkDone(ctx, press.ChatID, id, model.ActorUser)
	case ActionSnooze:
		result, err = s.transitions.Snooze(ctx, press.ChatID, id)
	case ActionUndo:
		result, err = s.transitions.Undo(ctx, press.ChatID, id)
	case ActionView:
		reminder, getErr := s.reminders.Get(ctx, press.ChatID, id)
		if getErr != nil {
			return s.transitionFailure(ctx, press, getErr)
		}
		return "", s.send(ctx, press.ChatID, s.reminders.FormatDetails(*reminder), s.reminders.KeyboardFor(*reminder))
	}
	if err != nil {
		return s.transitionFailure(ctx, press, err)
	}

	r := *result.Reminder
	switch action {
	case ActionDoneRain, ActionDoneUser:
		if err := s.edit(ctx, press.MessageRef, s.reminders.FormatDone(r), UndoKeyboard(r)); err != nil {
			return "", err
		}
		if !result.Changed {
			return "Уже выполнено", nil
		}
		if action == ActionDoneRain {
			return "🌧 Отмечено: полил дождь", nil
		}
		return "✅ Отмечено", nil
	case ActionSnooze:
		if !result.Changed {
			return "Уже выполнено", s.edit(ctx, press.MessageRef, s.reminders.FormatDone(r), UndoKeyboard(r))
		}
		return "⏰ Напомню позже", s.edit(ctx, press.MessageRef, s.reminders.FormatSnoozed(r), nil)
	default:
		if !result.Changed {
			return "Задача и так не выполнена", s.edit(ctx, press.MessageRef, s.reminders.FormatDue(r), s.reminders.DueKeyboard(r))
		}
		return "↩️ Отменено", s.edit(ctx, press.MessageRef, s.reminders.FormatDue(r), s.reminders.DueKeyboard(r))
	}
}

// transitionFailure maps a transition error to what the chat sees.
func (s *ChatService) transitionFailure(ctx context.Context, press model.ButtonPressed, err error) (string, error) {
	switch {
	case errors.Is(err, ErrNotFound):
		return "Напоминание уже неактуально", s.edit(ctx, press.MessageRef, FormatExpired(), nil)
	case errors.Is(err, ErrActionNotSupported):
		return "Для этой задачи так нельзя", nil
	case errors.Is(err, ErrValidation):
		return "Кнопка устарела", nil
	default:
		return "Ошибка", s.storageFailure(ctx, press.ChatID, err)
	}
}

func (s *ChatService) dialogStep(ctx context.Context, press model.ButtonPressed, reply Reply, err error) (string, error) {
	switch {
	case err == nil:
		return "", s.edit(ctx, press.MessageRef, reply.Text, reply.Keyboard)
	case errors.Is(err, ErrNoDialog):
		return textDialogOver, nil
	case errors.Is(err, ErrValidation):
		return "", s.send(ctx, press.ChatID, reply.Text, reply.Keyboard)
	default:
		return "Ошибка", s.storageFailure(ctx, press.ChatID, err)
	}
}

// HandleText feeds plain text into the chat's dialog.
func (s *ChatService) HandleText(ctx context.Context, msg model.TextReceived) error {
	if !s.dialogs.Active(msg.ChatID) {
		return s.send(ctx, msg.ChatID, textNotUnderstood, nil)
	}
	reply, err := s.dialogs.HandleText(ctx, msg.ChatID, msg.Text)
	switch {
	case err == nil, errors.Is(err, ErrValidation):
		return s.send(ctx, msg.ChatID, reply.Text, reply.Keyboard)
	case errors.Is(err, ErrNoDialog):
		return s.send(ctx, msg.ChatID, textNotUnderstood, nil)
	default:
		return s.storageFailure(ctx, msg.ChatID, err)
	}
}

// storageFailure apologizes to the chat and returns err for the caller to log.
func (s *ChatService) storageFailure(ctx context.Context, chatID int64, err error) error {
	if sendErr := s.send(ctx, chatID, textStorageFailure, nil); sendErr != nil {
		return errors.Join(err, sendErr)
	}
	return err
}

func (s *ChatService) send(ctx context.Context, chatID int64, text string, keyboard model.Keyboard) error {
	return s.messenger.SendMessage(ctx, chatID, text, keyboard)
}

func (s *ChatService) edit(ctx context.Context, ref model.MessageRef, text string, keyboard model.Keyboard) error {
	return s.messenger.EditMessage(ctx, ref, text, keyboard)
}

func commandList() string {
	return strings.Join([]string{
		"Команды:",
		"• /add_notify — добавить разовое напоминание",
		"• /list — мои напоминания",
		"• /list_daily — домашние дела на сегодня",
		"• /chores — расписание регулярных дел",
		"• /cancel — отменить ввод",
		"• /stop — не присылать напоминания в этот чат",
		"• /help — подсказки",
	}, "\n")
}

func helpText() string {
	return "ℹ️ <b>Подсказки</b>\n" +
		"Регулярные дела приходят сами, в своё время. Под каждым напоминанием есть кнопки:\n" +
		"• ✅ Сделано — отметить выполненным\n" +
		"• 🌧 Полил дождь — для полива, если дождь сделал всё сам\n" +
		"• ⏰ Напомнить через 30 мин — отложить\n\n" +
		commandList()
}
