package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"household-reminders/internal/logger"
	"household-reminders/internal/model"
)

// Handler consumes the chat events decoded from Telegram updates. *service.ChatService implements it.
type Handler interface {
	HandleCommand(ctx context.Context, cmd model.CommandInvoked) error
	HandleButton(ctx context.Context, press model.ButtonPressed) (string, error)
	HandleText(ctx context.Context, msg model.TextReceived) error
}

const updateTimeout = 30 * time.Second

// Bot polls Telegram updates and hands them to the chat handler.
type Bot struct {
	client  *Client
	handler Handler
}

func New(client *Client, handler Handler) *Bot {
	return &Bot{client: client, handler: handler}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.client.api.GetUpdatesChan(updateConfig)

	logger.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.client.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.handleUpdate(ctx, update)
	}

	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	switch event := eventFromUpdate(update).(type) {
	case model.ButtonPressed:
		notice, err := b.handler.HandleButton(ctx, event)
		if err != nil {
			logger.Error("handle button", err, zap.Int64("chat_id", event.ChatID), zap.String("payload", event.Payload))
		}
		if ackErr := b.client.answerCallback(update.CallbackQuery.ID, notice); ackErr != nil {
			logger.Error("answer callback", ackErr, zap.Int64("chat_id", event.ChatID))
		}
	case model.CommandInvoked:
		if err := b.handler.HandleCommand(ctx, event); err != nil {
			logger.Error("handle command", err, zap.Int64("chat_id", event.ChatID), zap.String("command", event.Command))
		}
	case model.TextReceived:
		if err := b.handler.HandleText(ctx, event); err != nil {
			logger.Error("handle message", err, zap.Int64("chat_id", event.ChatID))
		}
	}
}

// eventFromUpdate decodes an update into a chat event, or nil for updates the bot ignores.
func eventFromUpdate(update tgbotapi.Update) interface{} {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message == nil || cb.Message.Chat == nil {
			return nil
		}
		return model.ButtonPressed{
			ChatID:     cb.Message.Chat.ID,
			MessageRef: model.MessageRef{ChatID: cb.Message.Chat.ID, MessageID: cb.Message.MessageID},
			Payload:    cb.Data,
		}
	case update.Message != nil:
		msg := update.Message
		if msg.Chat == nil {
			return nil
		}
		if msg.IsCommand() {
			return model.CommandInvoked{
				ChatID:  msg.Chat.ID,
				Command: strings.ToLower(msg.Command()),
				Args:    strings.TrimSpace(msg.CommandArguments()),
				Title:   chatTitle(msg),
			}
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil
		}
		return model.TextReceived{ChatID: msg.Chat.ID, Text: msg.Text}
	}
	return nil
}

func chatTitle(msg *tgbotapi.Message) string {
	if title := strings.TrimSpace(msg.Chat.Title); title != "" {
		return title
	}
	if msg.From != nil {
		name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if name != "" {
			return name
		}
		return msg.From.UserName
	}
	return ""
}
