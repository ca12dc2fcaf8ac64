package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"household-reminders/internal/model"
)

// ChatRepository keeps the set of chats that receive recurring nudges.
type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// Register finds or creates the chat and refreshes its title. The bool reports a new registration.
func (r *ChatRepository) Register(ctx context.Context, chatID int64, title string) (*model.RegisteredChat, bool, error) {
	var chat model.RegisteredChat
	created := false
	err := withRetry(ctx, "register chat", func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := tx.Where("chat_id = ?", chatID).First(&chat).Error
			switch {
			case err == nil:
				created = false
				return tx.Model(&chat).Update("title", title).Error
			case errors.Is(err, gorm.ErrRecordNotFound):
				chat = model.RegisteredChat{ChatID: chatID, Title: title}
				created = true
				return tx.Create(&chat).Error
			default:
				return err
			}
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("register chat %d: %w", chatID, err)
	}
	return &chat, created, nil
}

// Deregister removes the chat. The bool reports whether it was registered.
func (r *ChatRepository) Deregister(ctx context.Context, chatID int64) (bool, error) {
	var affected int64
	err := withRetry(ctx, "deregister chat", func() error {
		res := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&model.RegisteredChat{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("deregister chat %d: %w", chatID, err)
	}
	return affected > 0, nil
}

func (r *ChatRepository) IsRegistered(ctx context.Context, chatID int64) (bool, error) {
	var count int64
	err := withRetry(ctx, "chat lookup", func() error {
		return r.db.WithContext(ctx).Model(&model.RegisteredChat{}).Where("chat_id = ?", chatID).Count(&count).Error
	})
	if err != nil {
		return false, fmt.Errorf("find chat %d: %w", chatID, err)
	}
	return count > 0, nil
}

// Primary returns the earliest registered chat, or nil when there is none.
func (r *ChatRepository) Primary(ctx context.Context) (*int64, error) {
	var chat model.RegisteredChat
	err := withRetry(ctx, "primary chat", func() error {
		return r.db.WithContext(ctx).Order("id ASC").First(&chat).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("primary chat: %w", err)
	}
	return &chat.ChatID, nil
}

func (r *ChatRepository) ListAll(ctx context.Context) ([]model.RegisteredChat, error) {
	var chats []model.RegisteredChat
	err := withRetry(ctx, "list chats", func() error {
		return r.db.WithContext(ctx).Order("id ASC").Find(&chats).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}
