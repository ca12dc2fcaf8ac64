package model

import "time"

// RegisteredChat is a conversation that receives recurring nudges.
type RegisteredChat struct {
	ID        uint  `gorm:"primaryKey"`
	ChatID    int64 `gorm:"uniqueIndex"`
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
