package model

// MessageRef points at a message previously sent to a chat.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is an inline button with a callback payload.
type Button struct {
	Text    string
	Payload string
}

// Keyboard is a set of button rows. A nil Keyboard removes buttons.
type Keyboard [][]Button

// CommandInvoked is a slash command sent to the bot.
type CommandInvoked struct {
	ChatID  int64
	Command string
	Args    string
	Title   string
}

// ButtonPressed is an inline button press.
type ButtonPressed struct {
	ChatID     int64
	MessageRef MessageRef
	Payload    string
}

// TextReceived is a plain text message.
type TextReceived struct {
	ChatID int64
	Text   string
}

// DueEvent is emitted when a fire time elapses.
type DueEvent struct {
	ChatID     int64
	ReminderID uint
	TaskKey    string
}
