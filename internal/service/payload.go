package service

import (
	"fmt"
	"strconv"
	"strings"
)

// Button actions.
const (
	ActionDoneRain   = "done_rain"
	ActionDoneUser   = "done_user"
	ActionSnooze     = "remind_30"
	ActionUndo       = "undo"
	ActionView       = "view"
	ActionDay        = "day"
	ActionTime       = "time"
	ActionCustomDate = "custom_date"
)

const payloadSeparator = "|"

// Payload is a decoded button payload "<action>|<argument>".
type Payload struct {
	Action string
	Arg    string
}

func NewPayload(action string, arg interface{}) Payload {
	return Payload{Action: action, Arg: fmt.Sprint(arg)}
}

func (p Payload) String() string {
	if p.Arg == "" {
		return p.Action
	}
	return p.Action + payloadSeparator + p.Arg
}

// ParsePayload splits a raw payload. Only the first separator counts, so "time|09:30" keeps its colon.
func ParsePayload(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Payload{}, NewValidationError("empty button payload")
	}
	action, arg, _ := strings.Cut(raw, payloadSeparator)
	switch action {
	case ActionDoneRain, ActionDoneUser, ActionSnooze, ActionUndo, ActionView, ActionDay, ActionTime:
		if arg == "" {
			return Payload{}, NewValidationError(fmt.Sprintf("button %q needs an argument", action))
		}
	case ActionCustomDate:
	default:
		return Payload{}, NewValidationError(fmt.Sprintf("unknown button action %q", action))
	}
	return Payload{Action: action, Arg: arg}, nil
}

// ReminderID reads the argument as a record id.
func (p Payload) ReminderID() (uint, error) {
	id, err := strconv.ParseUint(p.Arg, 10, 64)
	if err != nil || id == 0 {
		return 0, NewValidationError(fmt.Sprintf("invalid reminder id %q", p.Arg))
	}
	return uint(id), nil
}
