package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeStorage            = "STORAGE_ERROR"
	CodeSchedulingConflict = "SCHEDULING_CONFLICT"
	CodeNotSupported       = "ACTION_NOT_SUPPORTED"
)

// Error is the error type returned by the reminder services.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

var (
	ErrValidation         = &Error{Code: CodeValidation, Message: "invalid input"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "reminder not found"}
	ErrStorage            = &Error{Code: CodeStorage, Message: "storage unavailable"}
	ErrSchedulingConflict = &Error{Code: CodeSchedulingConflict, Message: "duplicate recurring instance"}
	// ErrActionNotSupported is a caller error: the action does not apply to this reminder.
	ErrActionNotSupported = &Error{Code: CodeNotSupported, Message: "action not supported"}
)

func NewValidationError(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

func NewNotFound(id uint) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("reminder %d not found", id)}
}

func NewStorageError(op string, err error) *Error {
	return &Error{Code: CodeStorage, Message: op, Err: err}
}

func NewSchedulingConflict(taskKey, date string, err error) *Error {
	return &Error{Code: CodeSchedulingConflict, Message: fmt.Sprintf("recurring %s already exists for %s", taskKey, date), Err: err}
}

// storeError maps a repository error onto the service taxonomy.
func storeError(op string, id uint, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotFound(id)
	}
	return NewStorageError(op, err)
}
