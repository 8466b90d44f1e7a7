package apperr

import (
	"errors"
	"fmt"
)

// Kind категория ошибки
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindConflict     Kind = "conflict"
)

// Code конкретное нарушенное ограничение
type Code string

const (
	CodeInvalidInput               Code = "InvalidInput"
	CodeInvalidTimeWindow          Code = "InvalidTimeWindow"
	CodeOutsideBookingWindow       Code = "OutsideBookingWindow"
	CodeSlotMismatch               Code = "SlotMismatch"
	CodeSlotExcluded               Code = "SlotExcluded"
	CodeNotFound                   Code = "NotFound"
	CodeUnauthorized               Code = "Unauthorized"
	CodeOverlappingTemplate        Code = "OverlappingTemplate"
	CodeCapacityExceeded           Code = "CapacityExceeded"
	CodeCapacityBelowBookings      Code = "CapacityBelowBookings"
	CodeTemplateInUse              Code = "TemplateInUse"
	CodeCancellationWindowViolated Code = "CancellationWindowViolated"
	CodeRescheduleLimitExceeded    Code = "RescheduleLimitExceeded"
	CodeInvalidTransition          Code = "InvalidTransition"
)

// Error ошибка бизнес-логики с указанием нарушенного ограничения
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с сентинелами
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Retryable можно ли повторить операцию с другим слотом
func (e *Error) Retryable() bool {
	return e.Code == CodeCapacityExceeded
}

// Сентинелы для errors.Is
var (
	ErrInvalidInput               = &Error{Kind: KindValidation, Code: CodeInvalidInput}
	ErrInvalidTimeWindow          = &Error{Kind: KindValidation, Code: CodeInvalidTimeWindow}
	ErrOutsideBookingWindow       = &Error{Kind: KindValidation, Code: CodeOutsideBookingWindow}
	ErrSlotMismatch               = &Error{Kind: KindValidation, Code: CodeSlotMismatch}
	ErrSlotExcluded               = &Error{Kind: KindValidation, Code: CodeSlotExcluded}
	ErrNotFound                   = &Error{Kind: KindNotFound, Code: CodeNotFound}
	ErrUnauthorized               = &Error{Kind: KindUnauthorized, Code: CodeUnauthorized}
	ErrOverlappingTemplate        = &Error{Kind: KindConflict, Code: CodeOverlappingTemplate}
	ErrCapacityExceeded           = &Error{Kind: KindConflict, Code: CodeCapacityExceeded}
	ErrCapacityBelowBookings      = &Error{Kind: KindConflict, Code: CodeCapacityBelowBookings}
	ErrTemplateInUse              = &Error{Kind: KindConflict, Code: CodeTemplateInUse}
	ErrCancellationWindowViolated = &Error{Kind: KindConflict, Code: CodeCancellationWindowViolated}
	ErrRescheduleLimitExceeded    = &Error{Kind: KindConflict, Code: CodeRescheduleLimitExceeded}
	ErrInvalidTransition          = &Error{Kind: KindConflict, Code: CodeInvalidTransition}
)

// New создаёт ошибку по шаблону сентинела с сообщением
func New(sentinel *Error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap как New, но сохраняет причину
func Wrap(sentinel *Error, err error, format string, args ...interface{}) *Error {
	e := New(sentinel, format, args...)
	e.Err = err
	return e
}

// NotFound ошибка "не найдено" для сущности
func NotFound(entity string, id int64) *Error {
	return New(ErrNotFound, "%s %d not found", entity, id)
}

// Unauthorized отказ политики доступа
func Unauthorized(action string) *Error {
	return New(ErrUnauthorized, "not allowed to %s", action)
}

// KindOf возвращает категорию ошибки, пустую для инфраструктурных ошибок
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf возвращает код ошибки
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable можно ли повторить операцию с другими параметрами
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}
