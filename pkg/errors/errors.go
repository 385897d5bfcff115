package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes
const (
	CodeBotError     = "BOT_ERROR"
	CodePlatform     = "PLATFORM_ERROR"
	CodeNotConnected = "NOT_CONNECTED"
	CodeValidation   = "VALIDATION_ERROR"
	CodeStorage      = "STORAGE_ERROR"
	CodeAction       = "ACTION_ERROR"
)

type BotError struct {
	Message    string
	Code       string
	StatusCode int
	Context    map[string]any
	Cause      error
}

func (e *BotError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BotError) Unwrap() error {
	return e.Cause
}

func NewBotError(message, code string, statusCode int, context map[string]any) *BotError {
	return &BotError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Context:    context,
	}
}

func (e *BotError) WithCause(cause error) *BotError {
	e.Cause = cause
	return e
}

// PlatformError marca fallos de conectividad o de la API de una plataforma.
type PlatformError struct {
	*BotError
	Platform  string
	Transient bool
}

func NewPlatformError(message, platform string, statusCode int, transient bool, cause error) *PlatformError {
	return &PlatformError{
		BotError: &BotError{
			Message:    message,
			Code:       CodePlatform,
			StatusCode: statusCode,
			Context: map[string]any{
				"platform":  platform,
				"transient": transient,
			},
			Cause: cause,
		},
		Platform:  platform,
		Transient: transient,
	}
}

// NotConnectedError indica que la plataforma nunca se conectó; la operación se omite.
type NotConnectedError struct {
	*BotError
	Platform string
}

func NewNotConnectedError(platform string) *NotConnectedError {
	return &NotConnectedError{
		BotError: &BotError{
			Message:    fmt.Sprintf("platform %s is not connected", platform),
			Code:       CodeNotConnected,
			StatusCode: 503,
			Context: map[string]any{
				"platform": platform,
			},
		},
		Platform: platform,
	}
}

type ValidationError struct {
	*BotError
	Field string
	Value any
}

func NewValidationError(message, field string, value any) *ValidationError {
	return &ValidationError{
		BotError: &BotError{
			Message:    message,
			Code:       CodeValidation,
			StatusCode: 400,
			Context: map[string]any{
				"field": field,
				"value": value,
			},
		},
		Field: field,
		Value: value,
	}
}

type StorageError struct {
	*BotError
	Operation string
}

func NewStorageError(message, operation string, cause error) *StorageError {
	return &StorageError{
		BotError: &BotError{
			Message:    message,
			Code:       CodeStorage,
			StatusCode: 500,
			Context: map[string]any{
				"operation": operation,
			},
			Cause: cause,
		},
		Operation: operation,
	}
}

type ActionError struct {
	*BotError
	Kind string
}

func NewActionError(message, kind string, cause error) *ActionError {
	return &ActionError{
		BotError: &BotError{
			Message:    message,
			Code:       CodeAction,
			StatusCode: 500,
			Context: map[string]any{
				"kind": kind,
			},
			Cause: cause,
		},
		Kind: kind,
	}
}

func IsNotConnected(err error) bool {
	var target *NotConnectedError
	return stderrors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *PlatformError
	if stderrors.As(err, &target) {
		return target.Transient
	}
	return false
}
