package entities

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorCodeNotFound              ErrorCode = "RESOURCE_DOES_NOT_EXIST"
	ErrorCodeAlreadyExists         ErrorCode = "RESOURCE_ALREADY_EXISTS"
	ErrorCodeInvalidParameterValue ErrorCode = "INVALID_PARAMETER_VALUE"
	ErrorCodeInvalidState          ErrorCode = "INVALID_STATE"
	ErrorCodeInternal              ErrorCode = "INTERNAL_ERROR"
	// ErrorCodeMissingConfig marks an entity directory whose metadata file is
	// absent or unreadably empty. Listing paths treat it as skippable.
	ErrorCodeMissingConfig ErrorCode = "MISSING_CONFIG"
)

type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func WrapError(cause error, code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func codeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

func IsNotFound(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrorCodeNotFound
}

func IsAlreadyExists(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrorCodeAlreadyExists
}

func IsInvalidParameterValue(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrorCodeInvalidParameterValue
}

func IsInvalidState(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrorCodeInvalidState
}

func IsMissingConfig(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrorCodeMissingConfig
}
