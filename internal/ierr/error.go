package ierr

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorCodeInvalidArgument    ErrorCode = "InvalidArgument"
	ErrorCodeNotFound           ErrorCode = "NotFound"
	ErrorCodeAlreadyExists      ErrorCode = "AlreadyExists"
	ErrorCodeFailedPrecondition ErrorCode = "FailedPrecondition"
	ErrorCodePermissionDenied   ErrorCode = "PermissionDenied"
	ErrorCodeUnauthenticated    ErrorCode = "Unauthenticated"
	ErrorCodeInternal           ErrorCode = "Internal"

	// No connectivity at all.
	ErrorCodeNetwork ErrorCode = "Network"
	// The initial handshake of a hub transport failed. Never retried.
	ErrorCodeTransportStart ErrorCode = "TransportStart"
	// A live transport dropped mid-session.
	ErrorCodeTransportDisruption ErrorCode = "TransportDisruption"
	// Non-2xx answer from the REST API.
	ErrorCodeRest ErrorCode = "Rest"
	ErrorCodeValidation ErrorCode = "Validation"
	// A create-then-confirm mutation failed and its local entry was removed.
	ErrorCodeOptimisticRollback ErrorCode = "OptimisticRollback"
)

type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Status  int             `json:"status,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`

	cause error
}

func New(code ErrorCode, cause error) Error {
	return Error{
		Code:    code,
		Message: cause.Error(),
		cause:   cause,
	}
}

// Wrap re-codes cause while keeping its user facing message.
func Wrap(code ErrorCode, cause error) Error {
	return Error{
		Code:    code,
		Message: MessageOf(cause),
		Status:  StatusOf(cause),
		cause:   cause,
	}
}

func Newf(code ErrorCode, format string, args ...any) Error {
	return New(code, fmt.Errorf(format, args...))
}

// NewRest normalizes a failed REST answer.
func NewRest(status int, message string, details json.RawMessage) Error {
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", status)
	}

	return Error{
		Code:    ErrorCodeRest,
		Message: message,
		Status:  status,
		Details: details,
		cause:   errors.New(message),
	}
}

func (e Error) Error() string {
	if e.cause == nil {
		return string(e.Code) + ": " + e.Message
	}

	return string(e.Code) + ": " + e.cause.Error()
}

func (e Error) Unwrap() error {
	return e.cause
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var e Error
		if !errors.As(err, &e) {
			return false
		}

		if e.Code == code {
			return true
		}

		err = e.cause
	}

	return false
}

// StatusOf returns the REST status carried by err, or 0.
func StatusOf(err error) int {
	var e Error
	if errors.As(err, &e) {
		return e.Status
	}

	return 0
}

// MessageOf returns the user facing message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}

	var e Error
	if errors.As(err, &e) {
		return e.Message
	}

	return err.Error()
}
