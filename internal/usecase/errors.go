package usecase

import (
	"errors"
	"fmt"

	"finance-coach/internal/domain"
)

type ErrorCode string

const (
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

// WarningPersistenceFailed is reported alongside a reply whose history row
// could not be written.
const WarningPersistenceFailed = "PERSISTENCE_FAILED"

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// storeError maps a history store failure to the usecase taxonomy.
func storeError(reason string, err error) *Error {
	if errors.Is(err, domain.ErrSessionNotFound) {
		return newError(ErrorSessionNotFound, "session_not_found", err)
	}
	return newError(ErrorInternal, reason, err)
}
