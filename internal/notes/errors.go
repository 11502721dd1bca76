package notes

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("note not found")
	ErrValidation     = errors.New("title and content are required")
	ErrUnavailable    = errors.New("database connection failed")
	ErrStore          = errors.New("store failure")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// StoreError reports a request the store accepted but failed to persist.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("error %s note", e.Op)
	}
	return fmt.Sprintf("error %s note: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// UnavailableError wraps a connectivity-class failure so callers can still
// inspect the cause.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return ErrUnavailable.Error()
	}
	return fmt.Sprintf("%s: %v", ErrUnavailable.Error(), e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsTerminal reports whether err is a data-level failure that retrying the
// same request can never fix.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation)
}
