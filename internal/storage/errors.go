package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage matches every durability failure reported by a store
	ErrStorage = errors.New("storage failure")

	ErrExhausted    = errors.New("completion limit reached")
	ErrNotCompleted = errors.New("challenge not completed")
)

// Error wraps a failed storage operation. It matches ErrStorage.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrStorage }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
