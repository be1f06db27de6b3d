package session

import (
	"errors"
	"fmt"
)

// Lifecycle errors. Rejected calls change nothing.
var (
	// ErrNotRunning indicates the surface has not been acquired.
	ErrNotRunning = errors.New("not running")

	// ErrAlreadyRunning indicates the surface is already acquired.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotPolling indicates no poller is active.
	ErrNotPolling = errors.New("not polling")

	// ErrAlreadyPolling indicates a poller is already active.
	ErrAlreadyPolling = errors.New("already polling")

	// ErrInitFailed indicates the surface refused acquisition.
	ErrInitFailed = errors.New("init failed")

	// ErrNilConsumer indicates StartPolling was given no consumer.
	ErrNilConsumer = errors.New("nil consumer")

	// ErrConsumerFull indicates a consumer could not accept an event without
	// blocking.
	ErrConsumerFull = errors.New("consumer full")

	// ErrConsumerClosed indicates a consumer no longer accepts events.
	ErrConsumerClosed = errors.New("consumer closed")
)

// OperationError records which controller operation failed.
type OperationError struct {
	Op  string // Operation name (e.g., "init", "start_polling")
	Err error  // Underlying error
}

func newOpError(op string, err error) *OperationError {
	return &OperationError{Op: op, Err: err}
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PollError reports the surface failure that ended a polling session.
type PollError struct {
	Token Token
	Err   error
}

func (e *PollError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("polling session %s: %v", e.Token, e.Err)
}

func (e *PollError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
