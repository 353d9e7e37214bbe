package core

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownAgent          = errors.New("unknown agent")
	ErrDuplicateAgent        = errors.New("agent already registered")
	ErrSelfTransfer          = errors.New("cannot transfer to the active agent")
	ErrNoActiveAgent         = errors.New("no active agent")
	ErrUnknownTool           = errors.New("unknown tool")
	ErrInvalidTurn           = errors.New("invalid turn")
	ErrTurnInProgress        = errors.New("a turn is already in progress")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrMemoryStoreClosed     = errors.New("memory store closed")
	ErrToolRoundLimitReached = errors.New("tool round limit reached")
)

// UsageError reports a caller mistake. The operation had no side effects.
type UsageError struct {
	Op  string
	Err error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UsageError) Unwrap() error { return e.Err }

// NewUsageError wraps err with the failing operation name.
func NewUsageError(op string, err error) *UsageError {
	return &UsageError{Op: op, Err: err}
}

// StreamingError reports a failure while streaming from an agent.
type StreamingError struct {
	Agent string
	Err   error
}

func (e *StreamingError) Error() string {
	return fmt.Sprintf("streaming from %s: %v", e.Agent, e.Err)
}

func (e *StreamingError) Unwrap() error { return e.Err }

// IsUsageError reports whether err is (or wraps) a *UsageError.
func IsUsageError(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}
