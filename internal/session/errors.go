package session

import (
	"errors"
	"fmt"

	"github.com/ashureev/warmtransfer/internal/domain"
)

var (
	ErrNoActiveSession  = errors.New("no active call session")
	ErrEmptyRoomName    = errors.New("room name is required")
	ErrInvalidRole      = errors.New("unknown participant role")
	ErrTransferNotReady = errors.New("transfer cannot advance from its current state")
	ErrStaleSession     = errors.New("call session ended before the operation finished")
	ErrEmptyUtterance   = errors.New("transcript text is required")
)

// SessionInitError reports a join that could not establish media.
type SessionInitError struct {
	Cause string
	Err   error
}

func (e *SessionInitError) Error() string {
	if e.Err == nil {
		return e.Cause
	}
	return fmt.Sprintf("%s: %v", e.Cause, e.Err)
}

func (e *SessionInitError) Unwrap() error { return e.Err }

// PermissionError is returned when a role attempts an action it is not allowed to perform.
type PermissionError struct {
	Role   domain.Role
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("role %q is not allowed to %s", e.Role, e.Action)
}

// SummarizationUnavailableError wraps a failed summarizer call. It is absorbed into a fallback summary.
type SummarizationUnavailableError struct {
	Err error
}

func (e *SummarizationUnavailableError) Error() string {
	return "summarization unavailable: " + e.Err.Error()
}

func (e *SummarizationUnavailableError) Unwrap() error { return e.Err }

// NotificationError wraps a failed leave notification. It is only logged.
type NotificationError struct {
	RoomName string
	Err      error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("leave notification for room %q failed: %v", e.RoomName, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }
