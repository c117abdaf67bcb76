package approval

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied indicates the actor fails the action's requirement.
	ErrPermissionDenied = errors.New("approval: permission denied")
	// ErrNotFound indicates the subject does not exist.
	ErrNotFound = errors.New("approval: subject not found")
	// ErrInvalidTransition indicates the subject's status forbids the action.
	ErrInvalidTransition = errors.New("approval: invalid transition")
	// ErrAlreadyDisabled indicates a disable on a disabled subject.
	ErrAlreadyDisabled = errors.New("approval: already disabled")
	// ErrDisabled indicates an approval action on a disabled subject.
	ErrDisabled = errors.New("approval: subject is disabled")
	// ErrMissingReason indicates a rejection without a reason.
	ErrMissingReason = errors.New("approval: rejection reason is required")
	// ErrConflict indicates a concurrent modification; re-fetch and retry.
	ErrConflict = errors.New("approval: concurrent modification")
	// ErrUnknownKind indicates an unsupported entity kind.
	ErrUnknownKind = errors.New("approval: unknown kind")
	// ErrInvalidInput indicates malformed request values.
	ErrInvalidInput = errors.New("approval: invalid input")
)

// TransitionError carries a human readable precondition message and unwraps
// to one of the sentinels above.
type TransitionError struct {
	Err     error
	Message string
}

func (e *TransitionError) Error() string {
	return e.Message
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func transitionErr(sentinel error, format string, args ...any) error {
	return &TransitionError{Err: sentinel, Message: fmt.Sprintf(format, args...)}
}
