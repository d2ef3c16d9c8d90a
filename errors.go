package eventpoll

import (
	"errors"
)

// Standard errors.
var (
	ErrAlreadyRegistered = errors.New("eventpoll: id already registered")
	ErrNotRegistered     = errors.New("eventpoll: id not registered")
	ErrInvalidArgument   = errors.New("eventpoll: invalid argument")
	ErrClosed            = errors.New("eventpoll: closed")

	// ErrWouldBlock is the "resource exhausted" signal transports return
	// from non-blocking operations. Edge-triggered consumers must keep
	// consuming until they observe it.
	ErrWouldBlock = errors.New("eventpoll: operation would block")
)

// invariantViolated panics with a formatted message. Invariant violations
// are programming errors, never runtime conditions. Callers check the
// condition inline, so the arguments are only built on failure.
func invariantViolated(format string, args ...any) {
	panic(invariantError{format: format, args: args})
}
