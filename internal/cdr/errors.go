package cdr

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned by public API calls when a channel name has no
// associated chain. The event router never treats an unknown channel as
// fatal: it drops the event. Only channel updates log a warning when
// dropped; the other event kinds are dropped without a log line.
var ErrNotFound = errors.New("cdr: channel not found")

// ErrReadOnly is returned by SetVar when the caller tries to overwrite one
// of the reserved standard properties (clid, src, dst, ...).
var ErrReadOnly = errors.New("cdr: property is read-only")

// ErrQueueFull is reported by the batch dispatcher when the bounded
// queue cannot accept another batch. The records are dropped with a
// warning and the engine keeps running.
var ErrQueueFull = errors.New("cdr: batch queue full")

// ErrFinalized is returned by Fork when the chain's last record is already
// finalized.
var ErrFinalized = errors.New("cdr: last record already finalized")

// NotFoundError wraps ErrNotFound with the channel name that triggered it.
type NotFoundError struct {
	Channel string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cdr: no chain for channel %q", e.Channel)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// newNotFound builds a NotFoundError for the given channel name.
func newNotFound(channel string) error {
	return &NotFoundError{Channel: channel}
}

// invariantViolation is raised when a state handler is asked to process
// an event its state never permits (e.g. on_party_b dispatched to Single).
// In debug mode this panics so the bug surfaces immediately in
// development; otherwise it logs a warning and the router treats the
// event as unhandled.
func invariantViolation(logger *slog.Logger, debug bool, state StateTag, event string) bool {
	msg := fmt.Sprintf("invariant violation: state %s does not accept %s", state, event)
	if debug {
		panic(msg)
	}
	logger.Warn("cdr: invariant violation", "state", state.String(), "event", event)
	return false
}
