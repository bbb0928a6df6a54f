package outboxd

import (
	"errors"
	"fmt"
)

// Lifecycle errors, carried from the teacher's lc_base.go unchanged in
// spirit: every background loop here has a start-once/stop-once
// discipline.
var (
	// ErrDoubleStarted is returned when Start is called on a loop that
	// has already been started.
	ErrDoubleStarted = errors.New("outboxd: double start")

	// ErrDoubleStopped is returned when Stop is called on a loop that is
	// not currently running.
	ErrDoubleStopped = errors.New("outboxd: double stop")

	// ErrStopTimeout is returned when a loop fails to shut down within
	// the timeout passed to Stop. The loop may still be terminating in
	// the background.
	ErrStopTimeout = errors.New("outboxd: stop timeout")
)

// ValidationError signals invalid input to Store.Enqueue or JoinStore
// operations (empty topic, oversized field, bad identifier). It is
// surfaced to the direct caller and never retried by the core.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("outboxd: validation: %s: %s", e.Field, e.Reason)
}

// NotFound signals that a requested id does not exist. Direct callers
// (Get) see it; batch operations (Ack/Abandon/Fail on an unknown id)
// absorb it silently rather than returning it.
type NotFound struct {
	Id string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("outboxd: not found: %s", e.Id)
}

// TransientBackendError wraps a database error that the caller should
// treat as retryable infrastructure noise (connectivity, deadlock,
// serialization failure) rather than a handler or validation failure.
// The polling loop logs it and continues; the claimed batch, if any,
// is recovered later by the Reaper.
type TransientBackendError struct {
	Op  string
	Err error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("outboxd: transient backend error during %s: %v", e.Op, e.Err)
}

func (e *TransientBackendError) Unwrap() error {
	return e.Err
}

// HandlerFailure wraps whatever error a Handler.Handle call returned,
// together with the item's topic. The Dispatcher does not construct or
// inspect it: it records a handler's error text as returned.
type HandlerFailure struct {
	Topic string
	Err   error
}

func (e *HandlerFailure) Error() string {
	return fmt.Sprintf("outboxd: handler failure for topic %q: %v", e.Topic, e.Err)
}

func (e *HandlerFailure) Unwrap() error {
	return e.Err
}

// ConfigurationError signals a problem detected at construction time
// (duplicate topic handler registration, missing connection) rather
// than at runtime. It is fatal at startup.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("outboxd: configuration error: %s", e.Reason)
}

// Note on OwnershipMismatch: spec.md §7 is explicit that a stale
// worker's Ack/Abandon/Fail racing the Reaper must not raise an error
// at all — it is a silent no-op enforced by the owner-token match in
// the WHERE clause (see sqlstore.Store). There is deliberately no
// OwnershipMismatch error type; introducing one would give a stale
// worker a way to fail loudly for something that is expected,
// harmless, at-least-once-delivery behavior.
