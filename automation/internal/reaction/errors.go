package reaction

import (
	"errors"
	"fmt"
)

// ErrSkipped marks a reaction that could not run for a benign reason (the
// area owner has not linked the target provider). Logged as "skipped".
var ErrSkipped = errors.New("reaction: skipped")

// ErrUnknownReaction is returned for a (service, key) pair with no Kind.
type ErrUnknownReaction struct {
	Ref Ref
}

func (e *ErrUnknownReaction) Error() string {
	return fmt.Sprintf("reaction: unknown reaction %s", e.Ref)
}

// ErrMissingConfig is returned when a required config field is absent
// after template rendering and activity defaults.
type ErrMissingConfig struct {
	Kind  Kind
	Field string
}

func (e *ErrMissingConfig) Error() string {
	return fmt.Sprintf("reaction: %s: missing required config field %q", e.Kind, e.Field)
}

// ErrWrongExecutor is returned when an executor is handed a reaction it
// does not own.
type ErrWrongExecutor struct {
	Executor string
	Ref      Ref
}

func (e *ErrWrongExecutor) Error() string {
	return fmt.Sprintf("reaction: %s executor cannot run %s", e.Executor, e.Ref)
}

// ErrHTTPStatus is returned for a non-2xx response from a reaction target.
type ErrHTTPStatus struct {
	Target string
	Status int
	Body   string
}

func (e *ErrHTTPStatus) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("reaction: %s returned HTTP %d", e.Target, e.Status)
	}
	return fmt.Sprintf("reaction: %s returned HTTP %d: %s", e.Target, e.Status, e.Body)
}

// ErrDispatch wraps any failure of a dispatched reaction with its kind.
type ErrDispatch struct {
	Kind  Kind
	Cause error
}

func (e *ErrDispatch) Error() string {
	return fmt.Sprintf("reaction: %s failed: %v", e.Kind, e.Cause)
}

func (e *ErrDispatch) Unwrap() error { return e.Cause }
