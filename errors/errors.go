package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the embedding core the error occurred
type Phase string

const (
	PhaseLifecycle Phase = "lifecycle" // create/initialize/load/entry/destroy
	PhaseMode      Phase = "mode"      // integration mode selection
	PhaseWorker    Phase = "worker"    // worker start/stop/queue
	PhaseCall      Phase = "call"      // sync/async call bridges
	PhasePump      Phase = "pump"      // event loop pump
	PhaseRoot      Phase = "root"      // GC root registry
	PhaseLoad      Phase = "load"      // bytecode loading
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidState     Kind = "invalid_state"
	KindModeMismatch     Kind = "mode_mismatch"
	KindWorkerNotRunning Kind = "worker_not_running"
	KindQueueRejected    Kind = "queue_rejected"
	KindGuestException   Kind = "guest_exception"
	KindRootLogic        Kind = "root_logic"
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
)

// Error is the structured error type used throughout the embedding core.
//
// GuestText carries the guest runtime's own error/exception message when
// the error originated inside loaded guest code, so callers can distinguish
// "target executed and raised" from API misuse where nothing executed.
type Error struct {
	Cause     error
	Phase     Phase
	Kind      Kind
	Detail    string
	GuestText string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.GuestText != "" {
		b.WriteString(" (guest: ")
		b.WriteString(e.GuestText)
		b.WriteByte(')')
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// GuestText sets the guest runtime's own error message
func (b *Builder) GuestText(text string) *Builder {
	b.err.GuestText = text
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidState creates a lifecycle ordering error
func InvalidState(phase Phase, have, want string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: fmt.Sprintf("state is %s, requires %s", have, want),
	}
}

// ModeMismatch creates an integration mode error
func ModeMismatch(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindModeMismatch,
		Detail: detail,
	}
}

// WorkerNotRunning creates an error for call bridges used without a live worker
func WorkerNotRunning(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindWorkerNotRunning,
		Detail: "worker thread is not running",
	}
}

// QueueRejected creates an enqueue failure error
func QueueRejected(detail string) *Error {
	return &Error{
		Phase:  PhaseWorker,
		Kind:   KindQueueRejected,
		Detail: detail,
	}
}

// GuestException wraps an exception raised by executed guest code
func GuestException(phase Phase, target, guestText string, cause error) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindGuestException,
		Detail:    fmt.Sprintf("guest raised in %q", target),
		GuestText: guestText,
		Cause:     cause,
	}
}

// RootLogic creates a root registry misuse error
func RootLogic(detail string) *Error {
	return &Error{
		Phase:  PhaseRoot,
		Kind:   KindRootLogic,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Load creates a bytecode loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// IsKind reports whether err is a *Error with the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
