// Package syncerr defines the error taxonomy shared by every component of
// the replication engine. Each kind is a sentinel that callers compare
// against with errors.Is; Error wraps it with the operation-specific detail
// the way crud.ActionError carries operation/kind/name in the teacher.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories in the handling design.
type Kind string

const (
	// KindNetwork covers transport failures talking to the Gateway.
	KindNetwork Kind = "network"
	// KindTimeout covers a deadline exceeded talking to the Gateway.
	KindTimeout Kind = "timeout"
	// KindEmptyGateway covers a full-sync safety probe returning zero rows.
	KindEmptyGateway Kind = "empty_gateway"
	// KindDecode covers a response that failed to parse into rows.
	KindDecode Kind = "decode"
	// KindStoreWrite covers an irrecoverable store write failure.
	KindStoreWrite Kind = "store_write"
	// KindConcurrency covers an attempt to start a sync while one is active.
	KindConcurrency Kind = "concurrency"
	// KindCancelled covers cooperative cancellation having been observed.
	KindCancelled Kind = "cancelled"
	// KindConfig covers a missing or malformed declarative file.
	KindConfig Kind = "config"
	// KindCircuitOpen covers RetryCircuit rejecting a call outright.
	KindCircuitOpen Kind = "circuit_open"
)

// Sentinel values usable directly with errors.Is when no extra detail is
// needed.
var (
	ErrNetwork      = &Error{Kind: KindNetwork}
	ErrTimeout      = &Error{Kind: KindTimeout}
	ErrEmptyGateway = &Error{Kind: KindEmptyGateway}
	ErrDecode       = &Error{Kind: KindDecode}
	ErrStoreWrite   = &Error{Kind: KindStoreWrite}
	ErrConcurrency  = &Error{Kind: KindConcurrency}
	ErrCancelled    = &Error{Kind: KindCancelled}
	ErrConfig       = &Error{Kind: KindConfig}
	ErrCircuitOpen  = &Error{Kind: KindCircuitOpen}
)

// Error is a typed error carrying the offending component, a human message,
// and the wrapped cause (when one exists).
type Error struct {
	Kind      Kind
	Component string
	Detail    string
	Cause     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Component != "" {
		msg = fmt.Sprintf("%s: %s", e.Component, msg)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind, satisfying the
// sentinel comparisons above regardless of Component/Detail/Cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error for component with a formatted detail message.
func New(kind Kind, component, format string, args ...any) *Error {
	return &Error{Kind: kind, Component: component, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error for component around an existing cause.
func Wrap(kind Kind, component string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Component: component, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

// Retryable reports whether an error's kind is one RetryCircuit should
// attempt again — only transport-level problems qualify.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindNetwork || e.Kind == KindTimeout
}
