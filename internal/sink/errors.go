package sink

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a sink failure.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindUnreachable     Kind = "unreachable"
	KindConfigInvalid   Kind = "config_invalid"
	KindRejected        Kind = "rejected"
	KindIO              Kind = "io"
	KindCancelled       Kind = "cancelled"
	KindInternal        Kind = "internal"
)

// Error is a classified sink failure. Status is set for KindRejected.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindRejected && e.Err != nil:
		return fmt.Sprintf("sink: rejected (http %d): %v", e.Status, e.Err)
	case e.Kind == KindRejected:
		return fmt.Sprintf("sink: rejected (http %d)", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("sink: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("sink: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func wrapErr(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func rejectedErr(status int, err error) *Error {
	return &Error{Kind: KindRejected, Status: status, Err: err}
}

// KindOf extracts the failure kind from err, folding context cancellation
// into KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	var sinkErr *Error
	if errors.As(err, &sinkErr) {
		return sinkErr.Kind
	}
	return KindInternal
}

// IsCancelled reports whether err is a cooperative cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}
