package types

import (
	"errors"
	"fmt"
)

// Kind classifies an error into this package's error taxonomy,
// independent of any one component's concrete error type.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindNotFound
	KindConflict
	KindThrottled
	KindTimedOut
	KindCorrupt
	KindConfigurationError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindThrottled:
		return "Throttled"
	case KindTimedOut:
		return "TimedOut"
	case KindCorrupt:
		return "Corrupt"
	case KindConfigurationError:
		return "ConfigurationError"
	default:
		return "Internal"
	}
}

// Error is a kind-tagged error that wraps an underlying cause.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "hnsw.addItem"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an *Error, tagging err with kind and the failing operation.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a new kind-tagged error from a format string.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err
// was not produced by Wrap/Newf.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err (or a wrapped cause) carries kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether this error kind is considered
// retryable by the caller (Throttled, TimedOut) as opposed to terminal.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindThrottled, KindTimedOut:
		return true
	default:
		return false
	}
}
