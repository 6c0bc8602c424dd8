// Package errors defines the error taxonomy shared by every epimem
// component: a small set of named kinds, a structured error type that
// carries operation/id context, and sentinel values so callers can use
// errors.Is without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and surfacing decisions. Kinds are
// not Go types; they are a closed enum carried on MemoryError.
type Kind string

const (
	KindStorage           Kind = "storage"
	KindExecutionTimeout  Kind = "execution_timeout"
	KindCircuitBreakerOpen Kind = "circuit_breaker_open"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	KindIO                Kind = "io"
	KindEmbedding         Kind = "embedding"
	KindNotFound          Kind = "not_found"
	KindInvalidInput      Kind = "invalid_input"
	KindInvalidState      Kind = "invalid_state"
	KindValidationFailed  Kind = "validation_failed"
	KindSecurity          Kind = "security"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindSerialization     Kind = "serialization"
)

// recoverableKinds mirrors spec §7's recoverability column.
var recoverableKinds = map[Kind]bool{
	KindStorage:            true,
	KindExecutionTimeout:   true,
	KindCircuitBreakerOpen: true,
	KindRateLimitExceeded:  true,
	KindIO:                 true,
	KindEmbedding:          true,
}

// IsRecoverableKind reports whether errors of this kind may be retried.
func IsRecoverableKind(k Kind) bool {
	return recoverableKinds[k]
}

// Sentinel errors, one per non-recoverable kind plus a couple of
// recoverable ones that callers commonly want to errors.Is against
// without constructing a MemoryError first.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidState     = errors.New("invalid state")
	ErrValidationFailed = errors.New("validation failed")
	ErrSecurity         = errors.New("security validation failed")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrSerialization    = errors.New("serialization error")

	ErrTimeout           = errors.New("execution timeout")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// MemoryError is the structured error type returned by epimem
// components. It implements error and Unwrap so errors.Is/As work
// against both the sentinel and any wrapped cause.
type MemoryError struct {
	Op      string // e.g. "episode.Complete", "storage.StoreEpisode"
	Kind    Kind
	ID      string // entity id involved, if any
	Message string
	Err     error // underlying cause, if any
}

func (e *MemoryError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *MemoryError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether this error's kind may be retried.
func (e *MemoryError) Recoverable() bool {
	return IsRecoverableKind(e.Kind)
}

// New builds a MemoryError wrapping err under op/kind, with the sentinel
// for that kind (if any) as the unwrap target when err is nil.
func New(op string, kind Kind, id string, err error) *MemoryError {
	if err == nil {
		err = sentinelFor(kind)
	}
	return &MemoryError{Op: op, Kind: kind, ID: id, Err: err}
}

// Newf builds a MemoryError with only a human message, no wrapped cause.
func Newf(kind Kind, format string, args ...interface{}) *MemoryError {
	return &MemoryError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func sentinelFor(k Kind) error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindInvalidInput:
		return ErrInvalidInput
	case KindInvalidState:
		return ErrInvalidState
	case KindValidationFailed:
		return ErrValidationFailed
	case KindSecurity:
		return ErrSecurity
	case KindQuotaExceeded:
		return ErrQuotaExceeded
	case KindSerialization:
		return ErrSerialization
	case KindExecutionTimeout:
		return ErrTimeout
	case KindCircuitBreakerOpen:
		return ErrCircuitBreakerOpen
	case KindRateLimitExceeded:
		return ErrRateLimitExceeded
	default:
		return errors.New(string(k))
	}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *MemoryError; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var me *MemoryError
	if errors.As(err, &me) {
		return me.Kind, true
	}
	return "", false
}

// IsRecoverable reports whether err is a *MemoryError of a recoverable kind.
func IsRecoverable(err error) bool {
	k, ok := KindOf(err)
	return ok && IsRecoverableKind(k)
}

// IsNotFound reports whether err is, or wraps, a not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState reports whether err is, or wraps, an invalid-state condition.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsSecurity reports whether err is, or wraps, a security validation failure.
func IsSecurity(err error) bool {
	return errors.Is(err, ErrSecurity)
}
