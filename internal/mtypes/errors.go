package mtypes

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure kind. Match them with errors.Is.
var (
	// ErrPolicyViolation is returned when a resource identifier is not allow-listed.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrTransportFailure indicates a network fetch failed.
	ErrTransportFailure = errors.New("transport failure")

	// ErrCorruptRecord indicates a durable entry could not be decoded.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrQuotaExceeded indicates a durable write was rejected for lack of space.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInvalidInput indicates a caller passed unusable arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// Kind identifies a failure class.
type Kind string

const (
	KindPolicyViolation  Kind = "POLICY_VIOLATION"
	KindTransportFailure Kind = "TRANSPORT_FAILURE"
	KindCorruptRecord    Kind = "CORRUPT_RECORD"
	KindQuotaExceeded    Kind = "QUOTA_EXCEEDED"
	KindInvalidInput     Kind = "INVALID_INPUT"
)

func (k Kind) sentinel() error {
	switch k {
	case KindPolicyViolation:
		return ErrPolicyViolation
	case KindTransportFailure:
		return ErrTransportFailure
	case KindCorruptRecord:
		return ErrCorruptRecord
	case KindQuotaExceeded:
		return ErrQuotaExceeded
	case KindInvalidInput:
		return ErrInvalidInput
	default:
		return nil
	}
}

// Error is a classified failure with the operation and key that produced it.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

// E builds an *Error.
func E(kind Kind, op, key string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Op)
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of err, or "" when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range []Kind{KindPolicyViolation, KindTransportFailure, KindCorruptRecord, KindQuotaExceeded, KindInvalidInput} {
		if errors.Is(err, k.sentinel()) {
			return k
		}
	}
	return ""
}
