package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStatus     = errors.New("order status is invalid")
	ErrInvalidTransition = errors.New("order status transition is not allowed")
	ErrInvalidNumber     = errors.New("order number is required")
	ErrNotFound          = errors.New("order not found")
	ErrVersionConflict   = errors.New("order version conflict")
	ErrNotEligible       = errors.New("order is not eligible for auto-advance")
)

// ConflictError reports a failed version precondition together with the order as the
// server currently holds it.
type ConflictError struct {
	ExpectedVersion int64
	Current         *Order
}

func (e *ConflictError) Error() string {
	if e.Current == nil {
		return fmt.Sprintf("%s: expected version %d", ErrVersionConflict, e.ExpectedVersion)
	}
	return fmt.Sprintf("%s: expected version %d, current %d", ErrVersionConflict, e.ExpectedVersion, e.Current.Version)
}

func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

// FailureKind classifies a persistence error for the auto-advance engine.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureConflict
	FailureTransient
	FailurePermanent
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureConflict:
		return "version-conflict"
	case FailureTransient:
		return "transient"
	case FailurePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by the order service onto the failure taxonomy.
// Unknown errors are treated as transient.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrVersionConflict):
		return FailureConflict
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrNotEligible):
		return FailurePermanent
	default:
		return FailureTransient
	}
}
