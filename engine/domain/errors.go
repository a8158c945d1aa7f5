package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrInvalidVehicle   = errors.New("invalid vehicle")
	ErrUnsupportedMake  = errors.New("unsupported make")
	ErrUnsupportedModel = errors.New("unsupported model")
	ErrYearOutOfRange   = errors.New("year out of range")
	ErrInvalidDTCCode   = errors.New("invalid DTC code")
	ErrInvalidScore     = errors.New("score out of [0,1]")
	ErrUnknownStage     = errors.New("unknown processing stage")
	ErrDuplicateContent = errors.New("duplicate content hash")
	ErrPoisonJob        = errors.New("poison job payload")
)

// ValidationError wraps a sentinel with the field/value context that
// triggered it.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// StageKind classifies an error for the pipeline runtime's retry/terminal
// decision, per the error taxonomy: transient external errors retry,
// permanent external errors terminate without retry, invariant violations
// drop the offending element and continue, poison jobs are discarded, and
// fatal errors take down the worker.
type StageKind int

const (
	KindTransient StageKind = iota
	KindPermanent
	KindInvariant
	KindPoison
	KindFatal
)

// StageError tags an error with how the pipeline runtime should handle it.
type StageError struct {
	Kind    StageKind
	Wrapped error
}

func (e *StageError) Error() string { return e.Wrapped.Error() }
func (e *StageError) Unwrap() error { return e.Wrapped }

func Transient(err error) error { return &StageError{Kind: KindTransient, Wrapped: err} }
func Permanent(err error) error { return &StageError{Kind: KindPermanent, Wrapped: err} }
func Invariant(err error) error { return &StageError{Kind: KindInvariant, Wrapped: err} }
func Poison(err error) error    { return &StageError{Kind: KindPoison, Wrapped: err} }
func Fatal(err error) error     { return &StageError{Kind: KindFatal, Wrapped: err} }

// KindOf extracts the StageKind from err, defaulting to KindPermanent for
// errors that were never tagged (fail closed: don't silently retry forever).
func KindOf(err error) StageKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindPermanent
}
