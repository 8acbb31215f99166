package adapter

import (
	"errors"
	"fmt"

	"github.com/roach88/tuplex/internal/ir"
)

// ErrorCode categorizes adapter errors.
type ErrorCode string

const (
	// ErrCodeConstraint indicates a duplicate primary key on insert.
	ErrCodeConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// ErrCodeTxAborted indicates a transaction rolled back.
	ErrCodeTxAborted ErrorCode = "TX_ABORTED"

	// ErrCodePrecondition indicates a keyed operation was called without its key.
	ErrCodePrecondition ErrorCode = "PRECONDITION_FAILED"
)

// ConstraintError is a field-attributed constraint violation. The caller can
// recover from it, for example by retrying with another key.
type ConstraintError struct {
	Table      string
	Field      string
	Constraint string // "unique"
	Value      ir.Value
	Err        error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: %s constraint on %s.%s (value %s)",
		ErrCodeConstraint, e.Constraint, e.Table, e.Field, valueString(e.Value))
}

// Unwrap returns the engine condition behind the violation.
func (e *ConstraintError) Unwrap() error { return e.Err }

// TxAbortError reports a rolled-back transaction. An explicit Rollback and a
// failure inside the transaction produce the same error; Reason holds the
// rollback reason or the failure.
type TxAbortError struct {
	Reason any
}

func (e *TxAbortError) Error() string {
	if err, ok := e.Reason.(error); ok {
		return fmt.Sprintf("%s: %v", ErrCodeTxAborted, err)
	}
	return fmt.Sprintf("%s: %v", ErrCodeTxAborted, e.Reason)
}

// Unwrap exposes Reason when it is an error.
func (e *TxAbortError) Unwrap() error {
	if err, ok := e.Reason.(error); ok {
		return err
	}
	return nil
}

// PreconditionError is raised with panic, never returned: a keyed update or
// delete without the primary key in its filter is a caller bug, not a data
// condition.
type PreconditionError struct {
	Op    string
	Table string
	Field string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s on %s requires primary key %q in filter", ErrCodePrecondition, e.Op, e.Table, e.Field)
}

// IsConstraintError returns true if err is or wraps a ConstraintError.
// Uses errors.As to handle wrapped errors.
func IsConstraintError(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}

// IsTxAbort returns true if err is or wraps a TxAbortError.
// Uses errors.As to handle wrapped errors.
func IsTxAbort(err error) bool {
	var ae *TxAbortError
	return errors.As(err, &ae)
}

func valueString(v ir.Value) string {
	b, err := ir.MarshalValue(v)
	if err != nil {
		return "?"
	}
	return string(b)
}
