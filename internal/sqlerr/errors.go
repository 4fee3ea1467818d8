// Package sqlerr defines the structured errors returned at the bridge
// boundary and the single function that maps every failure onto them.
package sqlerr

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes bridge errors.
type Code string

const (
	// CodePrepare indicates malformed SQL text.
	CodePrepare Code = "PREPARE"

	// CodeStep indicates a runtime execution failure (constraint, I/O, busy).
	CodeStep Code = "STEP"

	// CodeBind indicates a parameter could not be bound.
	CodeBind Code = "BIND"

	// CodeOpen indicates the engine could not open the database or the name
	// is already registered.
	CodeOpen Code = "OPEN"

	// CodeNotOpen indicates an operation on an unregistered connection name.
	CodeNotOpen Code = "NOT_OPEN"

	// CodeAttachDetach indicates ATTACH or DETACH failed.
	CodeAttachDetach Code = "ATTACH_DETACH"

	// CodeUnsupportedValue indicates a parameter that is not a scalar or
	// binary buffer.
	CodeUnsupportedValue Code = "UNSUPPORTED_VALUE"

	// CodeEmptyBatch indicates a batch with no commands.
	CodeEmptyBatch Code = "EMPTY_BATCH"

	// CodeFileNotFound indicates remove or loadFile on a missing path.
	CodeFileNotFound Code = "FILE_NOT_FOUND"

	// CodeExtensionLoad indicates a native extension failed to load.
	CodeExtensionLoad Code = "EXTENSION_LOAD"

	// CodeTransactionFinalized indicates use of a committed or rolled back
	// transaction.
	CodeTransactionFinalized Code = "TRANSACTION_FINALIZED"

	// CodeInvalidated indicates the host context was torn down.
	CodeInvalidated Code = "INVALIDATED"
)

// Error is the structured failure surfaced by every public operation.
//
// EngineCode and ExtendedCode carry the engine's numeric status when the
// failure originated in the engine; both are zero otherwise.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op is the public operation that failed (e.g. "execute").
	Op string

	// Database is the logical connection name.
	Database string

	// Message is the engine's diagnostic text or a description.
	Message string

	EngineCode   int
	ExtendedCode int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[sqlbridge] ")
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Database != "" {
			b.WriteString(" on ")
			b.WriteString(e.Database)
		}
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.EngineCode != 0 {
		fmt.Fprintf(&b, " (sqlite code %d)", e.EngineCode)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewPrepareError creates an Error for malformed SQL.
func NewPrepareError(message string) *Error { return newError(CodePrepare, "%s", message) }

// NewStepError creates an Error for a runtime execution failure.
func NewStepError(message string) *Error { return newError(CodeStep, "%s", message) }

// NewBindError creates an Error for a parameter that could not be bound.
func NewBindError(index int, message string) *Error {
	return newError(CodeBind, "parameter %d: %s", index, message)
}

// NewOpenError creates an Error for a failed open.
func NewOpenError(message string) *Error { return newError(CodeOpen, "%s", message) }

// NewNotOpenError creates an Error for an unknown connection name.
func NewNotOpenError(name string) *Error {
	e := newError(CodeNotOpen, "database %s is not open", name)
	e.Database = name
	return e
}

// NewAttachDetachError creates an Error for ATTACH/DETACH failures. The
// message carries the owning database's name.
func NewAttachDetachError(db, verb, message string) *Error {
	e := newError(CodeAttachDetach, "%s was unable to %s another database: %s", db, verb, message)
	e.Database = db
	return e
}

// NewUnsupportedValueError creates an Error for a non-scalar parameter.
func NewUnsupportedValueError(message string) *Error {
	return newError(CodeUnsupportedValue, "%s", message)
}

// NewEmptyBatchError creates an Error for a batch with no commands.
func NewEmptyBatchError() *Error { return newError(CodeEmptyBatch, "No SQL commands provided") }

// NewFileNotFoundError creates an Error for a missing path.
func NewFileNotFoundError(path string) *Error {
	return newError(CodeFileNotFound, "file not found: %s", path)
}

// NewExtensionLoadError creates an Error for a failed extension load.
func NewExtensionLoadError(path, message string) *Error {
	return newError(CodeExtensionLoad, "could not load extension %s: %s", path, message)
}

// NewTransactionFinalizedError creates an Error for use of a finalized
// transaction. verb is "query", "commit" or "rollback".
func NewTransactionFinalizedError(db, verb string) *Error {
	e := newError(CodeTransactionFinalized, "cannot execute %s on finalized transaction: %s", verb, db)
	e.Database = db
	return e
}

// NewInvalidatedError creates an Error for work submitted after the host
// context was invalidated.
func NewInvalidatedError() *Error {
	return newError(CodeInvalidated, "host context invalidated")
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsPrepareError reports whether err is a PREPARE error.
// Uses errors.As to handle wrapped errors.
func IsPrepareError(err error) bool { return is(err, CodePrepare) }

// IsStepError reports whether err is a STEP error.
func IsStepError(err error) bool { return is(err, CodeStep) }

// IsBindError reports whether err is a BIND error.
func IsBindError(err error) bool { return is(err, CodeBind) }

// IsOpenError reports whether err is an OPEN error.
func IsOpenError(err error) bool { return is(err, CodeOpen) }

// IsNotOpenError reports whether err is a NOT_OPEN error.
func IsNotOpenError(err error) bool { return is(err, CodeNotOpen) }

// IsAttachDetachError reports whether err is an ATTACH_DETACH error.
func IsAttachDetachError(err error) bool { return is(err, CodeAttachDetach) }

// IsUnsupportedValueError reports whether err is an UNSUPPORTED_VALUE error.
func IsUnsupportedValueError(err error) bool { return is(err, CodeUnsupportedValue) }

// IsEmptyBatchError reports whether err is an EMPTY_BATCH error.
func IsEmptyBatchError(err error) bool { return is(err, CodeEmptyBatch) }

// IsFileNotFoundError reports whether err is a FILE_NOT_FOUND error.
func IsFileNotFoundError(err error) bool { return is(err, CodeFileNotFound) }

// IsExtensionLoadError reports whether err is an EXTENSION_LOAD error.
func IsExtensionLoadError(err error) bool { return is(err, CodeExtensionLoad) }

// IsTransactionFinalizedError reports whether err is a TRANSACTION_FINALIZED error.
func IsTransactionFinalizedError(err error) bool { return is(err, CodeTransactionFinalized) }

// IsInvalidatedError reports whether err is an INVALIDATED error.
func IsInvalidatedError(err error) bool { return is(err, CodeInvalidated) }
