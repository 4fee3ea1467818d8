package sqlerr

import (
	"errors"
	"io/fs"

	"github.com/mattn/go-sqlite3"
)

// Operation names used as Op and to choose a default Code.
const (
	OpOpen          = "open"
	OpClose         = "close"
	OpRemove        = "remove"
	OpAttach        = "attach"
	OpDetach        = "detach"
	OpExecute       = "execute"
	OpExecuteRaw    = "executeRaw"
	OpExecuteBatch  = "executeBatch"
	OpLoadFile      = "loadFile"
	OpLoadExtension = "loadExtension"
	OpPrepare       = "prepareStatement"
	OpReactive      = "reactiveExecute"
	OpTransaction   = "transaction"
	OpStorage       = "storage"
)

var defaultCodes = map[string]Code{
	OpOpen:          CodeOpen,
	OpAttach:        CodeAttachDetach,
	OpDetach:        CodeAttachDetach,
	OpLoadExtension: CodeExtensionLoad,
	OpPrepare:       CodePrepare,
}

// Map converts any failure raised while serving op on db into an *Error.
// It is the only place the taxonomy is decided for errors that did not
// originate as an *Error; every public operation returns through it.
//
// Typed errors keep their code and gain the missing context. Engine errors
// keep the engine's numeric status and message. Everything else takes the
// operation's default code.
func Map(op, db string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		out := *typed
		if out.Op == "" {
			out.Op = op
		}
		if out.Database == "" {
			out.Database = db
		}
		return &out
	}

	code, ok := defaultCodes[op]
	if !ok {
		code = CodeStep
	}
	if errors.Is(err, fs.ErrNotExist) {
		code = CodeFileNotFound
	}

	out := FromEngine(code, err)
	out.Op = op
	out.Database = db
	return out
}

// FromEngine builds an *Error of the given code from err, carrying the
// engine's status codes when err is (or wraps) an engine error.
func FromEngine(code Code, err error) *Error {
	e := &Error{Code: code, Message: err.Error(), Err: err}
	var se sqlite3.Error
	if errors.As(err, &se) {
		e.EngineCode = int(se.Code)
		e.ExtendedCode = int(se.ExtendedCode)
	}
	return e
}

// IsBusy reports whether err carries the engine's BUSY or LOCKED status.
func IsBusy(err error) bool {
	var e *Error
	if errors.As(err, &e) && e.EngineCode != 0 {
		return e.EngineCode == int(sqlite3.ErrBusy) || e.EngineCode == int(sqlite3.ErrLocked)
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// IsConstraint reports whether err carries the engine's CONSTRAINT status.
func IsConstraint(err error) bool {
	var e *Error
	if errors.As(err, &e) && e.EngineCode != 0 {
		return e.EngineCode == int(sqlite3.ErrConstraint)
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}
