// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package proxy

import (
	"context"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/drenlia/easy-kanban-sub014/internal/sqlfilter"
	"github.com/drenlia/easy-kanban-sub014/internal/tenant/pool"
)

//go:generate ../../bin/stringer -linecomment -type ErrorCode

// ErrorCode represents a proxy error code.
type ErrorCode int

// Error codes.
const (
	_ ErrorCode = iota

	ErrorCodeInvalidRequest     // INVALID_REQUEST
	ErrorCodeForbiddenOperation // FORBIDDEN_OPERATION
	ErrorCodeContention         // CONTENTION
	ErrorCodeTimeout            // TIMEOUT
	ErrorCodeExecution          // EXECUTION_ERROR
)

// Error represents an error returned by all Registry methods.
type Error struct {
	err error

	// engineCode is the SQLite result code name for execution errors, if known
	engineCode string

	code ErrorCode
}

// NewError creates a new proxy error.
//
// Code must not be 0. Err must not be nil.
func NewError(code ErrorCode, err error) *Error {
	if code == 0 {
		panic("proxy.NewError: code must not be 0")
	}

	if err == nil {
		panic("proxy.NewError: err must not be nil")
	}

	return &Error{
		code: code,
		err:  err,
	}
}

// Code returns the error code.
func (err *Error) Code() ErrorCode {
	return err.code
}

// EngineCode returns SQLite result code name (like SQLITE_CONSTRAINT) for execution errors,
// or an empty string.
func (err *Error) EngineCode() string {
	return err.engineCode
}

// Message returns the message of the underlying error, as returned to clients.
func (err *Error) Message() string {
	return err.err.Error()
}

// Error implements error interface.
func (err *Error) Error() string {
	if err.engineCode != "" {
		return fmt.Sprintf("%s (%s): %v", err.code, err.engineCode, err.err)
	}

	return fmt.Sprintf("%s: %v", err.code, err.err)
}

// ErrorCodeIs returns true if err is *Error with the given error code.
func ErrorCodeIs(err error, code ErrorCode) bool {
	e, ok := err.(*Error) //nolint:errorlint // do not inspect error chain
	if !ok {
		return false
	}

	return e.code == code
}

// CanceledCode is reported instead of an error code when the caller stopped waiting for the result.
const CanceledCode = "CANCELED"

// IsCanceled returns true if err is caused by the caller's context being canceled or expired.
//
// Such errors are returned by [Registry] methods as is.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// newInvalidRequestError returns ErrorCodeInvalidRequest error with formatted message.
func newInvalidRequestError(format string, a ...any) *Error {
	return NewError(ErrorCodeInvalidRequest, fmt.Errorf(format, a...))
}

// convertError converts an error returned by pool, queue, or engine to *Error.
//
// Caller's context errors are returned as is.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(*Error); ok { //nolint:errorlint // do not inspect error chain
		return err
	}

	var ce *pool.ContentionError

	switch {
	case errors.Is(err, sqlfilter.ErrForbidden):
		return NewError(ErrorCodeForbiddenOperation, err)

	case errors.Is(err, pool.ErrInvalidTenantID):
		return NewError(ErrorCodeInvalidRequest, err)

	case errors.As(err, &ce):
		return NewError(ErrorCodeContention, err)

	case IsCanceled(err):
		return err
	}

	res := NewError(ErrorCodeExecution, err)

	var se *sqlite.Error
	if errors.As(err, &se) {
		res.engineCode = engineCodeName(se.Code())

		switch se.Code() & 0xff {
		case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
			res.code = ErrorCodeContention
		case sqlitelib.SQLITE_INTERRUPT:
			res.code = ErrorCodeTimeout
		}
	}

	return res
}

// engineCodes maps primary SQLite result codes to their names.
var engineCodes = map[int]string{
	sqlitelib.SQLITE_ERROR:      "SQLITE_ERROR",
	sqlitelib.SQLITE_INTERNAL:   "SQLITE_INTERNAL",
	sqlitelib.SQLITE_PERM:       "SQLITE_PERM",
	sqlitelib.SQLITE_ABORT:      "SQLITE_ABORT",
	sqlitelib.SQLITE_BUSY:       "SQLITE_BUSY",
	sqlitelib.SQLITE_LOCKED:     "SQLITE_LOCKED",
	sqlitelib.SQLITE_NOMEM:      "SQLITE_NOMEM",
	sqlitelib.SQLITE_READONLY:   "SQLITE_READONLY",
	sqlitelib.SQLITE_INTERRUPT:  "SQLITE_INTERRUPT",
	sqlitelib.SQLITE_IOERR:      "SQLITE_IOERR",
	sqlitelib.SQLITE_CORRUPT:    "SQLITE_CORRUPT",
	sqlitelib.SQLITE_NOTFOUND:   "SQLITE_NOTFOUND",
	sqlitelib.SQLITE_FULL:       "SQLITE_FULL",
	sqlitelib.SQLITE_CANTOPEN:   "SQLITE_CANTOPEN",
	sqlitelib.SQLITE_PROTOCOL:   "SQLITE_PROTOCOL",
	sqlitelib.SQLITE_EMPTY:      "SQLITE_EMPTY",
	sqlitelib.SQLITE_SCHEMA:     "SQLITE_SCHEMA",
	sqlitelib.SQLITE_TOOBIG:     "SQLITE_TOOBIG",
	sqlitelib.SQLITE_CONSTRAINT: "SQLITE_CONSTRAINT",
	sqlitelib.SQLITE_MISMATCH:   "SQLITE_MISMATCH",
	sqlitelib.SQLITE_MISUSE:     "SQLITE_MISUSE",
	sqlitelib.SQLITE_NOLFS:      "SQLITE_NOLFS",
	sqlitelib.SQLITE_AUTH:       "SQLITE_AUTH",
	sqlitelib.SQLITE_FORMAT:     "SQLITE_FORMAT",
	sqlitelib.SQLITE_RANGE:      "SQLITE_RANGE",
	sqlitelib.SQLITE_NOTADB:     "SQLITE_NOTADB",
}

// engineCodeName returns the name of the primary result code for the given (possibly extended) code.
func engineCodeName(code int) string {
	if name, ok := engineCodes[code&0xff]; ok {
		return name
	}

	return fmt.Sprintf("SQLITE_%d", code)
}

// check interfaces
var (
	_ error = (*Error)(nil)
)
