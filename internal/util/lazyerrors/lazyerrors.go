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


// Package lazyerrors provides temporary error wrapping for lazy developers.
//
// Wrapped errors carry the file, line, and function of the call site.
package lazyerrors

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// withStack wraps an error with the program counter of its creation site.
type withStack struct {
	error
	pc uintptr
}

// Error implements error interface.
func (e withStack) Error() string {
	if e.pc == 0 {
		return e.error.Error()
	}

	f, _ := runtime.CallersFrames([]uintptr{e.pc}).Next()
	if f.File == "" {
		return "[unknown] " + e.error.Error()
	}

	_, file := filepath.Split(f.File)
	loc := file + ":" + strconv.Itoa(f.Line)

	if f.Function != "" {
		i := strings.LastIndex(f.Function, "/")
		loc += " " + f.Function[i+1:]
	}

	return fmt.Sprintf("[%s] %s", loc, e.error)
}

// Unwrap returns the wrapped error.
func (e withStack) Unwrap() error {
	return e.error
}

// callerPC returns the program counter of the lazyerrors function's caller.
func callerPC() uintptr {
	pc := make([]uintptr, 1)

	// skip runtime.Callers, callerPC, and New/Error/Errorf
	if runtime.Callers(3, pc) < 1 {
		return 0
	}

	return pc[0]
}

// New returns a new error with the given text, annotated with the caller.
func New(s string) error {
	return withStack{
		error: errors.New(s),
		pc:    callerPC(),
	}
}

// Error annotates err with the caller. Err must not be nil.
func Error(err error) error {
	if err == nil {
		panic("err is nil")
	}

	return withStack{
		error: err,
		pc:    callerPC(),
	}
}

// Errorf returns a formatted error annotated with the caller.
//
// Like fmt.Errorf, it supports %w.
func Errorf(format string, a ...any) error {
	return withStack{
		error: fmt.Errorf(format, a...),
		pc:    callerPC(),
	}
}

// UnwrapAll returns the innermost error in the chain, or nil if err is nil.
func UnwrapAll(err error) error {
	if err == nil {
		return nil
	}

	for {
		e := errors.Unwrap(err)
		if e == nil {
			return err
		}

		err = e
	}
}
