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

package client

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes returned by the proxy, in addition to SQLite result code names.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeForbiddenOperation = "FORBIDDEN_OPERATION"
	CodeContention         = "CONTENTION"
	CodeTimeout            = "TIMEOUT"
	CodeExecution          = "EXECUTION_ERROR"
)

// Error is an error returned by the proxy.
//
// The statement was either rejected or failed during execution;
// for TIMEOUT errors it may still have been executed.
type Error struct {
	// Status is HTTP status code.
	Status int

	// Code is a machine-readable code, like FORBIDDEN_OPERATION or SQLITE_CONSTRAINT.
	Code string

	// Message is the proxy or SQLite error message.
	Message string
}

// newError creates a new Error from response status code and body.
func newError(status int, body []byte) *Error {
	e := &Error{Status: status}

	var res struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}

	if err := json.Unmarshal(body, &res); err == nil && res.Error != "" {
		e.Message = res.Error
		e.Code = res.Code

		return e
	}

	e.Message = http.StatusText(status)
	if len(body) > 0 && len(body) <= 512 {
		e.Message = string(body)
	}

	return e
}

// Error implements error interface.
func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("dbproxy: %d: %s", e.Status, e.Message)
	}

	return fmt.Sprintf("dbproxy: %s: %s", e.Code, e.Message)
}

// IsForbidden returns true if the statement was rejected by the proxy's safety filter.
func (e *Error) IsForbidden() bool {
	return e.Code == CodeForbiddenOperation
}

// TransportError is returned when the request did not reach the proxy
// or the response did not come back.
//
// The operation may or may not have been executed by the proxy.
type TransportError struct {
	Method string
	Path   string

	err error
}

// Error implements error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("dbproxy: %s %s: %v", e.Method, e.Path, e.err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.err
}

// check interfaces
var (
	_ error = (*Error)(nil)
	_ error = (*TransportError)(nil)
)
