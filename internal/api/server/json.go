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

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/drenlia/easy-kanban-sub014/internal/proxy"
	"github.com/drenlia/easy-kanban-sub014/internal/util/lazyerrors"
)

// errorResponse is the body of all error responses.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// decodeJSONRequest decodes a single JSON value from the request body into v.
//
// Numbers are decoded as [json.Number].
func decodeJSONRequest(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("unsupported Content-Type %q", ct)
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}

		return err
	}

	if dec.More() {
		return errors.New("request body contains more than one JSON value")
	}

	return nil
}

// writeJSONResponse marshals v and writes it with the given status code.
func (s *Server) writeJSONResponse(rw http.ResponseWriter, r *http.Request, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.l.Error("Failed to marshal response.", zap.Error(lazyerrors.Error(err)))
		http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

		return
	}

	if ce := s.l.Check(zap.DebugLevel, "Response"); ce != nil {
		ce.Write(zap.String("path", r.URL.Path), zap.Int("status", status), zap.ByteString("body", b))
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	_, _ = rw.Write(b)
}

// writeError writes an error response for the given error returned by proxy.Registry or request decoding.
func (s *Server) writeError(rw http.ResponseWriter, r *http.Request, err error) {
	status, res := errorStatus(err)

	setResult(r, res.Code)

	if status >= 500 {
		s.l.Warn("Request failed.", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	} else {
		s.l.Debug("Request rejected.", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}

	s.writeJSONResponse(rw, r, status, res)
}

// errorStatus returns HTTP status code and response body for the given error.
func errorStatus(err error) (int, *errorResponse) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge, &errorResponse{
			Error: fmt.Sprintf("request body is larger than %d bytes", mbe.Limit),
			Code:  proxy.ErrorCodeInvalidRequest.String(),
		}
	}

	var e *proxy.Error
	if !errors.As(err, &e) {
		if proxy.IsCanceled(err) {
			return StatusClientClosedRequest, &errorResponse{
				Error: err.Error(),
				Code:  proxy.CanceledCode,
			}
		}

		return http.StatusInternalServerError, &errorResponse{
			Error: err.Error(),
			Code:  proxy.ErrorCodeExecution.String(),
		}
	}

	res := &errorResponse{
		Error: e.Message(),
		Code:  e.Code().String(),
	}

	switch e.Code() {
	case proxy.ErrorCodeInvalidRequest:
		return http.StatusBadRequest, res
	case proxy.ErrorCodeForbiddenOperation:
		return http.StatusForbidden, res
	case proxy.ErrorCodeContention:
		return http.StatusServiceUnavailable, res
	case proxy.ErrorCodeTimeout:
		return http.StatusGatewayTimeout, res
	case proxy.ErrorCodeExecution:
		if e.EngineCode() != "" {
			res.Code = e.EngineCode()
		}

		return http.StatusInternalServerError, res
	default:
		panic(fmt.Sprintf("unexpected error code %s", e.Code()))
	}
}

// invalidRequest returns ErrorCodeInvalidRequest error for a request that could not be decoded.
func invalidRequest(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return err
	}

	return proxy.NewError(proxy.ErrorCodeInvalidRequest, fmt.Errorf("invalid request body: %w", err))
}
