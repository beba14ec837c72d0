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
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drenlia/easy-kanban-sub014/internal/util/observability"
)

// RequestIDHeader is the header carrying request ID.
const RequestIDHeader = "X-Request-Id"

// requestInfoKey is a context key for *requestInfo.
type requestInfoKey struct{}

// requestInfo is a per-request state shared between middlewares and handlers.
type requestInfo struct {
	id     string
	result string
}

// setResult sets the result label of the current request.
func setResult(r *http.Request, result string) {
	if ri, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
		ri.result = result
	}
}

// requestID assigns request ID, taking it from the request header if present.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		rw.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestInfoKey{}, &requestInfo{id: id, result: "ok"})
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// statusRecorder remembers response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader implements http.ResponseWriter.
func (sr *statusRecorder) WriteHeader(status int) {
	if sr.status == 0 {
		sr.status = status
	}

	sr.ResponseWriter.WriteHeader(status)
}

// Write implements http.ResponseWriter.
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}

	return sr.ResponseWriter.Write(b)
}

// Unwrap is used by http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// instrument wraps a handler with tracing, metrics, access logging, and panic recovery.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ri, _ := r.Context().Value(requestInfoKey{}).(*requestInfo)
		if ri == nil {
			ri = &requestInfo{result: "ok"}
			r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, ri))
		}

		ctx, span := observability.StartSpan(
			r.Context(), route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("dbproxy.request_id", ri.id),
			),
		)
		defer span.End()

		r = r.WithContext(ctx)

		l := s.l.With(zap.String("request_id", ri.id), zap.String("route", route))

		if ce := l.Check(zap.DebugLevel, "Request"); ce != nil {
			dump, _ := httputil.DumpRequest(r, true)
			ce.Write(zap.ByteString("dump", dump))
		}

		s.metrics.InFlight.Inc()
		s.metrics.Requests.WithLabelValues(route).Inc()

		sr := &statusRecorder{ResponseWriter: rw}

		defer func() {
			if p := recover(); p != nil {
				l.Error("Handler panicked.", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))

				ri.result = "panic"

				if sr.status == 0 {
					s.writeJSONResponse(sr, r, http.StatusInternalServerError, &errorResponse{
						Error: fmt.Sprintf("internal error: %v", p),
					})
				}
			}

			d := time.Since(start)

			s.metrics.InFlight.Dec()
			s.metrics.Durations.WithLabelValues(route).Observe(d.Seconds())
			s.metrics.observe(route, sr.status, ri.result)

			span.SetAttributes(attribute.Int("http.status_code", sr.status))

			if sr.status >= 500 {
				span.SetStatus(codes.Error, ri.result)
			}

			level := zap.DebugLevel
			if sr.status >= 500 {
				level = zap.WarnLevel
			}

			if ce := l.Check(level, "Request handled."); ce != nil {
				ce.Write(
					zap.String("method", r.Method), zap.String("path", r.URL.Path),
					zap.Int("status", sr.status), zap.String("result", ri.result), zap.Duration("duration", d),
				)
			}
		}()

		next.ServeHTTP(sr, r)
	})
}

// limitBody limits request body size.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(rw, r.Body, s.maxBodyBytes)
		next.ServeHTTP(rw, r)
	})
}
