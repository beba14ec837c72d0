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

// Package server provides proxy HTTP API handlers.
package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/drenlia/easy-kanban-sub014/internal/proxy"
)

// DefaultMaxBodyBytes is the default request body size limit.
const DefaultMaxBodyBytes = 10 << 20

// StatusClientClosedRequest is used when the caller canceled the request before the result was ready.
const StatusClientClosedRequest = 499

// Server implements proxy HTTP API.
type Server struct {
	l            *zap.Logger
	registry     *proxy.Registry
	metrics      *Metrics
	maxBodyBytes int64

	// for testing
	now func() time.Time
}

// NewOpts represents [New] options.
type NewOpts struct {
	L        *zap.Logger
	Registry *proxy.Registry

	// Metrics are created if nil.
	Metrics *Metrics

	// MaxBodyBytes limits request body size; DefaultMaxBodyBytes is used if zero.
	MaxBodyBytes int64
}

// New creates a new Server.
func New(opts *NewOpts) *Server {
	s := &Server{
		l:            opts.L,
		registry:     opts.Registry,
		metrics:      opts.Metrics,
		maxBodyBytes: opts.MaxBodyBytes,
		now:          time.Now,
	}

	if s.metrics == nil {
		s.metrics = NewMetrics()
	}

	if s.maxBodyBytes == 0 {
		s.maxBodyBytes = DefaultMaxBodyBytes
	}

	return s
}

// Handler returns HTTP handler serving all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "POST /query", "query", s.Query)
	s.handle(mux, "POST /transaction", "transaction", s.Transaction)
	s.handle(mux, "GET /health", "health", s.Health)
	s.handle(mux, "GET /info/{tenantId}", "info", s.Info)

	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		s.writeJSONResponse(rw, r, http.StatusNotFound, &errorResponse{
			Error: "not found: " + r.Method + " " + r.URL.Path,
		})
	})

	return s.requestID(mux)
}

// handle registers a handler for the given pattern wrapped in middlewares.
// Route is used for metrics, logging, and tracing.
//
// Body limit goes first so that request dumps never read more than allowed.
func (s *Server) handle(mux *http.ServeMux, pattern, route string, h http.HandlerFunc) {
	mux.Handle(pattern, s.limitBody(s.instrument(route, h)))
}

// Metrics returns server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
