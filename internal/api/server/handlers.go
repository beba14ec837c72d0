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
	"net/http"
	"time"

	"github.com/drenlia/easy-kanban-sub014/internal/proxy"
	"github.com/drenlia/easy-kanban-sub014/internal/sqlfilter"
)

// QueryRequestBody is the body of POST /query.
type QueryRequestBody struct {
	TenantID string           `json:"tenantId"`
	Query    string           `json:"query"`
	Params   []any            `json:"params"`
	Type     *sqlfilter.Shape `json:"type,omitempty"`
}

// StatementBody is a single statement of POST /transaction.
type StatementBody struct {
	Query  string           `json:"query"`
	Params []any            `json:"params"`
	Type   *sqlfilter.Shape `json:"type,omitempty"`
}

// TransactionRequestBody is the body of POST /transaction.
type TransactionRequestBody struct {
	TenantID string           `json:"tenantId"`
	Queries  []*StatementBody `json:"queries"`
}

// TransactionResponseBody is the body of a successful POST /transaction response.
type TransactionResponseBody struct {
	Results []*proxy.Result `json:"results"`
}

// HealthResponseBody is the body of GET /health response.
type HealthResponseBody struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Timestamp   string `json:"timestamp"`
}

// Query implements POST /query.
func (s *Server) Query(rw http.ResponseWriter, r *http.Request) {
	var req QueryRequestBody
	if err := decodeJSONRequest(r, &req); err != nil {
		s.writeError(rw, r, invalidRequest(err))
		return
	}

	res, err := s.registry.Query(r.Context(), req.TenantID, &proxy.Statement{
		SQL:    req.Query,
		Params: req.Params,
		Shape:  req.Type,
	})
	if err != nil {
		s.writeError(rw, r, err)
		return
	}

	s.writeJSONResponse(rw, r, http.StatusOK, res)
}

// Transaction implements POST /transaction.
func (s *Server) Transaction(rw http.ResponseWriter, r *http.Request) {
	var req TransactionRequestBody
	if err := decodeJSONRequest(r, &req); err != nil {
		s.writeError(rw, r, invalidRequest(err))
		return
	}

	sts := make([]*proxy.Statement, len(req.Queries))

	for i, q := range req.Queries {
		if q == nil {
			q = new(StatementBody)
		}

		sts[i] = &proxy.Statement{
			SQL:    q.Query,
			Params: q.Params,
			Shape:  q.Type,
		}
	}

	res, err := s.registry.Transaction(r.Context(), req.TenantID, sts)
	if err != nil {
		s.writeError(rw, r, err)
		return
	}

	s.writeJSONResponse(rw, r, http.StatusOK, &TransactionResponseBody{Results: res})
}

// Health implements GET /health.
func (s *Server) Health(rw http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(rw, r, http.StatusOK, &HealthResponseBody{
		Status:      "healthy",
		Connections: s.registry.Connections(),
		Timestamp:   s.now().UTC().Format(time.RFC3339Nano),
	})
}

// Info implements GET /info/{tenantId}.
func (s *Server) Info(rw http.ResponseWriter, r *http.Request) {
	res, err := s.registry.Info(r.Context(), r.PathValue("tenantId"))
	if err != nil {
		s.writeError(rw, r, err)
		return
	}

	s.writeJSONResponse(rw, r, http.StatusOK, res)
}
