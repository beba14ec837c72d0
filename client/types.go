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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Result shapes as returned by the proxy.
const (
	ShapeGet = "get"
	ShapeAll = "all"
	ShapeRun = "run"
)

// Row is a single result row keyed by column name.
//
// Integer values are int64, other numbers are float64.
type Row map[string]any

// RunResult is the result of a statement that does not return rows.
type RunResult struct {
	Changes         int64 `json:"changes"`
	LastInsertRowid int64 `json:"lastInsertRowid"`
}

// Statement is a single statement of a transaction.
type Statement struct {
	SQL    string
	Params []any

	// Type is the expected result shape: ShapeGet, ShapeAll, or ShapeRun.
	// The proxy infers it from SQL text if empty.
	Type string
}

// Result is the result of a single statement as inferred by the proxy.
type Result struct {
	// Type is one of ShapeGet, ShapeAll, or ShapeRun.
	Type string

	Row  Row
	Rows []Row
	Run  *RunResult
}

// Info contains diagnostic information about a tenant database.
type Info struct {
	TenantID    string `json:"tenantId"`
	JournalMode string `json:"journalMode"`
	Synchronous int64  `json:"synchronous"`
	Integrity   string `json:"integrity"`
}

// Health is the proxy health status.
type Health struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Timestamp   string `json:"timestamp"`
}

type queryRequest struct {
	TenantID string `json:"tenantId"`
	Query    string `json:"query"`
	Params   []any  `json:"params"`
	Type     string `json:"type,omitempty"`
}

type statementRequest struct {
	Query  string `json:"query"`
	Params []any  `json:"params"`
	Type   string `json:"type,omitempty"`
}

type transactionRequest struct {
	TenantID string             `json:"tenantId"`
	Queries  []statementRequest `json:"queries"`
}

type transactionResponse struct {
	Results []resultResponse `json:"results"`
}

type resultResponse struct {
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result"`
}

// decode converts the wire result to Result.
func (r *resultResponse) decode() (*Result, error) {
	res := &Result{Type: r.Type}

	switch r.Type {
	case ShapeGet:
		if err := unmarshal(r.Result, &res.Row); err != nil {
			return nil, err
		}

		normalizeRow(res.Row)

	case ShapeAll:
		if err := unmarshal(r.Result, &res.Rows); err != nil {
			return nil, err
		}

		if res.Rows == nil {
			res.Rows = []Row{}
		}

		for _, row := range res.Rows {
			normalizeRow(row)
		}

	case ShapeRun:
		res.Run = new(RunResult)
		if err := unmarshal(r.Result, res.Run); err != nil {
			return nil, err
		}

	default:
		return nil, &TransportError{Method: "POST", Path: "/query", err: fmt.Errorf("unexpected result type %q", r.Type)}
	}

	return res, nil
}

// unmarshal decodes JSON with numbers as json.Number.
func unmarshal(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	return dec.Decode(v)
}

// normalizeRow converts json.Number values to int64 or float64.
func normalizeRow(row Row) {
	for k, v := range row {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}

		if !strings.ContainsAny(n.String(), ".eE") {
			if i, err := n.Int64(); err == nil {
				row[k] = i
				continue
			}
		}

		if f, err := n.Float64(); err == nil {
			row[k] = f
		}
	}
}
