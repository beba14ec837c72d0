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
	"encoding/json"

	"github.com/drenlia/easy-kanban-sub014/internal/sqlfilter"
)

// Statement is a single SQL statement with positional parameters.
type Statement struct {
	SQL    string
	Params []any

	// Shape, if set, overrides the inferred result shape.
	Shape *sqlfilter.Shape
}

// RunResult is the result of a statement that does not return rows.
type RunResult struct {
	Changes         int64 `json:"changes"`
	LastInsertRowid int64 `json:"lastInsertRowid"`
}

// Row is a single result row keyed by column name.
type Row map[string]any

// Result is the result of a single statement.
//
// Exactly one of Row, Rows, and Run is meaningful, depending on Type.
type Result struct {
	Type sqlfilter.Shape

	// Row is the first row for ShapeGet, or nil if there are no rows.
	Row Row

	// Rows are all rows for ShapeAll.
	Rows []Row

	// Run is the outcome of ShapeRun.
	Run *RunResult
}

// resultJSON is the wire representation of Result.
type resultJSON struct {
	Type   sqlfilter.Shape `json:"type"`
	Result any             `json:"result"`
}

// MarshalJSON implements json.Marshaler.
func (r *Result) MarshalJSON() ([]byte, error) {
	res := resultJSON{Type: r.Type}

	switch r.Type {
	case sqlfilter.ShapeGet:
		if r.Row != nil {
			res.Result = r.Row
		}

	case sqlfilter.ShapeAll:
		rows := r.Rows
		if rows == nil {
			rows = []Row{}
		}

		res.Result = rows

	case sqlfilter.ShapeRun:
		run := r.Run
		if run == nil {
			run = new(RunResult)
		}

		res.Result = run
	}

	return json.Marshal(res)
}

// Info contains diagnostic information about a tenant database.
type Info struct {
	TenantID    string `json:"tenantId"`
	JournalMode string `json:"journalMode"`
	Synchronous int64  `json:"synchronous"`
	Integrity   string `json:"integrity"`
}

// check interfaces
var (
	_ json.Marshaler = (*Result)(nil)
)
