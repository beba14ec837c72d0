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
	"context"
)

// Stmt is a prepared statement.
//
// It only keeps SQL text; it is safe for concurrent use and does not need to be closed.
type Stmt struct {
	c   *Client
	sql string
}

// SQL returns statement text.
func (s *Stmt) SQL() string {
	return s.sql
}

// Get executes the statement and returns the first result row, or nil if there are none.
func (s *Stmt) Get(ctx context.Context, args ...any) (Row, error) {
	res, err := s.c.query(ctx, s.sql, args, ShapeGet)
	if err != nil {
		return nil, err
	}

	switch res.Type {
	case ShapeGet:
		return res.Row, nil
	case ShapeAll:
		if len(res.Rows) == 0 {
			return nil, nil
		}

		return res.Rows[0], nil
	default:
		return nil, nil
	}
}

// All executes the statement and returns all result rows.
func (s *Stmt) All(ctx context.Context, args ...any) ([]Row, error) {
	res, err := s.c.query(ctx, s.sql, args, ShapeAll)
	if err != nil {
		return nil, err
	}

	switch res.Type {
	case ShapeAll:
		return res.Rows, nil
	case ShapeGet:
		if res.Row == nil {
			return []Row{}, nil
		}

		return []Row{res.Row}, nil
	default:
		return []Row{}, nil
	}
}

// Run executes the statement and returns the number of changes and the last inserted row ID.
//
// Statements that the proxy executed as queries return zero changes.
func (s *Stmt) Run(ctx context.Context, args ...any) (*RunResult, error) {
	res, err := s.c.query(ctx, s.sql, args, ShapeRun)
	if err != nil {
		return nil, err
	}

	if res.Type != ShapeRun || res.Run == nil {
		return new(RunResult), nil
	}

	return res.Run, nil
}

// GetAsync is an asynchronous variant of [Stmt.Get].
func (s *Stmt) GetAsync(ctx context.Context, args ...any) *Future[Row] {
	return goFuture(func() (Row, error) { return s.Get(ctx, args...) })
}

// AllAsync is an asynchronous variant of [Stmt.All].
func (s *Stmt) AllAsync(ctx context.Context, args ...any) *Future[[]Row] {
	return goFuture(func() ([]Row, error) { return s.All(ctx, args...) })
}

// RunAsync is an asynchronous variant of [Stmt.Run].
func (s *Stmt) RunAsync(ctx context.Context, args ...any) *Future[*RunResult] {
	return goFuture(func() (*RunResult, error) { return s.Run(ctx, args...) })
}
