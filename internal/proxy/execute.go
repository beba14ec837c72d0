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
	"database/sql"

	"go.uber.org/zap"

	"github.com/drenlia/easy-kanban-sub014/internal/sqlfilter"
	"github.com/drenlia/easy-kanban-sub014/internal/util/fsql"
	"github.com/drenlia/easy-kanban-sub014/internal/util/lazyerrors"
)

// querier is implemented by both *fsql.DB and *fsql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*fsql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execute runs a single classified statement with converted parameters.
//
// Errors are returned as is, without conversion.
func (r *Registry) execute(ctx context.Context, q querier, st *Statement, c *sqlfilter.Classification, params []any) (*Result, error) {
	shape := c.Shape
	if st.Shape != nil {
		shape = *st.Shape
	}

	if shape == sqlfilter.ShapeRun {
		return r.run(ctx, q, st.SQL, c, params)
	}

	rows, err := queryRows(ctx, q, st.SQL, params, shape == sqlfilter.ShapeGet, c.ReadOnly)
	if err != nil {
		return nil, err
	}

	res := &Result{Type: shape}

	if shape == sqlfilter.ShapeGet {
		if len(rows) > 0 {
			res.Row = rows[0]
		}

		return res, nil
	}

	res.Rows = rows

	return res, nil
}

// run executes a statement that does not return rows.
func (r *Registry) run(ctx context.Context, q querier, query string, c *sqlfilter.Classification, params []any) (*Result, error) {
	sqlRes, err := q.ExecContext(ctx, query, params...)
	if err != nil {
		if c.Schema && sqlfilter.IsIdempotentSchemaError(err) {
			r.l.Debug("Schema object already exists, ignoring.", zap.String("query", query), zap.Error(err))

			return &Result{Type: sqlfilter.ShapeRun, Run: new(RunResult)}, nil
		}

		return nil, err
	}

	res := &Result{
		Type: sqlfilter.ShapeRun,
		Run:  new(RunResult),
	}

	if res.Run.Changes, err = sqlRes.RowsAffected(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	if res.Run.LastInsertRowid, err = sqlRes.LastInsertId(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// queryRows executes a statement and reads rows, only the first one if first is true.
func queryRows(ctx context.Context, q querier, query string, params []any, first, readOnly bool) (res []Row, err error) {
	rows, cols, err := openRows(ctx, q, query, params, readOnly)
	if err != nil {
		return nil, err
	}

	defer func() {
		if e := rows.Close(); e != nil && err == nil {
			err = e
		}
	}()

	res = []Row{}

	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))

		for i := range values {
			dest[i] = &values[i]
		}

		if err = rows.Scan(dest...); err != nil {
			return nil, lazyerrors.Error(err)
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = convertValue(values[i])
		}

		res = append(res, row)

		if first {
			break
		}
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return res, nil
}

// openRows executes a statement and returns its rows and column names.
//
// Read-only statements returning DATE, DATETIME, or TIMESTAMP columns are executed again
// with those columns wrapped, so their text values are returned unchanged.
func openRows(ctx context.Context, q querier, query string, params []any, readOnly bool) (*fsql.Rows, []string, error) {
	rows, err := q.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, nil, err
	}

	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, nil, lazyerrors.Error(err)
	}

	if !readOnly {
		return rows, cols, nil
	}

	timeCols, err := timeColumns(rows)
	if err != nil {
		_ = rows.Close()
		return nil, nil, err
	}

	if len(timeCols) == 0 {
		return rows, cols, nil
	}

	wrapped, ok := textQuery(query, cols, timeCols)
	if !ok {
		return rows, cols, nil
	}

	if err = rows.Close(); err != nil {
		return nil, nil, lazyerrors.Error(err)
	}

	if rows, err = q.QueryContext(ctx, wrapped, params...); err == nil {
		return rows, cols, nil
	}

	// fall back to parsed values
	if rows, err = q.QueryContext(ctx, query, params...); err != nil {
		return nil, nil, err
	}

	return rows, cols, nil
}
