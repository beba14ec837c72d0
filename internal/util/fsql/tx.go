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

package fsql

import (
	"context"
	"database/sql"

	"github.com/drenlia/easy-kanban-sub014/internal/util/observability"
	"github.com/drenlia/easy-kanban-sub014/internal/util/resource"
)

// Tx wraps [*database/sql.Tx] with logging and resource tracking.
//
// It exposes the subset of *sql.Tx methods we use.
type Tx struct {
	sqlTx *sql.Tx
	ql    *queryLogger
	token *resource.Token
}

// wrapTx creates new Tx.
func wrapTx(tx *sql.Tx, ql *queryLogger) *Tx {
	if tx == nil {
		return nil
	}

	res := &Tx{
		sqlTx: tx,
		ql:    ql,
		token: resource.NewToken(),
	}

	resource.Track(res, res.token)

	return res
}

// QueryContext calls [*sql.Tx.QueryContext].
func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*Rows, error) {
	defer observability.Region(ctx, "fsql.Tx.QueryContext")()

	done := tx.ql.start(query, args)
	rows, err := tx.sqlTx.QueryContext(ctx, query, args...)
	done(nil, err)

	return wrapRows(rows), err
}

// ExecContext calls [*sql.Tx.ExecContext].
func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer observability.Region(ctx, "fsql.Tx.ExecContext")()

	done := tx.ql.start(query, args)
	res, err := tx.sqlTx.ExecContext(ctx, query, args...)
	done(res, err)

	return res, err
}

// Commit calls [*sql.Tx.Commit].
func (tx *Tx) Commit() error {
	resource.Untrack(tx, tx.token)
	return tx.sqlTx.Commit()
}

// Rollback calls [*sql.Tx.Rollback].
func (tx *Tx) Rollback() error {
	resource.Untrack(tx, tx.token)
	return tx.sqlTx.Rollback()
}
