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

package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/drenlia/easy-kanban-sub014/internal/util/fsql"
	"github.com/drenlia/easy-kanban-sub014/internal/util/lazyerrors"
)

// path returns the database file path for the given valid tenant ID.
func (p *Pool) path(tenantID string) string {
	return filepath.Join(p.dir, tenantID, p.filename)
}

// uri returns SQLite URI for the given valid tenant ID.
//
// Pragmas are applied by the driver to every new connection, in order:
// busy_timeout goes first so that the following ones wait for transient locks.
func (p *Pool) uri(tenantID string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", p.busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "synchronous(normal)")
	q.Add("_pragma", "foreign_keys(on)")

	u := &url.URL{
		Scheme:   "file",
		Opaque:   p.path(tenantID),
		RawQuery: q.Encode(),
	}

	return u.String()
}

// openDB opens existing database or creates a new one.
func (p *Pool) openDB(ctx context.Context, tenantID string) (*fsql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(p.path(tenantID)), 0o777); err != nil {
		return nil, lazyerrors.Error(err)
	}

	sqlDB, err := sql.Open("sqlite", p.uri(tenantID))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	// exactly one handle per tenant file
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxIdleTime(0)
	sqlDB.SetConnMaxLifetime(0)

	db := fsql.WrapDB(sqlDB, tenantID, p.l, &fsql.WrapOpts{SlowThreshold: p.slow})

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	// journal_mode silently stays unchanged if the file system does not support WAL
	var mode string
	if err = db.QueryRowContext(ctx, "PRAGMA journal_mode = WAL").Scan(&mode); err != nil {
		_ = db.Close()
		return nil, err
	}

	if !strings.EqualFold(mode, "wal") {
		p.l.Warn("Write-ahead log mode is not available.", zap.String("tenant", tenantID), zap.String("mode", mode))
	}

	return db, nil
}

// IsLockedError returns true if err indicates that the database file is locked by another connection or process.
func IsLockedError(err error) bool {
	if err == nil {
		return false
	}

	var e *sqlite.Error
	if errors.As(err, &e) {
		switch e.Code() & 0xff {
		case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
			return true
		}
	}

	msg := err.Error()

	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
