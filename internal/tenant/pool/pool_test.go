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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drenlia/easy-kanban-sub014/internal/util/dirlock"
	"github.com/drenlia/easy-kanban-sub014/internal/util/fsql"
	"github.com/drenlia/easy-kanban-sub014/internal/util/teststress"
	tu "github.com/drenlia/easy-kanban-sub014/internal/util/testutil"
)

// setup creates a new pool in a temporary directory.
func setup(t *testing.T, opts *NewOpts) *Pool {
	t.Helper()

	if opts == nil {
		opts = new(NewOpts)
	}

	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}

	if opts.L == nil {
		opts.L = tu.Logger(t)
	}

	p, err := New(opts)
	require.NoError(t, err)

	t.Cleanup(p.Close)

	return p
}

func TestValidateTenantID(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"acme", "Acme-1", "a.b_c", "0"} {
		assert.NoError(t, ValidateTenantID(id), id)
	}

	for _, id := range []string{"", ".hidden", "..", "a/b", `a\b`, "-a", "a b", strings.Repeat("a", 129)} {
		assert.ErrorIs(t, ValidateTenantID(id), ErrInvalidTenantID, id)
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	ctx := tu.Ctx(t)
	p := setup(t, nil)

	db, err := p.Get(ctx, "acme")
	require.NoError(t, err)

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)

	var synchronous int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 1, synchronous, "NORMAL")

	again, err := p.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Same(t, db, again)

	assert.FileExists(t, filepath.Join(p.dir, "acme", DefaultFilename))

	_, err = p.Get(ctx, "../etc")
	assert.ErrorIs(t, err, ErrInvalidTenantID)

	_, err = p.Get(ctx, "other")
	require.NoError(t, err)

	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []string{"acme", "other"}, p.List())

	p.Close()

	_, err = p.Get(ctx, "acme")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGetConcurrent(t *testing.T) {
	t.Parallel()

	ctx := tu.Ctx(t)
	p := setup(t, nil)

	var opens atomic.Int32
	open := p.open
	p.open = func(ctx context.Context, tenantID string) (*fsql.DB, error) {
		opens.Add(1)
		time.Sleep(10 * time.Millisecond)

		return open(ctx, tenantID)
	}

	var mu sync.Mutex
	dbs := map[*fsql.DB]struct{}{}

	teststress.Stress(t, func(ready chan<- struct{}, start <-chan struct{}) {
		ready <- struct{}{}
		<-start

		db, err := p.Get(ctx, "acme")
		require.NoError(t, err)

		mu.Lock()
		dbs[db] = struct{}{}
		mu.Unlock()
	})

	assert.Len(t, dbs, 1)
	assert.Equal(t, int32(1), opens.Load())
	assert.Equal(t, 1, p.Len())
}

func TestContention(t *testing.T) {
	t.Parallel()

	ctx := tu.Ctx(t)

	var delays []time.Duration

	p := setup(t, nil)
	p.retry = DefaultRetryPolicy

	// record delays instead of sleeping
	p.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	t.Run("GiveUp", func(t *testing.T) {
		var attempts int
		p.open = func(context.Context, string) (*fsql.DB, error) {
			attempts++
			return nil, errors.New("SQLITE_BUSY: database is locked")
		}

		_, err := p.Get(ctx, "locked")

		var ce *ContentionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "locked", ce.TenantID)
		assert.Equal(t, 10, ce.Attempts)
		assert.Equal(t, 10, attempts)

		expected := []time.Duration{
			50 * time.Millisecond,
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
			time.Second,
			time.Second,
			time.Second,
			time.Second,
		}
		assert.Equal(t, expected, delays)
		assert.Equal(t, 0, p.Len())
	})

	t.Run("Recover", func(t *testing.T) {
		delays = nil

		var attempts int
		p.open = func(ctx context.Context, tenantID string) (*fsql.DB, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("database is locked")
			}

			return p.openDB(ctx, tenantID)
		}

		db, err := p.Get(ctx, "recovered")
		require.NoError(t, err)
		require.NotNil(t, db)
		assert.Equal(t, 3, attempts)
		assert.Len(t, delays, 2)
	})

	t.Run("OtherError", func(t *testing.T) {
		delays = nil

		p.open = func(context.Context, string) (*fsql.DB, error) {
			return nil, errors.New("disk I/O error")
		}

		_, err := p.Get(ctx, "broken")
		require.Error(t, err)

		var ce *ContentionError
		assert.False(t, errors.As(err, &ce))
		assert.Empty(t, delays)
	})
}

func TestLockedAfterOpen(t *testing.T) {
	t.Parallel()

	ctx := tu.Ctx(t)
	p := setup(t, &NewOpts{
		BusyTimeout: 10 * time.Millisecond,
		Retry: &RetryPolicy{
			Attempts: 3,
			Base:     time.Millisecond,
			Max:      2 * time.Millisecond,
		},
	})

	db, err := p.Get(ctx, "acme")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	// simulate another process holding an exclusive lock
	other, err := sql.Open("sqlite", "file:"+p.path("acme"))
	require.NoError(t, err)
	other.SetMaxOpenConns(1)

	t.Cleanup(func() { require.NoError(t, other.Close()) })

	conn, err := other.Conn(ctx)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, conn.Close()) })

	_, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "INSERT INTO t VALUES (1)")
	require.Error(t, err)
	assert.True(t, IsLockedError(err), "%v", err)

	_, err = conn.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
}

// lockFile creates the tenant database in rollback journal mode
// and holds an exclusive lock on it like another process would.
func lockFile(t *testing.T, p *Pool, tenantID string) *sql.Conn {
	t.Helper()

	ctx := tu.Ctx(t)
	path := p.path(tenantID)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o777))

	other, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	other.SetMaxOpenConns(1)

	t.Cleanup(func() { require.NoError(t, other.Close()) })

	conn, err := other.Conn(ctx)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, conn.Close()) })

	_, err = conn.ExecContext(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE")
	require.NoError(t, err)

	return conn
}

func TestOpenLockedByOtherProcess(t *testing.T) {
	t.Parallel()

	opts := &NewOpts{
		BusyTimeout: time.Millisecond,
		Retry: &RetryPolicy{
			Attempts: 5,
			Base:     20 * time.Millisecond,
			Max:      40 * time.Millisecond,
		},
	}

	t.Run("Released", func(t *testing.T) {
		t.Parallel()

		ctx := tu.Ctx(t)
		p := setup(t, opts)
		conn := lockFile(t, p, "acme")

		released := make(chan error, 1)

		go func() {
			time.Sleep(60 * time.Millisecond)

			_, err := conn.ExecContext(context.Background(), "ROLLBACK")
			released <- err
		}()

		db, err := p.Get(ctx, "acme")
		require.NoError(t, err)
		require.NoError(t, <-released)

		_, err = db.ExecContext(ctx, "INSERT INTO t VALUES (1)")
		require.NoError(t, err)

		assert.Equal(t, 1, p.Len())
		assert.Positive(t, testutil.ToFloat64(p.retries))
	})

	t.Run("Held", func(t *testing.T) {
		t.Parallel()

		ctx := tu.Ctx(t)
		p := setup(t, opts)
		conn := lockFile(t, p, "acme")

		t.Cleanup(func() {
			_, err := conn.ExecContext(context.Background(), "ROLLBACK")
			require.NoError(t, err)
		})

		_, err := p.Get(ctx, "acme")

		var ce *ContentionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "acme", ce.TenantID)
		assert.Equal(t, 5, ce.Attempts)
		assert.True(t, IsLockedError(err), "%v", err)

		assert.Equal(t, 0, p.Len())
	})
}

func TestDirLock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	setup(t, &NewOpts{Dir: dir})

	_, err := New(&NewOpts{Dir: dir, L: tu.Logger(t)})
	assert.ErrorIs(t, err, dirlock.ErrLocked)
}

func TestIsLockedError(t *testing.T) {
	t.Parallel()

	assert.False(t, IsLockedError(nil))
	assert.False(t, IsLockedError(errors.New("no such table: t")))
	assert.True(t, IsLockedError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsLockedError(errors.New("database table is locked")))
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	ctx := tu.Ctx(t)
	p := setup(t, nil)

	_, err := p.Get(ctx, "acme")
	require.NoError(t, err)

	// opens_total, open_retries_total, tenants, and 3 metrics for acme
	assert.Equal(t, 6, testutil.CollectAndCount(p))
	assert.Equal(t, 1, testutil.CollectAndCount(p, "dbproxy_pool_tenants"))
}
