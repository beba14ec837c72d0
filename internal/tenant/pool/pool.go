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

// Package pool provides access to tenant SQLite databases.
//
// The pool is the only owner of tenant database handles.
// It opens at most one handle per tenant, lazily, and closes them only on shutdown.
package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/singleflight"

	"github.com/drenlia/easy-kanban-sub014/internal/util/ctxutil"
	"github.com/drenlia/easy-kanban-sub014/internal/util/dirlock"
	"github.com/drenlia/easy-kanban-sub014/internal/util/fsql"
	"github.com/drenlia/easy-kanban-sub014/internal/util/lazyerrors"
	"github.com/drenlia/easy-kanban-sub014/internal/util/observability"
	"github.com/drenlia/easy-kanban-sub014/internal/util/resource"
)

// DefaultFilename is the default database file name inside a tenant directory.
const DefaultFilename = "kanban.db"

// DefaultBusyTimeout is the default SQLite busy timeout.
const DefaultBusyTimeout = 5 * time.Second

// Parts of Prometheus metric names.
const (
	namespace = "dbproxy"
	subsystem = "pool"
)

// ErrClosed is returned by Get after Close was called.
var ErrClosed = errors.New("pool is closed")

// RetryPolicy controls how opening a locked database file is retried.
type RetryPolicy struct {
	// Attempts is the total number of open attempts, including the first one.
	Attempts int

	// Base is the delay after the first failed attempt; it doubles after each next one.
	Base time.Duration

	// Max caps the delay between attempts.
	Max time.Duration
}

// DefaultRetryPolicy is used when NewOpts.Retry is nil.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 10,
	Base:     50 * time.Millisecond,
	Max:      time.Second,
}

// openFunc opens a tenant database handle once, without retries.
type openFunc func(ctx context.Context, tenantID string) (*fsql.DB, error)

// Pool provides access to tenant databases.
//
//nolint:vet // for readability
type Pool struct {
	dir         string
	filename    string
	busyTimeout time.Duration
	slow        time.Duration
	retry       RetryPolicy
	l           *zap.Logger

	open  openFunc
	sleep func(ctx context.Context, d time.Duration) error
	sf    singleflight.Group
	lock  *dirlock.Lock

	rw     sync.RWMutex
	dbs    map[string]*fsql.DB
	closed bool

	opens   *prometheus.CounterVec
	retries prometheus.Counter

	token *resource.Token
}

// NewOpts represents [New] options.
type NewOpts struct {
	// Dir is the base directory for tenant databases; it is created if needed.
	Dir string

	// Filename is the database file name inside each tenant directory.
	// DefaultFilename is used if empty.
	Filename string

	// BusyTimeout is SQLite busy timeout; DefaultBusyTimeout is used if zero.
	BusyTimeout time.Duration

	// SlowThreshold enables slow statement logging, see [fsql.WrapOpts].
	SlowThreshold time.Duration

	// Retry is the policy for opening locked files; DefaultRetryPolicy is used if nil.
	Retry *RetryPolicy

	L *zap.Logger
}

// New creates a pool for tenant databases in the given directory.
//
// It takes an exclusive lock on the directory; a second pool for the same directory fails.
func New(opts *NewOpts) (*Pool, error) {
	if opts.Dir == "" {
		return nil, lazyerrors.New("base directory is not set")
	}

	lock, err := dirlock.New(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to lock base directory %q: %w", opts.Dir, err)
	}

	p := &Pool{
		dir:         opts.Dir,
		filename:    opts.Filename,
		busyTimeout: opts.BusyTimeout,
		slow:        opts.SlowThreshold,
		retry:       DefaultRetryPolicy,
		l:           opts.L,
		lock:        lock,
		dbs:         map[string]*fsql.DB{},
		opens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "opens_total",
				Help:      "Total number of tenant database open operations by result.",
			},
			[]string{"result"},
		),
		retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "open_retries_total",
				Help:      "Total number of retried open attempts due to lock contention.",
			},
		),
		token: resource.NewToken(),
	}

	if p.filename == "" {
		p.filename = DefaultFilename
	}

	if p.busyTimeout == 0 {
		p.busyTimeout = DefaultBusyTimeout
	}

	if opts.Retry != nil {
		p.retry = *opts.Retry
	}

	if p.retry.Attempts < 1 {
		p.retry.Attempts = 1
	}

	p.open = p.openDB
	p.sleep = ctxutil.Sleep

	resource.Track(p, p.token)

	return p, nil
}

// Get returns the database handle for the given tenant, opening it if needed.
//
// Concurrent calls for the same tenant share a single open attempt,
// so at most one handle per tenant file ever exists.
// If ctx is canceled, Get stops waiting, but a shared open attempt continues for other callers.
func (p *Pool) Get(ctx context.Context, tenantID string) (*fsql.DB, error) {
	defer observability.Region(ctx, "pool.Get")()

	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	if db, err := p.getExisting(tenantID); db != nil || err != nil {
		return db, err
	}

	ch := p.sf.DoChan(tenantID, func() (any, error) {
		// it might have been opened by a concurrent call that finished before we started
		if db, err := p.getExisting(tenantID); db != nil || err != nil {
			return db, err
		}

		// do not let the first caller's cancellation fail other waiting callers
		db, err := p.openWithRetry(context.WithoutCancel(ctx), tenantID)
		if err != nil {
			return nil, err
		}

		p.rw.Lock()
		defer p.rw.Unlock()

		if p.closed {
			_ = db.Close()
			return nil, ErrClosed
		}

		p.dbs[tenantID] = db

		return db, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*fsql.DB), nil
	}
}

// getExisting returns a cached handle, or nil.
func (p *Pool) getExisting(tenantID string) (*fsql.DB, error) {
	p.rw.RLock()
	defer p.rw.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}

	return p.dbs[tenantID], nil
}

// openWithRetry opens a tenant database, retrying while the file is locked by another process.
func (p *Pool) openWithRetry(ctx context.Context, tenantID string) (*fsql.DB, error) {
	l := p.l.With(zap.String("tenant", tenantID))

	var lastErr error

	for attempt := 1; attempt <= p.retry.Attempts; attempt++ {
		db, err := p.open(ctx, tenantID)
		if err == nil {
			p.opens.WithLabelValues("ok").Inc()

			fields := []zap.Field{zap.String("file", p.path(tenantID)), zap.Int("attempt", attempt)}
			if fi, e := os.Stat(p.path(tenantID)); e == nil {
				fields = append(fields, zap.String("size", humanize.Bytes(uint64(fi.Size()))))
			}

			l.Info("Tenant database opened.", fields...)

			return db, nil
		}

		if !IsLockedError(err) {
			p.opens.WithLabelValues("error").Inc()
			l.Error("Failed to open tenant database.", zap.Error(err))

			return nil, lazyerrors.Errorf("tenant %q: %w", tenantID, err)
		}

		lastErr = err

		if attempt == p.retry.Attempts {
			break
		}

		delay := ctxutil.Backoff(p.retry.Base, p.retry.Max, attempt)
		l.Warn(
			"Tenant database is locked, retrying.",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err),
		)

		p.retries.Inc()

		if err = p.sleep(ctx, delay); err != nil {
			return nil, lazyerrors.Error(err)
		}
	}

	p.opens.WithLabelValues("contention").Inc()
	l.Error("Tenant database is still locked, giving up.", zap.Int("attempts", p.retry.Attempts), zap.Error(lastErr))

	return nil, &ContentionError{
		TenantID: tenantID,
		Attempts: p.retry.Attempts,
		err:      lastErr,
	}
}

// Len returns the number of open tenant databases.
func (p *Pool) Len() int {
	p.rw.RLock()
	defer p.rw.RUnlock()

	return len(p.dbs)
}

// List returns a sorted list of open tenant IDs.
func (p *Pool) List() []string {
	p.rw.RLock()
	defer p.rw.RUnlock()

	res := maps.Keys(p.dbs)
	slices.Sort(res)

	return res
}

// Close closes all databases in the pool and releases the directory lock.
//
// Get calls after Close return ErrClosed.
func (p *Pool) Close() {
	p.rw.Lock()
	defer p.rw.Unlock()

	if p.closed {
		return
	}

	p.closed = true

	for _, tenantID := range maps.Keys(p.dbs) {
		if err := p.dbs[tenantID].Close(); err != nil {
			p.l.Warn("Failed to close tenant database.", zap.String("tenant", tenantID), zap.Error(err))
			continue
		}

		p.l.Info("Tenant database closed.", zap.String("tenant", tenantID))
	}

	p.dbs = nil

	if err := p.lock.Unlock(); err != nil {
		p.l.Warn("Failed to release base directory lock.", zap.Error(err))
	}

	resource.Untrack(p, p.token)
}

// Describe implements prometheus.Collector.
//
// Pool is an unchecked collector: per-tenant metrics appear as databases are opened.
func (p *Pool) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (p *Pool) Collect(ch chan<- prometheus.Metric) {
	p.opens.Collect(ch)
	p.retries.Collect(ch)

	p.rw.RLock()
	defer p.rw.RUnlock()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "tenants"),
			"The current number of open tenant databases.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(len(p.dbs)),
	)

	for _, db := range p.dbs {
		db.Collect(ch)
	}
}

// check interfaces
var (
	_ prometheus.Collector = (*Pool)(nil)
)
