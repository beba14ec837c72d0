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

// Package proxy executes SQL statements against tenant databases.
//
// A Registry owns the tenant connection pool, the per-tenant execution queue,
// and the statement classifier. It is created once by the composition root
// and passed to the API handlers.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drenlia/easy-kanban-sub014/internal/sqlfilter"
	"github.com/drenlia/easy-kanban-sub014/internal/tenant/pool"
	"github.com/drenlia/easy-kanban-sub014/internal/tenant/queue"
	"github.com/drenlia/easy-kanban-sub014/internal/util/fsql"
	"github.com/drenlia/easy-kanban-sub014/internal/util/lazyerrors"
	"github.com/drenlia/easy-kanban-sub014/internal/util/observability"
)

// DefaultStatementTimeout is the default timeout of a single queue entry's engine work.
const DefaultStatementTimeout = 30 * time.Second

// Registry executes statements for tenants.
//
//nolint:vet // for readability
type Registry struct {
	pool       *pool.Pool
	queue      *queue.Queue
	classifier *sqlfilter.Classifier
	l          *zap.Logger

	statementTimeout time.Duration

	statements *prometheus.CounterVec
}

// NewRegistryOpts represents [NewRegistry] options.
type NewRegistryOpts struct {
	Pool       *pool.Pool
	Queue      *queue.Queue
	Classifier *sqlfilter.Classifier
	L          *zap.Logger

	// StatementTimeout bounds engine work of each queue entry;
	// DefaultStatementTimeout is used if zero, negative value disables it.
	StatementTimeout time.Duration
}

// NewRegistry creates a new Registry.
func NewRegistry(opts *NewRegistryOpts) (*Registry, error) {
	if opts.Pool == nil || opts.Queue == nil || opts.L == nil {
		return nil, lazyerrors.New("pool, queue, and logger must be set")
	}

	classifier := opts.Classifier
	if classifier == nil {
		var err error
		if classifier, err = sqlfilter.NewClassifier(0); err != nil {
			return nil, lazyerrors.Error(err)
		}
	}

	timeout := opts.StatementTimeout
	if timeout == 0 {
		timeout = DefaultStatementTimeout
	}

	return &Registry{
		pool:             opts.Pool,
		queue:            opts.Queue,
		classifier:       classifier,
		l:                opts.L,
		statementTimeout: timeout,
		statements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dbproxy",
				Subsystem: "registry",
				Name:      "statements_total",
				Help:      "Total number of statements by result type and outcome.",
			},
			[]string{"type", "result"},
		),
	}, nil
}

// Query executes a single statement for the given tenant.
//
// Dangerous statements are rejected before execution.
// The statement runs after all previously submitted work for that tenant.
func (r *Registry) Query(ctx context.Context, tenantID string, st *Statement) (*Result, error) {
	defer observability.Region(ctx, "proxy.Query")()

	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	c, params, err := r.prepare(tenantID, st)
	if err != nil {
		return nil, err
	}

	var res *Result

	err = r.enqueue(ctx, tenantID, "query", func(ctx context.Context, db *fsql.DB) error {
		var e error
		res, e = r.execute(ctx, db, st, c, params)

		return e
	})

	r.count(c, st, err)

	if err != nil {
		return nil, convertError(err)
	}

	return res, nil
}

// Transaction executes statements atomically for the given tenant.
//
// All statements are checked before execution; a single dangerous statement rejects the whole batch.
// The batch runs as a single queue entry. If any statement fails, nothing is persisted
// and no partial results are returned.
func (r *Registry) Transaction(ctx context.Context, tenantID string, sts []*Statement) ([]*Result, error) {
	defer observability.Region(ctx, "proxy.Transaction")()

	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	if len(sts) == 0 {
		return nil, newInvalidRequestError("queries must be a non-empty array")
	}

	cs := make([]*sqlfilter.Classification, len(sts))
	params := make([][]any, len(sts))

	for i, st := range sts {
		c, p, err := r.prepare(tenantID, st)
		if err != nil {
			var e *Error
			if errors.As(err, &e) {
				e.err = fmt.Errorf("statement %d: %w", i+1, e.err)
			}

			return nil, err
		}

		cs[i] = c
		params[i] = p
	}

	var res []*Result

	err := r.enqueue(ctx, tenantID, "transaction", func(ctx context.Context, db *fsql.DB) error {
		results := make([]*Result, len(sts))

		err := db.InTransaction(ctx, func(tx *fsql.Tx) error {
			for i, st := range sts {
				var e error
				if results[i], e = r.execute(ctx, tx, st, cs[i], params[i]); e != nil {
					return fmt.Errorf("statement %d: %w", i+1, e)
				}
			}

			return nil
		})
		if err != nil {
			return err
		}

		res = results

		return nil
	})

	for i, st := range sts {
		r.count(cs[i], st, err)
	}

	if err != nil {
		return nil, convertError(err)
	}

	return res, nil
}

// Info returns diagnostic information about the tenant database,
// opening it if needed.
func (r *Registry) Info(ctx context.Context, tenantID string) (*Info, error) {
	defer observability.Region(ctx, "proxy.Info")()

	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	res := &Info{TenantID: tenantID}

	err := r.enqueue(ctx, tenantID, "info", func(ctx context.Context, db *fsql.DB) error {
		if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&res.JournalMode); err != nil {
			return err
		}

		if err := db.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&res.Synchronous); err != nil {
			return err
		}

		rows, err := queryRows(ctx, db, "PRAGMA integrity_check", nil, false, false)
		if err != nil {
			return err
		}

		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			for _, v := range row {
				lines = append(lines, fmt.Sprint(v))
			}
		}

		res.Integrity = strings.Join(lines, "\n")

		return nil
	})
	if err != nil {
		return nil, convertError(err)
	}

	return res, nil
}

// Connections returns the number of open tenant databases.
func (r *Registry) Connections() int {
	return r.pool.Len()
}

// Tenants returns a sorted list of tenants with open databases.
func (r *Registry) Tenants() []string {
	return r.pool.List()
}

// prepare validates and classifies a statement, and converts its parameters.
func (r *Registry) prepare(tenantID string, st *Statement) (*sqlfilter.Classification, []any, error) {
	if st == nil || strings.TrimSpace(st.SQL) == "" {
		return nil, nil, newInvalidRequestError("query is required")
	}

	c := r.classifier.Classify(st.SQL)
	if c.Dangerous {
		r.l.Warn(
			"Forbidden statement rejected.",
			zap.String("tenant", tenantID), zap.String("reason", c.Reason), zap.String("query", st.SQL),
		)

		r.statements.WithLabelValues(c.Shape.String(), ErrorCodeForbiddenOperation.String()).Inc()

		return nil, nil, NewError(ErrorCodeForbiddenOperation, c.Err())
	}

	params, err := ConvertParams(st.Params)
	if err != nil {
		return nil, nil, err
	}

	return c, params, nil
}

// enqueue runs f for the tenant's database in the tenant's queue, with statement timeout applied.
func (r *Registry) enqueue(ctx context.Context, tenantID, op string, f func(context.Context, *fsql.DB) error) error {
	return r.queue.Enqueue(ctx, tenantID, func(ctx context.Context) error {
		ctx, span := observability.StartSpan(
			ctx, op,
			trace.WithAttributes(attribute.String("dbproxy.tenant", tenantID)),
		)
		defer span.End()

		db, err := r.pool.Get(ctx, tenantID)
		if err != nil {
			span.RecordError(err)
			return err
		}

		if r.statementTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.statementTimeout)

			defer cancel()
		}

		err = f(ctx, db)

		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.l.Warn(
				"Statement timed out.",
				zap.String("tenant", tenantID), zap.String("op", op),
				zap.Duration("timeout", r.statementTimeout), zap.Error(err),
			)

			err = NewError(ErrorCodeTimeout, fmt.Errorf("%s exceeded statement timeout %s", op, r.statementTimeout))
		}

		if err != nil {
			span.RecordError(err)
		}

		return err
	})
}

// count updates statement metrics.
func (r *Registry) count(c *sqlfilter.Classification, st *Statement, err error) {
	shape := c.Shape
	if st.Shape != nil {
		shape = *st.Shape
	}

	result := "ok"

	if err != nil {
		result = ErrorCodeExecution.String()

		var e *Error

		switch {
		case errors.As(convertError(err), &e):
			result = e.Code().String()
		case IsCanceled(err):
			result = CanceledCode
		}
	}

	r.statements.WithLabelValues(shape.String(), result).Inc()
}

// validateTenant returns ErrorCodeInvalidRequest error for missing or invalid tenant IDs.
func validateTenant(tenantID string) error {
	if tenantID == "" {
		return newInvalidRequestError("tenantId is required")
	}

	if err := pool.ValidateTenantID(tenantID); err != nil {
		return NewError(ErrorCodeInvalidRequest, err)
	}

	return nil
}

// Describe implements prometheus.Collector.
//
// Registry is an unchecked collector, see [pool.Pool.Describe].
func (r *Registry) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.statements.Collect(ch)
	r.classifier.Collect(ch)
	r.queue.Collect(ch)
	r.pool.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Registry)(nil)
)
