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

// Package queue serializes operations per tenant.
//
// Operations for the same tenant run one at a time in submission order;
// operations for different tenants run concurrently.
package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drenlia/easy-kanban-sub014/internal/util/observability"
)

// Parts of Prometheus metric names.
const (
	namespace = "dbproxy"
	subsystem = "queue"
)

// Op is a queued operation.
//
// The context passed to Op is not canceled when the submitting caller stops waiting;
// once started, an operation always runs to completion.
type Op func(ctx context.Context) error

// PanicError is returned by Enqueue when the operation panicked.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

// Queue is a set of per-tenant FIFO execution chains.
//
// A chain is created on the first Enqueue for a tenant and removed once it drains.
//
//nolint:vet // for readability
type Queue struct {
	l *zap.Logger

	m     sync.Mutex
	tails map[string]chan struct{} // done channel of the last enqueued operation per tenant
	depth map[string]int

	pending  *prometheus.GaugeVec
	executed *prometheus.CounterVec
	wait     prometheus.Histogram
}

// New creates a new Queue.
func New(l *zap.Logger) *Queue {
	return &Queue{
		l:     l,
		tails: map[string]chan struct{}{},
		depth: map[string]int{},
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pending",
				Help:      "The current number of queued and running operations per tenant.",
			},
			[]string{"tenant"},
		),
		executed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "executed_total",
				Help:      "Total number of executed operations by result.",
			},
			[]string{"result"},
		),
		wait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "wait_seconds",
				Help:      "Time operations spent waiting for their turn.",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
	}
}

// Enqueue appends op to the tenant's chain and waits for its result.
//
// Op starts only after all previously enqueued operations for that tenant completed,
// successfully or not. If ctx is canceled before op completes,
// Enqueue returns ctx.Err() immediately, but op still runs in its turn
// and the next operation waits for it.
func (q *Queue) Enqueue(ctx context.Context, tenantID string, op Op) error {
	defer observability.Region(ctx, "queue.Enqueue")()

	done := make(chan struct{})
	res := make(chan error, 1)

	q.m.Lock()
	prev := q.tails[tenantID]
	q.tails[tenantID] = done
	q.depth[tenantID]++
	q.pending.WithLabelValues(tenantID).Set(float64(q.depth[tenantID]))
	q.m.Unlock()

	opCtx := context.WithoutCancel(ctx)
	enqueued := time.Now()

	go func() {
		defer q.release(tenantID, done)

		if prev != nil {
			<-prev
		}

		q.wait.Observe(time.Since(enqueued).Seconds())

		res <- q.run(opCtx, op)
	}()

	select {
	case <-ctx.Done():
		q.l.Debug("Caller stopped waiting for queued operation.", zap.String("tenant", tenantID), zap.Error(ctx.Err()))
		return ctx.Err()
	case err := <-res:
		return err
	}
}

// run calls op, converting panics to errors.
func (q *Queue) run(ctx context.Context, op Op) (err error) {
	defer func() {
		if p := recover(); p != nil {
			stack := debug.Stack()
			q.l.Error("Queued operation panicked.", zap.Any("panic", p), zap.ByteString("stack", stack))

			err = &PanicError{Value: p, Stack: stack}
		}

		result := "ok"
		if err != nil {
			result = "error"
		}

		q.executed.WithLabelValues(result).Inc()
	}()

	return op(ctx)
}

// release marks the operation as done, letting the next one start,
// and removes the tenant's chain if it drained.
func (q *Queue) release(tenantID string, done chan struct{}) {
	q.m.Lock()
	defer q.m.Unlock()

	close(done)

	q.depth[tenantID]--

	if q.tails[tenantID] == done {
		delete(q.tails, tenantID)
		delete(q.depth, tenantID)
		q.pending.DeleteLabelValues(tenantID)

		return
	}

	q.pending.WithLabelValues(tenantID).Set(float64(q.depth[tenantID]))
}

// Len returns the number of tenants with queued or running operations.
func (q *Queue) Len() int {
	q.m.Lock()
	defer q.m.Unlock()

	return len(q.tails)
}

// Pending returns the number of queued and running operations for the given tenant.
func (q *Queue) Pending(tenantID string) int {
	q.m.Lock()
	defer q.m.Unlock()

	return q.depth[tenantID]
}

// Describe implements prometheus.Collector.
func (q *Queue) Describe(ch chan<- *prometheus.Desc) {
	q.pending.Describe(ch)
	q.executed.Describe(ch)
	q.wait.Describe(ch)
}

// Collect implements prometheus.Collector.
func (q *Queue) Collect(ch chan<- prometheus.Metric) {
	q.pending.Collect(ch)
	q.executed.Collect(ch)
	q.wait.Collect(ch)
}

// check interfaces
var (
	_ error                = (*PanicError)(nil)
	_ prometheus.Collector = (*Queue)(nil)
)
