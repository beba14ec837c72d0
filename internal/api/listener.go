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

// Package api provides proxy HTTP API listener.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/drenlia/easy-kanban-sub014/internal/api/server"
	"github.com/drenlia/easy-kanban-sub014/internal/proxy"
	"github.com/drenlia/easy-kanban-sub014/internal/util/lazyerrors"
	"github.com/drenlia/easy-kanban-sub014/internal/util/must"
)

// DefaultShutdownTimeout is the default time given to in-flight requests on shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Listener represents API listener.
type Listener struct {
	opts *ListenOpts
	lis  net.Listener
	srv  *server.Server
}

// ListenOpts represents [Listen] options.
type ListenOpts struct {
	L        *zap.Logger
	Registry *proxy.Registry
	Metrics  *server.Metrics
	TCPAddr  string

	// ShutdownTimeout is DefaultShutdownTimeout if zero.
	ShutdownTimeout time.Duration
}

// Listen creates a new API server and starts listener on the given TCP address.
func Listen(opts *ListenOpts) (*Listener, error) {
	lis, err := net.Listen("tcp", opts.TCPAddr)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	return &Listener{
		opts: opts,
		lis:  lis,
		srv: server.New(&server.NewOpts{
			L:        opts.L,
			Registry: opts.Registry,
			Metrics:  opts.Metrics,
		}),
	}, nil
}

// Addr returns listener's address.
func (lis *Listener) Addr() net.Addr {
	return lis.lis.Addr()
}

// Run runs API server until ctx is canceled.
//
// Then it stops accepting new requests and waits for in-flight ones,
// but not longer than the shutdown timeout.
func (lis *Listener) Run(ctx context.Context) {
	srv := &http.Server{
		Handler:           lis.srv.Handler(),
		ErrorLog:          must.NotFail(zap.NewStdLogAt(lis.opts.L, zap.WarnLevel)),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			// in-flight requests should not be canceled when shutdown starts
			return context.WithoutCancel(ctx)
		},
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		lis.opts.L.Sugar().Infof("Listening on http://%s ...", lis.Addr())

		if err := srv.Serve(lis.lis); !errors.Is(err, http.ErrServerClosed) {
			lis.opts.L.DPanic("Serve exited with unexpected error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), lis.opts.ShutdownTimeout)
	defer stopCancel()

	if err := srv.Shutdown(stopCtx); err != nil {
		lis.opts.L.Warn("Graceful shutdown failed, closing.", zap.Error(err))
		_ = srv.Close()
	}

	<-done

	lis.opts.L.Info("API server stopped.")
}
