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

// Package client provides a tenant database proxy client.
//
// It mimics a local prepared statement API (prepare, then get, all, or run),
// but every call is a request to the proxy that is executed in the tenant's queue.
// Calls block until the proxy responds; use the Async variants to get a [Future].
//
// A request that failed with [*TransportError] may have been executed by the proxy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/drenlia/easy-kanban-sub014/build/version"
)

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 60 * time.Second

// ErrClosed is returned by all methods after Close.
var ErrClosed = errors.New("client is closed")

// Client is a client for a single tenant.
//
// It is safe for concurrent use.
type Client struct {
	base     *url.URL
	tenantID string
	http     *http.Client
	explicit bool
	l        *zap.Logger

	closed atomic.Bool
}

// NewOpts represents [New] options.
type NewOpts struct {
	// BaseURL is the proxy URL, like http://dbproxy:3001.
	BaseURL string

	// TenantID identifies the tenant database.
	TenantID string

	// HTTPClient is used for requests; a client with DefaultTimeout is used if nil.
	HTTPClient *http.Client

	// InferShapes makes the proxy infer result shapes from SQL text.
	// By default, the client sends the shape expected by the called method.
	InferShapes bool

	// L is used for debug logging; no logging if nil.
	L *zap.Logger
}

// New creates a new Client.
func New(opts *NewOpts) (*Client, error) {
	if opts == nil || opts.BaseURL == "" {
		return nil, errors.New("client.New: BaseURL is required")
	}

	if opts.TenantID == "" {
		return nil, errors.New("client.New: TenantID is required")
	}

	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client.New: %w", err)
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("client.New: unsupported scheme %q", base.Scheme)
	}

	c := &Client{
		base:     base,
		tenantID: opts.TenantID,
		http:     opts.HTTPClient,
		explicit: !opts.InferShapes,
		l:        opts.L,
	}

	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}

	if c.l == nil {
		c.l = zap.NewNop()
	}

	return c, nil
}

// TenantID returns the client's tenant ID.
func (c *Client) TenantID() string {
	return c.tenantID
}

// Prepare returns a statement for the given SQL text.
//
// Nothing is sent to the proxy until the statement is executed.
func (c *Client) Prepare(sql string) *Stmt {
	return &Stmt{c: c, sql: sql}
}

// Exec executes statements one by one, stopping at the first error.
//
// Statements are independent: they are not executed atomically.
// Use [Client.Transaction] when atomicity is required.
func (c *Client) Exec(ctx context.Context, sqls ...string) error {
	for i, sql := range sqls {
		if _, err := c.query(ctx, sql, nil, ""); err != nil {
			if len(sqls) > 1 {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}

			return err
		}
	}

	return nil
}

// Transaction executes statements atomically in a single request.
//
// Either all statements succeed and their results are returned in order,
// or none of their effects persist.
func (c *Client) Transaction(ctx context.Context, sts []Statement) ([]*Result, error) {
	req := transactionRequest{
		TenantID: c.tenantID,
		Queries:  make([]statementRequest, len(sts)),
	}

	for i, st := range sts {
		req.Queries[i] = statementRequest{
			Query:  st.SQL,
			Params: params(st.Params),
			Type:   st.Type,
		}
	}

	var res transactionResponse
	if err := c.do(ctx, http.MethodPost, "/transaction", &req, &res); err != nil {
		return nil, err
	}

	results := make([]*Result, len(res.Results))

	for i, r := range res.Results {
		var err error
		if results[i], err = r.decode(); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// Info returns diagnostic information about the tenant database.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	var res Info
	if err := c.do(ctx, http.MethodGet, "/info/"+url.PathEscape(c.tenantID), nil, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// Health returns the proxy health status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var res Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// Close marks the client as closed; it does not affect the proxy.
//
// All later calls return ErrClosed.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

// query executes a single statement.
func (c *Client) query(ctx context.Context, sql string, args []any, shape string) (*Result, error) {
	req := queryRequest{
		TenantID: c.tenantID,
		Query:    sql,
		Params:   params(args),
	}

	if c.explicit {
		req.Type = shape
	}

	var res resultResponse
	if err := c.do(ctx, http.MethodPost, "/query", &req, &res); err != nil {
		return nil, err
	}

	return res.decode()
}

// do sends a request with JSON body (if not nil) and decodes JSON response into res.
func (c *Client) do(ctx context.Context, method, path string, body, res any) error {
	if c.closed.Load() {
		return ErrClosed
	}

	var r io.Reader

	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: failed to encode request: %w", err)
		}

		r = bytes.NewReader(b)
	}

	u := c.base.JoinPath(path)

	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dbproxy-client/"+version.Get().Version)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Method: method, Path: path, err: err}
	}

	defer resp.Body.Close() //nolint:errcheck // we are only reading it

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Method: method, Path: path, err: err}
	}

	c.l.Debug(
		"Proxy request",
		zap.String("method", method), zap.String("path", path), zap.String("tenant", c.tenantID),
		zap.Int("status", resp.StatusCode), zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		return newError(resp.StatusCode, b)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	if err = dec.Decode(res); err != nil {
		return &TransportError{Method: method, Path: path, err: fmt.Errorf("invalid response: %w", err)}
	}

	return nil
}

// params returns non-nil params for encoding.
func params(args []any) []any {
	if args == nil {
		return []any{}
	}

	return args
}
