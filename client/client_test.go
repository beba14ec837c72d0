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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drenlia/easy-kanban-sub014/internal/util/testutil"
)

// stub is a fake proxy that returns canned responses and records requests.
type stub struct {
	m        sync.Mutex
	requests []map[string]any
	status   int
	body     string
}

func (s *stub) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var req map[string]any
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req == nil {
		req = map[string]any{}
	}

	s.m.Lock()
	req["_path"] = r.URL.Path
	s.requests = append(s.requests, req)
	status, body := s.status, s.body
	s.m.Unlock()

	if status == 0 {
		status = http.StatusOK
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_, _ = rw.Write([]byte(body))
}

func (s *stub) respond(status int, body string) {
	s.m.Lock()
	defer s.m.Unlock()

	s.status, s.body = status, body
}

func (s *stub) last() map[string]any {
	s.m.Lock()
	defer s.m.Unlock()

	return s.requests[len(s.requests)-1]
}

// setupStub returns a client connected to a stub proxy.
func setupStub(t *testing.T, infer bool) (*Client, *stub) {
	t.Helper()

	s := new(stub)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	c, err := New(&NewOpts{
		BaseURL:     srv.URL + "/",
		TenantID:    "acme",
		InferShapes: infer,
		L:           testutil.Logger(t),
	})
	require.NoError(t, err)

	return c, s
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(&NewOpts{TenantID: "acme"})
	assert.Error(t, err)

	_, err = New(&NewOpts{BaseURL: "http://localhost:3001"})
	assert.Error(t, err)

	_, err = New(&NewOpts{BaseURL: "ftp://localhost", TenantID: "acme"})
	assert.Error(t, err)

	c, err := New(&NewOpts{BaseURL: "http://localhost:3001", TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme", c.TenantID())
}

func TestShapeAdaptation(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	c, s := setupStub(t, true)
	stmt := c.Prepare("SELECT v FROM t")

	t.Run("AllAsGet", func(t *testing.T) {
		s.respond(http.StatusOK, `{"type":"all","result":[{"v":"a","n":1},{"v":"b","n":2}]}`)

		row, err := stmt.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, Row{"v": "a", "n": int64(1)}, row)

		s.respond(http.StatusOK, `{"type":"all","result":[]}`)

		row, err = stmt.Get(ctx)
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("GetAsAll", func(t *testing.T) {
		s.respond(http.StatusOK, `{"type":"get","result":{"v":"a","f":1.5}}`)

		rows, err := stmt.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Row{{"v": "a", "f": 1.5}}, rows)

		s.respond(http.StatusOK, `{"type":"get","result":null}`)

		rows, err = stmt.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Row{}, rows)
	})

	t.Run("RowsAsRun", func(t *testing.T) {
		s.respond(http.StatusOK, `{"type":"all","result":[{"v":"a"}]}`)

		res, err := stmt.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, &RunResult{}, res)
	})

	t.Run("Run", func(t *testing.T) {
		s.respond(http.StatusOK, `{"type":"run","result":{"changes":2,"lastInsertRowid":9007199254740993}}`)

		res, err := c.Prepare("UPDATE t SET v = ?").Run(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, &RunResult{Changes: 2, LastInsertRowid: 9007199254740993}, res)

		req := s.last()
		assert.Equal(t, "/query", req["_path"])
		assert.Equal(t, "acme", req["tenantId"])
		assert.Equal(t, "UPDATE t SET v = ?", req["query"])
		assert.Equal(t, []any{"x"}, req["params"])
		assert.NotContains(t, req, "type")
	})
}

func TestExplicitShapes(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	c, s := setupStub(t, false)

	s.respond(http.StatusOK, `{"type":"all","result":[]}`)

	_, err := c.Prepare("SELECT t.title FROM tasks t").All(ctx)
	require.NoError(t, err)
	assert.Equal(t, "all", s.last()["type"])

	_, err = c.Prepare("SELECT v FROM t").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "get", s.last()["type"])

	s.respond(http.StatusOK, `{"type":"run","result":{"changes":0,"lastInsertRowid":0}}`)

	_, err = c.Prepare("UPDATE t SET v = 1").Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run", s.last()["type"])

	s.respond(http.StatusOK, `{"results":[{"type":"all","result":[]},{"type":"run","result":{"changes":0,"lastInsertRowid":0}}]}`)

	_, err = c.Transaction(ctx, []Statement{
		{SQL: "SELECT t.title FROM tasks t", Type: ShapeAll},
		{SQL: "UPDATE t SET v = 1"},
	})
	require.NoError(t, err)

	queries := s.last()["queries"].([]any)
	require.Len(t, queries, 2)
	assert.Equal(t, "all", queries[0].(map[string]any)["type"])
	assert.NotContains(t, queries[1], "type")
}

func TestErrors(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	c, s := setupStub(t, true)

	s.respond(http.StatusForbidden, `{"error":"forbidden operation: object removal","code":"FORBIDDEN_OPERATION"}`)

	_, err := c.Prepare("DROP TABLE t").Run(ctx)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusForbidden, e.Status)
	assert.True(t, e.IsForbidden())
	assert.EqualError(t, err, "dbproxy: FORBIDDEN_OPERATION: forbidden operation: object removal")

	s.respond(http.StatusBadGateway, `upstream failed`)

	_, err = c.Prepare("SELECT 1").Get(ctx)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, &Error{Status: http.StatusBadGateway, Message: "upstream failed"}, e)

	s.respond(http.StatusOK, `not json`)

	_, err = c.Prepare("SELECT 1").Get(ctx)

	var te *TransportError
	assert.ErrorAs(t, err, &te)

	require.NoError(t, c.Close())

	_, err = c.Prepare("SELECT 1").Get(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := New(&NewOpts{BaseURL: srv.URL, TenantID: "acme"})
	require.NoError(t, err)

	_, err = c.Prepare("SELECT 1").Get(testutil.Ctx(t))

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "/query", te.Path)
	assert.NotNil(t, errors.Unwrap(te))
}

func TestFuture(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	c, s := setupStub(t, true)

	s.respond(http.StatusOK, `{"type":"get","result":{"v":"x"}}`)

	fut := c.Prepare("SELECT v FROM t").GetAsync(ctx)

	select {
	case <-fut.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future is not done")
	}

	row, err := fut.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, Row{"v": "x"}, row)

	// Wait does not block when canceled
	blocked := &Future[Row]{done: make(chan struct{})}

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	_, err = blocked.Wait(canceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecAndTransaction(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	c, s := setupStub(t, true)

	s.respond(http.StatusOK, `{"type":"run","result":{"changes":0,"lastInsertRowid":0}}`)

	require.NoError(t, c.Exec(ctx, "CREATE TABLE a (id TEXT)", "CREATE TABLE b (id TEXT)"))
	assert.Len(t, s.requests, 2)

	s.respond(http.StatusOK, `{"results":[
		{"type":"run","result":{"changes":1,"lastInsertRowid":1}},
		{"type":"get","result":{"id":"1"}}
	]}`)

	res, err := c.Transaction(ctx, []Statement{
		{SQL: "INSERT INTO a (id) VALUES (?)", Params: []any{"1"}},
		{SQL: "SELECT id FROM a WHERE id = ?", Params: []any{"1"}},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, &RunResult{Changes: 1, LastInsertRowid: 1}, res[0].Run)
	assert.Equal(t, Row{"id": "1"}, res[1].Row)

	req := s.last()
	assert.Equal(t, "/transaction", req["_path"])
	assert.Len(t, req["queries"], 2)
}
