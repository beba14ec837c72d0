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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tu "github.com/drenlia/easy-kanban-sub014/internal/util/testutil"
)

func TestDateTimeText(t *testing.T) {
	t.Parallel()

	r := setup(t, 0)
	tenantID := tu.TenantID(t)
	ctx := tu.Ctx(t)

	exec(t, r, tenantID, "CREATE TABLE t (id TEXT PRIMARY KEY, created_at DATETIME, d DATE, ts TIMESTAMP)")

	stored := []Row{
		{"id": "1", "created_at": "2024-01-15T10:30:00.123Z", "d": "2024-01-15", "ts": "2024-01-15 10:30:00"},
		{"id": "2", "created_at": "2024-01-15 10:30:00.123456", "d": "not a date", "ts": nil},
		{"id": "3", "created_at": int64(1705314600), "d": nil, "ts": "2024-01-15T10:30"},
	}

	for _, row := range stored {
		exec(t, r, tenantID, "INSERT INTO t (id, created_at, d, ts) VALUES (?, ?, ?, ?)", row["id"], row["created_at"], row["d"], row["ts"])
	}

	assert.Equal(t, Row{"ty": "text"}, exec(t, r, tenantID, "SELECT typeof(created_at) AS ty FROM t WHERE id = ?", "1").Row)

	t.Run("All", func(t *testing.T) {
		t.Parallel()

		res := exec(t, r, tenantID, "SELECT id, created_at, d, ts FROM t ORDER BY id")
		assert.Equal(t, stored, res.Rows)
	})

	t.Run("Get", func(t *testing.T) {
		t.Parallel()

		res := exec(t, r, tenantID, "SELECT created_at FROM t WHERE id = ?;", "2")
		assert.Equal(t, Row{"created_at": "2024-01-15 10:30:00.123456"}, res.Row)

		res = exec(t, r, tenantID, "SELECT d FROM t WHERE id = '1' -- date only")
		assert.Equal(t, Row{"d": "2024-01-15"}, res.Row)
	})

	t.Run("With", func(t *testing.T) {
		t.Parallel()

		res := exec(t, r, tenantID, "WITH x AS (SELECT * FROM t WHERE id = ?) SELECT id, created_at FROM x", "1")
		assert.Equal(t, []Row{{"id": "1", "created_at": "2024-01-15T10:30:00.123Z"}}, res.Rows)
	})

	t.Run("Transaction", func(t *testing.T) {
		t.Parallel()

		res, err := r.Transaction(ctx, tenantID, []*Statement{
			{SQL: "SELECT created_at FROM t WHERE id = ?", Params: []any{"1"}},
			{SQL: "SELECT d FROM t WHERE id = ?", Params: []any{"1"}},
		})
		require.NoError(t, err)
		require.Len(t, res, 2)

		assert.Equal(t, Row{"created_at": "2024-01-15T10:30:00.123Z"}, res[0].Row)
		assert.Equal(t, Row{"d": "2024-01-15"}, res[1].Row)
	})
}

func TestTextQuery(t *testing.T) {
	t.Parallel()

	q, ok := textQuery("SELECT id, created_at AS \"a\"\"b\" FROM t;  -- comment", []string{"id", `a"b`}, []int{1})
	require.True(t, ok)

	expected := "WITH _dbproxy_q(c0, c1) AS (\n" +
		"SELECT id, created_at AS \"a\"\"b\" FROM t\n" +
		") SELECT c0 AS \"id\", +c1 AS \"a\"\"b\" FROM _dbproxy_q"
	assert.Equal(t, expected, q)

	_, ok = textQuery("SELECT created_at FROM t; SELECT 1", []string{"created_at"}, []int{0})
	assert.False(t, ok)
}
