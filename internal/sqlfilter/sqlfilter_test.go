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

package sqlfilter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyShape(t *testing.T) {
	t.Parallel()

	for sql, expected := range map[string]Shape{
		"SELECT v FROM t WHERE id = ?":                     ShapeGet,
		"select count(*) from tasks":                       ShapeGet,
		"SELECT * FROM t WHERE id = ? LIMIT 1":             ShapeGet,
		"SELECT * FROM t LIMIT 1 OFFSET 3":                 ShapeGet,
		"SELECT 1":                                         ShapeGet,
		"SELECT last_insert_rowid()":                       ShapeGet,
		"SELECT (SELECT COUNT(*) FROM a, b) FROM t":        ShapeGet,
		"  -- comment\n  SELECT v FROM t":                  ShapeGet,
		"SELECT * FROM t":                                  ShapeAll,
		"SELECT t.* FROM t":                                ShapeAll,
		"SELECT id, v FROM t WHERE id = ?":                 ShapeAll,
		"SELECT * FROM t LIMIT 10":                         ShapeAll,
		"SELECT * FROM t LIMIT 1, 10":                      ShapeAll,
		"SELECT DISTINCT v FROM t":                         ShapeAll,
		"SELECT board, COUNT(*) FROM t GROUP BY board":     ShapeAll,
		"SELECT v FROM t GROUP BY v":                       ShapeAll,
		"SELECT v FROM a UNION SELECT v FROM b":            ShapeAll,
		"SELECT 'a, b' FROM t":                             ShapeGet,
		"WITH x AS (SELECT 1) SELECT * FROM x":             ShapeAll,
		"PRAGMA table_info(tasks)":                         ShapeAll,
		"INSERT INTO t (id, v) VALUES (?, ?) RETURNING id": ShapeAll,
		"INSERT INTO t (id, v) VALUES (?, ?)":              ShapeRun,
		"UPDATE t SET v = 'SELECT' WHERE id = ?":           ShapeRun,
		"DELETE FROM t":                                    ShapeRun,
		"CREATE TABLE IF NOT EXISTS t (id TEXT)":           ShapeRun,
		"PRAGMA foreign_keys = ON":                         ShapeRun,
		"WITH x AS (SELECT 1) DELETE FROM t":               ShapeRun,
	} {
		assert.Equal(t, expected, Classify(sql).Shape, "%q", sql)
	}
}

func TestClassifyDangerous(t *testing.T) {
	t.Parallel()

	for _, sql := range []string{
		"DROP TABLE t",
		"drop table if exists t",
		"DROP INDEX idx",
		"DROP VIEW v",
		"DROP TRIGGER tr",
		"ALTER TABLE t DROP COLUMN v",
		"alter table t drop v",
		"ATTACH DATABASE 'other.db' AS other",
		"DETACH other",
		"VACUUM",
		"SELECT 1; DROP TABLE t",
		"/* x */ DROP\n\tTABLE t",
		"DROP/**/TABLE t",
	} {
		c := Classify(sql)
		assert.True(t, c.Dangerous, "%q", sql)
		assert.NotEmpty(t, c.Reason, "%q", sql)
		assert.ErrorIs(t, c.Err(), ErrForbidden, "%q", sql)
	}

	for _, sql := range []string{
		"SELECT * FROM attachments",
		"INSERT INTO t (v) VALUES ('DROP TABLE t')",
		"INSERT INTO t (v) VALUES ('it''s; DROP TABLE t')",
		"SELECT * FROM t -- DROP TABLE t",
		`SELECT "vacuum" FROM t`,
		"ALTER TABLE t ADD COLUMN drop_count INTEGER",
		"CREATE INDEX IF NOT EXISTS idx ON t (v)",
		"UPDATE t SET dropped = 1",
	} {
		c := Classify(sql)
		assert.False(t, c.Dangerous, "%q: %s", sql, c.Reason)
		assert.NoError(t, c.Err())
	}
}

func TestClassifySchema(t *testing.T) {
	t.Parallel()

	assert.True(t, Classify("CREATE TABLE t (id TEXT)").Schema)
	assert.True(t, Classify("  alter table t add column v TEXT").Schema)
	assert.False(t, Classify("INSERT INTO t VALUES ('CREATE')").Schema)

	assert.Equal(t, "CREATE", Classify("create index i on t (v)").Keyword)
}

func TestClassifyReadOnly(t *testing.T) {
	t.Parallel()

	for sql, expected := range map[string]bool{
		"SELECT * FROM t":                                                true,
		"WITH x AS (SELECT 1) SELECT * FROM x":                           true,
		"VALUES (1, 2)":                                                  true,
		"WITH x AS (SELECT 1) DELETE FROM t":                             false,
		"INSERT INTO t (id) VALUES (?) RETURNING id":                     false,
		"WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x RETURNING *": false,
		"PRAGMA table_info(t)":                                           false,
		"EXPLAIN SELECT 1":                                               false,
	} {
		assert.Equal(t, expected, Classify(sql).ReadOnly, "%q", sql)
	}
}

func TestTrimTerminator(t *testing.T) {
	t.Parallel()

	for sql, expected := range map[string]string{
		"SELECT 1":                     "SELECT 1",
		"  SELECT 1 ;; \n":             "  SELECT 1",
		"SELECT 1; -- done":            "SELECT 1",
		"SELECT 1 /* a; b */":          "SELECT 1",
		"SELECT ';' FROM t;":           "SELECT ';' FROM t",
		"SELECT \"a;\" FROM t -- x\n;": "SELECT \"a;\" FROM t",
		"SELECT 1 -- comment":          "SELECT 1",
		"":                             "",
	} {
		actual, ok := TrimTerminator(sql)
		assert.True(t, ok, "%q", sql)
		assert.Equal(t, expected, actual, "%q", sql)
	}

	for _, sql := range []string{
		"SELECT 1; SELECT 2",
		"DELETE FROM t; -- x\nSELECT 1",
	} {
		_, ok := TrimTerminator(sql)
		assert.False(t, ok, "%q", sql)
	}
}

func TestIsIdempotentSchemaError(t *testing.T) {
	t.Parallel()

	assert.False(t, IsIdempotentSchemaError(nil))
	assert.True(t, IsIdempotentSchemaError(errors.New("SQL logic error: table t already exists (1)")))
	assert.True(t, IsIdempotentSchemaError(errors.New("SQL logic error: duplicate column name: v (1)")))
	assert.True(t, IsIdempotentSchemaError(errors.New("index idx already exists")))
	assert.False(t, IsIdempotentSchemaError(errors.New("UNIQUE constraint failed: t.id")))
}

func TestShape(t *testing.T) {
	t.Parallel()

	for _, s := range []Shape{ShapeRun, ShapeGet, ShapeAll} {
		b, err := s.MarshalText()
		require.NoError(t, err)

		var actual Shape
		require.NoError(t, actual.UnmarshalText(b))
		assert.Equal(t, s, actual)
	}

	_, err := ParseShape("one")
	assert.EqualError(t, err, `unknown result type "one"`)

	assert.Equal(t, "Shape(42)", Shape(42).String())
}

func TestClassifier(t *testing.T) {
	t.Parallel()

	c, err := NewClassifier(2)
	require.NoError(t, err)

	first := c.Classify("SELECT * FROM t")
	assert.Same(t, first, c.Classify("SELECT * FROM t"))

	c.Classify("SELECT 1")
	c.Classify("SELECT 2")
	assert.Equal(t, 2, c.Len())

	assert.NotSame(t, first, c.Classify("SELECT * FROM t"))
}
