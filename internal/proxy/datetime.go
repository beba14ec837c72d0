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
	"fmt"
	"strings"

	"github.com/drenlia/easy-kanban-sub014/internal/sqlfilter"
	"github.com/drenlia/easy-kanban-sub014/internal/util/fsql"
	"github.com/drenlia/easy-kanban-sub014/internal/util/lazyerrors"
)

// timeColumns returns indexes of result columns declared as DATE, DATETIME, or TIMESTAMP.
//
// The driver parses text values of such columns into time.Time, losing their original format.
func timeColumns(rows *fsql.Rows) ([]int, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	var res []int

	for i, ct := range types {
		switch strings.ToUpper(ct.DatabaseTypeName()) {
		case "DATE", "DATETIME", "TIMESTAMP":
			res = append(res, i)
		}
	}

	return res, nil
}

// textQuery wraps a read-only query so that the given columns are returned
// as expressions without a declared type, and so reach the caller as stored.
//
// It returns false if the query can't be wrapped.
func textQuery(query string, cols []string, timeCols []int) (string, bool) {
	body, ok := sqlfilter.TrimTerminator(query)
	if !ok || body == "" {
		return "", false
	}

	wrap := make(map[int]struct{}, len(timeCols))
	for _, i := range timeCols {
		wrap[i] = struct{}{}
	}

	names := make([]string, len(cols))
	exprs := make([]string, len(cols))

	for i, col := range cols {
		names[i] = fmt.Sprintf("c%d", i)

		expr := names[i]
		if _, ok := wrap[i]; ok {
			// unary plus does not change the value or its storage class
			expr = "+" + expr
		}

		exprs[i] = expr + " AS " + quoteIdent(col)
	}

	return fmt.Sprintf(
		"WITH _dbproxy_q(%s) AS (\n%s\n) SELECT %s FROM _dbproxy_q",
		strings.Join(names, ", "), body, strings.Join(exprs, ", "),
	), true
}

// quoteIdent quotes SQL identifier.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
