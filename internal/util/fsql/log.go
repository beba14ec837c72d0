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

package fsql

import (
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// queryLogger logs statements and their outcomes.
type queryLogger struct {
	l    *zap.Logger
	slow time.Duration
}

// start logs the statement at debug level and returns a function
// that should be called with the outcome.
func (ql *queryLogger) start(query string, args []any) func(res sql.Result, err error) {
	start := time.Now()

	fields := []zap.Field{zap.Any("args", args)}
	ql.l.Debug(">>> "+query, fields...)

	return func(res sql.Result, err error) {
		d := time.Since(start)

		// to differentiate between 0 and nil
		var ra *int64

		if res != nil {
			if rav, e := res.RowsAffected(); e == nil {
				ra = &rav
			}
		}

		fields = append(fields, zap.Int64p("rows", ra), zap.Duration("time", d), zap.Error(err))
		ql.l.Debug("<<< "+query, fields...)

		if ql.slow > 0 && d >= ql.slow {
			ql.l.Warn("Slow statement", append(fields, zap.String("query", query))...)
		}
	}
}
