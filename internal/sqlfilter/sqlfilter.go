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

// Package sqlfilter classifies SQL statement text.
//
// Classification is purely textual: it infers the expected result shape
// and detects destructive statements that must never be executed.
package sqlfilter

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// ErrForbidden is returned for statements that match the danger filter.
var ErrForbidden = errors.New("forbidden operation")

// Classification describes a single statement.
type Classification struct {
	// Shape is the inferred result shape.
	Shape Shape

	// Keyword is the first keyword of the statement, uppercased.
	Keyword string

	// Dangerous is true if the statement must not be executed.
	Dangerous bool

	// Reason describes which rule matched for dangerous statements.
	Reason string

	// Schema is true for statements that create or modify schema.
	Schema bool

	// ReadOnly is true for statements that only read data and may be safely executed again.
	ReadOnly bool
}

// Err returns an error wrapping ErrForbidden for dangerous statements, nil otherwise.
func (c *Classification) Err() error {
	if !c.Dangerous {
		return nil
	}

	return &ForbiddenError{Reason: c.Reason}
}

// ForbiddenError describes a rejected statement.
type ForbiddenError struct {
	Reason string
}

// Error implements error interface.
func (e *ForbiddenError) Error() string {
	return "forbidden operation: " + e.Reason
}

// Is makes errors.Is(err, ErrForbidden) work.
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// dangerRule matches a destructive statement.
type dangerRule struct {
	re     *regexp.Regexp
	reason string
}

// dangerRules are checked against statement text without comments and literals.
var dangerRules = []dangerRule{
	{regexp.MustCompile(`(?i)\bDROP\s+(TABLE|INDEX|VIEW|TRIGGER)\b`), "object removal"},
	{regexp.MustCompile(`(?i)\bALTER\s+TABLE\b[^;]*\bDROP\b`), "column removal"},
	{regexp.MustCompile(`(?i)\bATTACH\b`), "attaching a database"},
	{regexp.MustCompile(`(?i)\bDETACH\b`), "detaching a database"},
	{regexp.MustCompile(`(?i)\bVACUUM\b`), "storage compaction"},
}

var (
	// limitOneRE matches LIMIT 1, but not LIMIT 1, n (offset 1).
	limitOneRE  = regexp.MustCompile(`\bLIMIT\s+1\b(\s*$|\s*;|\s+OFFSET\b|\s*\))`)
	groupByRE   = regexp.MustCompile(`\bGROUP\s+BY\b`)
	compoundRE  = regexp.MustCompile(`\b(UNION|INTERSECT|EXCEPT)\b`)
	writeRE     = regexp.MustCompile(`\b(INSERT|UPDATE|DELETE|REPLACE)\b`)
	returningRE = regexp.MustCompile(`\bRETURNING\b`)
)

// Classify classifies the given statement text.
func Classify(sql string) *Classification {
	text := strings.TrimSpace(sanitize(sql))
	upper := strings.ToUpper(text)

	c := &Classification{
		Shape:   ShapeRun,
		Keyword: firstKeyword(upper),
	}

	for _, r := range dangerRules {
		if r.re.MatchString(text) {
			c.Dangerous = true
			c.Reason = r.reason

			break
		}
	}

	switch c.Keyword {
	case "SELECT":
		c.Shape = selectShape(upper)
		c.ReadOnly = true

	case "WITH":
		if !writeRE.MatchString(upper) {
			c.Shape = ShapeAll
			c.ReadOnly = true
		} else if returningRE.MatchString(upper) {
			c.Shape = ShapeAll
		}

	case "PRAGMA":
		// PRAGMA name = value sets a value, PRAGMA name and PRAGMA name(arg) return rows
		if !strings.Contains(upper, "=") {
			c.Shape = ShapeAll
		}

	case "EXPLAIN":
		c.Shape = ShapeAll

	case "VALUES":
		c.Shape = ShapeAll
		c.ReadOnly = true

	case "INSERT", "UPDATE", "DELETE", "REPLACE":
		if returningRE.MatchString(upper) {
			c.Shape = ShapeAll
		}

	case "CREATE", "ALTER":
		c.Schema = true
	}

	return c
}

// selectShape infers the result shape of a SELECT statement.
func selectShape(upper string) Shape {
	if compoundRE.MatchString(upper) {
		return ShapeAll
	}

	if limitOneRE.MatchString(upper) {
		return ShapeGet
	}

	cols := projection(upper)
	if len(cols) != 1 {
		return ShapeAll
	}

	col := cols[0]
	if col == "*" || strings.HasSuffix(col, ".*") || strings.HasPrefix(col, "DISTINCT") {
		return ShapeAll
	}

	if groupByRE.MatchString(upper) {
		return ShapeAll
	}

	return ShapeGet
}

// projection returns top-level result columns of a SELECT statement.
func projection(upper string) []string {
	s := strings.TrimLeft(upper, "(")
	s = strings.TrimSpace(strings.TrimPrefix(s, "SELECT"))
	s = strings.TrimSpace(strings.TrimPrefix(s, "ALL "))

	var (
		res   []string
		depth int
		start int
	)

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
			continue
		case ')':
			depth--
			continue
		}

		if depth != 0 {
			continue
		}

		switch {
		case s[i] == ',':
			res = append(res, strings.TrimSpace(s[start:i]))
			start = i + 1

		case s[i] == ';':
			return append(res, strings.TrimSpace(s[start:i]))

		case isKeywordAt(s, i, "FROM"):
			return append(res, strings.TrimSpace(s[start:i]))
		}
	}

	return append(res, strings.TrimSpace(s[start:]))
}

// isKeywordAt returns true if the word kw starts at position i of s.
func isKeywordAt(s string, i int, kw string) bool {
	if !strings.HasPrefix(s[i:], kw) {
		return false
	}

	if i > 0 && isWordByte(s[i-1]) {
		return false
	}

	if end := i + len(kw); end < len(s) && isWordByte(s[end]) {
		return false
	}

	return true
}

// firstKeyword returns the first word of the uppercased statement.
func firstKeyword(upper string) string {
	s := strings.TrimLeft(upper, "( \t\r\n")

	end := strings.IndexFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || r == '_')
	})
	if end < 0 {
		return s
	}

	return s[:end]
}

// isWordByte returns true for ASCII identifier characters.
func isWordByte(b byte) bool {
	return b == '_' || b == '$' || ('0' <= b && b <= '9') || ('A' <= b && b <= 'Z') || ('a' <= b && b <= 'z')
}

// sanitize replaces comments with a single space, and string literals and quoted identifiers with "?",
// so that their content is never mistaken for keywords.
func sanitize(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	for i := 0; i < len(sql); i++ {
		ch := sql[i]

		switch {
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				i = len(sql)
			} else {
				i += end
			}

			b.WriteByte(' ')

		case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += 2 + end + 1
			}

			b.WriteByte(' ')

		case ch == '\'' || ch == '"' || ch == '`' || ch == '[':
			closing := ch
			if ch == '[' {
				closing = ']'
			}

			i = skipQuoted(sql, i+1, closing)
			b.WriteByte('?')

		default:
			b.WriteByte(ch)
		}
	}

	return b.String()
}

// TrimTerminator returns a single statement without trailing semicolons, comments, and spaces.
//
// It returns false if sql contains more than one statement.
func TrimTerminator(sql string) (string, bool) {
	var end int
	var terminated bool

	for i := 0; i < len(sql); i++ {
		ch := sql[i]

		switch {
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			next := strings.IndexByte(sql[i:], '\n')
			if next < 0 {
				i = len(sql)
			} else {
				i += next
			}

		case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			next := strings.Index(sql[i+2:], "*/")
			if next < 0 {
				i = len(sql)
			} else {
				i += 2 + next + 1
			}

		case ch == ';':
			terminated = true

		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f':

		default:
			if terminated {
				return "", false
			}

			if ch == '\'' || ch == '"' || ch == '`' || ch == '[' {
				closing := ch
				if ch == '[' {
					closing = ']'
				}

				i = skipQuoted(sql, i+1, closing)
			}

			end = min(i+1, len(sql))
		}
	}

	return sql[:end], true
}

// skipQuoted returns the index of the closing quote, treating doubled quotes as escapes.
func skipQuoted(sql string, i int, closing byte) int {
	for ; i < len(sql); i++ {
		if sql[i] != closing {
			continue
		}

		if closing != ']' && i+1 < len(sql) && sql[i+1] == closing {
			i++
			continue
		}

		return i
	}

	return len(sql)
}

// IsIdempotentSchemaError returns true if err indicates that a schema object already exists.
//
// Such errors from CREATE and ALTER statements are treated as successful no-ops.
func IsIdempotentSchemaError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
