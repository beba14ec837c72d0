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
	"fmt"
	"strings"
)

// Shape is an expected statement result shape.
type Shape int

// Result shapes.
const (
	// ShapeRun is a mutation result with the number of changes and the last inserted row ID.
	ShapeRun Shape = iota

	// ShapeGet is a single optional row.
	ShapeGet

	// ShapeAll is a list of rows.
	ShapeAll
)

// String implements fmt.Stringer.
func (s Shape) String() string {
	switch s {
	case ShapeRun:
		return "run"
	case ShapeGet:
		return "get"
	case ShapeAll:
		return "all"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// ParseShape parses a shape name as returned by [Shape.String].
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(s) {
	case "run":
		return ShapeRun, nil
	case "get":
		return ShapeGet, nil
	case "all":
		return ShapeAll, nil
	default:
		return 0, fmt.Errorf("unknown result type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Shape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Shape) UnmarshalText(b []byte) error {
	v, err := ParseShape(string(b))
	if err != nil {
		return err
	}

	*s = v

	return nil
}
