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
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// ConvertParams converts decoded JSON values to SQLite bind parameters.
//
// Values are expected to be decoded with [json.Decoder.UseNumber].
// Integral numbers become int64, other numbers become float64, booleans become 1 and 0.
// Strings and nulls are passed as is; arrays and objects are rejected.
func ConvertParams(params []any) ([]any, error) {
	res := make([]any, len(params))

	for i, p := range params {
		v, err := convertParam(p)
		if err != nil {
			return nil, newInvalidRequestError("parameter %d: %s", i+1, err)
		}

		res[i] = v
	}

	return res, nil
}

// convertParam converts a single parameter.
func convertParam(p any) (any, error) {
	switch p := p.(type) {
	case nil, string, int64, float64, []byte:
		return p, nil

	case json.Number:
		s := p.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := p.Int64(); err == nil {
				return i, nil
			}
		}

		f, err := p.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", s)
		}

		return f, nil

	case bool:
		if p {
			return int64(1), nil
		}

		return int64(0), nil

	case int:
		return int64(p), nil

	case float32:
		return float64(p), nil

	default:
		return nil, fmt.Errorf("unsupported type %T", p)
	}
}

// convertValue converts a value scanned from SQLite to a JSON-friendly value.
func convertValue(v any) any {
	switch v := v.(type) {
	case time.Time:
		// only for statements that can't be executed again, see openRows
		return formatTime(v)

	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}

		return v

	default:
		return v
	}
}

// formatTime formats t the way SQLite date and time functions do.
func formatTime(t time.Time) string {
	layout := "2006-01-02 15:04:05"

	if t.Nanosecond() != 0 {
		layout += ".000"
	}

	if _, offset := t.Zone(); offset != 0 {
		layout += "-07:00"
	}

	return t.Format(layout)
}
