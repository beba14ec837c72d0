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

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	for _, format := range Formats {
		format := format
		t.Run(format, func(t *testing.T) {
			t.Parallel()

			l, err := NewLogger(zap.DebugLevel, format, "test-uuid")
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(zap.DebugLevel))
		})
	}

	_, err := NewLogger(zap.InfoLevel, "xml", "")
	assert.EqualError(t, err, `unknown log format "xml"`)
}
