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

package observability

import (
	"context"
	"runtime/pprof"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupOtelDisabled(t *testing.T) {
	t.Parallel()

	shutdown, err := SetupOtel("dbproxy", "")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan(t *testing.T) {
	t.Parallel()

	ctx, span := StartSpan(context.Background(), "test")
	defer span.End()

	require.NotNil(t, ctx)

	func() {
		defer Region(ctx, "test.region")()
	}()
}

//nolint:paralleltest // counts all regions of the process
func TestRegion(t *testing.T) {
	end := Region(context.Background(), "test.region")

	p := pprof.Lookup("dbproxy/observability.region")
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Count())

	end()
	assert.Equal(t, 0, p.Count())
}
