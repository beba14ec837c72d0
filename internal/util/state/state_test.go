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

package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider(t *testing.T) {
	t.Parallel()

	filename := filepath.Join(t.TempDir(), "state.json")
	p1, err := NewProvider(filename)
	require.NoError(t, err)

	s1 := p1.Get()
	assert.NotZero(t, s1.UUID)
	assert.NotZero(t, s1.Start)

	s2 := p1.Get()
	assert.Equal(t, s1, s2)
	assert.NotSame(t, s1, s2)

	p2, err := NewProvider(filename)
	require.NoError(t, err)

	// the UUID survives restarts
	assert.Equal(t, s1.UUID, p2.Get().UUID)

	require.NoError(t, os.Remove(filename))

	p3, err := NewProvider(filename)
	require.NoError(t, err)
	assert.NotEqual(t, s1.UUID, p3.Get().UUID)

	err = p3.Update(func(s *State) { s.UUID = "invalid" })
	require.NoError(t, err)
	assert.NotEqual(t, "invalid", p3.Get().UUID)
}

func TestProviderNotPersisted(t *testing.T) {
	t.Parallel()

	p, err := NewProvider("")
	require.NoError(t, err)
	assert.NotZero(t, p.Get().UUID)
}

func TestMetricsCollector(t *testing.T) {
	t.Parallel()

	p, err := NewProvider("")
	require.NoError(t, err)

	mc := p.MetricsCollector(true)
	assert.Equal(t, 1, testutil.CollectAndCount(mc, "dbproxy_up"))
	assert.Equal(t, 2, testutil.CollectAndCount(mc))
}
