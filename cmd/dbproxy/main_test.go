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

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAddr(t *testing.T) {
	for name, tc := range map[string]struct {
		addr     string
		port     int
		expected string
		err      string
	}{
		"NoPort": {
			addr:     ":3001",
			expected: ":3001",
		},
		"PortOnly": {
			addr:     ":3001",
			port:     8080,
			expected: ":8080",
		},
		"Host": {
			addr:     "127.0.0.1:3001",
			port:     8080,
			expected: "127.0.0.1:8080",
		},
		"InvalidPort": {
			addr: ":3001",
			port: 70000,
			err:  "invalid port 70000",
		},
		"InvalidAddr": {
			addr: "localhost",
			port: 8080,
			err:  `invalid listen address "localhost": address localhost: missing port in address`,
		},
	} {
		t.Run(name, func(t *testing.T) {
			actual, err := listenAddr(tc.addr, tc.port)
			if tc.err != "" {
				assert.EqualError(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

// Tests below change global cli flags and must not be parallel.

func TestSlowThreshold(t *testing.T) {
	t.Cleanup(func() {
		cli.Log.SlowQueries = false
		cli.Log.SlowQueryThreshold = 0
	})

	cli.Log.SlowQueryThreshold = 100 * time.Millisecond

	cli.Log.SlowQueries = false
	assert.Zero(t, slowThreshold())

	cli.Log.SlowQueries = true
	assert.Equal(t, 100*time.Millisecond, slowThreshold())
}

func TestLogLevel(t *testing.T) {
	t.Cleanup(func() {
		cli.Verbose = false
		cli.Log.Level = ""
	})

	cli.Log.Level = "warn"

	level, err := logLevel()
	require.NoError(t, err)
	assert.Equal(t, "warn", level.String())

	cli.Verbose = true

	level, err = logLevel()
	require.NoError(t, err)
	assert.Equal(t, "debug", level.String())

	cli.Verbose = false
	cli.Log.Level = "loud"

	_, err = logLevel()
	assert.Error(t, err)
}
