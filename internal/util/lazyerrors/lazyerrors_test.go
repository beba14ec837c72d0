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


package lazyerrors

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrors(t *testing.T) {
	t.Parallel()

	err := New("err")
	err1 := Errorf("err1: %w", err)
	err2 := Error(err1)

	assert.Regexp(t, `^\[lazyerrors_test\.go:\d+ lazyerrors\.TestErrors\] err$`, err.Error())
	assert.True(t, strings.HasSuffix(err1.Error(), "err1: "+err.Error()))
	assert.True(t, strings.HasSuffix(err2.Error(), err1.Error()))

	assert.ErrorIs(t, err2, err1)
	assert.ErrorIs(t, err2, err)
}

func TestErrorNil(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { _ = Error(nil) })
}

func TestUnwrapAll(t *testing.T) {
	t.Parallel()

	assert.Nil(t, UnwrapAll(nil))

	err := Errorf("read: %w", Error(io.EOF))
	require.NotEqual(t, io.EOF, err)
	assert.Equal(t, io.EOF, UnwrapAll(err))
	assert.True(t, errors.Is(err, io.EOF))
}
