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

// Package testutil provides testing helpers.
package testutil

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/drenlia/easy-kanban-sub014/internal/util/ctxutil"
	"github.com/drenlia/easy-kanban-sub014/internal/util/observability"
)

// Ctx returns test context.
// It is canceled when test is finished or interrupted.
func Ctx(tb testing.TB) context.Context {
	tb.Helper()

	signalsCtx, signalsStop := ctxutil.SigTerm(context.Background())

	testDone := make(chan struct{})

	tb.Cleanup(func() {
		close(testDone)
	})

	go func() {
		select {
		case <-testDone:
			signalsStop()

		case <-signalsCtx.Done():
			// Panic to surely stop tests.
			panic("Stopping everything")
		}
	}()

	ctx, span := observability.StartSpan(signalsCtx, tb.Name())
	tb.Cleanup(func() {
		span.End()
	})

	return ctx
}

// tenantRE matches characters that are not valid in tenant IDs.
var tenantRE = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// TenantID returns a valid tenant ID derived from the test name.
//
// It is unique for each (sub)test of a package, so tests may share a data directory.
func TenantID(tb testing.TB) string {
	tb.Helper()

	name := strings.ToLower(tenantRE.ReplaceAllString(tb.Name(), "-"))
	name = strings.Trim(name, "-._")

	if len(name) > 100 {
		name = name[len(name)-100:]
	}

	return name
}
