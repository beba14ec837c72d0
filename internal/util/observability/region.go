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
	"runtime/trace"

	"github.com/drenlia/easy-kanban-sub014/internal/util/resource"
)

// region is a tracked operation in progress.
type region struct {
	token *resource.Token
	trace *trace.Region
}

// Region starts the named operation and returns a function that ends it:
//
//	defer observability.Region(ctx, "queue.Enqueue")()
//
// Operations that never end are reported as leaked resources.
// When the Go execution tracer is on, the operation is also a region of the task in ctx.
func Region(ctx context.Context, name string) func() {
	r := &region{
		token: resource.NewToken(),
	}
	resource.Track(r, r.token)

	if trace.IsEnabled() {
		r.trace = trace.StartRegion(ctx, name)
	}

	return r.end
}

// end ends the operation.
func (r *region) end() {
	if r.trace != nil {
		r.trace.End()
	}

	resource.Untrack(r, r.token)
}
