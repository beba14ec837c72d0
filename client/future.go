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

package client

import "context"

// Future is a result of an asynchronous call.
type Future[T any] struct {
	done chan struct{}
	res  T
	err  error
}

// goFuture calls f in a new goroutine.
func goFuture[T any](f func() (T, error)) *Future[T] {
	fut := &Future[T]{done: make(chan struct{})}

	go func() {
		defer close(fut.done)
		fut.res, fut.err = f()
	}()

	return fut
}

// Done returns a channel that is closed when the result is ready.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait waits for the result or for ctx to be canceled.
//
// Canceling ctx only stops waiting; use the context passed to the asynchronous call
// to cancel the request itself.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
