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

// Package resource provides utilities for tracking resource lifetimes.
//
// Tracked objects that are garbage-collected without being untracked
// indicate a leak, for example a tenant database handle that was never closed.
package resource

import (
	"fmt"
	"reflect"
	"runtime"
	"runtime/pprof"
	"sync"
	"unsafe"
)

// Token should be a field of a tracked object.
type Token struct {
	s []int // make the struct non-zero-sized so distinct tokens have distinct addresses
}

// NewToken returns a new Token.
func NewToken() *Token {
	return &Token{s: make([]int, 1)}
}

// profilesM protects access to profiles.
var profilesM sync.Mutex

// LeakHandler is called with the object's type name when a tracked object is finalized
// without being untracked. It panics by default.
var LeakHandler = func(name string) {
	panic(name + " has not been finalized")
}

// profileName returns pprof profile name for the given object.
func profileName(obj any) string {
	return "dbproxy/" + reflect.TypeOf(obj).Elem().String()
}

// Track tracks the lifetime of an object until Untrack is called on it.
//
// Obj should be a pointer to a struct with a field "token" of type *Token.
func Track[T any](obj *T, token *Token) {
	checkArgs(obj, token)

	name := profileName(obj)

	profilesM.Lock()

	p := pprof.Lookup(name)
	if p == nil {
		p = pprof.NewProfile(name)
	}

	profilesM.Unlock()

	// use token instead of obj itself,
	// because otherwise profile will hold a reference to obj and finalizer will never run
	p.Add(token, 1)

	typ := fmt.Sprintf("%T", obj)

	runtime.SetFinalizer(obj, func(*T) {
		LeakHandler(typ)
	})
}

// Untrack stops tracking the lifetime of an object.
//
// It is safe to call this function multiple times.
func Untrack[T any](obj *T, token *Token) {
	checkArgs(obj, token)

	runtime.SetFinalizer(obj, nil)

	if p := pprof.Lookup(profileName(obj)); p != nil {
		p.Remove(token)
	}
}

// checkArgs checks Track and Untrack arguments.
func checkArgs(obj any, token *Token) {
	if token == nil {
		panic("token must not be nil")
	}

	pv := reflect.ValueOf(obj)
	if pv.IsNil() {
		panic("obj must not be nil")
	}

	v := pv.Elem()
	if v.Kind() != reflect.Struct {
		panic(fmt.Sprintf("obj must be a pointer to struct, got %T", obj))
	}

	f := v.FieldByName("token")
	if f.Kind() != reflect.Ptr || f.UnsafePointer() != unsafe.Pointer(token) {
		panic("token must be a pointer field of a struct")
	}
}
