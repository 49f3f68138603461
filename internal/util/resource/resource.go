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
package resource

import (
	"fmt"
	"reflect"
	"runtime"
	"runtime/pprof"
	"sync"

	"github.com/corraldb/corral/internal/util/debugbuild"
)

// Token is a part of a tracked object that carries the creation stack trace.
type Token struct {
	stack []byte
}

// NewToken returns a new Token.
//
// It should be stored in a tracked object.
func NewToken() *Token {
	return &Token{
		stack: debugbuild.Stack(),
	}
}

// profiles stores created pprof profiles by name.
var profiles sync.Map

// profileName returns pprof profile name for the given object.
func profileName(obj any) string {
	return "corral/" + reflect.TypeOf(obj).Elem().String()
}

// Track tracks the lifetime of an object until Untrack is called on it.
//
// Obj should be a pointer to a struct with a field of type *Token.
// If the object is garbage-collected before Untrack is called,
// the finalizer panics to surface the leak.
func Track[T any](obj *T, token *Token) {
	if obj == nil {
		panic("obj must not be nil")
	}

	if token == nil {
		panic("token must not be nil")
	}

	name := profileName(obj)

	p, ok := profiles.Load(name)
	if !ok {
		p, _ = profiles.LoadOrStore(name, pprof.NewProfile(name))
	}

	// use token instead of obj itself to avoid keeping obj alive forever
	p.(*pprof.Profile).Add(token, 2)

	msg := fmt.Sprintf("%T has not been finalized", obj)
	if token.stack != nil {
		msg += "\nObject created by " + string(token.stack)
	}

	runtime.SetFinalizer(obj, func(*T) {
		panic(msg)
	})
}

// Untrack stops tracking the lifetime of an object.
func Untrack[T any](obj *T, token *Token) {
	if obj == nil {
		panic("obj must not be nil")
	}

	if token == nil {
		panic("token must not be nil")
	}

	p, ok := profiles.Load(profileName(obj))
	if !ok {
		panic("profile not found")
	}

	p.(*pprof.Profile).Remove(token)

	runtime.SetFinalizer(obj, nil)
}
