// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package remote registers functions that can run on a remote accelerator
// and calls them.
//
// Functions are registered by name at init time in the caller's binary. The
// same binary runs inside the worker container, where the name in the
// payload is looked up in the same registry:
//
//	var Train = remote.Register("train", func(ctx context.Context, cfg TrainConfig) (Metrics, error) {
//		...
//	})
//
//	metrics, err := Train.Call(ctx, exec, cfg, remote.WithAccelerator("v5litepod-2x2"))
package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"remote-exec/pkg/envelope"
	"remote-exec/pkg/run"
)

// ErrUnknownFunction is returned by Invoke for an unregistered name.
var ErrUnknownFunction = errors.New("unknown remote function")

type handler func(ctx context.Context, args []byte) (any, error)

var registry = struct {
	sync.RWMutex
	funcs map[string]handler
}{funcs: map[string]handler{}}

// Function is a registered function with argument type A and result type R.
type Function[A, R any] struct {
	name string
}

// Name is the registry key.
func (f Function[A, R]) Name() string { return f.name }

// Register adds fn under name and returns a typed handle for calling it.
// Arguments and results travel as msgpack using their json field names.
// Register panics if name is empty or already registered.
func Register[A, R any](name string, fn func(context.Context, A) (R, error)) Function[A, R] {
	if name == "" {
		panic("remote: Register with empty name")
	}
	h := func(ctx context.Context, raw []byte) (any, error) {
		var args A
		if len(raw) > 0 {
			if err := envelope.UnmarshalValue(raw, &args); err != nil {
				return nil, &ArgumentError{Func: name, Err: err}
			}
		}
		return fn(ctx, args)
	}

	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.funcs[name]; dup {
		panic(fmt.Sprintf("remote: function %q registered twice", name))
	}
	registry.funcs[name] = h
	return Function[A, R]{name: name}
}

// Invoke runs the function registered as name with msgpack-encoded args.
func Invoke(ctx context.Context, name string, args []byte) (any, error) {
	registry.RLock()
	h, ok := registry.funcs[name]
	registry.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q; the worker image must be built from the binary that registers it", ErrUnknownFunction, name)
	}
	return h(ctx, args)
}

// Names lists the registered functions.
func Names() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.funcs))
	for name := range registry.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArgumentError reports arguments that do not decode into the function's
// argument type.
type ArgumentError struct {
	Func string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Func, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// Kind names the failure in result envelopes.
func (e *ArgumentError) Kind() string { return "ArgumentError" }

// Executor runs a request remotely. *run.Orchestrator implements it.
type Executor interface {
	Execute(ctx context.Context, req run.Request) ([]byte, error)
}

type callOptions struct {
	accelerator string
	workDir     string
}

// CallOption configures Call.
type CallOption func(*callOptions)

// WithAccelerator selects the accelerator, e.g. "l4" or "v5litepod-2x2".
// The default is CPU.
func WithAccelerator(token string) CallOption {
	return func(o *callOptions) { o.accelerator = token }
}

// WithWorkDir ships dir instead of the current directory.
func WithWorkDir(dir string) CallOption {
	return func(o *callOptions) { o.workDir = dir }
}

// Call runs f remotely through exec and decodes its result. A failure
// raised by f is returned as *envelope.RemoteError.
func (f Function[A, R]) Call(ctx context.Context, exec Executor, args A, opts ...CallOption) (R, error) {
	var zero R
	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	raw, err := exec.Execute(ctx, run.Request{
		Func:        f.name,
		Args:        args,
		Accelerator: o.accelerator,
		WorkDir:     o.workDir,
	})
	if err != nil {
		return zero, err
	}
	var out R
	if err := envelope.UnmarshalValue(raw, &out); err != nil {
		return zero, fmt.Errorf("failed to decode result of %s: %w", f.name, err)
	}
	return out, nil
}
