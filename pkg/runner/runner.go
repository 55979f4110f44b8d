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

// Package runner is the worker side of a remote call. It runs inside the
// container, executes the payload's function in the shipped working
// directory and writes the result envelope.
package runner

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"reflect"
	"runtime/debug"
	"strings"

	"remote-exec/pkg/archive"
	"remote-exec/pkg/artifact"
	"remote-exec/pkg/envelope"
	"remote-exec/pkg/logging"
	"remote-exec/pkg/remote"

	"github.com/pkg/errors"
)

// Exit codes of the worker process.
const (
	ExitOK     = 0
	ExitFailed = 1
)

// Worker executes one payload.
type Worker struct {
	Store artifact.Store
	// Dir receives the working directory snapshot; a temporary directory
	// when empty.
	Dir string
	// Chdir makes Dir the process working directory before the call.
	Chdir bool
	// Setenv applies captured environment variables; os.Setenv when nil.
	Setenv func(key, value string) error
}

// Run downloads the context and payload, calls the function and uploads
// the envelope to resultURI. It returns ExitOK only when the function
// succeeded and its result was written.
func (w *Worker) Run(ctx context.Context, contextURI, payloadURI, resultURI string) int {
	env := w.execute(ctx, contextURI, payloadURI)

	if err := w.writeResult(ctx, resultURI, env); err != nil {
		logging.Error("Failed to write result: %v", err)
		return ExitFailed
	}
	if env.Status != envelope.StatusSuccess {
		logging.Error("Remote function failed: %s: %s", env.ErrorKind, env.ErrorMessage)
		return ExitFailed
	}
	logging.Info("Remote function succeeded")
	return ExitOK
}

func (w *Worker) execute(ctx context.Context, contextURI, payloadURI string) *envelope.Envelope {
	payload, err := w.prepare(ctx, contextURI, payloadURI)
	if err != nil {
		return failure(&setupError{err: err})
	}

	logging.Info("Calling %s", payload.Func)
	value, err := invoke(ctx, payload)
	if err != nil {
		return failure(err)
	}
	env, err := envelope.Success(value)
	if err != nil {
		return failure(err)
	}
	return env
}

func (w *Worker) prepare(ctx context.Context, contextURI, payloadURI string) (*envelope.Payload, error) {
	dir := w.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "remote-exec-workdir-*")
		if err != nil {
			return nil, errors.Wrap(err, "failed to create working directory")
		}
		dir = tmp
	}

	snapshot, err := w.Store.Download(ctx, contextURI)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download working directory")
	}
	if err := archive.Extract(bytes.NewReader(snapshot), dir); err != nil {
		return nil, errors.Wrap(err, "failed to extract working directory")
	}

	data, err := w.Store.Download(ctx, payloadURI)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download payload")
	}
	payload, err := envelope.DecodePayload(data)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	setenv := w.Setenv
	if setenv == nil {
		setenv = os.Setenv
	}
	for k, v := range payload.Env {
		if err := setenv(k, v); err != nil {
			return nil, errors.Wrapf(err, "failed to set %s", k)
		}
	}
	if payload.Revision != "" {
		if err := setenv("REMOTE_EXEC_REVISION", payload.Revision); err != nil {
			return nil, errors.Wrap(err, "failed to set REMOTE_EXEC_REVISION")
		}
	}

	if w.Chdir {
		if err := os.Chdir(dir); err != nil {
			return nil, errors.Wrap(err, "failed to enter working directory")
		}
	}
	return payload, nil
}

// setupError is a failure before the function was called.
type setupError struct{ err error }

func (e *setupError) Error() string { return "worker setup failed: " + e.err.Error() }

func (e *setupError) Unwrap() error { return e.err }

func (e *setupError) Kind() string { return "WorkerSetupError" }

// panicError carries a recovered panic and the goroutine stack at the
// point of the panic.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func (p *panicError) Kind() string { return "Panic" }

func invoke(ctx context.Context, p *envelope.Payload) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return remote.Invoke(ctx, p.Func, p.Args)
}

func failure(err error) *envelope.Envelope {
	return envelope.Failure(errorKind(err), errorMessage(err), stackText(err))
}

// errorKind names the failure: the Kind method of any error in the chain,
// otherwise the type name of the root cause.
func errorKind(err error) string {
	var kinded interface{ Kind() string }
	if stderrors.As(err, &kinded) {
		return kinded.Kind()
	}

	cause := errors.Cause(err)
	for next := stderrors.Unwrap(cause); next != nil; next = stderrors.Unwrap(cause) {
		cause = errors.Cause(next)
	}
	t := reflect.TypeOf(cause)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch name := t.Name(); name {
	case "", "errorString", "fundamental", "withStack", "withMessage", "wrapError":
		return "Error"
	default:
		return name
	}
}

func errorMessage(err error) string {
	var p *panicError
	if stderrors.As(err, &p) {
		return p.Error()
	}
	return err.Error()
}

// stackText renders the best stack available: the panic stack, or the
// stack recorded by github.com/pkg/errors.
func stackText(err error) string {
	var p *panicError
	if stderrors.As(err, &p) {
		return strings.TrimSpace(string(p.stack))
	}
	var tracer interface{ StackTrace() errors.StackTrace }
	if stderrors.As(err, &tracer) {
		return strings.TrimSpace(fmt.Sprintf("%+v", tracer))
	}
	return ""
}

func (w *Worker) writeResult(ctx context.Context, resultURI string, env *envelope.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, id, name, err := artifact.SplitJobURI(resultURI)
	if err != nil {
		return err
	}
	if _, err := w.Store.Upload(ctx, id, name, bytes.NewReader(data)); err != nil {
		return err
	}
	return nil
}
