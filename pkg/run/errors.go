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

package run

import (
	"errors"
	"fmt"

	"remote-exec/pkg/imagebuilder"
)

// Error kinds. Every *Error carries exactly one of them.
var (
	ErrResolve        = errors.New("accelerator resolution failed")
	ErrCredentials    = errors.New("credentials not ready")
	ErrBuildFailed    = imagebuilder.ErrBuildFailed
	ErrUploadFailed   = errors.New("artifact upload failed")
	ErrDownloadFailed = errors.New("result download failed")
	ErrSubmitFailed   = errors.New("workload submission failed")
	ErrTimeout        = errors.New("remote execution timed out")
	ErrNotFound       = errors.New("result not found")
	// ErrWorkloadFailed reports a workload the cluster marked failed without
	// a remote failure to reconstruct.
	ErrWorkloadFailed = errors.New("remote workload failed")
)

// Error is a pipeline failure. errors.Is matches both the kind and the
// underlying cause.
type Error struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil || errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%s: %v", e.Stage, orKind(e.Err, e.Kind))
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func orKind(err, kind error) error {
	if err == nil {
		return kind
	}
	return err
}

func fail(stage Stage, kind, err error) *Error {
	return &Error{Stage: stage, Kind: kind, Err: err}
}
