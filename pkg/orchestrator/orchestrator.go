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

// Package orchestrator defines the cluster backends a job can run on.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"remote-exec/pkg/accelerator"
	"remote-exec/pkg/jobid"
)

// State is the lifecycle state of a submitted workload.
type State string

const (
	StatePending   State = "Pending"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
	StateTimedOut  State = "TimedOut"
)

// Terminal reports whether the workload can no longer change state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// Variant names a backend implementation.
type Variant string

const (
	// SingleNode runs one pod as a batch/v1 Job.
	SingleNode Variant = "single-node"
	// MultiNode runs a coordinated group of pods as a LeaderWorkerSet.
	MultiNode Variant = "multi-node"
)

// Select picks the backend variant for a descriptor. It is a pure function of
// the descriptor's multi-host flag.
func Select(d accelerator.Descriptor) Variant {
	if d.MultiHost() {
		return MultiNode
	}
	return SingleNode
}

// SubmitRequest is everything a backend needs to start a workload.
type SubmitRequest struct {
	ID          jobid.ID
	Image       string
	Accelerator accelerator.Descriptor
	ContextURI  string
	PayloadURI  string
	ResultURI   string
	// ArtifactBase is the artifact store root, passed to the worker.
	ArtifactBase string
}

// Handle identifies a submitted workload. Submit returns a usable handle
// even when it fails, so Cleanup can always be called.
type Handle struct {
	Variant     Variant
	ID          jobid.ID
	Namespace   string
	Name        string
	SubmittedAt time.Time
}

func (h Handle) String() string {
	return fmt.Sprintf("%s %s/%s", h.Variant, h.Namespace, h.Name)
}

// Failure is returned by Wait alongside StateFailed.
type Failure struct {
	Reason string
}

func (f *Failure) Error() string { return f.Reason }

// Backend runs workloads on a cluster.
type Backend interface {
	// Submit creates the workload. It does not wait for it to start.
	Submit(ctx context.Context, req SubmitRequest) (Handle, error)
	// Wait polls until the workload is terminal or ctx is done. It never
	// mutates cluster state. On StateFailed the error is a *Failure; when
	// ctx ends first it returns the last observed state and ctx.Err().
	Wait(ctx context.Context, h Handle) (State, error)
	// FetchLogs returns the last tail lines of every pod of the workload.
	FetchLogs(ctx context.Context, h Handle, tail int64) (string, error)
	// Cleanup deletes the workload and its pods. It is idempotent and
	// succeeds when the workload does not exist.
	Cleanup(ctx context.Context, h Handle) error
}

// LogStreamer is implemented by backends that can follow the main pod's
// output while the workload runs.
type LogStreamer interface {
	StreamLogs(ctx context.Context, h Handle, w io.Writer) error
}

// Backends maps each variant to its implementation.
type Backends map[Variant]Backend

// For returns the backend selected for d.
func (b Backends) For(d accelerator.Descriptor) (Backend, Variant, error) {
	v := Select(d)
	backend, ok := b[v]
	if !ok || backend == nil {
		return nil, v, fmt.Errorf("no %s backend configured for accelerator %s", v, d)
	}
	return backend, v, nil
}
