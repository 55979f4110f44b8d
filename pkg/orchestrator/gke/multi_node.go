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

package gke

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"remote-exec/pkg/logging"
	"remote-exec/pkg/orchestrator"
	"remote-exec/pkg/run/gkemanifest"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// MultiNodeBackend runs a workload as a LeaderWorkerSet spanning every host
// of a multi-host TPU slice.
type MultiNodeBackend struct {
	Clients        *Clients
	Namespace      string
	ServiceAccount string
	Timing         Timing

	versionOnce sync.Once
	version     string
}

var _ orchestrator.Backend = (*MultiNodeBackend)(nil)
var _ orchestrator.LogStreamer = (*MultiNodeBackend)(nil)

// lwsVersion returns the cluster's preferred LeaderWorkerSet API version,
// falling back to gkemanifest.LWSVersion when discovery fails.
func (b *MultiNodeBackend) lwsVersion() string {
	b.versionOnce.Do(func() {
		b.version = gkemanifest.LWSVersion
		groups, err := b.Clients.Core.Discovery().ServerGroups()
		if err != nil {
			logging.Debug("LeaderWorkerSet version discovery failed, using %s: %v", b.version, err)
			return
		}
		for _, g := range groups.Groups {
			if g.Name == gkemanifest.LWSGroup && g.PreferredVersion.Version != "" {
				b.version = g.PreferredVersion.Version
				return
			}
		}
	})
	return b.version
}

func (b *MultiNodeBackend) resource() schema.GroupVersionResource {
	return schema.GroupVersionResource{
		Group:    gkemanifest.LWSGroup,
		Version:  b.lwsVersion(),
		Resource: gkemanifest.LWSPlural,
	}
}

// Submit creates the LeaderWorkerSet. The returned handle is valid even on
// error.
func (b *MultiNodeBackend) Submit(ctx context.Context, req orchestrator.SubmitRequest) (orchestrator.Handle, error) {
	h := orchestrator.Handle{
		Variant:     orchestrator.MultiNode,
		ID:          req.ID,
		Namespace:   b.Namespace,
		Name:        req.ID.LWSName(),
		SubmittedAt: b.Timing.now(),
	}
	manifest, err := gkemanifest.GenerateLWSManifest(gkemanifest.ManifestOptions{
		ID:             req.ID,
		Namespace:      b.Namespace,
		Image:          req.Image,
		Accelerator:    req.Accelerator,
		ContextURI:     req.ContextURI,
		PayloadURI:     req.PayloadURI,
		ResultURI:      req.ResultURI,
		ArtifactBase:   req.ArtifactBase,
		ServiceAccount: b.ServiceAccount,
		LWSVersion:     b.lwsVersion(),
	})
	if err != nil {
		return h, err
	}
	obj, err := gkemanifest.DecodeUnstructured(manifest)
	if err != nil {
		return h, err
	}

	logging.Info("Creating LeaderWorkerSet %s/%s with %d members on %s...",
		h.Namespace, h.Name, gkemanifest.GroupSize(req.Accelerator), req.Accelerator)
	_, err = b.Clients.Dynamic.Resource(b.resource()).Namespace(h.Namespace).Create(ctx, obj, metav1.CreateOptions{})
	if err != nil {
		return h, submitError(h, "LeaderWorkerSet", err)
	}
	return h, nil
}

// Wait evaluates the member pods as a group until all of them succeed, any
// of them fails, or the group fails to form within the formation grace.
func (b *MultiNodeBackend) Wait(ctx context.Context, h orchestrator.Handle) (orchestrator.State, error) {
	expected, err := b.groupSize(ctx, h)
	if err != nil {
		return orchestrator.StatePending, err
	}

	firstCheck := b.Timing.now()
	sched := &scheduling{}
	return poll(ctx, h, b.Timing.pollInterval(), func(ctx context.Context) (orchestrator.State, error) {
		pods, err := listPods(ctx, b.Clients.Core, h)
		if err != nil {
			if ctx.Err() != nil {
				return orchestrator.StatePending, ctx.Err()
			}
			logging.Warn("%v, retrying", err)
			return orchestrator.StatePending, nil
		}

		state, reason := evaluateGroup(pods, expected)
		if state == orchestrator.StateFailed {
			return state, &orchestrator.Failure{Reason: reason}
		}
		if state.Terminal() {
			return state, nil
		}

		elapsed := b.Timing.elapsed(h, firstCheck)
		if failure := sched.check(pods, elapsed > b.Timing.schedulingGrace()); failure != nil {
			return orchestrator.StateFailed, failure
		}
		if len(pods) < expected && elapsed > b.Timing.formationGrace() {
			return orchestrator.StateFailed, &orchestrator.Failure{Reason: fmt.Sprintf(
				"group %s failed to form: %d of %d members after %s",
				h.Name, len(pods), expected, elapsed.Round(time.Second))}
		}
		return state, nil
	})
}

// groupSize reads the size from the created LeaderWorkerSet.
func (b *MultiNodeBackend) groupSize(ctx context.Context, h orchestrator.Handle) (int, error) {
	obj, err := b.Clients.Dynamic.Resource(b.resource()).Namespace(h.Namespace).Get(ctx, h.Name, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to read LeaderWorkerSet %s: %w", h.Name, err)
	}
	size, found, err := unstructured.NestedInt64(obj.Object, "spec", "leaderWorkerTemplate", "size")
	if err != nil || !found || size < 1 {
		return 0, fmt.Errorf("LeaderWorkerSet %s has no valid group size", h.Name)
	}
	return int(size), nil
}

// evaluateGroup applies all-or-nothing semantics to the member pods: one
// failed member fails the group, and success needs every expected member to
// have exited zero.
func evaluateGroup(pods []corev1.Pod, expected int) (orchestrator.State, string) {
	done, running := 0, false
	for i := range pods {
		pod := &pods[i]
		code, exited := terminated(pod)
		switch {
		case exited && code != 0:
			return orchestrator.StateFailed, fmt.Sprintf("member %s exited with code %d", pod.Name, code)
		case pod.Status.Phase == corev1.PodFailed:
			return orchestrator.StateFailed, fmt.Sprintf("member %s failed: %s %s", pod.Name, pod.Status.Reason, pod.Status.Message)
		case exited || pod.Status.Phase == corev1.PodSucceeded:
			done++
		case pod.Status.Phase == corev1.PodRunning:
			running = true
		}
	}
	if len(pods) >= expected && done >= expected {
		return orchestrator.StateSucceeded, ""
	}
	if running || done > 0 {
		return orchestrator.StateRunning, ""
	}
	return orchestrator.StatePending, ""
}

// FetchLogs returns the tail of every member's logs.
func (b *MultiNodeBackend) FetchLogs(ctx context.Context, h orchestrator.Handle, tail int64) (string, error) {
	return fetchLogs(ctx, b.Clients.Core, h, tail)
}

// Cleanup deletes the LeaderWorkerSet and its pods.
func (b *MultiNodeBackend) Cleanup(ctx context.Context, h orchestrator.Handle) error {
	err := b.Clients.Dynamic.Resource(b.resource()).Namespace(h.Namespace).Delete(ctx, h.Name, deleteOptions())
	if err = ignoreNotFound(err); err != nil {
		return fmt.Errorf("failed to delete LeaderWorkerSet %s: %w", h.Name, err)
	}
	logging.Debug("Deleted LeaderWorkerSet %s/%s", h.Namespace, h.Name)
	return nil
}

// StreamLogs follows the leader pod, which LeaderWorkerSet names "<name>-0".
func (b *MultiNodeBackend) StreamLogs(ctx context.Context, h orchestrator.Handle, w io.Writer) error {
	leader := h.Name + "-0"
	pod, err := waitForPod(ctx, b.Clients.Core, h, b.Timing.pollInterval(), func(pods []corev1.Pod) string {
		for i := range pods {
			if pods[i].Name == leader {
				return leader
			}
		}
		return ""
	})
	if err != nil {
		return err
	}
	return streamPod(ctx, b.Clients.Core, h.Namespace, pod, w)
}
