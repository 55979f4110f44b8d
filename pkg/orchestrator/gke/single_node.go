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

	"remote-exec/pkg/logging"
	"remote-exec/pkg/orchestrator"
	"remote-exec/pkg/run/gkemanifest"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// SingleNodeBackend runs a workload as one batch/v1 Job.
type SingleNodeBackend struct {
	Clients        *Clients
	Namespace      string
	ServiceAccount string
	Timing         Timing
}

var _ orchestrator.Backend = (*SingleNodeBackend)(nil)
var _ orchestrator.LogStreamer = (*SingleNodeBackend)(nil)

func (b *SingleNodeBackend) handle(req orchestrator.SubmitRequest) orchestrator.Handle {
	return orchestrator.Handle{
		Variant:     orchestrator.SingleNode,
		ID:          req.ID,
		Namespace:   b.Namespace,
		Name:        req.ID.JobName(),
		SubmittedAt: b.Timing.now(),
	}
}

// Submit creates the Job. The returned handle is valid even on error.
func (b *SingleNodeBackend) Submit(ctx context.Context, req orchestrator.SubmitRequest) (orchestrator.Handle, error) {
	h := b.handle(req)
	manifest, err := gkemanifest.GenerateJobManifest(gkemanifest.ManifestOptions{
		ID:             req.ID,
		Namespace:      b.Namespace,
		Image:          req.Image,
		Accelerator:    req.Accelerator,
		ContextURI:     req.ContextURI,
		PayloadURI:     req.PayloadURI,
		ResultURI:      req.ResultURI,
		ArtifactBase:   req.ArtifactBase,
		ServiceAccount: b.ServiceAccount,
	})
	if err != nil {
		return h, err
	}
	job, err := gkemanifest.DecodeJob(manifest)
	if err != nil {
		return h, err
	}

	logging.Info("Creating Job %s/%s on %s...", h.Namespace, h.Name, req.Accelerator)
	if _, err := b.Clients.Core.BatchV1().Jobs(h.Namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return h, submitError(h, "Job", err)
	}
	return h, nil
}

// Wait polls the Job status until it completes or fails.
func (b *SingleNodeBackend) Wait(ctx context.Context, h orchestrator.Handle) (orchestrator.State, error) {
	firstCheck := b.Timing.now()
	sched := &scheduling{}
	return poll(ctx, h, b.Timing.pollInterval(), func(ctx context.Context) (orchestrator.State, error) {
		job, err := b.Clients.Core.BatchV1().Jobs(h.Namespace).Get(ctx, h.Name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return orchestrator.StateFailed, &orchestrator.Failure{Reason: fmt.Sprintf("job %s no longer exists", h.Name)}
		}
		if err != nil {
			if ctx.Err() != nil {
				return orchestrator.StatePending, ctx.Err()
			}
			logging.Warn("Failed to read job %s status, retrying: %v", h.Name, err)
			return orchestrator.StatePending, nil
		}
		if state, reason := jobState(job); state.Terminal() {
			if state == orchestrator.StateFailed {
				return state, &orchestrator.Failure{Reason: reason}
			}
			return state, nil
		}

		pods, err := listPods(ctx, b.Clients.Core, h)
		if err != nil {
			logging.Debug("%v", err)
			return orchestrator.StatePending, nil
		}
		graceExpired := b.Timing.elapsed(h, firstCheck) > b.Timing.schedulingGrace()
		if failure := sched.check(pods, graceExpired); failure != nil {
			return orchestrator.StateFailed, failure
		}
		if job.Status.Active > 0 && anyRunning(pods) {
			return orchestrator.StateRunning, nil
		}
		return orchestrator.StatePending, nil
	})
}

func jobState(job *batchv1.Job) (orchestrator.State, string) {
	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return orchestrator.StateSucceeded, ""
		case batchv1.JobFailed:
			return orchestrator.StateFailed, fmt.Sprintf("job %s failed: %s %s", job.Name, cond.Reason, cond.Message)
		}
	}
	if job.Status.Succeeded > 0 {
		return orchestrator.StateSucceeded, ""
	}
	if job.Status.Failed > 0 {
		return orchestrator.StateFailed, fmt.Sprintf("job %s failed", job.Name)
	}
	if job.Status.Active > 0 {
		return orchestrator.StateRunning, ""
	}
	return orchestrator.StatePending, ""
}

func anyRunning(pods []corev1.Pod) bool {
	for i := range pods {
		if pods[i].Status.Phase == corev1.PodRunning {
			return true
		}
	}
	return false
}

// FetchLogs returns the tail of the Job's pod logs.
func (b *SingleNodeBackend) FetchLogs(ctx context.Context, h orchestrator.Handle, tail int64) (string, error) {
	return fetchLogs(ctx, b.Clients.Core, h, tail)
}

// Cleanup deletes the Job and, through foreground propagation, its pods.
func (b *SingleNodeBackend) Cleanup(ctx context.Context, h orchestrator.Handle) error {
	err := b.Clients.Core.BatchV1().Jobs(h.Namespace).Delete(ctx, h.Name, deleteOptions())
	if err = ignoreNotFound(err); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", h.Name, err)
	}
	logging.Debug("Deleted Job %s/%s", h.Namespace, h.Name)
	return nil
}

// StreamLogs follows the Job's pod once it starts.
func (b *SingleNodeBackend) StreamLogs(ctx context.Context, h orchestrator.Handle, w io.Writer) error {
	pod, err := waitForPod(ctx, b.Clients.Core, h, b.Timing.pollInterval(), func(pods []corev1.Pod) string {
		if len(pods) == 0 {
			return ""
		}
		return pods[0].Name
	})
	if err != nil {
		return err
	}
	return streamPod(ctx, b.Clients.Core, h.Namespace, pod, w)
}
