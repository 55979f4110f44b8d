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
	"sort"
	"strings"
	"sync"
	"time"

	"remote-exec/pkg/logging"
	"remote-exec/pkg/orchestrator"
	"remote-exec/pkg/run/gkemanifest"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
)

const (
	DefaultPollInterval = 10 * time.Second
	// DefaultSchedulingGrace leaves room for the cluster autoscaler to add
	// accelerator nodes before an unschedulable pod is treated as failed.
	DefaultSchedulingGrace = 5 * time.Minute
	// DefaultFormationGrace bounds how long a multi-node group may stay
	// incomplete.
	DefaultFormationGrace = 10 * time.Minute

	maxParallelLogFetches = 8
)

// Timing controls the Wait loop. Zero values use the defaults.
type Timing struct {
	PollInterval    time.Duration
	SchedulingGrace time.Duration
	FormationGrace  time.Duration
	// Now is replaceable in tests.
	Now func() time.Time
}

func (t Timing) pollInterval() time.Duration {
	if t.PollInterval > 0 {
		return t.PollInterval
	}
	return DefaultPollInterval
}

func (t Timing) schedulingGrace() time.Duration {
	if t.SchedulingGrace > 0 {
		return t.SchedulingGrace
	}
	return DefaultSchedulingGrace
}

func (t Timing) formationGrace() time.Duration {
	if t.FormationGrace > 0 {
		return t.FormationGrace
	}
	return DefaultFormationGrace
}

func (t Timing) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// elapsed is measured from submission, or from the first check when the
// handle carries no submission time.
func (t Timing) elapsed(h orchestrator.Handle, firstCheck time.Time) time.Duration {
	start := h.SubmittedAt
	if start.IsZero() {
		start = firstCheck
	}
	return t.now().Sub(start)
}

type checkFunc func(ctx context.Context) (orchestrator.State, error)

// poll runs check immediately and then on every tick until it reports a
// terminal state, returns an error, or ctx is done.
func poll(ctx context.Context, h orchestrator.Handle, interval time.Duration, check checkFunc) (orchestrator.State, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := orchestrator.StatePending
	for {
		state, err := check(ctx)
		if err != nil {
			return state, err
		}
		if state.Terminal() {
			return state, nil
		}
		if state != last {
			logging.Info("Workload %s is %s", h.Name, state)
			last = state
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// jobSelector selects every pod of a job, whichever variant created it.
func jobSelector(h orchestrator.Handle) string {
	return labels.Set{gkemanifest.LabelJobID: h.ID.String()}.String()
}

func listPods(ctx context.Context, core kubernetes.Interface, h orchestrator.Handle) ([]corev1.Pod, error) {
	list, err := core.CoreV1().Pods(h.Namespace).List(ctx, metav1.ListOptions{LabelSelector: jobSelector(h)})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods for %s: %w", h.Name, err)
	}
	pods := list.Items
	sort.Slice(pods, func(i, j int) bool { return pods[i].Name < pods[j].Name })
	return pods, nil
}

// schedulingProblem explains why a pending pod cannot be placed. The second
// return is false when the pod is not known to be unschedulable.
func schedulingProblem(pod *corev1.Pod) (string, bool) {
	if pod.Status.Phase != corev1.PodPending {
		return "", false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type != corev1.PodScheduled || cond.Status != corev1.ConditionFalse {
			continue
		}
		msg := cond.Message
		switch {
		case strings.Contains(msg, "Insufficient nvidia.com/gpu"):
			return "No GPU nodes available. Ensure your GKE cluster has a node pool with the required GPU type and available capacity: " + msg, true
		case strings.Contains(msg, "Insufficient google.com/tpu"):
			return "No TPU nodes available. Ensure your GKE cluster has a node pool with the required TPU slice and available capacity: " + msg, true
		case strings.Contains(msg, "didn't match Pod's node affinity/selector"),
			strings.Contains(strings.ToLower(msg), "node selector"):
			return "No nodes match the accelerator selector. Check that your node pool has the correct accelerator labels: " + msg, true
		case cond.Reason == corev1.PodReasonUnschedulable:
			return "Pod is unschedulable: " + msg, true
		}
	}
	return "", false
}

// scheduling inspects pending pods. Before the grace period expires problems
// are only logged once per pod.
type scheduling struct {
	mu     sync.Mutex
	warned map[string]bool
}

func (s *scheduling) check(pods []corev1.Pod, graceExpired bool) *orchestrator.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range pods {
		reason, stuck := schedulingProblem(&pods[i])
		if !stuck {
			continue
		}
		if graceExpired {
			return &orchestrator.Failure{Reason: fmt.Sprintf("pod %s: %s", pods[i].Name, reason)}
		}
		if s.warned == nil {
			s.warned = map[string]bool{}
		}
		if !s.warned[pods[i].Name] {
			logging.Warn("Pod %s is waiting for capacity: %s", pods[i].Name, reason)
			s.warned[pods[i].Name] = true
		}
	}
	return nil
}

// terminated returns the exit code of the container's current or previous
// termination. Pods with restartPolicy Always may already have restarted
// after finishing, leaving the result only in the last state.
func terminated(pod *corev1.Pod) (int32, bool) {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Name != gkemanifest.ContainerName && len(pod.Status.ContainerStatuses) > 1 {
			continue
		}
		if t := cs.State.Terminated; t != nil {
			return t.ExitCode, true
		}
		if t := cs.LastTerminationState.Terminated; t != nil {
			return t.ExitCode, true
		}
	}
	return 0, false
}

// fetchLogs returns the tail of every pod's worker container, fetched
// concurrently. Pods whose logs cannot be read are reported inline.
func fetchLogs(ctx context.Context, core kubernetes.Interface, h orchestrator.Handle, tail int64) (string, error) {
	pods, err := listPods(ctx, core, h)
	if err != nil {
		return "", err
	}
	if len(pods) == 0 {
		return "", nil
	}

	out := make([]string, len(pods))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLogFetches)
	for i := range pods {
		name := pods[i].Name
		g.Go(func() error {
			opts := &corev1.PodLogOptions{Container: gkemanifest.ContainerName}
			if tail > 0 {
				opts.TailLines = &tail
			}
			raw, err := core.CoreV1().Pods(h.Namespace).GetLogs(name, opts).DoRaw(gctx)
			if err != nil {
				out[i] = fmt.Sprintf("==> %s <==\n(logs unavailable: %v)\n", name, err)
				return nil
			}
			out[i] = fmt.Sprintf("==> %s <==\n%s", name, raw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(out, "\n"), nil
}

// ignoreNotFound treats a missing object as already deleted.
func ignoreNotFound(err error) error {
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

var foreground = metav1.DeletePropagationForeground

func deleteOptions() metav1.DeleteOptions {
	return metav1.DeleteOptions{PropagationPolicy: &foreground}
}
