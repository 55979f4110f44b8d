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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"remote-exec/pkg/orchestrator"
	"remote-exec/pkg/run/gkemanifest"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
)

const maxLogLine = 1 << 20

// waitForPod polls until pick selects a pod whose container has started.
func waitForPod(ctx context.Context, core kubernetes.Interface, h orchestrator.Handle, interval time.Duration, pick func([]corev1.Pod) string) (string, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		pods, err := listPods(ctx, core, h)
		if err == nil {
			if name := pick(pods); name != "" {
				for i := range pods {
					if pods[i].Name == name && pods[i].Status.Phase != corev1.PodPending {
						return name, nil
					}
				}
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// streamPod copies the pod's worker output to w line by line until the
// container exits or ctx is done.
func streamPod(ctx context.Context, core kubernetes.Interface, namespace, pod string, w io.Writer) error {
	opts := &corev1.PodLogOptions{Container: gkemanifest.ContainerName, Follow: true}
	rc, err := core.CoreV1().Pods(namespace).GetLogs(pod, opts).Stream(ctx)
	if err != nil {
		return fmt.Errorf("failed to stream logs of pod %s: %w", pod, err)
	}
	defer rc.Close()

	prefix := remotePrefix(w)
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)
	for scanner.Scan() {
		if _, err := fmt.Fprintf(w, "%s%s\n", prefix, scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// remotePrefix marks streamed lines, in color when w is a terminal.
func remotePrefix(w io.Writer) string {
	f, ok := w.(*os.File)
	if !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return "[remote] "
	}
	c := color.New(color.FgCyan, color.Bold)
	c.EnableColor()
	return c.Sprint("[remote]") + " "
}
