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

// Package credentials verifies that everything a remote run needs to talk
// to Google Cloud and the cluster is in place before any work is done.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"remote-exec/pkg/logging"
	"remote-exec/pkg/shell"

	"golang.org/x/oauth2/google"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// ErrCredentials is wrapped by every Gate failure.
var ErrCredentials = errors.New("credentials not ready")

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

var (
	lookPath    = shell.LookPath
	findDefault = google.FindDefaultCredentials
)

// Check is one readiness probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Gate runs its checks in order and stops at the first failure.
type Gate struct {
	Checks []Check
}

// Check returns nil when every check passes, otherwise an error wrapping
// ErrCredentials that names the failing check and how to fix it.
func (g *Gate) Check(ctx context.Context) error {
	for _, c := range g.Checks {
		if err := ctx.Err(); err != nil {
			return err
		}
		logging.Debug("Checking %s...", c.Name)
		if err := c.Run(ctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCredentials, c.Name, err)
		}
	}
	return nil
}

// Binary requires an executable on PATH.
func Binary(name, installHint string) Check {
	return Check{
		Name: name,
		Run: func(context.Context) error {
			if !lookPath(name) {
				return fmt.Errorf("%s not found on PATH. %s", name, installHint)
			}
			return nil
		},
	}
}

// ADC requires Application Default Credentials.
func ADC() Check {
	return Check{
		Name: "application default credentials",
		Run: func(ctx context.Context) error {
			if _, err := findDefault(ctx, cloudPlatformScope); err != nil {
				return fmt.Errorf("%w. Run: gcloud auth application-default login", err)
			}
			return nil
		},
	}
}

// KubeconfigOptions configures the Kubeconfig check.
type KubeconfigOptions struct {
	// Path overrides the default kubeconfig loading rules.
	Path string
	// ExpectedCluster is the kubeconfig cluster the active context must
	// point at; any cluster is accepted when empty.
	ExpectedCluster string
	// Reconfigure is called once when the kubeconfig is missing or points
	// elsewhere, typically to fetch credentials with gcloud.
	Reconfigure func() error
}

// ExpectedCluster is the kubeconfig cluster name gcloud writes for a GKE
// cluster.
func ExpectedCluster(project, location, cluster string) string {
	if project == "" || location == "" || cluster == "" {
		return ""
	}
	return fmt.Sprintf("gke_%s_%s_%s", project, location, cluster)
}

// Kubeconfig requires an active kubeconfig context for the target cluster.
// Inside a pod the in-cluster service account is accepted instead.
func Kubeconfig(opts KubeconfigOptions) Check {
	return Check{
		Name: "kubeconfig",
		Run: func(context.Context) error {
			if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
				return nil
			}
			problem := kubeconfigProblem(opts)
			if problem == "" {
				return nil
			}
			if opts.Reconfigure == nil {
				return errors.New(problem)
			}
			logging.Info("%s. Reconfiguring...", problem)
			if err := opts.Reconfigure(); err != nil {
				return err
			}
			if problem := kubeconfigProblem(opts); problem != "" {
				return fmt.Errorf("%s after reconfiguring", problem)
			}
			return nil
		},
	}
}

func kubeconfigProblem(opts KubeconfigOptions) string {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if opts.Path != "" {
		rules.ExplicitPath = opts.Path
	}
	raw, err := rules.Load()
	if err != nil {
		return fmt.Sprintf("No valid kubeconfig found: %v", err)
	}
	return contextProblem(raw, opts.ExpectedCluster)
}

func contextProblem(raw *clientcmdapi.Config, expected string) string {
	if raw.CurrentContext == "" {
		return "No active kubeconfig context"
	}
	kctx, ok := raw.Contexts[raw.CurrentContext]
	if !ok {
		return fmt.Sprintf("Active kubeconfig context %q does not exist", raw.CurrentContext)
	}
	if expected != "" && kctx.Cluster != expected {
		return fmt.Sprintf("Active kubeconfig context %q does not match expected cluster %q", kctx.Cluster, expected)
	}
	return ""
}

// Target describes the cluster the default gate checks for.
type Target struct {
	Project  string
	Location string
	Cluster  string
	// Kubeconfig overrides the default kubeconfig path.
	Kubeconfig string
	// Reconfigure fetches credentials for the target cluster.
	Reconfigure func() error
}

// NewGate returns the standard checks: gcloud and its GKE auth plugin are
// installed, Application Default Credentials exist, and the kubeconfig
// points at the target cluster.
func NewGate(t Target) *Gate {
	return &Gate{Checks: []Check{
		Binary("gcloud", "Install from: https://cloud.google.com/sdk/docs/install"),
		Binary("gke-gcloud-auth-plugin", "Install with: gcloud components install gke-gcloud-auth-plugin"),
		ADC(),
		Kubeconfig(KubeconfigOptions{
			Path:            t.Kubeconfig,
			ExpectedCluster: ExpectedCluster(t.Project, t.Location, t.Cluster),
			Reconfigure:     t.Reconfigure,
		}),
	}}
}
