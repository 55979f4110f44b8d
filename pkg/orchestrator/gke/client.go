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

// Package gke runs remote-exec workloads on GKE clusters through client-go.
package gke

import (
	"fmt"

	"remote-exec/pkg/logging"
	"remote-exec/pkg/shell"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Clients bundles the typed and dynamic Kubernetes clients.
type Clients struct {
	Core    kubernetes.Interface
	Dynamic dynamic.Interface
}

// ClusterOptions locates the cluster.
type ClusterOptions struct {
	// Kubeconfig overrides the default loading rules when set.
	Kubeconfig string
	// Context selects a kubeconfig context.
	Context string
	// Cluster, Location and Project are used to fetch credentials with gcloud
	// when no usable kubeconfig exists.
	Cluster  string
	Location string
	Project  string
}

// NewClients connects to the in-cluster API server when running in a pod,
// otherwise to the kubeconfig context. If the kubeconfig cannot be loaded
// and a cluster is named, credentials are fetched with gcloud first.
func NewClients(opts ClusterOptions) (*Clients, error) {
	cfg, err := restConfig(opts)
	if err != nil && opts.Cluster != "" {
		logging.Info("Fetching credentials for GKE cluster '%s'...", opts.Cluster)
		if credErr := GetCredentials(opts.Cluster, opts.Location, opts.Project); credErr != nil {
			return nil, credErr
		}
		cfg, err = restConfig(opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}
	return ClientsForConfig(cfg)
}

// ClientsForConfig builds both clients from a rest config.
func ClientsForConfig(cfg *rest.Config) (*Clients, error) {
	core, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	return &Clients{Core: core, Dynamic: dyn}, nil
}

func restConfig(opts ClusterOptions) (*rest.Config, error) {
	if opts.Kubeconfig == "" && opts.Context == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			return cfg, nil
		}
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if opts.Kubeconfig != "" {
		rules.ExplicitPath = opts.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: opts.Context}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

// GetCredentials writes kubeconfig credentials for a GKE cluster.
func GetCredentials(cluster, location, project string) error {
	args := []string{"container", "clusters", "get-credentials", cluster}
	if location != "" {
		args = append(args, "--location", location)
	}
	if project != "" {
		args = append(args, "--project", project)
	}
	res := shell.ExecuteCommand("gcloud", args...)
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to get GKE cluster credentials: %s\n%s", res.Stderr, res.Stdout)
	}
	return nil
}
