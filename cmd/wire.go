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

package cmd

import (
	"context"
	"fmt"

	"remote-exec/pkg/artifact"
	"remote-exec/pkg/config"
	"remote-exec/pkg/credentials"
	"remote-exec/pkg/imagebuilder"
	"remote-exec/pkg/logging"
	"remote-exec/pkg/orchestrator"
	"remote-exec/pkg/orchestrator/gke"
	"remote-exec/pkg/run"
	"remote-exec/pkg/run/cloudbuild"
)

func storeOptions(c *config.Config) artifact.Options {
	return artifact.Options{
		S3Endpoint:  c.S3.Endpoint,
		S3AccessKey: c.S3.AccessKey,
		S3SecretKey: c.S3.SecretKey,
		S3Region:    c.S3.Region,
		S3UseSSL:    c.S3.UseSSLOrDefault(),
	}
}

// newGate checks the caller's tools and credentials for the configured
// cluster, fetching cluster credentials with gcloud when the kubeconfig
// points elsewhere.
func newGate(c *config.Config) *credentials.Gate {
	return credentials.NewGate(credentials.Target{
		Project:    c.Project,
		Location:   c.Zone,
		Cluster:    c.Cluster,
		Kubeconfig: c.Kubeconfig,
		Reconfigure: func() error {
			return gke.GetCredentials(c.Cluster, c.Zone, c.Project)
		},
	})
}

func newImageSource(ctx context.Context, c *config.Config) (run.ImageSource, error) {
	registry := imagebuilder.NewCraneRegistry()

	var builder imagebuilder.Builder
	switch c.Builder {
	case "crane":
		builder = &imagebuilder.CraneBuilder{Platform: imagebuilder.LinuxAMD64, Options: registry.Options}
	default:
		sources, err := artifact.Open(ctx, c.BuildSourceBase(), storeOptions(c))
		if err != nil {
			return nil, fmt.Errorf("failed to open build source store: %w", err)
		}
		if builder, err = cloudbuild.New(ctx, c.Project, c.Region(), sources); err != nil {
			return nil, err
		}
	}

	cache := &imagebuilder.Cache{Registry: registry, Builder: builder}
	if c.LeaseURL != "" {
		lease, err := imagebuilder.NewRedisLease(c.LeaseURL)
		if err != nil {
			return nil, err
		}
		cache.Lease = lease
	}
	return cache, nil
}

// newOrchestrator wires the pipeline for c. Credentials are checked first
// because building the cluster clients needs a usable kubeconfig.
func newOrchestrator(ctx context.Context, c *config.Config) (*run.Orchestrator, error) {
	if err := c.Resolve(); err != nil {
		return nil, err
	}
	if err := newGate(c).Check(ctx); err != nil {
		return nil, err
	}

	store, err := artifact.Open(ctx, c.ArtifactBase(), storeOptions(c))
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	o := &run.Orchestrator{
		Store: store,
		Options: run.Options{
			Repository:   c.Repository(),
			BaseImage:    c.BaseImage,
			Image:        c.Image,
			ManifestName: c.Manifest,
			Timeout:      c.Timeout,
			CaptureEnv:   c.CaptureEnv,
		},
	}
	if c.Image == "" {
		if o.Images, err = newImageSource(ctx, c); err != nil {
			return nil, err
		}
	}

	clients, err := gke.NewClients(gke.ClusterOptions{
		Kubeconfig: c.Kubeconfig,
		Cluster:    c.Cluster,
		Location:   c.Zone,
		Project:    c.Project,
	})
	if err != nil {
		return nil, err
	}
	o.Backends = orchestrator.Backends{
		orchestrator.SingleNode: &gke.SingleNodeBackend{Clients: clients, Namespace: c.Namespace, ServiceAccount: c.ServiceAccount},
		orchestrator.MultiNode:  &gke.MultiNodeBackend{Clients: clients, Namespace: c.Namespace, ServiceAccount: c.ServiceAccount},
	}
	logging.Debug("Artifacts under %s, images in %s, workloads in namespace %s", store.Base(), c.Repository(), c.Namespace)
	return o, nil
}
