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

// Package cmd is the remote-exec command line. Programs that register
// remote functions call Execute from their main so the same binary can
// submit calls and serve them as the worker.
package cmd

import (
	"os"

	"remote-exec/pkg/config"
	"remote-exec/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "remote-exec",
	Short: "Runs registered Go functions on GKE accelerators.",
	Long: `remote-exec ships the current working directory and a call to a registered
function to a GKE cluster, runs it on the requested GPU or TPU and returns
the result. Failures raised remotely are reported with their remote stack.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to the config file. Defaults to <user config dir>/remote-exec/config.yaml.")
	pf.StringP("project", "p", "", "Google Cloud project ID. Inferred from gcloud when empty.")
	pf.String("zone", config.DefaultZone, "Zone of the GKE cluster.")
	pf.String("cluster", "", "Name of the GKE cluster.")
	pf.String("namespace", config.DefaultNamespace, "Kubernetes namespace workloads run in.")
	pf.String("bucket", "", "Artifact store base, e.g. gs://bucket, s3://bucket/prefix or file:///shared/artifacts.")
	pf.String("registry", "", "Image repository for built worker images.")
	pf.String("builder", config.DefaultBuilder, "Image builder: cloudbuild or crane.")
	pf.String("base-image", "", "Base image worker images are built on.")
	pf.String("service-account", "", "Kubernetes service account for workload pods.")
	pf.String("kubeconfig", "", "Path to the kubeconfig file.")
	pf.String("lease-url", "", "Redis URL for the shared build lease, e.g. redis://host:6379/0.")
	pf.String("log-level", "info", "Log level: debug, info, warn or error.")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := c.ApplyFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := logging.SetLevel(c.LogLevel); err != nil {
		return err
	}
	cfg = c
	return nil
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
