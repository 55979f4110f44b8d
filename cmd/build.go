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
	"fmt"
	"os"

	"remote-exec/pkg/run"

	"github.com/spf13/cobra"
)

var (
	buildAccel   string
	buildWorkDir string
)

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVarP(&buildAccel, "accelerator", "a", "cpu", "Accelerator the image is built for.")
	buildCmd.Flags().StringVarP(&buildWorkDir, "workdir", "C", "", "Directory searched for the dependency manifest. Defaults to the current directory.")
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Builds or finds the worker image and prints its pinned reference.",
	Long: `The 'build' command computes the content key of the worker image for the
accelerator kind, the dependency manifest and this binary, builds the image
when the registry has no match and prints the digest-pinned reference.`,
	Args: cobra.NoArgs,
	RunE: runBuildCmd,
}

func runBuildCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()

	if err := cfg.Resolve(); err != nil {
		return err
	}
	images, err := newImageSource(ctx, cfg)
	if err != nil {
		return err
	}
	o := &run.Orchestrator{
		Images: images,
		Options: run.Options{
			Repository:   cfg.Repository(),
			BaseImage:    cfg.BaseImage,
			ManifestName: cfg.Manifest,
		},
	}

	dir := buildWorkDir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return err
		}
	}
	ref, err := o.EnsureImage(ctx, buildAccel, dir)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ref)
	return nil
}
