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

package imagebuilder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/compression"
	"github.com/google/go-containerregistry/pkg/crane"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/moby/patternmatcher"
	"github.com/sirupsen/logrus"

	"remote-exec/pkg/archive"
)

// DockerPlatform represents the target platform for a Docker image.
type DockerPlatform string

const (
	LinuxAMD64 DockerPlatform = "linux/amd64"
	LinuxARM64 DockerPlatform = "linux/arm64"
)

const craneRecipe = "crane/v1: append layer app/entrypoint app/<manifest>; entrypoint /app/entrypoint worker"

// CraneBuilder builds images locally by appending one layer to the base
// image and pushing the result. It cannot install manifest packages, so the
// base image must already provide them.
type CraneBuilder struct {
	Platform DockerPlatform
	Options  []crane.Option
}

func (b *CraneBuilder) Recipe() string { return craneRecipe }

// Build pulls in.BaseImage, appends the worker layer, sets the entrypoint
// and environment, and pushes to target.
func (b *CraneBuilder) Build(ctx context.Context, in Inputs, target string) error {
	platformStr := string(b.Platform)
	if platformStr == "" {
		platformStr = string(LinuxAMD64)
	}
	platform, err := parsePlatform(platformStr)
	if err != nil {
		return err
	}
	opts := append([]crane.Option{crane.WithContext(ctx), crane.WithPlatform(&platform)}, b.Options...)

	baseImage := in.BaseImage
	if baseImage == "" {
		baseImage = DefaultBaseImage
	}
	logrus.Infof("Starting image build process for %s", target)
	logrus.Infof("Base Docker Image: %s", baseImage)
	logrus.Infof("Target Platform: %s/%s", platform.OS, platform.Architecture)

	layerPath, err := b.layerTarball(in)
	if err != nil {
		return fmt.Errorf("failed to create worker layer: %w", err)
	}
	defer os.Remove(layerPath)

	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return os.Open(layerPath)
	}, tarball.WithCompression(compression.GZip))
	if err != nil {
		return fmt.Errorf("failed to create layer from tarball: %w", err)
	}

	baseImg, err := crane.Pull(baseImage, opts...)
	if err != nil {
		return fmt.Errorf("failed to pull base image %q: %w", baseImage, err)
	}
	img, err := mutate.AppendLayers(baseImg, layer)
	if err != nil {
		return fmt.Errorf("failed to append layer: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return fmt.Errorf("failed to read image config: %w", err)
	}
	cfg = cfg.DeepCopy()
	cfg.Config.Entrypoint = WorkerCommand
	cfg.Config.Cmd = nil
	cfg.Config.WorkingDir = "/app"
	cfg.Config.Env = mergeEnv(cfg.Config.Env, KindEnv(in.Kind))
	img, err = mutate.ConfigFile(img, cfg)
	if err != nil {
		return fmt.Errorf("failed to set image config: %w", err)
	}

	logrus.Infof("Uploading Container Image to %s", target)
	if err := crane.Push(img, target, opts...); err != nil {
		return fmt.Errorf("failed to push image %q: %w", target, err)
	}
	logrus.Infof("Image %s built and uploaded successfully.", target)
	return nil
}

// layerTarball stages the entrypoint and manifest under app/ and tars them.
func (b *CraneBuilder) layerTarball(in Inputs) (string, error) {
	files := map[string]string{"app/entrypoint": in.EntrypointPath}
	if in.ManifestPath != "" {
		pkgs, err := ReadPackages(in.ManifestPath)
		if err != nil {
			return "", err
		}
		if len(pkgs) > 0 {
			logrus.Warnf("Crane builds do not install packages; %d listed in %s must be in the base image", len(pkgs), in.ManifestPath)
		}
		files[filepath.Join("app", filepath.Base(in.ManifestPath))] = in.ManifestPath
	}

	stageDir, err := archive.Stage(files)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(stageDir)

	matcher, err := patternmatcher.New(nil)
	if err != nil {
		return "", err
	}
	return archive.SnapshotFile(stageDir, matcher)
}

// parsePlatform converts a platform string (e.g., "linux/amd64") into a v1.Platform struct.
func parsePlatform(platformStr string) (v1.Platform, error) {
	parts := strings.Split(platformStr, "/")
	if len(parts) != 2 {
		return v1.Platform{}, fmt.Errorf("invalid platform format: %q, expected \"os/arch\"", platformStr)
	}
	return v1.Platform{
		OS:           parts[0],
		Architecture: parts[1],
	}, nil
}

// mergeEnv overrides KEY=VALUE entries in base with extra.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := extra[k]; !ok {
			out = append(out, kv)
		}
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
