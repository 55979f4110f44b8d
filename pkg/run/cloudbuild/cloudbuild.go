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

// Package cloudbuild builds worker images remotely with Google Cloud Build.
package cloudbuild

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/moby/patternmatcher"
	cloudbuild "google.golang.org/api/cloudbuild/v1"
	"google.golang.org/api/option"
	"sigs.k8s.io/yaml"

	"remote-exec/pkg/archive"
	"remote-exec/pkg/artifact"
	"remote-exec/pkg/imagebuilder"
	"remote-exec/pkg/jobid"
	"remote-exec/pkg/logging"
)

// CloudBuildTemplate is the Go template for generating cloudbuild.yaml
const CloudBuildTemplate = `
steps:
- name: 'gcr.io/cloud-builders/docker'
  args: ['build', '-f', '{{.Dockerfile}}', '-t', '{{.FullImageName}}', '.']
images:
- '{{.FullImageName}}'
timeout: '{{.Timeout}}'
options:
  machineType: '{{.MachineType}}'
`

const sourceName = "source.tar.gz"

// BuildOptions holds parameters for the Cloud Build process
type BuildOptions struct {
	FullImageName string
	Dockerfile    string
	Timeout       time.Duration
	MachineType   string
}

// GenerateCloudBuildYaml generates the cloudbuild.yaml content
func GenerateCloudBuildYaml(opts BuildOptions) (string, error) {
	if strings.TrimSpace(opts.FullImageName) == "" {
		return "", fmt.Errorf("image name cannot be empty")
	}
	if opts.Dockerfile == "" {
		opts.Dockerfile = "Dockerfile"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.MachineType == "" {
		opts.MachineType = "E2_HIGHCPU_8"
	}

	tmpl, err := template.New("cloudbuild").Parse(CloudBuildTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse cloudbuild template: %w", err)
	}

	data := struct {
		Dockerfile    string
		FullImageName string
		Timeout       string
		MachineType   string
	}{
		Dockerfile:    opts.Dockerfile,
		FullImageName: opts.FullImageName,
		Timeout:       fmt.Sprintf("%ds", int(opts.Timeout.Seconds())),
		MachineType:   opts.MachineType,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute cloudbuild template: %w", err)
	}
	return buf.String(), nil
}

// BuildSpec parses a rendered cloudbuild.yaml into an API build request.
func BuildSpec(cloudBuildYaml string) (*cloudbuild.Build, error) {
	build := &cloudbuild.Build{}
	if err := yaml.Unmarshal([]byte(cloudBuildYaml), build); err != nil {
		return nil, fmt.Errorf("failed to parse cloudbuild.yaml: %w", err)
	}
	if len(build.Steps) == 0 {
		return nil, fmt.Errorf("cloudbuild.yaml has no steps")
	}
	return build, nil
}

// Builder implements imagebuilder.Builder on the Cloud Build API.
type Builder struct {
	Project string
	Region  string
	// Sources receives the build context tarball, e.g. a GCS store rooted
	// at gs://<project>-remote-exec-builds.
	Sources      artifact.Store
	Service      *cloudbuild.Service
	PollInterval time.Duration
	Timeout      time.Duration
}

// New connects to the Cloud Build API.
func New(ctx context.Context, project, region string, sources artifact.Store, opts ...option.ClientOption) (*Builder, error) {
	svc, err := cloudbuild.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud build client: %w", err)
	}
	return &Builder{Project: project, Region: region, Sources: sources, Service: svc}, nil
}

func (b *Builder) Recipe() string {
	return imagebuilder.DockerfileTemplate() + CloudBuildTemplate
}

// Build uploads the build context, starts a build and waits for it.
func (b *Builder) Build(ctx context.Context, in imagebuilder.Inputs, target string) error {
	id := jobid.New()
	sourceURI, err := b.uploadSource(ctx, id, in)
	if err != nil {
		return err
	}
	defer b.deleteSource(ctx, id)
	source, err := artifact.ParseURI(sourceURI)
	if err != nil {
		return err
	}

	content, err := GenerateCloudBuildYaml(BuildOptions{FullImageName: target, Timeout: b.Timeout})
	if err != nil {
		return err
	}
	logging.Debug("CloudBuild YAML content:\n%s", content)
	spec, err := BuildSpec(content)
	if err != nil {
		return err
	}
	spec.Source = &cloudbuild.Source{
		StorageSource: &cloudbuild.StorageSource{Bucket: source.Bucket, Object: source.Key},
	}

	parent := fmt.Sprintf("projects/%s/locations/%s", b.Project, b.Region)
	op, err := b.Service.Projects.Locations.Builds.Create(parent, spec).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to submit cloud build: %w", err)
	}

	var meta cloudbuild.BuildOperationMetadata
	if err := json.Unmarshal(op.Metadata, &meta); err != nil || meta.Build == nil || meta.Build.Id == "" {
		return fmt.Errorf("cloud build operation %s carries no build id", op.Name)
	}
	if meta.Build.LogUrl != "" {
		logging.Info("Cloud Build submitted: %s", meta.Build.LogUrl)
	}

	return b.wait(ctx, fmt.Sprintf("%s/builds/%s", parent, meta.Build.Id))
}

func (b *Builder) uploadSource(ctx context.Context, id jobid.ID, in imagebuilder.Inputs) (string, error) {
	dockerfile, err := imagebuilder.RenderDockerfile(in)
	if err != nil {
		return "", err
	}

	files := map[string]string{"entrypoint": in.EntrypointPath}
	if in.ManifestPath != "" {
		files[filepath.Base(in.ManifestPath)] = in.ManifestPath
	}
	stageDir, err := archive.Stage(files)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(stageDir)
	if err := os.WriteFile(filepath.Join(stageDir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return "", fmt.Errorf("failed to write Dockerfile: %w", err)
	}

	matcher, err := patternmatcher.New(nil)
	if err != nil {
		return "", err
	}
	tarPath, err := archive.SnapshotFile(stageDir, matcher)
	if err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}
	defer os.Remove(tarPath)

	f, err := os.Open(tarPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	uri, err := b.Sources.Upload(ctx, id, sourceName, f)
	if err != nil {
		return "", fmt.Errorf("failed to upload build context: %w", err)
	}
	logging.Info("Uploaded build context to %s", uri)
	return uri, nil
}

// deleteSource removes the uploaded build context. Failures are only logged.
func (b *Builder) deleteSource(ctx context.Context, id jobid.ID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if _, err := b.Sources.DeletePrefix(ctx, id); err != nil {
		logging.Warn("Failed to delete build context %s: %v", id, err)
	}
}

// terminal build statuses and whether they mean success
var terminal = map[string]bool{
	"SUCCESS":        true,
	"FAILURE":        false,
	"INTERNAL_ERROR": false,
	"TIMEOUT":        false,
	"CANCELLED":      false,
	"EXPIRED":        false,
}

func (b *Builder) wait(ctx context.Context, name string) error {
	interval := b.PollInterval
	if interval == 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		build, err := b.Service.Projects.Locations.Builds.Get(name).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to get build %s: %w", name, err)
		}
		if build.Status != last {
			logging.Info("Cloud Build %s: %s", build.Id, build.Status)
			last = build.Status
		}
		if ok, done := terminal[build.Status]; done {
			if ok {
				return nil
			}
			return fmt.Errorf("cloud build %s finished with status %s: %s (logs: %s)",
				build.Id, build.Status, build.StatusDetail, build.LogUrl)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
