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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"remote-exec/pkg/accelerator"
)

// DefaultBaseImage is used when no base image is configured.
const DefaultBaseImage = "debian:bookworm-slim"

// WorkerCommand is the image entrypoint; the Kubernetes args append the
// artifact URIs.
var WorkerCommand = []string{"/app/entrypoint", "worker"}

// KindEnv is the environment baked into images for an accelerator kind.
func KindEnv(kind accelerator.Kind) map[string]string {
	switch kind {
	case accelerator.KindGPU:
		return map[string]string{
			"NVIDIA_VISIBLE_DEVICES":     "all",
			"NVIDIA_DRIVER_CAPABILITIES": "compute,utility",
		}
	case accelerator.KindTPU:
		return map[string]string{"TPU_STDERR_LOG_LEVEL": "0"}
	}
	return nil
}

const dockerfileTemplate = `FROM {{ .BaseImage }}
{{- if .Packages }}
RUN apt-get update && apt-get install -y --no-install-recommends {{ join .Packages " " }} && rm -rf /var/lib/apt/lists/*
{{- end }}
{{- range .Env }}
ENV {{ . }}
{{- end }}
WORKDIR /app
COPY entrypoint /app/entrypoint
{{- if .Manifest }}
COPY {{ .Manifest }} /app/{{ .Manifest }}
{{- end }}
ENTRYPOINT [{{ range $i, $a := .Command }}{{ if $i }}, {{ end }}"{{ $a }}"{{ end }}]
`

// DockerfileTemplate is the raw template, exposed for cache keys.
func DockerfileTemplate() string { return dockerfileTemplate }

type dockerfileData struct {
	BaseImage string
	Packages  []string
	Env       []string
	Manifest  string
	Command   []string
}

// RenderDockerfile renders the Dockerfile for in. The build context must
// hold "entrypoint" and, when in.ManifestPath is set, the manifest under
// its base name.
func RenderDockerfile(in Inputs) (string, error) {
	data := dockerfileData{BaseImage: in.BaseImage, Command: WorkerCommand}
	if data.BaseImage == "" {
		data.BaseImage = DefaultBaseImage
	}
	if in.ManifestPath != "" {
		data.Manifest = filepath.Base(in.ManifestPath)
		pkgs, err := ReadPackages(in.ManifestPath)
		if err != nil {
			return "", err
		}
		data.Packages = pkgs
	}
	env := KindEnv(in.Kind)
	for k, v := range env {
		data.Env = append(data.Env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(data.Env)

	tmpl, err := template.New("Dockerfile").Funcs(template.FuncMap{"join": strings.Join}).Parse(dockerfileTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse Dockerfile template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render Dockerfile: %w", err)
	}
	return buf.String(), nil
}

// ReadPackages parses a manifest: one package per line, blank lines and
// "#" comments ignored.
func ReadPackages(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %q: %w", path, err)
	}
	var pkgs []string
	for _, line := range strings.Split(string(data), "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			pkgs = append(pkgs, line)
		}
	}
	return pkgs, nil
}
