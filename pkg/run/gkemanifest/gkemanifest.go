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

// Package gkemanifest renders the Kubernetes objects that run a job on GKE.
package gkemanifest

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"

	batchv1 "k8s.io/api/batch/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"remote-exec/pkg/accelerator"
	"remote-exec/pkg/jobid"
)

const (
	LabelApp   = "app"
	LabelJobID = "remote-exec/job-id"

	AppSingleNode = "remote-exec"
	AppMultiNode  = "remote-exec-multi-node"

	ContainerName = "remote-exec-worker"

	LWSGroup   = "leaderworkerset.x-k8s.io"
	LWSVersion = "v1"
	LWSPlural  = "leaderworkersets"

	DefaultTTLSecondsAfterFinished = 600
)

// podTemplate is shared by the Job and both LeaderWorkerSet roles.
const podTemplate = `metadata:
  labels:
    {{ quote .LabelApp }}: {{ quote .App }}
    {{ quote .LabelJobID }}: {{ quote .JobID }}
spec:
  restartPolicy: {{ .RestartPolicy }}
{{- if .ServiceAccount }}
  serviceAccountName: {{ quote .ServiceAccount }}
{{- end }}
  containers:
  - name: {{ quote .ContainerName }}
    image: {{ quote .Image }}
    command: [{{ range $i, $c := .Command }}{{ if $i }}, {{ end }}{{ quote $c }}{{ end }}]
    args: [{{ quote .ContextURI }}, {{ quote .PayloadURI }}, {{ quote .ResultURI }}]
    env:
{{- range .Env }}
    - name: {{ quote .Name }}
      value: {{ quote .Value }}
{{- end }}
    resources:
{{- if .Requests }}
      requests:
{{- range .Requests }}
        {{ quote .Name }}: {{ quote .Value }}
{{- end }}
{{- end }}
{{- if .Limits }}
      limits:
{{- range .Limits }}
        {{ quote .Name }}: {{ quote .Value }}
{{- end }}
{{- end }}
{{- if .NodeSelector }}
  nodeSelector:
{{- range .NodeSelector }}
    {{ quote .Name }}: {{ quote .Value }}
{{- end }}
{{- end }}
{{- if .Tolerations }}
  tolerations:
{{- range .Tolerations }}
  - key: {{ quote . }}
    operator: Exists
    effect: NoSchedule
{{- end }}
{{- end }}
`

// KubernetesJobTemplate is the batch/v1 Job used for single-node runs.
const KubernetesJobTemplate = `apiVersion: batch/v1
kind: Job
metadata:
  name: {{ quote .Name }}
  namespace: {{ quote .Namespace }}
  labels:
    {{ quote .LabelApp }}: {{ quote .App }}
    {{ quote .LabelJobID }}: {{ quote .JobID }}
spec:
  backoffLimit: 0
  ttlSecondsAfterFinished: {{ .TTLSecondsAfterFinished }}
  template:
{{ indent 4 .Pod }}
`

// LeaderWorkerSetTemplate is the LeaderWorkerSet used for multi-node runs.
const LeaderWorkerSetTemplate = `apiVersion: {{ .APIVersion }}
kind: LeaderWorkerSet
metadata:
  name: {{ quote .Name }}
  namespace: {{ quote .Namespace }}
  labels:
    {{ quote .LabelApp }}: {{ quote .App }}
    {{ quote .LabelJobID }}: {{ quote .JobID }}
spec:
  replicas: 1
  leaderWorkerTemplate:
    size: {{ .GroupSize }}
    restartPolicy: RecreateGroupOnPodRestart
    leaderTemplate:
{{ indent 6 .Pod }}
    workerTemplate:
{{ indent 6 .Pod }}
`

// ManifestOptions holds parameters for GKE manifest generation
type ManifestOptions struct {
	ID          jobid.ID
	Namespace   string
	Image       string
	Accelerator accelerator.Descriptor
	ContextURI  string
	PayloadURI  string
	ResultURI   string
	// ArtifactBase is exposed to the worker as REMOTE_EXEC_ARTIFACTS.
	ArtifactBase   string
	ServiceAccount string
	// TTLSecondsAfterFinished defaults to DefaultTTLSecondsAfterFinished.
	TTLSecondsAfterFinished int
	// LWSVersion is the LeaderWorkerSet API version; LWSVersion if empty.
	LWSVersion string
}

// Placement is how a descriptor maps onto pod scheduling fields.
type Placement struct {
	NodeSelector map[string]string
	Requests     map[string]string
	Limits       map[string]string
	Tolerations  []string
}

// GeneratePlacement maps an accelerator to node selectors, resources and
// tolerations.
func GeneratePlacement(d accelerator.Descriptor) Placement {
	switch d.Kind {
	case accelerator.KindGPU:
		n := strconv.Itoa(d.Count)
		return Placement{
			NodeSelector: map[string]string{"cloud.google.com/gke-accelerator": d.GKELabel},
			Requests:     map[string]string{"nvidia.com/gpu": n},
			Limits:       map[string]string{"nvidia.com/gpu": n},
			Tolerations:  []string{"nvidia.com/gpu"},
		}
	case accelerator.KindTPU:
		hosts := d.NumNodes
		if hosts < 1 {
			hosts = 1
		}
		n := strconv.Itoa(d.Count / hosts)
		return Placement{
			NodeSelector: map[string]string{
				"cloud.google.com/gke-tpu-accelerator": d.GKELabel,
				"cloud.google.com/gke-tpu-topology":    d.Topology,
			},
			Requests:    map[string]string{"google.com/tpu": n},
			Limits:      map[string]string{"google.com/tpu": n},
			Tolerations: []string{"google.com/tpu"},
		}
	default:
		return Placement{
			Requests: map[string]string{"cpu": "500m", "memory": "512Mi"},
		}
	}
}

type pair struct{ Name, Value string }

func sortedPairs(m map[string]string) []pair {
	out := make([]pair, 0, len(m))
	for k, v := range m {
		out = append(out, pair{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var funcs = template.FuncMap{
	"quote": strconv.Quote,
	"indent": func(n int, s string) string {
		pad := strings.Repeat(" ", n)
		lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
		for i, l := range lines {
			if l != "" {
				lines[i] = pad + l
			}
		}
		return strings.Join(lines, "\n")
	},
}

func render(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Funcs(funcs).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}

func (o ManifestOptions) validate() error {
	if o.ID == "" || o.Image == "" || o.Namespace == "" {
		return fmt.Errorf("manifest requires a job id, image and namespace")
	}
	if o.ContextURI == "" || o.PayloadURI == "" || o.ResultURI == "" {
		return fmt.Errorf("manifest requires context, payload and result URIs")
	}
	return nil
}

func renderPod(o ManifestOptions, app, restartPolicy string) (string, error) {
	p := GeneratePlacement(o.Accelerator)
	env := []pair{{"JOB_ID", o.ID.String()}}
	if o.ArtifactBase != "" {
		env = append(env, pair{"REMOTE_EXEC_ARTIFACTS", o.ArtifactBase})
	}
	env = append(env, pair{"REMOTE_EXEC_ACCELERATOR", o.Accelerator.String()})

	return render("pod", podTemplate, map[string]any{
		"LabelApp":       LabelApp,
		"LabelJobID":     LabelJobID,
		"App":            app,
		"JobID":          o.ID.String(),
		"RestartPolicy":  restartPolicy,
		"ServiceAccount": o.ServiceAccount,
		"ContainerName":  ContainerName,
		"Image":          o.Image,
		"Command":        []string{"/app/entrypoint", "worker"},
		"ContextURI":     o.ContextURI,
		"PayloadURI":     o.PayloadURI,
		"ResultURI":      o.ResultURI,
		"Env":            env,
		"Requests":       sortedPairs(p.Requests),
		"Limits":         sortedPairs(p.Limits),
		"NodeSelector":   sortedPairs(p.NodeSelector),
		"Tolerations":    p.Tolerations,
	})
}

// GenerateJobManifest renders the single-node Job.
func GenerateJobManifest(o ManifestOptions) (string, error) {
	if err := o.validate(); err != nil {
		return "", err
	}
	pod, err := renderPod(o, AppSingleNode, "Never")
	if err != nil {
		return "", err
	}
	ttl := o.TTLSecondsAfterFinished
	if ttl == 0 {
		ttl = DefaultTTLSecondsAfterFinished
	}
	return render("kubernetesJob", KubernetesJobTemplate, map[string]any{
		"Name":                    o.ID.JobName(),
		"Namespace":               o.Namespace,
		"LabelApp":                LabelApp,
		"LabelJobID":              LabelJobID,
		"App":                     AppSingleNode,
		"JobID":                   o.ID.String(),
		"TTLSecondsAfterFinished": ttl,
		"Pod":                     pod,
	})
}

// GroupSize is the number of LeaderWorkerSet members: one leader on the
// first host plus one worker on each of the remaining NumNodes-1 hosts.
func GroupSize(d accelerator.Descriptor) int {
	if d.NumNodes < 1 {
		return 1
	}
	return d.NumNodes
}

// GenerateLWSManifest renders the multi-node LeaderWorkerSet.
func GenerateLWSManifest(o ManifestOptions) (string, error) {
	if err := o.validate(); err != nil {
		return "", err
	}
	// StatefulSet-backed pods must use restartPolicy Always.
	pod, err := renderPod(o, AppMultiNode, "Always")
	if err != nil {
		return "", err
	}
	version := o.LWSVersion
	if version == "" {
		version = LWSVersion
	}
	return render("leaderWorkerSet", LeaderWorkerSetTemplate, map[string]any{
		"APIVersion": LWSGroup + "/" + version,
		"Name":       o.ID.LWSName(),
		"Namespace":  o.Namespace,
		"LabelApp":   LabelApp,
		"LabelJobID": LabelJobID,
		"App":        AppMultiNode,
		"JobID":      o.ID.String(),
		"GroupSize":  GroupSize(o.Accelerator),
		"Pod":        pod,
	})
}

// DecodeJob parses a rendered Job manifest.
func DecodeJob(manifest string) (*batchv1.Job, error) {
	job := &batchv1.Job{}
	if err := yaml.UnmarshalStrict([]byte(manifest), job); err != nil {
		return nil, fmt.Errorf("failed to decode job manifest: %w", err)
	}
	return job, nil
}

// DecodeUnstructured parses any rendered manifest.
func DecodeUnstructured(manifest string) (*unstructured.Unstructured, error) {
	data, err := yaml.YAMLToJSON([]byte(manifest))
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	obj := &unstructured.Unstructured{}
	if err := obj.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return obj, nil
}
