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

package cloudbuild

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	cloudbuild "google.golang.org/api/cloudbuild/v1"
	"google.golang.org/api/option"

	"remote-exec/pkg/accelerator"
	"remote-exec/pkg/artifact"
	"remote-exec/pkg/imagebuilder"
)

func TestGenerateCloudBuildYaml(t *testing.T) {
	content, err := GenerateCloudBuildYaml(BuildOptions{FullImageName: "us-docker.pkg.dev/p/remote-exec/base:gpu-0123456789ab"})
	if err != nil {
		t.Fatal(err)
	}
	spec, err := BuildSpec(content)
	if err != nil {
		t.Fatalf("BuildSpec: %v\n%s", err, content)
	}

	want := []string{"build", "-f", "Dockerfile", "-t", "us-docker.pkg.dev/p/remote-exec/base:gpu-0123456789ab", "."}
	if diff := cmp.Diff(want, spec.Steps[0].Args); diff != "" {
		t.Errorf("step args mismatch (-want +got):\n%s", diff)
	}
	if spec.Steps[0].Name != "gcr.io/cloud-builders/docker" {
		t.Errorf("step name = %q", spec.Steps[0].Name)
	}
	if diff := cmp.Diff([]string{"us-docker.pkg.dev/p/remote-exec/base:gpu-0123456789ab"}, spec.Images); diff != "" {
		t.Errorf("images mismatch (-want +got):\n%s", diff)
	}
	if spec.Timeout != "1800s" {
		t.Errorf("timeout = %q, want 1800s", spec.Timeout)
	}
	if spec.Options == nil || spec.Options.MachineType != "E2_HIGHCPU_8" {
		t.Errorf("options = %+v", spec.Options)
	}
}

func TestGenerateCloudBuildYamlRequiresImage(t *testing.T) {
	if _, err := GenerateCloudBuildYaml(BuildOptions{FullImageName: "  "}); err == nil {
		t.Error("empty image name accepted")
	}
}

// fakeCloudBuild serves the two Cloud Build calls Builder makes.
type fakeCloudBuild struct {
	mu       sync.Mutex
	created  *cloudbuild.Build
	gets     int
	statuses []string
}

func (f *fakeCloudBuild) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/v1/projects/p/locations/us-central1/builds"):
		body, _ := io.ReadAll(r.Body)
		f.created = &cloudbuild.Build{}
		json.Unmarshal(body, f.created)
		json.NewEncoder(w).Encode(map[string]any{
			"name": "operations/op-1",
			"metadata": map[string]any{
				"@type": "type.googleapis.com/google.devtools.cloudbuild.v1.BuildOperationMetadata",
				"build": map[string]any{"id": "b-1", "status": "QUEUED", "logUrl": "https://console/b-1"},
			},
		})
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/v1/projects/p/locations/us-central1/builds/b-1"):
		status := f.statuses[min(f.gets, len(f.statuses)-1)]
		f.gets++
		json.NewEncoder(w).Encode(map[string]any{"id": "b-1", "status": status, "statusDetail": "step exited 1"})
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotFound)
	}
}

func newTestBuilder(t *testing.T, fake *fakeCloudBuild) (*Builder, imagebuilder.Inputs, afero.Fs) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	fs := afero.NewMemMapFs()
	sources, err := artifact.Open(ctx, "file:///builds", artifact.Options{Fs: fs})
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(ctx, "p", "us-central1", sources,
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication(), option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	b.PollInterval = time.Millisecond

	dir := t.TempDir()
	in := imagebuilder.Inputs{
		Repository:     "us-docker.pkg.dev/p/remote-exec/base",
		Kind:           accelerator.KindCPU,
		EntrypointPath: filepath.Join(dir, "entrypoint"),
	}
	if err := os.WriteFile(in.EntrypointPath, []byte("bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	return b, in, fs
}

// sourcesLeft lists the build context objects still in the sources bucket.
func sourcesLeft(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	var left []string
	err := afero.Walk(fs, "/builds", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			left = append(left, path)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	return left
}

func TestBuilderSuccess(t *testing.T) {
	fake := &fakeCloudBuild{statuses: []string{"QUEUED", "WORKING", "SUCCESS"}}
	b, in, fs := newTestBuilder(t, fake)

	if err := b.Build(context.Background(), in, in.Repository+":cpu-0123456789ab"); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if fake.gets != 3 {
		t.Errorf("polled %d times, want 3", fake.gets)
	}
	if fake.created == nil || fake.created.Source == nil || fake.created.Source.StorageSource == nil {
		t.Fatalf("build request has no storage source: %+v", fake.created)
	}
	if obj := fake.created.Source.StorageSource.Object; !strings.HasSuffix(obj, "/"+sourceName) {
		t.Errorf("source object = %q", obj)
	}
	if left := sourcesLeft(t, fs); len(left) != 0 {
		t.Errorf("build context left behind: %v", left)
	}
}

func TestBuilderFailure(t *testing.T) {
	fake := &fakeCloudBuild{statuses: []string{"WORKING", "FAILURE"}}
	b, in, fs := newTestBuilder(t, fake)

	err := b.Build(context.Background(), in, in.Repository+":cpu-0123456789ab")
	if err == nil || !strings.Contains(err.Error(), "FAILURE") || !strings.Contains(err.Error(), "step exited 1") {
		t.Errorf("Build error = %v, want FAILURE with detail", err)
	}
	if left := sourcesLeft(t, fs); len(left) != 0 {
		t.Errorf("build context left behind: %v", left)
	}
}

func TestRecipeCoversTemplates(t *testing.T) {
	b := &Builder{}
	if !strings.Contains(b.Recipe(), imagebuilder.DockerfileTemplate()) || !strings.Contains(b.Recipe(), "cloud-builders/docker") {
		t.Error("Recipe does not include both templates")
	}
}
