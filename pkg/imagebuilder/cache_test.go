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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"remote-exec/pkg/accelerator"
)

// fakeRegistry resolves tags pushed by fakeBuilder.
type fakeRegistry struct {
	mu      sync.Mutex
	digests map[string]string
	lookups int
}

func (r *fakeRegistry) Digest(_ context.Context, ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	d, ok := r.digests[ref]
	if !ok {
		return "", ErrImageNotFound
	}
	return d, nil
}

func (r *fakeRegistry) put(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.digests == nil {
		r.digests = map[string]string{}
	}
	r.digests[ref] = fmt.Sprintf("sha256:%064d", len(r.digests)+1)
}

type fakeBuilder struct {
	reg    *fakeRegistry
	err    error
	builds int
}

func (b *fakeBuilder) Recipe() string { return "fake" }

func (b *fakeBuilder) Build(_ context.Context, _ Inputs, target string) error {
	b.builds++
	if b.err != nil {
		return b.err
	}
	b.reg.put(target)
	return nil
}

func writeInputs(t *testing.T, manifest, entrypoint string) Inputs {
	t.Helper()
	dir := t.TempDir()
	in := Inputs{
		Repository:     "us-docker.pkg.dev/proj/remote-exec/base",
		BaseImage:      "debian:bookworm-slim",
		Kind:           accelerator.KindGPU,
		EntrypointPath: filepath.Join(dir, "entrypoint"),
	}
	if err := os.WriteFile(in.EntrypointPath, []byte(entrypoint), 0o755); err != nil {
		t.Fatal(err)
	}
	if manifest != "" {
		in.ManifestPath = filepath.Join(dir, "remote-exec.packages")
		if err := os.WriteFile(in.ManifestPath, []byte(manifest), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return in
}

func TestComputeKeyIdempotent(t *testing.T) {
	in := writeInputs(t, "curl\n", "binary-v1")
	k1, err := ComputeKey(in, "recipe")
	if err != nil {
		t.Fatal(err)
	}
	k2, err := ComputeKey(in, "recipe")
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Errorf("ComputeKey not stable: %s != %s", k1, k2)
	}
	if tag := k1.Tag(accelerator.KindGPU); !strings.HasPrefix(tag, "gpu-") || len(tag) != len("gpu-")+12 {
		t.Errorf("Tag = %q", tag)
	}

	// Same content at a different path gives the same key.
	other := writeInputs(t, "curl\n", "binary-v1")
	k3, _ := ComputeKey(other, "recipe")
	if k1 != k3 {
		t.Errorf("key depends on file location: %s != %s", k1, k3)
	}
}

func TestComputeKeySensitivity(t *testing.T) {
	base := writeInputs(t, "curl\n", "binary-v1")
	baseKey, err := ComputeKey(base, "recipe")
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]func() (Inputs, string){
		"base image": func() (Inputs, string) {
			in := base
			in.BaseImage = "ubuntu:24.04"
			return in, "recipe"
		},
		"accelerator kind": func() (Inputs, string) {
			in := base
			in.Kind = accelerator.KindTPU
			return in, "recipe"
		},
		"manifest": func() (Inputs, string) {
			return writeInputs(t, "curl\ngit\n", "binary-v1"), "recipe"
		},
		"no manifest": func() (Inputs, string) {
			return writeInputs(t, "", "binary-v1"), "recipe"
		},
		"entrypoint": func() (Inputs, string) {
			return writeInputs(t, "curl\n", "binary-v2"), "recipe"
		},
		"recipe": func() (Inputs, string) {
			return base, "recipe-2"
		},
	}
	for name, mk := range tests {
		t.Run(name, func(t *testing.T) {
			in, recipe := mk()
			k, err := ComputeKey(in, recipe)
			if err != nil {
				t.Fatal(err)
			}
			if k == baseKey {
				t.Errorf("changing %s did not change the key", name)
			}
		})
	}

	// The repository is where images go, not what they contain.
	moved := base
	moved.Repository = "europe-docker.pkg.dev/proj/remote-exec/base"
	if k, _ := ComputeKey(moved, "recipe"); k != baseKey {
		t.Error("repository changed the key")
	}
}

func TestEnsureImageBuildsOnce(t *testing.T) {
	ctx := context.Background()
	reg := &fakeRegistry{}
	builder := &fakeBuilder{reg: reg}
	cache := &Cache{Registry: reg, Builder: builder}
	in := writeInputs(t, "curl\n", "binary")

	first, err := cache.EnsureImage(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if builder.builds != 1 {
		t.Fatalf("builds = %d after first call, want 1", builder.builds)
	}
	if !strings.HasPrefix(first, in.Repository+"@sha256:") {
		t.Errorf("EnsureImage = %q, want a digest-pinned reference", first)
	}

	second, err := cache.EnsureImage(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if builder.builds != 1 {
		t.Errorf("builds = %d after cache hit, want 1", builder.builds)
	}
	if first != second {
		t.Errorf("cache hit returned %q, want %q", second, first)
	}
}

func TestEnsureImageBuildFailure(t *testing.T) {
	reg := &fakeRegistry{}
	cause := errors.New("step 2 exited 1")
	cache := &Cache{Registry: reg, Builder: &fakeBuilder{reg: reg, err: cause}}

	_, err := cache.EnsureImage(context.Background(), writeInputs(t, "", "binary"))
	if !errors.Is(err, ErrBuildFailed) || !errors.Is(err, cause) {
		t.Errorf("EnsureImage error = %v, want ErrBuildFailed wrapping the cause", err)
	}
}

type fakeLease struct {
	acquired bool
	released int
}

func (l *fakeLease) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() { l.released++ }, l.acquired, nil
}

func TestEnsureImageLease(t *testing.T) {
	ctx := context.Background()
	in := writeInputs(t, "", "binary")

	t.Run("holder builds and releases", func(t *testing.T) {
		reg := &fakeRegistry{}
		builder := &fakeBuilder{reg: reg}
		lease := &fakeLease{acquired: true}
		cache := &Cache{Registry: reg, Builder: builder, Lease: lease}
		if _, err := cache.EnsureImage(ctx, in); err != nil {
			t.Fatal(err)
		}
		if builder.builds != 1 || lease.released != 1 {
			t.Errorf("builds = %d, released = %d; want 1, 1", builder.builds, lease.released)
		}
	})

	t.Run("loser waits for holder", func(t *testing.T) {
		reg := &fakeRegistry{}
		builder := &fakeBuilder{reg: reg}
		cache := &Cache{Registry: reg, Builder: builder, Lease: &fakeLease{}, PollInterval: 10 * time.Millisecond}

		key, _ := ComputeKey(in, builder.Recipe())
		go func() {
			time.Sleep(30 * time.Millisecond)
			reg.put(in.Repository + ":" + key.Tag(in.Kind))
		}()

		ref, err := cache.EnsureImage(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		if builder.builds != 0 {
			t.Errorf("loser built the image")
		}
		if !strings.Contains(ref, "@sha256:") {
			t.Errorf("EnsureImage = %q", ref)
		}
	})

	t.Run("loser builds after lease expiry", func(t *testing.T) {
		reg := &fakeRegistry{}
		builder := &fakeBuilder{reg: reg}
		cache := &Cache{
			Registry: reg, Builder: builder, Lease: &fakeLease{},
			LeaseTTL: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond,
		}
		if _, err := cache.EnsureImage(ctx, in); err != nil {
			t.Fatal(err)
		}
		if builder.builds != 1 {
			t.Errorf("builds = %d, want 1", builder.builds)
		}
	})
}
