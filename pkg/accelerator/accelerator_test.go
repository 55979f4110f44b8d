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

package accelerator

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		token string
		want  Descriptor
	}{
		{"cpu", CPU()},
		{"", CPU()},
		{"l4", Descriptor{Kind: KindGPU, Name: "l4", Count: 1, GKELabel: "nvidia-l4", MachineType: "g2-standard-4", NumNodes: 1}},
		{" NVIDIA-L4 ", Descriptor{Kind: KindGPU, Name: "l4", Count: 1, GKELabel: "nvidia-l4", MachineType: "g2-standard-4", NumNodes: 1}},
		{"a100x4", Descriptor{Kind: KindGPU, Name: "a100", Count: 4, GKELabel: "nvidia-tesla-a100", MachineType: "a2-highgpu-1g", NumNodes: 1}},
		{"a100-80gbx8", Descriptor{Kind: KindGPU, Name: "a100-80gb", Count: 8, GKELabel: "nvidia-a100-80gb", MachineType: "a2-ultragpu-1g", NumNodes: 1}},
		{"nvidia-l4x2", Descriptor{Kind: KindGPU, Name: "l4", Count: 2, GKELabel: "nvidia-l4", MachineType: "g2-standard-4", NumNodes: 1}},
		{"v3-4", Descriptor{Kind: KindTPU, Name: "v3", Count: 4, Topology: "2x2", GKELabel: "tpu-v3-podslice", MachineType: "ct3-hightpu-4t", NumNodes: 1}},
		{"v5litepod", Descriptor{Kind: KindTPU, Name: "v5litepod", Count: 4, Topology: "2x2", GKELabel: "tpu-v5-lite-podslice", MachineType: "ct5lp-hightpu-4t", NumNodes: 1}},
		{"v5litepod-2x4", Descriptor{Kind: KindTPU, Name: "v5litepod", Count: 8, Topology: "2x4", GKELabel: "tpu-v5-lite-podslice", MachineType: "ct5lp-hightpu-8t", NumNodes: 1}},
		{"v5p-2x2x4", Descriptor{Kind: KindTPU, Name: "v5p", Count: 16, Topology: "2x2x4", GKELabel: "tpu-v5p-slice", MachineType: "ct5p-hightpu-4t", NumNodes: 4}},
		{"v6e-16", Descriptor{Kind: KindTPU, Name: "v6e", Count: 16, Topology: "4x4", GKELabel: "tpu-v6e-slice", MachineType: "ct6e-standard-4t", NumNodes: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := Parse(tt.token)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.token, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.token, diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		token    string
		contains string
	}{
		{"v3-8", "chip count 8 not supported"},
		{"l4x3", "GPU count 3 not supported"},
		{"v5litepod-3x3", "topology \"3x3\" not supported"},
		{"tpu9000", "unknown accelerator"},
		{"l5", "Did you mean \"l4\"?"},
		{"h10x2", "Did you mean \"h100\"?"},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			_, err := Parse(tt.token)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.token)
			}
			if !errors.Is(err, ErrParse) {
				t.Errorf("Parse(%q) error %v does not wrap ErrParse", tt.token, err)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("Parse(%q) error %q does not contain %q", tt.token, err, tt.contains)
			}
		})
	}
}

func TestMultiHost(t *testing.T) {
	tests := map[string]bool{
		"cpu":       false,
		"h100x8":    false,
		"v5litepod": false,
		"v5p-8":     true,
		"v6e-4x4":   true,
		"v2-32":     true,
	}
	for token, want := range tests {
		d, err := Parse(token)
		if err != nil {
			t.Fatalf("Parse(%q): %v", token, err)
		}
		if got := d.MultiHost(); got != want {
			t.Errorf("%s.MultiHost() = %v, want %v", token, got, want)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, d := range Catalog() {
		got, err := Parse(d.String())
		if err != nil {
			t.Errorf("Parse(%q): %v", d.String(), err)
			continue
		}
		if diff := cmp.Diff(d, got); diff != "" {
			t.Errorf("round trip of %q mismatch (-want +got):\n%s", d.String(), diff)
		}
	}
}
