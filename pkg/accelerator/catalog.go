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

import "sort"

type gpuSpec struct {
	gkeLabel    string
	machineType string
	counts      []int
}

type tpuTopology struct {
	topology    string
	machineType string
	numNodes    int
}

type tpuSpec struct {
	gkeAccelerator string
	defaultChips   int
	topologies     map[int]tpuTopology // keyed by chip count
}

var gpus = map[string]gpuSpec{
	"l4":        {"nvidia-l4", "g2-standard-4", []int{1, 2, 4}},
	"t4":        {"nvidia-tesla-t4", "n1-standard-4", []int{1, 2, 4}},
	"v100":      {"nvidia-tesla-v100", "n1-standard-8", []int{1, 2, 4, 8}},
	"a100":      {"nvidia-tesla-a100", "a2-highgpu-1g", []int{1, 2, 4, 8}},
	"a100-80gb": {"nvidia-a100-80gb", "a2-ultragpu-1g", []int{1, 2, 4, 8}},
	"h100":      {"nvidia-h100-80gb", "a3-highgpu-1g", []int{1, 2, 4, 8}},
}

// numNodes = product(topology dims) / chips per VM; the "-Nt" machine type
// suffix gives chips per VM.
var tpus = map[string]tpuSpec{
	"v2": {"tpu-v2-podslice", 4, map[int]tpuTopology{
		4:  {"2x2", "ct2-hightpu-4t", 1},
		16: {"4x4", "ct2-hightpu-4t", 4},
		32: {"4x8", "ct2-hightpu-4t", 8},
	}},
	"v3": {"tpu-v3-podslice", 4, map[int]tpuTopology{
		4:  {"2x2", "ct3-hightpu-4t", 1},
		16: {"4x4", "ct3p-hightpu-4t", 4},
		32: {"4x8", "ct3p-hightpu-4t", 8},
	}},
	"v5litepod": {"tpu-v5-lite-podslice", 4, map[int]tpuTopology{
		1: {"1x1", "ct5lp-hightpu-1t", 1},
		4: {"2x2", "ct5lp-hightpu-4t", 1},
		8: {"2x4", "ct5lp-hightpu-8t", 1},
	}},
	"v5p": {"tpu-v5p-slice", 8, map[int]tpuTopology{
		8:  {"2x2x2", "ct5p-hightpu-4t", 2},
		16: {"2x2x4", "ct5p-hightpu-4t", 4},
	}},
	"v6e": {"tpu-v6e-slice", 8, map[int]tpuTopology{
		8:  {"2x4", "ct6e-standard-4t", 2},
		16: {"4x4", "ct6e-standard-4t", 4},
	}},
}

// gpuAliases maps GKE labels ("nvidia-l4") back to short names ("l4").
var gpuAliases = func() map[string]string {
	m := make(map[string]string, len(gpus))
	for name, spec := range gpus {
		m[spec.gkeLabel] = name
	}
	return m
}()

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedInts(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	return out
}

// Catalog lists every descriptor the default resolver can produce, for
// display by the CLI.
func Catalog() []Descriptor {
	out := []Descriptor{CPU()}
	for _, name := range sortedKeys(gpus) {
		for _, c := range gpus[name].counts {
			d, _ := makeGPU(name, c)
			out = append(out, d)
		}
	}
	for _, name := range sortedKeys(tpus) {
		spec := tpus[name]
		chips := make([]int, 0, len(spec.topologies))
		for c := range spec.topologies {
			chips = append(chips, c)
		}
		for _, c := range sortedInts(chips) {
			d, _ := makeTPU(name, c)
			out = append(out, d)
		}
	}
	return out
}
