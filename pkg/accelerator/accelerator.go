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

// Package accelerator resolves user accelerator tokens such as "l4", "a100x4"
// or "v5litepod-2x2" into immutable descriptors.
package accelerator

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/agext/levenshtein"
)

// Kind is the accelerator family.
type Kind string

const (
	KindCPU Kind = "cpu"
	KindGPU Kind = "gpu"
	KindTPU Kind = "tpu"
)

// ErrParse is wrapped by every error returned from Parse.
var ErrParse = errors.New("invalid accelerator")

// Descriptor is a fully resolved accelerator request. It is a value type and
// is never mutated after Parse returns it.
type Descriptor struct {
	Kind Kind
	// Name is the canonical short name, e.g. "l4" or "v5litepod".
	Name string
	// Count is the number of GPUs or TPU chips; zero for CPU.
	Count int
	// Topology is the TPU slice topology, e.g. "2x2x2".
	Topology string
	// GKELabel is the node selector value for cloud.google.com/gke-accelerator
	// (GPU) or cloud.google.com/gke-tpu-accelerator (TPU).
	GKELabel    string
	MachineType string
	// NumNodes is the number of hosts the slice spans.
	NumNodes int
}

// CPU returns the descriptor used when no accelerator is requested.
func CPU() Descriptor {
	return Descriptor{Kind: KindCPU, Name: "cpu", NumNodes: 1}
}

// MultiHost reports whether the workload needs a coordinated group of hosts.
func (d Descriptor) MultiHost() bool {
	return d.Kind == KindTPU && d.NumNodes > 1
}

// String renders the descriptor back into a canonical token.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindGPU:
		if d.Count > 1 {
			return fmt.Sprintf("%sx%d", d.Name, d.Count)
		}
		return d.Name
	case KindTPU:
		return fmt.Sprintf("%s-%s", d.Name, d.Topology)
	default:
		return "cpu"
	}
}

// Resolver turns a free-form token into a Descriptor.
type Resolver interface {
	Resolve(token string) (Descriptor, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(token string) (Descriptor, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(token string) (Descriptor, error) {
	return f(token)
}

// DefaultResolver resolves tokens against the built-in catalog.
var DefaultResolver Resolver = ResolverFunc(Parse)

var (
	multiGPURe = regexp.MustCompile(`^(.+?)x(\d+)$`)                // a100x4
	tpuChipsRe = regexp.MustCompile(`^(v\d+\w*)-(\d+)$`)             // v3-8
	tpuTopoRe  = regexp.MustCompile(`^(v\d+\w*)-(\d+x\d+(?:x\d+)?)$`) // v5p-2x2x2
)

// Parse resolves token. Accepted forms:
//
//	GPU: "l4", "nvidia-l4", "a100x4", "a100-80gbx8"
//	TPU: "v3-8" (chips), "v5litepod-2x2" (topology), "v5litepod" (default chips)
//	CPU: "cpu" or ""
func Parse(token string) (Descriptor, error) {
	s := strings.ToLower(strings.TrimSpace(token))

	if s == "" || s == "cpu" {
		return CPU(), nil
	}
	if _, ok := gpus[s]; ok {
		return makeGPU(s, 1)
	}
	if name, ok := gpuAliases[s]; ok {
		return makeGPU(name, 1)
	}
	if m := multiGPURe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[2])
		if _, ok := gpus[m[1]]; ok {
			return makeGPU(m[1], n)
		}
		if name, ok := gpuAliases[m[1]]; ok {
			return makeGPU(name, n)
		}
	}
	if spec, ok := tpus[s]; ok {
		return makeTPU(s, spec.defaultChips)
	}
	if m := tpuTopoRe.FindStringSubmatch(s); m != nil {
		if spec, ok := tpus[m[1]]; ok {
			for chips, topo := range spec.topologies {
				if topo.topology == m[2] {
					return makeTPU(m[1], chips)
				}
			}
			valid := make([]string, 0, len(spec.topologies))
			for _, topo := range spec.topologies {
				valid = append(valid, topo.topology)
			}
			sort.Strings(valid)
			return Descriptor{}, fmt.Errorf("%w: topology %q not supported for %q, supported: %s",
				ErrParse, m[2], m[1], strings.Join(valid, ", "))
		}
	}
	if m := tpuChipsRe.FindStringSubmatch(s); m != nil {
		if _, ok := tpus[m[1]]; ok {
			n, _ := strconv.Atoi(m[2])
			return makeTPU(m[1], n)
		}
	}

	msg := fmt.Sprintf("%v: unknown accelerator %q. GPUs: %s (use 'xN' for multi-GPU, e.g. 'a100x4'). "+
		"TPUs: %s (use '-N' for chips, e.g. 'v3-8', or '-NxM' for topology, e.g. 'v5litepod-2x2')",
		ErrParse, token, strings.Join(sortedKeys(gpus), ", "), strings.Join(sortedKeys(tpus), ", "))
	if hint := suggest(s); hint != "" {
		msg += fmt.Sprintf(". Did you mean %q?", hint)
	}
	return Descriptor{}, &parseError{msg: msg}
}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

func (e *parseError) Unwrap() error { return ErrParse }

// suggest returns the closest known name when it is within edit distance 2.
func suggest(s string) string {
	base := s
	if m := multiGPURe.FindStringSubmatch(s); m != nil {
		base = m[1]
	}
	if i := strings.Index(base, "-"); i > 0 && strings.HasPrefix(base, "v") {
		base = base[:i]
	}

	var candidates []string
	candidates = append(candidates, sortedKeys(gpus)...)
	candidates = append(candidates, sortedKeys(tpus)...)

	best, bestDist := "", 3
	for _, c := range candidates {
		if d := levenshtein.Distance(base, c, nil); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func makeGPU(name string, count int) (Descriptor, error) {
	spec := gpus[name]
	supported := false
	for _, c := range spec.counts {
		if c == count {
			supported = true
			break
		}
	}
	if !supported {
		return Descriptor{}, fmt.Errorf("%w: GPU count %d not supported for %q, supported: %s",
			ErrParse, count, name, joinInts(spec.counts))
	}
	return Descriptor{
		Kind:        KindGPU,
		Name:        name,
		Count:       count,
		GKELabel:    spec.gkeLabel,
		MachineType: spec.machineType,
		NumNodes:    1,
	}, nil
}

func makeTPU(name string, chips int) (Descriptor, error) {
	spec := tpus[name]
	topo, ok := spec.topologies[chips]
	if !ok {
		counts := make([]int, 0, len(spec.topologies))
		for c := range spec.topologies {
			counts = append(counts, c)
		}
		return Descriptor{}, fmt.Errorf("%w: chip count %d not supported for %q, supported: %s",
			ErrParse, chips, name, joinInts(sortedInts(counts)))
	}
	return Descriptor{
		Kind:        KindTPU,
		Name:        name,
		Count:       chips,
		Topology:    topo.topology,
		GKELabel:    spec.gkeAccelerator,
		MachineType: topo.machineType,
		NumNodes:    topo.numNodes,
	}, nil
}

func joinInts(in []int) string {
	parts := make([]string, len(in))
	for i, v := range in {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
