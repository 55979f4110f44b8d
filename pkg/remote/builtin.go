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

package remote

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Built-in functions are available in every worker image. They are useful
// for checking that a cluster and accelerator work before shipping real
// code.
var (
	Echo    = Register("remote-exec.echo", echo)
	SysInfo = Register("remote-exec.sysinfo", sysInfo)
)

func echo(_ context.Context, args map[string]any) (map[string]any, error) {
	return args, nil
}

// HostInfo describes the machine a worker runs on.
type HostInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Platform     string `json:"platform"`
	Kernel       string `json:"kernel"`
	Arch         string `json:"arch"`
	LogicalCPUs  int    `json:"logical_cpus"`
	MemoryTotal  uint64 `json:"memory_total"`
	MemoryFree   uint64 `json:"memory_available"`
	Accelerator  string `json:"accelerator,omitempty"`
	JobID        string `json:"job_id,omitempty"`
	SourceCommit string `json:"source_revision,omitempty"`
}

func sysInfo(ctx context.Context, _ struct{}) (HostInfo, error) {
	h, err := host.InfoWithContext(ctx)
	if err != nil {
		return HostInfo{}, fmt.Errorf("failed to read host info: %w", err)
	}
	cpus, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return HostInfo{}, fmt.Errorf("failed to count CPUs: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostInfo{}, fmt.Errorf("failed to read memory info: %w", err)
	}
	return HostInfo{
		Hostname:     h.Hostname,
		OS:           h.OS,
		Platform:     h.Platform,
		Kernel:       h.KernelVersion,
		Arch:         h.KernelArch,
		LogicalCPUs:  cpus,
		MemoryTotal:  vm.Total,
		MemoryFree:   vm.Available,
		Accelerator:  os.Getenv("REMOTE_EXEC_ACCELERATOR"),
		JobID:        os.Getenv("JOB_ID"),
		SourceCommit: os.Getenv("REMOTE_EXEC_REVISION"),
	}, nil
}
