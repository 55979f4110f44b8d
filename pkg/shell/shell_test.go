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

package shell

import (
	"strings"
	"testing"
)

func TestExecuteCommand(t *testing.T) {
	if !LookPath("sh") {
		t.Skip("sh not available")
	}

	res := ExecuteCommand("sh", "-c", "echo out; echo err >&2; exit 3")
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "out")
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "err")
	}
}

func TestCommandInputAndEnv(t *testing.T) {
	if !LookPath("sh") {
		t.Skip("sh not available")
	}

	cmd := NewCommand("sh", "-c", "cat; printf %s \"$GREETING\"")
	cmd.SetInput("hello ")
	cmd.SetEnv("GREETING=world")
	res := cmd.Execute()
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, stderr %q", res.ExitCode, res.Stderr)
	}
	if res.Stdout != "hello world" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello world")
	}
}

func TestMissingBinary(t *testing.T) {
	res := ExecuteCommand("definitely-not-a-real-binary-xyz")
	if res.ExitCode != 127 {
		t.Errorf("ExitCode = %d, want 127", res.ExitCode)
	}
}

func TestRandomString(t *testing.T) {
	s := RandomString(8)
	if len(s) != 8 {
		t.Fatalf("len = %d, want 8", len(s))
	}
	for _, r := range s {
		if r < 'a' || r > 'z' {
			t.Errorf("unexpected rune %q in %q", r, s)
		}
	}
}
