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

package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	if err := SetLevel("info"); err != nil {
		t.Fatal(err)
	}

	Debug("hidden %d", 1)
	Info("shown %d", 2)
	Warn("careful %s", "now")

	out := buf.String()
	if strings.Contains(out, "hidden 1") {
		t.Errorf("debug line printed at info level: %q", out)
	}
	if !strings.Contains(out, "shown 2") || !strings.Contains(out, "careful now") {
		t.Errorf("missing info/warn lines: %q", out)
	}
}

func TestSetLevelRejectsGarbage(t *testing.T) {
	if err := SetLevel("loud"); err == nil {
		t.Error("SetLevel(loud) succeeded, want error")
	}
}

func TestFatalExits(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	code := -1
	exitFunc = func(c int) { code = c }
	defer func() { exitFunc = os.Exit }()

	Fatal("boom: %s", "x")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "boom: x") {
		t.Errorf("fatal message not logged: %q", buf.String())
	}
}
