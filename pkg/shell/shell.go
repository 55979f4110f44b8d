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

// Package shell runs external commands such as gcloud and captures their output.
package shell

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CommandResult holds the captured output of a finished command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Command is a command that has not run yet.
type Command struct {
	name  string
	args  []string
	input string
	env   []string
}

// NewCommand prepares name with args.
func NewCommand(name string, args ...string) *Command {
	return &Command{name: name, args: args}
}

// SetInput feeds s to the command's stdin.
func (c *Command) SetInput(s string) {
	c.input = s
}

// SetEnv appends KEY=VALUE pairs to the inherited environment.
func (c *Command) SetEnv(kv ...string) {
	c.env = append(c.env, kv...)
}

// Execute runs the command to completion. A command that cannot be started
// reports exit code 127 with the start error in Stderr.
func (c *Command) Execute() CommandResult {
	cmd := exec.Command(c.name, c.args...)
	if c.input != "" {
		cmd.Stdin = strings.NewReader(c.input)
	}
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res
	}
	res.ExitCode = 127
	if res.Stderr == "" {
		res.Stderr = err.Error()
	}
	return res
}

// ExecuteCommand runs name with args and returns its captured output.
func ExecuteCommand(name string, args ...string) CommandResult {
	return NewCommand(name, args...).Execute()
}

// LookPath reports whether an executable is available on PATH.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// RandomString returns n random lowercase letters.
func RandomString(n int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz"
	seeded := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[seeded.Intn(len(charset))]
	}
	return string(b)
}
