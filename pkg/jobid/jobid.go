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

// Package jobid generates job identifiers and the names derived from them.
//
// Every remote artifact and cluster object belonging to one run is named by a
// pure function of its ID, so two runs never share a name.
package jobid

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	prefix = "job-"

	PayloadName = "payload.msgpack"
	ContextName = "context.tar.gz"
	ResultName  = "result.msgpack"

	jobNamePrefix = "remote-exec-"
	lwsNamePrefix = "remote-exec-lws-"
)

var idRe = regexp.MustCompile(`^job-[0-9a-f]{12}$`)

// ID identifies a single remote execution.
type ID string

// New returns a fresh random ID.
func New() ID {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return ID(prefix + hex[:12])
}

// Parse validates s as an ID.
func Parse(s string) (ID, error) {
	if !idRe.MatchString(s) {
		return "", fmt.Errorf("invalid job id %q: expected %q followed by 12 lowercase hex characters", s, prefix)
	}
	return ID(s), nil
}

func (id ID) String() string { return string(id) }

// Key returns the storage key for artifact name under this job's prefix.
func (id ID) Key(name string) string {
	return string(id) + "/" + name
}

// Prefix is the storage prefix holding all of this job's artifacts.
func (id ID) Prefix() string {
	return string(id) + "/"
}

// JobName is the batch/v1 Job name for a single-node run.
func (id ID) JobName() string {
	return jobNamePrefix + string(id)
}

// LWSName is the LeaderWorkerSet name for a multi-node run.
func (id ID) LWSName() string {
	return lwsNamePrefix + string(id)
}
