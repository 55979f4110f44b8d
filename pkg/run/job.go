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

package run

import (
	"remote-exec/pkg/accelerator"
	"remote-exec/pkg/envelope"
	"remote-exec/pkg/jobid"
	"remote-exec/pkg/orchestrator"
)

// Stage is a point in the pipeline.
type Stage int

const (
	StageCreated Stage = iota
	StageAccelResolved
	StageImageReady
	StageArtifactsUploaded
	StageSubmitted
	StagePolling
	StageResultFetched
	StageCleanedUp
)

var stageNames = [...]string{
	StageCreated:           "Created",
	StageAccelResolved:     "AccelResolved",
	StageImageReady:        "ImageReady",
	StageArtifactsUploaded: "ArtifactsUploaded",
	StageSubmitted:         "Submitted",
	StagePolling:           "Polling",
	StageResultFetched:     "ResultFetched",
	StageCleanedUp:         "CleanedUp",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "Unknown"
}

// Job is the state of one remote call. It is owned by a single Execute.
type Job struct {
	ID          jobid.ID
	Func        string
	WorkDir     string
	Accelerator accelerator.Descriptor
	Image       string
	PayloadURI  string
	ContextURI  string
	ResultURI   string
	Handle      orchestrator.Handle
	Stage       Stage
	// Revision is the git revision of WorkDir, when it is a repository.
	Revision string
}

// Each stage function takes the previous stage value and returns the next,
// so the pipeline order is enforced by the types.
type (
	created           struct{ *Job }
	accelResolved     struct{ *Job }
	imageReady        struct{ *Job }
	artifactsUploaded struct{ *Job }
	submitted         struct {
		*Job
		backend orchestrator.Backend
	}
	resultFetched struct {
		*Job
		envelope *envelope.Envelope
	}
)

func (j *Job) advance(s Stage) {
	j.Stage = s
}
