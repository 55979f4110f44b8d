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

// Package run drives one remote call from accelerator resolution to result
// retrieval and cleanup.
package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"remote-exec/pkg/accelerator"
	"remote-exec/pkg/archive"
	"remote-exec/pkg/artifact"
	"remote-exec/pkg/envelope"
	"remote-exec/pkg/imagebuilder"
	"remote-exec/pkg/jobid"
	"remote-exec/pkg/logging"
	"remote-exec/pkg/orchestrator"
)

const (
	DefaultTimeout        = time.Hour
	DefaultLogTail        = 100
	DefaultCleanupTimeout = 2 * time.Minute
)

// Gate verifies credentials before any remote work starts.
type Gate interface {
	Check(ctx context.Context) error
}

// ImageSource returns a digest-pinned image for the inputs, building it if
// needed. *imagebuilder.Cache implements it.
type ImageSource interface {
	EnsureImage(ctx context.Context, in imagebuilder.Inputs) (string, error)
}

// Options tune a pipeline.
type Options struct {
	// Repository receives built images.
	Repository string
	// BaseImage defaults to imagebuilder.DefaultBaseImage.
	BaseImage string
	// Image, when set, is used as is and the build cache is skipped.
	Image string
	// EntrypointPath is the worker binary baked into images; the running
	// executable when empty.
	EntrypointPath string
	// ManifestName defaults to archive.DefaultManifestName.
	ManifestName string
	// Timeout bounds the wait for the workload; DefaultTimeout when zero.
	Timeout time.Duration
	// CaptureEnv lists variable names or PREFIX* patterns forwarded to the
	// worker.
	CaptureEnv []string
	// LogTail is the number of pod log lines printed on failure.
	LogTail int64
	// LogWriter receives the live output of the main pod when the backend
	// can stream it.
	LogWriter io.Writer
	// CleanupTimeout bounds workload and artifact removal;
	// DefaultCleanupTimeout when zero.
	CleanupTimeout time.Duration
	// Environ defaults to os.Environ.
	Environ func() []string
}

// Orchestrator runs the pipeline. It is safe for concurrent use; runs share
// nothing but the remote namespaces.
type Orchestrator struct {
	Resolver accelerator.Resolver
	Gate     Gate
	Images   ImageSource
	Store    artifact.Store
	Backends orchestrator.Backends
	Options  Options
}

// Request is one remote call.
type Request struct {
	// Func names a registered function.
	Func string
	Args any
	// Accelerator is a token such as "l4" or "v5litepod-2x2".
	Accelerator string
	// WorkDir is snapshotted and shipped to the worker; the current
	// directory when empty.
	WorkDir string
}

// Execute runs req remotely and returns the msgpack-encoded return value.
// Exactly one of the value and the error is non-nil. A failure raised by the
// remote function is returned as *envelope.RemoteError; every other failure
// is a *Error. Remote resources are cleaned up before Execute returns, even
// when ctx is cancelled.
func (o *Orchestrator) Execute(ctx context.Context, req Request) ([]byte, error) {
	if req.Func == "" {
		return nil, errors.New("function name is required")
	}
	workDir := req.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		workDir = wd
	}

	job := &Job{ID: jobid.New(), Func: req.Func, WorkDir: workDir, Stage: StageCreated}
	logging.Info("Starting remote execution of %s as %s", job.Func, job.ID)

	var backend orchestrator.Backend
	defer func() { o.cleanup(ctx, job, backend) }()

	if o.Gate != nil {
		if err := o.Gate.Check(ctx); err != nil {
			return nil, fail(StageCreated, ErrCredentials, err)
		}
	}

	ar, err := o.resolve(created{job}, req.Accelerator)
	if err != nil {
		return nil, err
	}
	ir, err := o.ensureImage(ctx, ar)
	if err != nil {
		return nil, err
	}
	au, err := o.upload(ctx, ir, req.Args)
	if err != nil {
		return nil, err
	}
	sub, err := o.submit(ctx, au)
	backend = sub.backend
	if err != nil {
		return nil, err
	}
	rf, err := o.wait(ctx, sub)
	if err != nil {
		return nil, err
	}
	return finish(rf)
}

// EnsureImage resolves accel and returns the worker image a call from
// workDir would run, building it if the cache has no match.
func (o *Orchestrator) EnsureImage(ctx context.Context, accel, workDir string) (string, error) {
	job := &Job{ID: jobid.New(), WorkDir: workDir, Stage: StageCreated}
	ar, err := o.resolve(created{job}, accel)
	if err != nil {
		return "", err
	}
	ir, err := o.ensureImage(ctx, ar)
	if err != nil {
		return "", err
	}
	return ir.Image, nil
}

func (o *Orchestrator) resolve(c created, token string) (accelResolved, error) {
	resolver := o.Resolver
	if resolver == nil {
		resolver = accelerator.DefaultResolver
	}
	d, err := resolver.Resolve(token)
	if err != nil {
		return accelResolved{}, fail(c.Stage, ErrResolve, err)
	}
	c.Accelerator = d
	c.advance(StageAccelResolved)
	logging.Info("Resolved accelerator %q to %s (%s, %d node(s))", token, d, d.Kind, d.NumNodes)
	return accelResolved{c.Job}, nil
}

func (o *Orchestrator) ensureImage(ctx context.Context, a accelResolved) (imageReady, error) {
	if o.Options.Image != "" {
		logging.Info("Using custom image %s, skipping the build cache", o.Options.Image)
		a.Image = o.Options.Image
		a.advance(StageImageReady)
		return imageReady{a.Job}, nil
	}

	manifestName := o.Options.ManifestName
	if manifestName == "" {
		manifestName = archive.DefaultManifestName
	}
	manifest, err := archive.FindManifest(a.WorkDir, manifestName)
	if err != nil {
		return imageReady{}, fail(a.Stage, ErrBuildFailed, err)
	}
	if manifest != "" {
		logging.Info("Using dependency manifest %s", manifest)
	}

	entrypoint := o.Options.EntrypointPath
	if entrypoint == "" {
		if entrypoint, err = os.Executable(); err != nil {
			return imageReady{}, fail(a.Stage, ErrBuildFailed, fmt.Errorf("failed to locate worker binary: %w", err))
		}
	}
	baseImage := o.Options.BaseImage
	if baseImage == "" {
		baseImage = imagebuilder.DefaultBaseImage
	}

	ref, err := o.Images.EnsureImage(ctx, imagebuilder.Inputs{
		Repository:     o.Options.Repository,
		BaseImage:      baseImage,
		Kind:           a.Accelerator.Kind,
		ManifestPath:   manifest,
		EntrypointPath: entrypoint,
	})
	if err != nil {
		return imageReady{}, fail(a.Stage, ErrBuildFailed, err)
	}
	a.Image = ref
	a.advance(StageImageReady)
	return imageReady{a.Job}, nil
}

func (o *Orchestrator) upload(ctx context.Context, r imageReady, args any) (artifactsUploaded, error) {
	rev, err := archive.Revision(r.WorkDir)
	if err != nil {
		logging.Warn("Could not read the git revision of %s: %v", r.WorkDir, err)
	}
	r.Revision = rev

	payload, err := envelope.NewPayload(r.Func, args)
	if err != nil {
		return artifactsUploaded{}, fail(r.Stage, ErrUploadFailed, err)
	}
	environ := o.Options.Environ
	if environ == nil {
		environ = os.Environ
	}
	payload.Env = envelope.CaptureEnv(environ(), o.Options.CaptureEnv)
	payload.Revision = rev
	data, err := payload.Marshal()
	if err != nil {
		return artifactsUploaded{}, fail(r.Stage, ErrUploadFailed, err)
	}
	if r.PayloadURI, err = o.Store.Upload(ctx, r.ID, jobid.PayloadName, bytes.NewReader(data)); err != nil {
		return artifactsUploaded{}, fail(r.Stage, ErrUploadFailed, err)
	}

	if r.ContextURI, err = o.uploadContext(ctx, r.Job); err != nil {
		return artifactsUploaded{}, fail(r.Stage, ErrUploadFailed, err)
	}

	base, err := artifact.ParseURI(o.Store.Base())
	if err != nil {
		return artifactsUploaded{}, fail(r.Stage, ErrUploadFailed, err)
	}
	r.ResultURI = base.Join(r.ID.Key(jobid.ResultName)).String()
	r.advance(StageArtifactsUploaded)
	logging.Info("Uploaded payload and working directory to %s", base.Join(r.ID.String()))
	return artifactsUploaded{r.Job}, nil
}

func (o *Orchestrator) uploadContext(ctx context.Context, job *Job) (string, error) {
	matcher, err := archive.ReadIgnorePatterns(job.WorkDir, archive.DefaultIgnorePatterns)
	if err != nil {
		return "", err
	}
	path, err := archive.SnapshotFile(job.WorkDir, matcher)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()
	return o.Store.Upload(ctx, job.ID, jobid.ContextName, f)
}

// submit returns the selected backend even on failure so cleanup can use it.
func (o *Orchestrator) submit(ctx context.Context, u artifactsUploaded) (submitted, error) {
	backend, variant, err := o.Backends.For(u.Accelerator)
	if err != nil {
		return submitted{Job: u.Job}, fail(u.Stage, ErrSubmitFailed, err)
	}
	logging.Info("Submitting %s to the %s backend", u.ID, variant)

	h, err := backend.Submit(ctx, orchestrator.SubmitRequest{
		ID:           u.ID,
		Image:        u.Image,
		Accelerator:  u.Accelerator,
		ContextURI:   u.ContextURI,
		PayloadURI:   u.PayloadURI,
		ResultURI:    u.ResultURI,
		ArtifactBase: o.Store.Base(),
	})
	u.Handle = h
	if err != nil {
		return submitted{Job: u.Job, backend: backend}, fail(u.Stage, ErrSubmitFailed, err)
	}
	u.advance(StageSubmitted)
	return submitted{Job: u.Job, backend: backend}, nil
}

func (o *Orchestrator) wait(ctx context.Context, s submitted) (resultFetched, error) {
	s.advance(StagePolling)
	timeout := o.Options.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer o.stream(waitCtx, s)()

	state, err := s.backend.Wait(waitCtx, s.Handle)
	switch {
	case err != nil && ctx.Err() != nil:
		return resultFetched{}, fail(s.Stage, ctx.Err(), err)
	case state == orchestrator.StateTimedOut || errors.Is(err, context.DeadlineExceeded):
		o.printLogs(ctx, s)
		return resultFetched{}, fail(s.Stage, ErrTimeout,
			fmt.Errorf("%s did not finish within %s, last state %s", s.Handle, timeout, state))
	case state == orchestrator.StateFailed:
		o.printLogs(ctx, s)
		// A worker that caught the failure has still written the envelope.
		rf, derr := o.download(ctx, s.Job)
		if derr == nil && rf.envelope.Status == envelope.StatusFailure {
			return rf, nil
		}
		if err == nil {
			err = fmt.Errorf("%s failed", s.Handle)
		}
		switch {
		case errors.Is(derr, ErrNotFound):
			// The worker died before it could write anything.
			return resultFetched{}, fail(StagePolling, ErrNotFound, fmt.Errorf("%w (worker wrote no result)", err))
		case derr != nil:
			return resultFetched{}, fail(StagePolling, ErrWorkloadFailed, errors.Join(err, derr))
		}
		return resultFetched{}, fail(StagePolling, ErrWorkloadFailed,
			fmt.Errorf("%w; the result artifact reports success", err))
	case err != nil:
		return resultFetched{}, fail(s.Stage, ErrWorkloadFailed, err)
	}
	logging.Info("Workload %s %s", s.Handle.Name, state)
	return o.download(ctx, s.Job)
}

// stream follows the main pod's output while the workload runs. The returned
// function stops streaming and waits for it to end.
func (o *Orchestrator) stream(ctx context.Context, s submitted) func() {
	streamer, ok := s.backend.(orchestrator.LogStreamer)
	if o.Options.LogWriter == nil || !ok {
		return func() {}
	}
	ctx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := streamer.StreamLogs(ctx, s.Handle, o.Options.LogWriter); err != nil && ctx.Err() == nil {
			logging.Debug("Log streaming for %s ended: %v", s.Handle.Name, err)
		}
	}()
	return func() {
		stop()
		<-done
	}
}

func (o *Orchestrator) download(ctx context.Context, job *Job) (resultFetched, error) {
	data, err := o.Store.Download(ctx, job.ResultURI)
	if errors.Is(err, artifact.ErrNotFound) {
		return resultFetched{}, fail(StagePolling, ErrNotFound, err)
	}
	if err != nil {
		return resultFetched{}, fail(StagePolling, ErrDownloadFailed, err)
	}
	env, err := envelope.Decode(data)
	if err != nil {
		return resultFetched{}, fail(StagePolling, ErrDownloadFailed, err)
	}
	job.advance(StageResultFetched)
	return resultFetched{Job: job, envelope: env}, nil
}

func finish(r resultFetched) ([]byte, error) {
	if err := r.envelope.Err(); err != nil {
		return nil, err
	}
	return r.envelope.Value, nil
}

// printLogs logs the tail of the workload's pod logs.
func (o *Orchestrator) printLogs(ctx context.Context, s submitted) {
	tail := o.Options.LogTail
	if tail == 0 {
		tail = DefaultLogTail
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	logs, err := s.backend.FetchLogs(lctx, s.Handle, tail)
	if err != nil {
		logging.Warn("Could not fetch logs of %s: %v", s.Handle.Name, err)
		return
	}
	if logs != "" {
		logging.Error("Last %d log lines of %s:\n%s", tail, s.Handle.Name, logs)
	}
}

// cleanup releases the workload and the job's artifacts. It runs on a
// context detached from the caller so cancellation still cleans up.
func (o *Orchestrator) cleanup(ctx context.Context, job *Job, backend orchestrator.Backend) {
	timeout := o.Options.CleanupTimeout
	if timeout <= 0 {
		timeout = DefaultCleanupTimeout
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if backend != nil && job.Handle.Name != "" {
		if err := backend.Cleanup(cctx, job.Handle); err != nil {
			logging.Warn("Failed to clean up %s: %v", job.Handle, err)
		}
	}
	if job.Stage >= StageImageReady {
		n, err := o.Store.DeletePrefix(cctx, job.ID)
		if err != nil {
			logging.Warn("Failed to delete artifacts of %s: %v", job.ID, err)
		} else {
			logging.Debug("Deleted %d artifacts of %s", n, job.ID)
		}
	}
	job.advance(StageCleanedUp)
}
