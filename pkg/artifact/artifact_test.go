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

package artifact

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"remote-exec/pkg/jobid"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		in      string
		want    URI
		wantErr bool
	}{
		{in: "gs://bucket", want: URI{Scheme: "gs", Bucket: "bucket"}},
		{in: "gs://bucket/a/b/", want: URI{Scheme: "gs", Bucket: "bucket", Key: "a/b"}},
		{in: "s3://data/jobs", want: URI{Scheme: "s3", Bucket: "data", Key: "jobs"}},
		{in: "file:///tmp/artifacts/", want: URI{Scheme: "file", Key: "/tmp/artifacts"}},
		{in: "file://relative/path", wantErr: true},
		{in: "gs:///key", wantErr: true},
		{in: "/tmp/x", wantErr: true},
		{in: "ftp://host/x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseURI(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); !tt.wantErr && diff != "" {
				t.Errorf("ParseURI(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestSplitJobURI(t *testing.T) {
	tests := []struct {
		in, base, name string
	}{
		{"gs://b/job-0123456789ab/result.msgpack", "gs://b", "result.msgpack"},
		{"s3://b/runs/job-0123456789ab/payload.msgpack", "s3://b/runs", "payload.msgpack"},
		{"file:///tmp/a/job-0123456789ab/context.tar.gz", "file:///tmp/a", "context.tar.gz"},
		{"file:///job-0123456789ab/result.msgpack", "file:///", "result.msgpack"},
	}
	for _, tt := range tests {
		base, id, name, err := SplitJobURI(tt.in)
		if err != nil {
			t.Errorf("SplitJobURI(%q): %v", tt.in, err)
			continue
		}
		if base != tt.base || id != "job-0123456789ab" || name != tt.name {
			t.Errorf("SplitJobURI(%q) = %q, %q, %q", tt.in, base, id, name)
		}
	}
	if _, _, _, err := SplitJobURI("gs://b/not-a-job/result.msgpack"); err == nil {
		t.Error("SplitJobURI accepted a non-job path")
	}
}

func TestFSStore(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store, err := Open(ctx, "file:///artifacts", Options{Fs: fs})
	if err != nil {
		t.Fatal(err)
	}

	a, b := jobid.ID("job-00000000000a"), jobid.ID("job-00000000000b")
	uri, err := store.Upload(ctx, a, jobid.PayloadName, bytes.NewBufferString("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "file:///artifacts/job-00000000000a/payload.msgpack"; uri != want {
		t.Errorf("Upload URI = %q, want %q", uri, want)
	}
	if _, err := store.Upload(ctx, a, jobid.ContextName, bytes.NewBufferString("ctx")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Upload(ctx, b, jobid.PayloadName, bytes.NewBufferString("other")); err != nil {
		t.Fatal(err)
	}

	got, err := store.Download(ctx, uri)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Errorf("Download = %q", got)
	}

	missing := "file:///artifacts/job-00000000000a/result.msgpack"
	if _, err := store.Download(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Download(missing) error = %v, want ErrNotFound", err)
	}

	n, err := store.DeletePrefix(ctx, a)
	if err != nil || n != 2 {
		t.Errorf("DeletePrefix = %d, %v; want 2, nil", n, err)
	}
	if n, err := store.DeletePrefix(ctx, a); err != nil || n != 0 {
		t.Errorf("second DeletePrefix = %d, %v; want 0, nil", n, err)
	}
	if _, err := store.Download(ctx, "file:///artifacts/job-00000000000b/payload.msgpack"); err != nil {
		t.Errorf("other job's artifact was removed: %v", err)
	}
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := Open(context.Background(), "ftp://host/x", Options{}); err == nil {
		t.Error("Open accepted ftp://")
	}
}
