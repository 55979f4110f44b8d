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

// Package artifact stores per-job payloads, working-directory snapshots and
// results in an object store shared by the caller and the remote worker.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"remote-exec/pkg/jobid"
)

// ErrNotFound is returned by Download when the object does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store is an object store rooted at a base URI. Objects for a job live
// under <base>/<job id>/<name>.
type Store interface {
	// Upload writes r to the job's name and returns its URI.
	Upload(ctx context.Context, id jobid.ID, name string, r io.Reader) (string, error)
	// Download reads the object at uri.
	Download(ctx context.Context, uri string) ([]byte, error)
	// DeletePrefix removes every object belonging to id and reports how
	// many were deleted. Missing objects are not an error.
	DeletePrefix(ctx context.Context, id jobid.ID) (int, error)
	// Base is the URI the store is rooted at.
	Base() string
}

// Options configures the non-GCS backends.
type Options struct {
	// S3Endpoint, S3AccessKey and S3SecretKey configure s3:// stores.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Fs backs file:// stores; the OS filesystem when nil.
	Fs afero.Fs
}

// Open returns the store for base, chosen by its scheme.
func Open(ctx context.Context, base string, opts Options) (Store, error) {
	u, err := ParseURI(base)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case SchemeGCS:
		return NewGCSStore(ctx, u)
	case SchemeS3:
		return NewMinioStore(u, opts)
	case SchemeFile:
		fs := opts.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		return NewFSStore(fs, u), nil
	}
	return nil, fmt.Errorf("unsupported artifact scheme %q", u.Scheme)
}
