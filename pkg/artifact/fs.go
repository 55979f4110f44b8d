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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"remote-exec/pkg/jobid"
)

// FSStore keeps artifacts in a directory. It serves local runs, shared
// volumes and tests.
type FSStore struct {
	fs   afero.Fs
	base URI
}

// NewFSStore roots a store at base on fs.
func NewFSStore(fs afero.Fs, base URI) *FSStore {
	return &FSStore{fs: fs, base: base}
}

func (s *FSStore) Base() string { return s.base.String() }

func (s *FSStore) Upload(ctx context.Context, id jobid.ID, name string, r io.Reader) (string, error) {
	dst := s.base.Join(id.Key(name))
	if err := s.fs.MkdirAll(filepath.Dir(dst.Key), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	if err := afero.WriteReader(s.fs, dst.Key, r); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return dst.String(), nil
}

func (s *FSStore) Download(ctx context.Context, uri string) ([]byte, error) {
	src, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if src.Scheme != SchemeFile {
		return nil, fmt.Errorf("file store cannot read %s", uri)
	}
	data, err := afero.ReadFile(s.fs, src.Key)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}

func (s *FSStore) DeletePrefix(ctx context.Context, id jobid.ID) (int, error) {
	dir := s.base.Join(id.String()).Key
	exists, err := afero.DirExists(s.fs, dir)
	if err != nil || !exists {
		return 0, err
	}

	deleted := 0
	err = afero.Walk(s.fs, dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if err := s.fs.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", dir, err)
	}
	return deleted, nil
}
