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

package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	cp "github.com/otiai10/copy"
)

// DefaultManifestName is the dependency manifest looked up by FindManifest.
// It lists OS packages, one per line, baked into the worker image.
const DefaultManifestName = "remote-exec.packages"

// FindManifest searches startDir and then each parent for name. It returns
// "" when no directory up to the filesystem root has one.
func FindManifest(startDir, name string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", startDir, err)
	}
	for {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Revision returns the HEAD commit of the git repository containing dir,
// suffixed with "-dirty" when the worktree has changes. It returns "" when
// dir is not inside a repository.
func Revision(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open git repository at %q: %w", dir, err)
	}

	head, err := repo.Head()
	if err != nil {
		// Fresh repositories have no HEAD yet.
		return "", nil
	}
	rev := head.Hash().String()

	wt, err := repo.Worktree()
	if err != nil {
		return rev, nil
	}
	status, err := wt.Status()
	if err == nil && !status.IsClean() {
		rev += "-dirty"
	}
	return rev, nil
}

// Stage copies files into a fresh temporary directory under the given
// relative names and returns the directory. The caller removes it.
func Stage(files map[string]string) (string, error) {
	dir, err := os.MkdirTemp("", "remote-exec-stage-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	for rel, src := range files {
		dst := filepath.Join(dir, rel)
		if err := cp.Copy(src, dst, cp.Options{PreserveTimes: false, Sync: true}); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("failed to stage %q as %q: %w", src, rel, err)
		}
	}
	return dir, nil
}
