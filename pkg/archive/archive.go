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

// Package archive snapshots a working directory into a gzipped tarball and
// restores it on the remote side.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/sirupsen/logrus"
)

// IgnoreFiles are read, in order, from the snapshot root. Patterns from all
// files that exist are combined.
var IgnoreFiles = []string{".remoteignore", ".dockerignore"}

// DefaultIgnorePatterns are always excluded from snapshots.
var DefaultIgnorePatterns = []string{".git", ".remoteignore"}

// ReadIgnorePatterns builds a matcher from defaultPatterns plus any ignore
// files found in dir.
func ReadIgnorePatterns(dir string, defaultPatterns []string) (*patternmatcher.PatternMatcher, error) {
	patterns := append([]string(nil), defaultPatterns...)

	for _, name := range IgnoreFiles {
		ignorePath := filepath.Join(dir, name)
		file, err := os.Open(ignorePath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open %s file %q: %w", name, ignorePath, err)
		}
		filePatterns, err := ignorefile.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s file %q: %w", name, ignorePath, err)
		}
		patterns = append(patterns, filePatterns...)
		logrus.Debugf("Found %d patterns in %s at %q", len(filePatterns), name, ignorePath)
	}

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}
	return matcher, nil
}

// Ignored reports whether relPath is excluded by matcher. Directories get a
// trailing slash so "dir/" patterns match them. A nil matcher ignores nothing.
func Ignored(matcher *patternmatcher.PatternMatcher, relPath string, isDir bool) (bool, error) {
	if matcher == nil {
		return false, nil
	}
	relPathSlash := filepath.ToSlash(relPath)
	if isDir && !strings.HasSuffix(relPathSlash, "/") {
		relPathSlash += "/"
	}
	return matcher.MatchesOrParentMatches(relPathSlash)
}

// Snapshot writes a gzipped tarball of sourceDir to w, skipping paths the
// matcher excludes. It returns the number of regular files written.
func Snapshot(w io.Writer, sourceDir string, matcher *patternmatcher.PatternMatcher) (int, error) {
	gzipWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzipWriter)

	files := 0
	walkErr := filepath.Walk(sourceDir, func(path string, info fs.FileInfo, err error) error {
		added, err := addEntry(tarWriter, sourceDir, matcher, path, info, err)
		if added {
			files++
		}
		return err
	})
	if walkErr != nil {
		return files, walkErr
	}
	if err := tarWriter.Close(); err != nil {
		return files, fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return files, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	logrus.Debugf("Snapshot of %s holds %d files", sourceDir, files)
	return files, nil
}

// SnapshotFile writes the snapshot to a temporary file and returns its path.
// The caller removes it.
func SnapshotFile(sourceDir string, matcher *patternmatcher.PatternMatcher) (string, error) {
	tmpFile, err := os.CreateTemp("", "remote-exec-context-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file for tarball: %w", err)
	}
	defer tmpFile.Close()

	if _, err := Snapshot(tmpFile, sourceDir, matcher); err != nil {
		os.Remove(tmpFile.Name())
		return "", err
	}
	return tmpFile.Name(), nil
}

func addEntry(tarWriter *tar.Writer, sourceDir string, matcher *patternmatcher.PatternMatcher, path string, info fs.FileInfo, errFromWalk error) (bool, error) {
	if errFromWalk != nil {
		return false, errFromWalk
	}

	relPath, err := filepath.Rel(sourceDir, path)
	if err != nil {
		return false, fmt.Errorf("failed to get relative path for %q: %w", path, err)
	}
	if relPath == "." {
		return false, nil
	}

	ignored, err := Ignored(matcher, relPath, info.IsDir())
	if err != nil {
		return false, fmt.Errorf("failed to check ignore patterns for %q: %w", path, err)
	}
	if ignored {
		if info.IsDir() {
			logrus.Debugf("Ignoring directory %q", relPath)
			return false, filepath.SkipDir
		}
		logrus.Debugf("Ignoring file %q", relPath)
		return false, nil
	}

	// Sockets, devices and symlinks are not portable to the worker.
	if !info.IsDir() && !info.Mode().IsRegular() {
		logrus.Debugf("Skipping non-regular file %q", relPath)
		return false, nil
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return false, fmt.Errorf("failed to create tar header for %q: %w", path, err)
	}
	header.Name = filepath.ToSlash(relPath)
	if info.IsDir() {
		header.Name += "/"
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return false, fmt.Errorf("failed to write tar header for %q: %w", path, err)
	}
	if info.IsDir() {
		return false, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open file %q: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(tarWriter, file); err != nil {
		return false, fmt.Errorf("failed to write file content for %q: %w", path, err)
	}
	return true, nil
}

// Extract unpacks a snapshot produced by Snapshot into destDir. Entries that
// would escape destDir are rejected.
func Extract(r io.Reader, destDir string) error {
	gzipReader, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gzipReader.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", destDir, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create %q: %w", root, err)
	}

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(header.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("tar entry %q escapes %q", header.Name, destDir)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %q: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tarReader, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			logrus.Debugf("Skipping tar entry %q of type %c", header.Name, header.Typeflag)
		}
	}
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %q: %w", target, err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %q: %w", target, err)
	}
	return f.Close()
}
