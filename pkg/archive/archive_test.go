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
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/go-cmp/cmp"
	"github.com/moby/patternmatcher"
)

func TestIgnored(t *testing.T) {
	tests := []struct {
		name           string
		ignorePatterns []string
		path           string
		isDir          bool
		wantIgnored    bool
	}{
		{"simple match", []string{"*.log"}, "foo.log", false, true},
		{"simple mismatch", []string{"*.log"}, "foo.txt", false, false},
		{"directory match", []string{"temp"}, "temp", true, true},
		{"negation", []string{"*.log", "!important.log"}, "important.log", false, false},
		{"double star", []string{"**/*.tmp"}, "a/b/c/foo.tmp", false, true},
		{"slash pattern matches directory", []string{"foo/"}, "foo", true, true},
		// moby/patternmatcher also matches a plain file here.
		{"slash pattern matches file", []string{"foo/"}, "foo", false, true},
		{"nested file in ignored directory", []string{"foo/"}, "foo/bar", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher, err := patternmatcher.New(tt.ignorePatterns)
			if err != nil {
				t.Fatalf("failed to create matcher: %v", err)
			}
			got, err := Ignored(matcher, tt.path, tt.isDir)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.wantIgnored {
				t.Errorf("Ignored(%q, isDir=%v) = %v, want %v", tt.path, tt.isDir, got, tt.wantIgnored)
			}
		})
	}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func listTree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			rel, _ := filepath.Rel(root, path)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(out)
	return out
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"main.go":            "package main",
		"data/train.csv":     "a,b",
		"data/cache/big.bin": "xx",
		"run.log":            "noise",
		".git/HEAD":          "ref",
		".dockerignore":      "*.log\n",
		".remoteignore":      "data/cache/\n",
	})

	matcher, err := ReadIgnorePatterns(src, DefaultIgnorePatterns)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	n, err := Snapshot(&buf, src, matcher)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if n != 3 {
		t.Errorf("Snapshot wrote %d files, want 3", n)
	}

	dst := t.TempDir()
	if err := Extract(&buf, dst); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := []string{".dockerignore", "data/train.csv", "main.go"}
	if diff := cmp.Diff(want, listTree(t, dst)); diff != "" {
		t.Errorf("extracted tree mismatch (-want +got):\n%s", diff)
	}
	got, _ := os.ReadFile(filepath.Join(dst, "data/train.csv"))
	if string(got) != "a,b" {
		t.Errorf("data/train.csv = %q", got)
	}
}

func TestSnapshotFile(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})
	matcher, _ := patternmatcher.New(nil)

	path, err := SnapshotFile(src, matcher)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(path)
	if !strings.HasSuffix(path, ".tar.gz") {
		t.Errorf("SnapshotFile path %q", path)
	}
}

func TestExtractRejectsGarbage(t *testing.T) {
	if err := Extract(strings.NewReader("not gzip"), t.TempDir()); err == nil {
		t.Error("Extract accepted a non-gzip stream")
	}
}

func TestFindManifest(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"remote-exec.packages": "git\n",
		"a/b/c/keep":           "",
	})

	got, err := FindManifest(filepath.Join(root, "a/b/c"), DefaultManifestName)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(root, DefaultManifestName); got != want {
		t.Errorf("FindManifest = %q, want %q", got, want)
	}

	got, err = FindManifest(filepath.Join(root, "a"), "no-such-manifest.txt")
	if err != nil || got != "" {
		t.Errorf("FindManifest(missing) = %q, %v; want \"\", nil", got, err)
	}
}

func TestStage(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"deps": "curl", "bin": "ELF"})

	dir, err := Stage(map[string]string{
		"app/packages":   filepath.Join(src, "deps"),
		"app/entrypoint": filepath.Join(src, "bin"),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	if diff := cmp.Diff([]string{"app/entrypoint", "app/packages"}, listTree(t, dir)); diff != "" {
		t.Errorf("staged tree mismatch (-want +got):\n%s", diff)
	}
}

func TestRevision(t *testing.T) {
	dir := t.TempDir()
	if rev, err := Revision(dir); err != nil || rev != "" {
		t.Fatalf("Revision(non-repo) = %q, %v", rev, err)
	}

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	writeTree(t, dir, map[string]string{"main.go": "package main"})
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("main.go"); err != nil {
		t.Fatal(err)
	}
	hash, err := wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}

	rev, err := Revision(dir)
	if err != nil {
		t.Fatal(err)
	}
	if rev != hash.String() {
		t.Errorf("Revision = %q, want %q", rev, hash.String())
	}

	writeTree(t, dir, map[string]string{"main.go": "package main // edited"})
	rev, _ = Revision(dir)
	if rev != hash.String()+"-dirty" {
		t.Errorf("Revision after edit = %q, want dirty suffix", rev)
	}
}
