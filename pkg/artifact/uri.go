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
	"fmt"
	"net/url"
	"path"
	"strings"

	"remote-exec/pkg/jobid"
)

const (
	SchemeGCS  = "gs"
	SchemeS3   = "s3"
	SchemeFile = "file"
)

// URI addresses an object or prefix. For file URIs Bucket is empty and Key
// is an absolute path.
type URI struct {
	Scheme string
	Bucket string
	Key    string
}

// ParseURI parses gs://bucket/key, s3://bucket/key or file:///path.
func ParseURI(s string) (URI, error) {
	u, err := url.Parse(s)
	if err != nil {
		return URI{}, fmt.Errorf("failed to parse artifact URI %q: %w", s, err)
	}
	switch u.Scheme {
	case SchemeGCS, SchemeS3:
		if u.Host == "" {
			return URI{}, fmt.Errorf("artifact URI %q has no bucket", s)
		}
		return URI{Scheme: u.Scheme, Bucket: u.Host, Key: strings.Trim(u.Path, "/")}, nil
	case SchemeFile:
		if u.Host != "" || !path.IsAbs(u.Path) {
			return URI{}, fmt.Errorf("file artifact URI %q must be absolute, e.g. file:///tmp/artifacts", s)
		}
		return URI{Scheme: SchemeFile, Key: path.Clean(u.Path)}, nil
	case "":
		return URI{}, fmt.Errorf("artifact URI %q has no scheme", s)
	}
	return URI{}, fmt.Errorf("unsupported artifact scheme %q in %q", u.Scheme, s)
}

// Join appends path elements to the key.
func (u URI) Join(elem ...string) URI {
	parts := append([]string{u.Key}, elem...)
	u.Key = path.Join(parts...)
	if u.Scheme != SchemeFile {
		u.Key = strings.TrimPrefix(u.Key, "/")
	}
	return u
}

func (u URI) String() string {
	if u.Scheme == SchemeFile {
		return "file://" + u.Key
	}
	if u.Key == "" {
		return fmt.Sprintf("%s://%s", u.Scheme, u.Bucket)
	}
	return fmt.Sprintf("%s://%s/%s", u.Scheme, u.Bucket, u.Key)
}

// SplitJobURI splits an object URI produced by Upload into the store base,
// the job id and the object name.
func SplitJobURI(s string) (base string, id jobid.ID, name string, err error) {
	u, err := ParseURI(s)
	if err != nil {
		return "", "", "", err
	}
	dir, name := path.Split(u.Key)
	dir = strings.TrimSuffix(dir, "/")
	parent, rawID := path.Split(dir)
	if id, err = jobid.Parse(rawID); err != nil {
		return "", "", "", fmt.Errorf("artifact URI %q is not a job object: %w", s, err)
	}
	u.Key = strings.TrimSuffix(parent, "/")
	if u.Scheme == SchemeFile && u.Key == "" {
		u.Key = "/"
	}
	return u.String(), id, name, nil
}
