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
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"remote-exec/pkg/jobid"
	"remote-exec/pkg/logging"
)

// GCSStore keeps artifacts in a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	base   URI
}

// NewGCSStore connects to Cloud Storage using Application Default Credentials
// unless opts say otherwise.
func NewGCSStore(ctx context.Context, base URI, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, base: base}, nil
}

func (s *GCSStore) Base() string { return s.base.String() }

func (s *GCSStore) Upload(ctx context.Context, id jobid.ID, name string, r io.Reader) (string, error) {
	dst := s.base.Join(id.Key(name))
	w := s.client.Bucket(dst.Bucket).Object(dst.Key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload %s: %w", dst, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", dst, err)
	}
	logging.Debug("Uploaded %s", dst)
	return dst.String(), nil
}

func (s *GCSStore) Download(ctx context.Context, uri string) ([]byte, error) {
	src, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	rd, err := s.client.Bucket(src.Bucket).Object(src.Key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", uri, err)
	}
	defer rd.Close()

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}

func (s *GCSStore) DeletePrefix(ctx context.Context, id jobid.ID) (int, error) {
	prefix := s.base.Join(id.String()).Key + "/"
	bucket := s.client.Bucket(s.base.Bucket)

	deleted := 0
	it := bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("failed to list gs://%s/%s: %w", s.base.Bucket, prefix, err)
		}
		err = bucket.Object(attrs.Name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return deleted, fmt.Errorf("failed to delete gs://%s/%s: %w", s.base.Bucket, attrs.Name, err)
		}
		deleted++
	}
	return deleted, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
