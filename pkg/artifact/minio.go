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
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"remote-exec/pkg/jobid"
	"remote-exec/pkg/logging"
)

// MinioStore keeps artifacts in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	base   URI
}

// NewMinioStore creates a client for opts.S3Endpoint. Static credentials are
// used when given, otherwise the AWS environment variables.
func NewMinioStore(base URI, opts Options) (*MinioStore, error) {
	endpoint := opts.S3Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	creds := credentials.NewEnvAWS()
	if opts.S3AccessKey != "" {
		creds = credentials.NewStaticV4(opts.S3AccessKey, opts.S3SecretKey, "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: opts.S3UseSSL,
		Region: opts.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioStore{client: client, base: base}, nil
}

func (s *MinioStore) Base() string { return s.base.String() }

func (s *MinioStore) Upload(ctx context.Context, id jobid.ID, name string, r io.Reader) (string, error) {
	dst := s.base.Join(id.Key(name))
	info, err := s.client.PutObject(ctx, dst.Bucket, dst.Key, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", dst, err)
	}
	logging.Debug("Uploaded %s (%d bytes)", dst, info.Size)
	return dst.String(), nil
}

func (s *MinioStore) Download(ctx context.Context, uri string) ([]byte, error) {
	src, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, src.Bucket, src.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.readErr(uri, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.readErr(uri, err)
	}
	return data, nil
}

func (s *MinioStore) readErr(uri string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return fmt.Errorf("failed to read %s: %w", uri, err)
}

func (s *MinioStore) DeletePrefix(ctx context.Context, id jobid.ID) (int, error) {
	prefix := s.base.Join(id.String()).Key + "/"

	deleted := 0
	for obj := range s.client.ListObjects(ctx, s.base.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return deleted, fmt.Errorf("failed to list s3://%s/%s: %w", s.base.Bucket, prefix, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.base.Bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return deleted, fmt.Errorf("failed to delete s3://%s/%s: %w", s.base.Bucket, obj.Key, err)
		}
		deleted++
	}
	return deleted, nil
}
