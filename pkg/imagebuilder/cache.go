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

// Package imagebuilder resolves the worker container image for a run,
// building it only when no image with the same content key exists.
package imagebuilder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"remote-exec/pkg/accelerator"
)

var (
	// ErrBuildFailed wraps every error returned by a Builder.
	ErrBuildFailed = errors.New("image build failed")
	// ErrImageNotFound is returned by a Registry for an unknown reference.
	ErrImageNotFound = errors.New("image not found")
)

// Inputs are everything an image is built from.
type Inputs struct {
	// Repository receives the built image, e.g.
	// us-docker.pkg.dev/my-project/remote-exec/base.
	Repository string
	BaseImage  string
	Kind       accelerator.Kind
	// ManifestPath is the dependency manifest; empty when there is none.
	ManifestPath string
	// EntrypointPath is the worker executable copied into the image.
	EntrypointPath string
}

// Registry resolves image references to digests.
type Registry interface {
	// Digest returns the "sha256:..." digest of ref, or ErrImageNotFound.
	Digest(ctx context.Context, ref string) (string, error)
}

// Builder produces the image for in and pushes it to target. Build blocks
// until the image is pushed or the build fails.
type Builder interface {
	Build(ctx context.Context, in Inputs, target string) error
	// Recipe identifies how the builder lays out the image. It is part of
	// the cache key so a layout change forces a rebuild.
	Recipe() string
}

// Key is the content hash identifying an image.
type Key string

// Tag is the image tag for the key: "<kind>-<first 12 hex characters>".
func (k Key) Tag(kind accelerator.Kind) string {
	return fmt.Sprintf("%s-%s", kind, string(k)[:12])
}

// ComputeKey hashes the base image, accelerator kind, manifest, entrypoint
// and builder recipe. Nothing else influences the key.
func ComputeKey(in Inputs, recipe string) (Key, error) {
	h := sha256.New()
	fmt.Fprintf(h, "base_image=%s\naccelerator=%s\n", in.BaseImage, in.Kind)

	if in.ManifestPath != "" {
		manifest, err := os.ReadFile(in.ManifestPath)
		if err != nil {
			return "", fmt.Errorf("failed to read manifest %q: %w", in.ManifestPath, err)
		}
		fmt.Fprintf(h, "manifest=%d\n", len(manifest))
		h.Write(manifest)
	}

	entrypoint, err := os.ReadFile(in.EntrypointPath)
	if err != nil {
		return "", fmt.Errorf("failed to read entrypoint %q: %w", in.EntrypointPath, err)
	}
	fmt.Fprintf(h, "entrypoint=%d\n", len(entrypoint))
	h.Write(entrypoint)

	fmt.Fprintf(h, "recipe=%d\n", len(recipe))
	h.Write([]byte(recipe))

	return Key(hex.EncodeToString(h.Sum(nil))), nil
}

// Cache finds or builds images by content key.
type Cache struct {
	Registry Registry
	Builder  Builder
	// Lease optionally suppresses concurrent builds of the same key. When
	// nil, concurrent misses each build and the last push wins.
	Lease Lease
	// LeaseTTL bounds how long a lease holder may build; 30 minutes if zero.
	LeaseTTL time.Duration
	// PollInterval is how often a caller that lost the lease checks the
	// registry; 10 seconds if zero.
	PollInterval time.Duration
}

// EnsureImage returns a digest-pinned reference ("repo@sha256:...") for in,
// building the image first when the registry does not have it.
func (c *Cache) EnsureImage(ctx context.Context, in Inputs) (string, error) {
	key, err := ComputeKey(in, c.Builder.Recipe())
	if err != nil {
		return "", err
	}
	tagRef := fmt.Sprintf("%s:%s", in.Repository, key.Tag(in.Kind))
	log := logrus.WithField("image", tagRef)

	pinned, err := c.lookup(ctx, in.Repository, tagRef)
	if err == nil {
		log.Infof("Using cached container %s", pinned)
		return pinned, nil
	}
	if !errors.Is(err, ErrImageNotFound) {
		return "", err
	}

	if c.Lease != nil {
		release, acquired, err := c.Lease.Acquire(ctx, string(key), c.leaseTTL())
		switch {
		case err != nil:
			log.Warnf("Build lease unavailable, building without it: %v", err)
		case !acquired:
			log.Infof("Another caller is building this image, waiting")
			if pinned, err := c.awaitOther(ctx, in.Repository, tagRef); err == nil {
				return pinned, nil
			} else if ctx.Err() != nil {
				return "", err
			}
			log.Warnf("Lease holder did not publish the image in time, building")
		default:
			defer release()
		}
	}

	log.Infof("Building new container (content key %s)", key)
	if err := c.Builder.Build(ctx, in, tagRef); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}

	pinned, err = c.lookup(ctx, in.Repository, tagRef)
	if err != nil {
		return "", fmt.Errorf("%w: built image is not resolvable: %w", ErrBuildFailed, err)
	}
	log.Infof("Built container %s", pinned)
	return pinned, nil
}

func (c *Cache) lookup(ctx context.Context, repository, tagRef string) (string, error) {
	digest, err := c.Registry.Digest(ctx, tagRef)
	if err != nil {
		if errors.Is(err, ErrImageNotFound) {
			return "", err
		}
		return "", fmt.Errorf("failed to look up %s: %w", tagRef, err)
	}
	return fmt.Sprintf("%s@%s", repository, digest), nil
}

func (c *Cache) awaitOther(ctx context.Context, repository, tagRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.leaseTTL())
	defer cancel()

	interval := c.PollInterval
	if interval == 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			pinned, err := c.lookup(ctx, repository, tagRef)
			if err == nil {
				return pinned, nil
			}
			if !errors.Is(err, ErrImageNotFound) {
				return "", err
			}
		}
	}
}

func (c *Cache) leaseTTL() time.Duration {
	if c.LeaseTTL == 0 {
		return 30 * time.Minute
	}
	return c.LeaseTTL
}
