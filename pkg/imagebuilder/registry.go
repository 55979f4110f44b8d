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

package imagebuilder

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/v1/google"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// CraneRegistry resolves digests with crane, authenticating through the
// docker config and gcloud credentials.
type CraneRegistry struct {
	Options []crane.Option
}

// NewCraneRegistry returns a registry using the default and Google keychains
// plus any extra options.
func NewCraneRegistry(opts ...crane.Option) *CraneRegistry {
	keychain := authn.NewMultiKeychain(authn.DefaultKeychain, google.Keychain)
	return &CraneRegistry{Options: append([]crane.Option{crane.WithAuthFromKeychain(keychain)}, opts...)}
}

func (r *CraneRegistry) Digest(ctx context.Context, ref string) (string, error) {
	opts := append([]crane.Option{crane.WithContext(ctx)}, r.Options...)
	digest, err := crane.Digest(ref, opts...)
	if err != nil {
		if isNotFound(err) {
			return "", ErrImageNotFound
		}
		return "", err
	}
	return digest, nil
}

func isNotFound(err error) bool {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return false
	}
	if terr.StatusCode == http.StatusNotFound {
		return true
	}
	for _, diag := range terr.Errors {
		if diag.Code == transport.ManifestUnknownErrorCode || diag.Code == transport.NameUnknownErrorCode {
			return true
		}
	}
	return false
}
