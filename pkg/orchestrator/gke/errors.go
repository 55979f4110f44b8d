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

package gke

import (
	"fmt"

	"remote-exec/pkg/orchestrator"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// submitError adds a hint for the API failures users can act on.
func submitError(h orchestrator.Handle, kind string, err error) error {
	var hint string
	switch {
	case apierrors.IsForbidden(err):
		hint = fmt.Sprintf("The current credentials may not create %s objects in namespace %q; check the RBAC bindings.", kind, h.Namespace)
	case apierrors.IsNotFound(err) && kind == "LeaderWorkerSet":
		hint = fmt.Sprintf("Either namespace %q does not exist or the LeaderWorkerSet CRD is not installed on the cluster; "+
			"install it by following the official LWS installation guide.", h.Namespace)
	case apierrors.IsNotFound(err):
		hint = fmt.Sprintf("Namespace %q does not exist.", h.Namespace)
	case apierrors.IsAlreadyExists(err):
		hint = fmt.Sprintf("%s %s already exists; job ids must be unique.", kind, h.Name)
	case apierrors.IsInvalid(err):
		hint = "The rendered manifest was rejected by the API server."
	}
	if hint == "" {
		return fmt.Errorf("failed to create %s %s: %w", kind, h.Name, err)
	}
	return fmt.Errorf("failed to create %s %s: %w. %s", kind, h.Name, err, hint)
}
