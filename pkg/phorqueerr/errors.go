/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package phorqueerr defines the sentinel error kinds shared across the
// control loop so callers can classify a failure with errors.Is instead of
// string matching.
package phorqueerr

import (
	"errors"
	"fmt"

	"github.com/awslabs/operatorpkg/serrors"
)

var (
	// ErrConfigInvalid is fatal at startup: bad or missing configuration.
	ErrConfigInvalid = errors.New("config invalid")
	// ErrClusterUpdateFailed wraps a failure to refresh cluster state.
	ErrClusterUpdateFailed = errors.New("cluster update failed")
	// ErrCloudRefreshFailed wraps a failure to refresh one cloud's state.
	ErrCloudRefreshFailed = errors.New("cloud refresh failed")
	// ErrCloudMutationFailed wraps a failure to launch, terminate, or set
	// capacity on a cloud.
	ErrCloudMutationFailed = errors.New("cloud mutation failed")
	// ErrClusterMutationFailed wraps a failure to add, remove, or offline a
	// scheduler node.
	ErrClusterMutationFailed = errors.New("cluster mutation failed")
	// ErrPolicyExecutionFailed wraps a failure inside a policy's Execute.
	ErrPolicyExecutionFailed = errors.New("policy execution failed")
)

// Wrap attaches kind (one of the sentinels above), the underlying cause, and
// structured keysAndValues (hostname, cloud, instance id, ...) to a single
// error that still satisfies errors.Is(err, kind). Call sites use this
// instead of fmt.Errorf("%w: %s: %s", ...) wherever there is more than one
// piece of context to attach, matching the teacher's serrors usage around
// its own AWS API failures.
func Wrap(kind, cause error, keysAndValues ...any) error {
	return serrors.Wrap(fmt.Errorf("%w: %w", kind, cause), keysAndValues...)
}
