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

// Package cluster defines the scheduler-side view of the system: the node
// list, the queue/core counters, and the operations a control loop needs to
// keep the scheduler's notion of capacity converged with reality. A concrete
// backend (pkg/cluster/torque) drives a PBS/Torque-shaped CLI; pkg/cluster/
// clustertest provides an in-memory fake for the rest of the codebase's tests.
package cluster

import (
	"context"
	"strings"
)

// Node is the scheduler's view of one worker, rebuilt from scratch on every
// Update call.
type Node struct {
	Hostname    string
	NP          int
	State       string
	TerminateMe bool
}

// idleOrDownStateTokens are the state substrings that make a node a
// candidate for draining. jobExclusiveToken excludes a node regardless of
// the other tokens: a node currently running an exclusive job is never idle.
var idleOrDownStateTokens = []string{"idle", "down", "offline", "free"}

const jobExclusiveToken = "job-exclusive"

// IsIdleOrDown reports whether n's state makes it a drain candidate,
// independent of the has-booted filter (which only the cluster-wide query
// can apply, since it depends on history the Node itself doesn't carry).
func (n Node) IsIdleOrDown() bool {
	if strings.Contains(n.State, jobExclusiveToken) {
		return false
	}
	for _, token := range idleOrDownStateTokens {
		if strings.Contains(n.State, token) {
			return true
		}
	}
	return false
}

// Adapter is the scheduler-facing contract the core consumes. A single
// Adapter instance lives for the process lifetime; Nodes() is rebuilt fresh
// by every Update call, while booted-node history persists across calls.
type Adapter interface {
	// Update refreshes queue stats, the node list, and derived counters from
	// the external scheduler in one shot. A failure leaves all prior state
	// untouched and returns a wrapped phorqueerr.ErrClusterUpdateFailed.
	Update(ctx context.Context) error

	// AddNode registers a worker with the scheduler. No-op if hostname is
	// already present.
	AddNode(ctx context.Context, hostname string, np int) error
	// RemoveNode deregisters a worker. No-op if hostname is absent. Also
	// drops hostname from the has-booted set.
	RemoveNode(ctx context.Context, hostname string) error
	// OfflineNode instructs the scheduler to stop placing work on hostname
	// and flips that Node's TerminateMe to true.
	OfflineNode(ctx context.Context, hostname string) error

	// IdleOrDownHostnames returns hostnames whose state is idle/down/offline/
	// free and not job-exclusive. When requireBooted is true, a hostname must
	// additionally have been observed in a non-down state at least once.
	IdleOrDownHostnames(requireBooted bool) []string

	// Nodes is the current, fully rebuilt node list.
	Nodes() []Node

	NumQueuedJobs() int
	NumQueuedCores() int
	NumTotalJobs() int
	NumTotalNodes() int
	NumTotalCores() int
	NumFreeCores() int
	NumDownCores() int
}
