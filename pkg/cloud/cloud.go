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

// Package cloud defines the cloud-facing contract the core consumes: one
// Adapter per cloud, and a Registry that holds them all ordered by price and
// reconciles the scheduler's node list against what actually exists across
// every cloud. A concrete backend (pkg/cloud/ec2) drives an EC2
// Auto-Scaling-Group-shaped API; pkg/cloud/cloudtest provides an in-memory
// fake for the rest of the codebase's tests.
package cloud

import (
	"context"
	"time"
)

// validRunStates are the cloud run-states that make an Instance count toward
// capacity.
var validRunStates = map[string]bool{"running": true, "pending": true}

// Instance is the cloud's view of one VM, rebuilt from scratch on every
// Refresh call.
type Instance struct {
	ID            string
	PublicDNSName string
	RunState      string
	LaunchTime    time.Time
}

// Valid reports whether i counts toward the cloud's valid-instance set.
func (i Instance) Valid() bool { return validRunStates[i.RunState] }

// Adapter is the cloud-facing contract the core consumes. Failure counters
// (FailedLaunch/FailedCount/FailedLastValidCount) are plain state mutated
// only through the Mark* methods and ResetFailure, which the policy engine
// calls per its stall state machine; no caller reaches into unexported fields.
type Adapter interface {
	// Name is the cloud's configured name, used as the registry key.
	Name() string
	// Price is lower-is-preferred, currency-agnostic.
	Price() float64
	// InstanceCores is the number of cores each instance of this cloud
	// provides.
	InstanceCores() int
	// MaxInstances is this cloud's hard instance cap.
	MaxInstances() int

	// Refresh refreshes the valid-instance list and the desired-capacity
	// mirror from the cloud, and recomputes Maxed().
	Refresh(ctx context.Context) error

	// ValidInstances is the current, fully rebuilt valid-instance list.
	ValidInstances() []Instance
	// AllInstanceDNSNames returns the hostnames of every valid instance.
	AllInstanceDNSNames() []string
	// TotalValidCores is len(ValidInstances()) * InstanceCores().
	TotalValidCores() int
	// Maxed reports whether the last Refresh found the cloud at its cap.
	Maxed() bool

	// HostnamesCloseToCharge returns hostnames of valid instances whose next
	// billing boundary falls within 3*loopSleep.
	HostnamesCloseToCharge(loopSleep time.Duration) []string
	// InstanceIDsForHostnames maps hostnames back to opaque cloud IDs,
	// ignoring hostnames this cloud doesn't recognize.
	InstanceIDsForHostnames(hostnames []string) []string

	// DesiredCapacity is the cloud-side target instance count.
	DesiredCapacity() int
	// LaunchAutoscale sets desired capacity to min(desired+n, MaxInstances).
	LaunchAutoscale(ctx context.Context, n int) error
	// DeleteInstances terminates the given instance IDs, first lowering
	// desired capacity to len(ValidInstances()) if desired currently exceeds
	// it (so the cloud's own autoscaler doesn't replace what's draining).
	DeleteInstances(ctx context.Context, ids []string) error
	// SetCapacity writes desired capacity through to the cloud, capped at
	// MaxInstances.
	SetCapacity(ctx context.Context, n int) error

	// FailedLaunch, FailedCount, and FailedLastValidCount expose the stall
	// state machine's counters for Usable()/cheapestUsable() and for the
	// policy engine to read before deciding a transition.
	FailedLaunch() bool
	FailedCount() int
	FailedLastValidCount() int
	// MarkProgress records validCount as the last observed valid instance
	// count; FailedCount is left unchanged.
	MarkProgress(validCount int)
	// MarkStall records one tick with no progress while desired > valid.
	MarkStall()
	// MarkFailed declares the cloud failed: caps desired capacity to valid
	// and resets the stall counters.
	MarkFailed(ctx context.Context, cappedTo int) error
	// ResetFailure clears FailedLaunch/FailedCount/FailedLastValidCount,
	// called by the drain step just before it terminates instances on this
	// cloud.
	ResetFailure()
}

// Usable reports whether a is eligible for cheapestUsable() selection: not
// failed, and not at its instance cap.
func Usable(a Adapter) bool {
	return !a.FailedLaunch() && !a.Maxed()
}
