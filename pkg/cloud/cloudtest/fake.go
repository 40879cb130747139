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

// Package cloudtest provides an in-memory cloud.Adapter fake for tests
// exercising the registry and policy engine without real cloud API calls.
package cloudtest

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/carriercomm/phorque/pkg/cloud"
)

// Fake is a mutable, in-memory cloud.Adapter.
type Fake struct {
	NameVal          string
	PriceVal         float64
	InstanceCoresVal int
	MaxInstancesVal  int

	Instances []cloud.Instance
	Desired   int
	MaxedVal  bool

	CloseToCharge []string // hostnames HostnamesCloseToCharge should return

	RefreshErr  error
	RefreshCall int

	LaunchedN      []int
	Deleted        [][]string
	CapacitySet    []int
	SetCapacityErr error
	DeleteErr      error

	failedLaunch            bool
	failedCount             int
	failedLastValidCount    int
	failedLastValidCountSet bool
}

var _ cloud.Adapter = (*Fake)(nil)

func (f *Fake) Name() string       { return f.NameVal }
func (f *Fake) Price() float64     { return f.PriceVal }
func (f *Fake) InstanceCores() int { return f.InstanceCoresVal }
func (f *Fake) MaxInstances() int  { return f.MaxInstancesVal }
func (f *Fake) Maxed() bool        { return f.MaxedVal }

func (f *Fake) Refresh(ctx context.Context) error {
	f.RefreshCall++
	return f.RefreshErr
}

func (f *Fake) ValidInstances() []cloud.Instance { return lo.Filter(f.Instances, func(i cloud.Instance, _ int) bool { return i.Valid() }) }

func (f *Fake) AllInstanceDNSNames() []string {
	return lo.FilterMap(f.ValidInstances(), func(i cloud.Instance, _ int) (string, bool) {
		return i.PublicDNSName, i.PublicDNSName != ""
	})
}

func (f *Fake) TotalValidCores() int { return len(f.ValidInstances()) * f.InstanceCoresVal }

func (f *Fake) HostnamesCloseToCharge(loopSleep time.Duration) []string { return f.CloseToCharge }

func (f *Fake) InstanceIDsForHostnames(hostnames []string) []string {
	want := lo.SliceToMap(hostnames, func(h string) (string, bool) { return h, true })
	return lo.FilterMap(f.Instances, func(i cloud.Instance, _ int) (string, bool) {
		return i.ID, want[i.PublicDNSName]
	})
}

func (f *Fake) DesiredCapacity() int { return f.Desired }

func (f *Fake) LaunchAutoscale(ctx context.Context, n int) error {
	f.LaunchedN = append(f.LaunchedN, n)
	newCapacity := f.Desired + n
	if newCapacity > f.MaxInstancesVal {
		newCapacity = f.MaxInstancesVal
	}
	f.Desired = newCapacity
	return nil
}

func (f *Fake) DeleteInstances(ctx context.Context, ids []string) error {
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.Deleted = append(f.Deleted, ids)
	idSet := lo.SliceToMap(ids, func(id string) (string, bool) { return id, true })
	f.Instances = lo.Filter(f.Instances, func(i cloud.Instance, _ int) bool { return !idSet[i.ID] })
	return nil
}

func (f *Fake) SetCapacity(ctx context.Context, n int) error {
	if f.SetCapacityErr != nil {
		return f.SetCapacityErr
	}
	if n > f.MaxInstancesVal {
		n = f.MaxInstancesVal
	}
	f.CapacitySet = append(f.CapacitySet, n)
	f.Desired = n
	return nil
}

func (f *Fake) FailedLaunch() bool { return f.failedLaunch }
func (f *Fake) FailedCount() int   { return f.failedCount }

// FailedLastValidCount returns -1 until MarkProgress has been called at least
// once, so a first-time discrepancy is never mistaken for a stalled tick at
// the same (zero) count.
func (f *Fake) FailedLastValidCount() int {
	if !f.failedLastValidCountSet {
		return -1
	}
	return f.failedLastValidCount
}

func (f *Fake) MarkProgress(validCount int) {
	f.failedLastValidCount = validCount
	f.failedLastValidCountSet = true
}
func (f *Fake) MarkStall() { f.failedCount++ }

func (f *Fake) MarkFailed(ctx context.Context, cappedTo int) error {
	f.failedLaunch = true
	f.failedCount = 0
	f.failedLastValidCount = 0
	f.failedLastValidCountSet = false
	return f.SetCapacity(ctx, cappedTo)
}

func (f *Fake) ResetFailure() {
	f.failedLaunch = false
	f.failedCount = 0
	f.failedLastValidCount = 0
	f.failedLastValidCountSet = false
}
