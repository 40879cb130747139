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

package policy

import (
	"context"
	"time"

	"github.com/samber/lo"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/carriercomm/phorque/pkg/cloud"
	"github.com/carriercomm/phorque/pkg/cluster"
)

// OnDemandPlusPlus is the real scaling policy: compute cores to launch from
// queue backlog net of in-flight capacity; if none is owed, drain idle
// instances approaching their next billing boundary instead.
type OnDemandPlusPlus struct {
	multiplier    int
	loopSleepSecs int
}

var _ Policy = (*OnDemandPlusPlus)(nil)

// NewOnDemandPlusPlus builds an OnDemandPlusPlus from its config section.
// A multiplier below 1 is clamped to 1: the multiplier exists to
// over-provision, never to under-provision.
func NewOnDemandPlusPlus(cfg Config) *OnDemandPlusPlus {
	m := cfg.Multiplier
	if m < 1 {
		m = 1
	}
	return &OnDemandPlusPlus{multiplier: m, loopSleepSecs: cfg.LoopSleepSecs}
}

func (p *OnDemandPlusPlus) Execute(ctx context.Context, cl cluster.Adapter, reg *cloud.Registry) error {
	validCloudCores := reg.TotalValidCoresAcrossClouds()
	queuedCores := cl.NumQueuedCores()
	freeClusterCores := cl.NumFreeCores()
	downClusterCores := cl.NumDownCores()
	totalClusterCores := cl.NumTotalCores()

	pendingCores := validCloudCores - totalClusterCores
	if pendingCores < 0 {
		pendingCores = 0
	}

	var coresToLaunch int
	if queuedCores > 0 {
		coresToLaunch = queuedCores - (freeClusterCores + pendingCores + downClusterCores)
	}

	if coresToLaunch > 0 {
		p.launchInstances(ctx, reg, coresToLaunch)
		return nil
	}
	p.drain(ctx, cl, reg)
	return nil
}

// launchInstances implements §4.D's launch procedure and the per-cloud
// stall state machine. The stall threshold is resolved as "Failed after 3
// stall increments": applyStall checks failedCount against >= 2 before
// incrementing it, and on that tick increments it to 3 and marks the cloud
// failed in the same call, so Failed is reached on the third stalled tick.
func (p *OnDemandPlusPlus) launchInstances(ctx context.Context, reg *cloud.Registry, coresToLaunch int) {
	logger := log.FromContext(ctx)

	chosen := reg.CheapestUsable()
	if chosen == nil {
		logger.Info("no usable cloud available to launch on")
		return
	}

	validCount := len(chosen.ValidInstances())
	if chosen.DesiredCapacity() > validCount {
		p.applyStall(ctx, chosen, validCount)
		return
	}

	n := ceilDiv(coresToLaunch, chosen.InstanceCores()) * p.multiplier
	if err := chosen.LaunchAutoscale(ctx, n); err != nil {
		logger.Error(err, "launch failed", "cloud", chosen.Name(), "n", n)
	}
}

func (p *OnDemandPlusPlus) applyStall(ctx context.Context, chosen cloud.Adapter, validCount int) {
	logger := log.FromContext(ctx)
	switch {
	case chosen.FailedCount() >= 2:
		// This stall increment is the third: declare the cloud failed.
		chosen.MarkStall()
		if err := chosen.MarkFailed(ctx, validCount); err != nil {
			logger.Error(err, "marking cloud failed", "cloud", chosen.Name())
		}
	case validCount != chosen.FailedLastValidCount():
		chosen.MarkProgress(validCount)
	default:
		chosen.MarkStall()
	}
}

// drain implements §4.D's two-phase drain procedure: mark idle instances
// near their next charge offline, then terminate everything marked.
func (p *OnDemandPlusPlus) drain(ctx context.Context, cl cluster.Adapter, reg *cloud.Registry) {
	logger := log.FromContext(ctx)
	loopSleep := time.Duration(p.loopSleepSecs) * time.Second

	idleOrDown := lo.SliceToMap(cl.IdleOrDownHostnames(true), func(h string) (string, bool) { return h, true })
	for _, c := range reg.CloudsLowToHigh() {
		for _, hostname := range c.HostnamesCloseToCharge(loopSleep) {
			if !idleOrDown[hostname] {
				continue
			}
			if err := cl.OfflineNode(ctx, hostname); err != nil {
				logger.Error(err, "offline failed", "hostname", hostname)
			}
		}
	}

	terminating := lo.FilterMap(cl.Nodes(), func(n cluster.Node, _ int) (string, bool) {
		return n.Hostname, n.TerminateMe
	})
	if len(terminating) == 0 {
		return
	}

	for _, c := range reg.CloudsLowToHigh() {
		ids := c.InstanceIDsForHostnames(terminating)
		if len(ids) == 0 {
			continue
		}
		c.ResetFailure()
		if err := c.DeleteInstances(ctx, ids); err != nil {
			logger.Error(err, "delete instances failed", "cloud", c.Name())
			continue
		}
	}
	for _, hostname := range terminating {
		if err := cl.RemoveNode(ctx, hostname); err != nil {
			logger.Error(err, "remove node failed", "hostname", hostname)
		}
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
