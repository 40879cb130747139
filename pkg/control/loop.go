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

// Package control drives the periodic tick: cluster update, cloud refresh
// and reconcile, policy execution, sleep — in that strict order, every tick,
// swallowing and logging per-phase errors so a bad tick never halts the loop.
package control

import (
	"context"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/carriercomm/phorque/pkg/cloud"
	"github.com/carriercomm/phorque/pkg/cluster"
	"github.com/carriercomm/phorque/pkg/metrics"
	"github.com/carriercomm/phorque/pkg/policy"
)

// Loop is the single-threaded control-loop driver.
type Loop struct {
	Cluster   cluster.Adapter
	Registry  *cloud.Registry
	Policy    policy.Policy
	LoopSleep time.Duration
}

// Run executes ticks until ctx is cancelled. Shutdown is checked at the top
// of each tick and during the inter-tick sleep, so it takes effect within
// one tick plus at most one ticker period.
func (l *Loop) Run(ctx context.Context) {
	logger := log.FromContext(ctx)
	ticker := time.NewTicker(l.LoopSleep)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			logger.Info("shutdown requested, exiting control loop")
			return
		}
		l.tick(ctx)

		select {
		case <-ctx.Done():
			logger.Info("shutdown requested, exiting control loop")
			return
		case <-ticker.C:
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	logger := log.FromContext(ctx)
	result := "ok"

	l.timedPhase("cluster_update", func() {
		if err := l.Cluster.Update(ctx); err != nil {
			logger.Error(err, "cluster update failed")
			result = "error"
		}
	})

	l.timedPhase("cloud_refresh", func() {
		if err := l.Registry.RefreshAll(ctx, l.Cluster); err != nil {
			logger.Error(err, "cloud refresh failed")
			result = "error"
		}
	})

	l.timedPhase("policy_execute", func() {
		if err := l.Policy.Execute(ctx, l.Cluster, l.Registry); err != nil {
			logger.Error(err, "policy execution failed")
			result = "error"
		}
	})

	metrics.TickTotal.WithLabelValues(result).Inc()
}

func (l *Loop) timedPhase(phase string, fn func()) {
	start := time.Now()
	fn()
	metrics.TickDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}
