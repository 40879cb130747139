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

package control_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/carriercomm/phorque/pkg/cloud"
	"github.com/carriercomm/phorque/pkg/cloud/cloudtest"
	"github.com/carriercomm/phorque/pkg/cluster"
	"github.com/carriercomm/phorque/pkg/cluster/clustertest"
	"github.com/carriercomm/phorque/pkg/control"
)

// recordingPolicy counts invocations and snapshots the cluster's node list
// at execution time, so tests can assert what reconcile did before policy
// ran without instrumenting the adapters themselves.
type recordingPolicy struct {
	mu        sync.Mutex
	calls     int
	lastNodes []cluster.Node
}

func (p *recordingPolicy) Execute(ctx context.Context, cl cluster.Adapter, reg *cloud.Registry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastNodes = cl.Nodes()
	return nil
}

func (p *recordingPolicy) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *recordingPolicy) LastNodes() []cluster.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastNodes
}

var _ = Describe("Loop", func() {
	var (
		cl   *clustertest.Fake
		c1   *cloudtest.Fake
		reg  *cloud.Registry
		pol  *recordingPolicy
		loop *control.Loop
	)

	BeforeEach(func() {
		cl = clustertest.New()
		c1 = &cloudtest.Fake{NameVal: "only", PriceVal: 0.10, InstanceCoresVal: 4}
		reg = cloud.NewRegistry([]cloud.Adapter{c1})
		pol = &recordingPolicy{}
		loop = &control.Loop{Cluster: cl, Registry: reg, Policy: pol, LoopSleep: 10 * time.Millisecond}
	})

	It("reconciles cloud instances into the cluster before running the policy", func() {
		c1.Instances = []cloud.Instance{{ID: "i-1", PublicDNSName: "worker1.example", RunState: "running"}}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			loop.Run(ctx)
			close(done)
		}()

		Eventually(pol.Calls).Should(BeNumerically(">=", 1))
		cancel()
		Eventually(done).Should(BeClosed())

		var hostnames []string
		for _, n := range pol.LastNodes() {
			hostnames = append(hostnames, n.Hostname)
		}
		Expect(hostnames).To(ContainElement("worker1.example"))
	})

	It("still runs the policy on a tick where cluster update failed", func() {
		cl.UpdateErr = context.DeadlineExceeded

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			loop.Run(ctx)
			close(done)
		}()

		Eventually(pol.Calls).Should(BeNumerically(">=", 1))
		cancel()
		Eventually(done).Should(BeClosed())
	})

	It("exits promptly on cancellation instead of waiting a full sleep period", func() {
		loop.LoopSleep = time.Hour

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			loop.Run(ctx)
			close(done)
		}()

		Eventually(pol.Calls).Should(BeNumerically(">=", 1))
		start := time.Now()
		cancel()
		Eventually(done, "1s").Should(BeClosed())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})

	It("does not start a new tick once shutdown has been requested", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		loop.Run(ctx)
		Expect(pol.Calls()).To(Equal(0))
	})
})
