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

package policy_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/carriercomm/phorque/pkg/cloud"
	"github.com/carriercomm/phorque/pkg/cloud/cloudtest"
	"github.com/carriercomm/phorque/pkg/cluster"
	"github.com/carriercomm/phorque/pkg/cluster/clustertest"
	"github.com/carriercomm/phorque/pkg/policy"
)

var _ = Describe("OnDemandPlusPlus", func() {
	var (
		ctx context.Context
		cl  *clustertest.Fake
		a   *cloudtest.Fake
		b   *cloudtest.Fake
		reg *cloud.Registry
		p   *policy.OnDemandPlusPlus
	)

	BeforeEach(func() {
		ctx = context.Background()
		cl = clustertest.New()
		a = &cloudtest.Fake{NameVal: "A", PriceVal: 0.10, InstanceCoresVal: 2, MaxInstancesVal: 10}
		b = &cloudtest.Fake{NameVal: "B", PriceVal: 0.20, InstanceCoresVal: 4, MaxInstancesVal: 10}
		reg = cloud.NewRegistry([]cloud.Adapter{a, b})
		p = policy.NewOnDemandPlusPlus(policy.Config{Multiplier: 1, LoopSleepSecs: 60})
	})

	It("scenario 1: scales up from cold on the cheapest cloud", func() {
		cl.QueuedCores = 6
		Expect(p.Execute(ctx, cl, reg)).To(Succeed())
		Expect(a.LaunchedN).To(Equal([]int{3}))
		Expect(a.Desired).To(Equal(3))
		Expect(b.LaunchedN).To(BeEmpty())
	})

	It("scenario 2: pending debit engages the stall machine instead of relaunching", func() {
		a.Desired = 3
		cl.QueuedCores = 6
		Expect(p.Execute(ctx, cl, reg)).To(Succeed())
		Expect(a.FailedLastValidCount()).To(Equal(0))
		Expect(a.LaunchedN).To(BeEmpty())
	})

	It("scenario 3: progress resets the stall tracker without incrementing failedCount", func() {
		a.Desired = 3
		a.Instances = []cloud.Instance{
			{ID: "i-1", PublicDNSName: "h1", RunState: "running"},
			{ID: "i-2", PublicDNSName: "h2", RunState: "running"},
		}
		cl.QueuedCores = 6
		Expect(p.Execute(ctx, cl, reg)).To(Succeed())
		Expect(a.FailedLastValidCount()).To(Equal(2))
		Expect(a.FailedCount()).To(Equal(0))
	})

	It("scenario 4: three stalled ticks in a row marks the cloud Failed", func() {
		a.Desired = 3
		a.Instances = []cloud.Instance{
			{ID: "i-1", PublicDNSName: "h1", RunState: "running"},
			{ID: "i-2", PublicDNSName: "h2", RunState: "running"},
		}
		a.MarkProgress(2) // simulates valid already having been observed at 2 last tick
		cl.QueuedCores = 6

		Expect(p.Execute(ctx, cl, reg)).To(Succeed()) // stall tick 1: failedCount -> 1
		Expect(a.FailedCount()).To(Equal(1))
		Expect(a.FailedLaunch()).To(BeFalse())

		Expect(p.Execute(ctx, cl, reg)).To(Succeed()) // stall tick 2: failedCount -> 2
		Expect(a.FailedCount()).To(Equal(2))
		Expect(a.FailedLaunch()).To(BeFalse())

		Expect(p.Execute(ctx, cl, reg)).To(Succeed()) // stall tick 3: failed
		Expect(a.FailedLaunch()).To(BeTrue())
		Expect(a.Desired).To(Equal(2))

		// B becomes the chosen cloud on the following tick.
		Expect(p.Execute(ctx, cl, reg)).To(Succeed())
		Expect(b.LaunchedN).NotTo(BeEmpty())
	})

	It("scenario 5: drains an idle instance close to its next charge", func() {
		a.Instances = []cloud.Instance{{ID: "i-1", PublicDNSName: "near-charge.example", RunState: "running"}}
		a.CloseToCharge = []string{"near-charge.example"}
		cl.NodeList = []cluster.Node{{Hostname: "near-charge.example", NP: 2, State: "free"}}
		cl.Boot("near-charge.example")

		Expect(p.Execute(ctx, cl, reg)).To(Succeed())

		Expect(cl.OfflinedNodes).To(ContainElement("near-charge.example"))
		Expect(a.Deleted).To(ContainElement([]string{"i-1"}))
		Expect(cl.RemovedNodes).To(ContainElement("near-charge.example"))
	})

	It("clears a cloud's failure counters after any successful termination on it", func() {
		a.MarkFailed(ctx, 0)
		a.Instances = []cloud.Instance{{ID: "i-1", PublicDNSName: "drain.example", RunState: "running"}}
		a.CloseToCharge = []string{"drain.example"}
		cl.NodeList = []cluster.Node{{Hostname: "drain.example", NP: 2, State: "idle"}}
		cl.Boot("drain.example")

		Expect(p.Execute(ctx, cl, reg)).To(Succeed())

		Expect(a.FailedLaunch()).To(BeFalse())
		Expect(a.FailedCount()).To(Equal(0))
	})

	It("does not drain an instance the scheduler has never seen boot", func() {
		a.Instances = []cloud.Instance{{ID: "i-1", PublicDNSName: "unbooted.example", RunState: "running"}}
		a.CloseToCharge = []string{"unbooted.example"}
		cl.NodeList = []cluster.Node{{Hostname: "unbooted.example", NP: 2, State: "free"}}
		// deliberately not calling cl.Boot

		Expect(p.Execute(ctx, cl, reg)).To(Succeed())

		Expect(cl.OfflinedNodes).To(BeEmpty())
	})

	It("empty-queue steady state performs no mutation when nothing is close to charge", func() {
		a.Instances = []cloud.Instance{{ID: "i-1", PublicDNSName: "steady.example", RunState: "running"}}
		cl.NodeList = []cluster.Node{{Hostname: "steady.example", NP: 2, State: "free"}}
		cl.Boot("steady.example")

		Expect(p.Execute(ctx, cl, reg)).To(Succeed())

		Expect(cl.OfflinedNodes).To(BeEmpty())
		Expect(a.LaunchedN).To(BeEmpty())
		Expect(a.Deleted).To(BeEmpty())
	})
})
