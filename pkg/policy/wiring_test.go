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
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/carriercomm/phorque/pkg/cloud"
	"github.com/carriercomm/phorque/pkg/cloud/cloudtest"
	"github.com/carriercomm/phorque/pkg/cluster"
	"github.com/carriercomm/phorque/pkg/cluster/clustertest"
	"github.com/carriercomm/phorque/pkg/config"
	"github.com/carriercomm/phorque/pkg/policy"
)

const wiringConfig = `
[Phorque]
loop_sleep_secs = 60
cluster_directory = "/opt/torque"

[Policy]
name = "OnDemandPlusPlus"
multiplier = 1

[spot-east]
autoscale_group_name = "phorque-spot-east-asg"
price = 0.10
cloud_type = "us-east-1"
instance_type = "c5.xlarge"
instance_cores = 4
max_instances = 20
charge_time_secs = 3600
access_id = "ignored"
secret_key = "ignored"
`

// This drives the real config.Load -> policy.Get path (instead of
// constructing policy.Config by hand, as the other OnDemandPlusPlus specs
// do) so a regression in carrying loop_sleep_secs from [Phorque] into
// policy.Config is caught here rather than only in the wiring itself.
var _ = Describe("config.Load wired into policy.Get", func() {
	It("drains a near-charge instance using the loop_sleep_secs read from [Phorque]", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "phorque.conf")
		Expect(os.WriteFile(path, []byte(wiringConfig), 0o600)).To(Succeed())

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())

		p, err := policy.Get(cfg.Policy)
		Expect(err).NotTo(HaveOccurred())

		cl := clustertest.New()
		cl.NodeList = []cluster.Node{{Hostname: "near-charge.example", NP: 4, State: "free"}}
		cl.Boot("near-charge.example")

		fakeCloud := &cloudtest.Fake{
			NameVal:          "spot-east",
			PriceVal:         0.10,
			InstanceCoresVal: 4,
			MaxInstancesVal:  20,
			Instances:        []cloud.Instance{{ID: "i-1", PublicDNSName: "near-charge.example", RunState: "running"}},
			CloseToCharge:    []string{"near-charge.example"},
		}
		reg := cloud.NewRegistry([]cloud.Adapter{fakeCloud})

		Expect(p.Execute(context.Background(), cl, reg)).To(Succeed())

		Expect(cl.OfflinedNodes).To(ContainElement("near-charge.example"))
		Expect(fakeCloud.Deleted).To(ContainElement([]string{"i-1"}))
	})
})
