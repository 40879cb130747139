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

package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/carriercomm/phorque/pkg/config"
)

const sampleConfig = `
[Phorque]
loop_sleep_secs = 60
cluster_directory = "/opt/torque"

[Policy]
name = "OnDemandPlusPlus"
multiplier = 2

[spot-east]
autoscale_group_name = "phorque-spot-east-asg"
price = 0.10
cloud_type = "us-east-1"
instance_type = "c5.xlarge"
instance_cores = 4
max_instances = 20
charge_time_secs = 3600
access_id = "$PHORQUE_TEST_ACCESS_ID"
secret_key = "literal-secret"
`

var _ = Describe("Load", func() {
	var path string

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		path = filepath.Join(dir, "phorque.conf")
		Expect(os.WriteFile(path, []byte(sampleConfig), 0o600)).To(Succeed())
	})

	It("parses the fixed sections", func() {
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Phorque.LoopSleepSecs).To(Equal(60))
		Expect(cfg.Phorque.ClusterDirectory).To(Equal("/opt/torque"))
		Expect(cfg.Policy.Name).To(Equal("OnDemandPlusPlus"))
		Expect(cfg.Policy.Multiplier).To(Equal(2))
	})

	It("carries loop_sleep_secs from [Phorque] into the policy config", func() {
		// loop_sleep_secs lives in [Phorque], not [Policy], but
		// OnDemandPlusPlus needs it for close-to-charge gating; Load must
		// copy it across so every caller gets a fully wired policy.Config.
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Policy.LoopSleepSecs).To(Equal(cfg.Phorque.LoopSleepSecs))
		Expect(cfg.Policy.LoopSleepSecs).To(Equal(60))
	})

	It("parses one cloud section per cloud", func() {
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Clouds).To(HaveLen(1))
		cloudCfg := cfg.Clouds[0]
		Expect(cloudCfg.Name).To(Equal("spot-east"))
		Expect(cloudCfg.AutoscaleGroupName).To(Equal("phorque-spot-east-asg"))
		Expect(cloudCfg.InstanceCores).To(Equal(4))
		Expect(cloudCfg.MaxInstances).To(Equal(20))
	})

	It("indirects a leading-$ value through the environment", func() {
		os.Setenv("PHORQUE_TEST_ACCESS_ID", "resolved-access-id")
		defer os.Unsetenv("PHORQUE_TEST_ACCESS_ID")

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Clouds[0].AccessID).To(Equal("resolved-access-id"))
	})

	It("takes a literal value as-is when it has no leading $", func() {
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Clouds[0].SecretKey).To(Equal("literal-secret"))
	})

	It("rejects a missing file", func() {
		_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "missing.conf"))
		Expect(err).To(HaveOccurred())
	})

	It("rejects a config with no cloud sections", func() {
		dir := GinkgoT().TempDir()
		p := filepath.Join(dir, "bare.conf")
		Expect(os.WriteFile(p, []byte("[Phorque]\nloop_sleep_secs = 60\ncluster_directory = \"/opt/torque\"\n\n[Policy]\nname = \"OnDemand\"\nmultiplier = 1\n"), 0o600)).To(Succeed())
		_, err := config.Load(p)
		Expect(err).To(HaveOccurred())
	})
})
