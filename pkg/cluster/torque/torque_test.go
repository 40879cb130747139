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

package torque

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// scriptedRunner returns canned output keyed by a substring of the command,
// so tests don't care about the exact binary path.
type scriptedRunner struct {
	outputs map[string]string
	exits   map[string]int
	calls   []string
}

func (r *scriptedRunner) Run(ctx context.Context, command string) (string, int, error) {
	r.calls = append(r.calls, command)
	for substr, out := range r.outputs {
		if strings.Contains(command, substr) {
			return out, r.exits[substr], nil
		}
	}
	return "", 0, nil
}

const qstatOutput = `
job1.example Job_Name   user1    queue1   0  1  2  00:10:00 00:10:00 R 00:01:00
job2.example Job_Name   user1    queue1   0  1  4  00:10:00 00:10:00 Q 00:01:00
`

const pbsnodesOutput = "\nhost1.example\n state = free\n np = 4\n\nhost2.example\n state = down,offline\n np = 8\n\nhost3.example\n state = free,job-exclusive\n np = 2\n"

var _ = Describe("Cluster.Update", func() {
	var (
		c      *Cluster
		runner *scriptedRunner
	)

	BeforeEach(func() {
		runner = &scriptedRunner{outputs: map[string]string{
			"qstat":    qstatOutput,
			"pbsnodes": pbsnodesOutput,
		}}
		c = New("/opt/torque")
		c.runner = runner
	})

	It("parses queued jobs and cores from qstat", func() {
		Expect(c.Update(context.Background())).To(Succeed())
		Expect(c.NumQueuedJobs()).To(Equal(1))
		Expect(c.NumQueuedCores()).To(Equal(4))
		Expect(c.NumTotalJobs()).To(Equal(2))
	})

	It("parses node state and cores from pbsnodes", func() {
		Expect(c.Update(context.Background())).To(Succeed())
		Expect(c.NumTotalNodes()).To(Equal(3))
		Expect(c.NumTotalCores()).To(Equal(14))
		Expect(c.NumFreeCores()).To(Equal(4))
		Expect(c.NumDownCores()).To(Equal(8))
	})

	It("adds booted hostnames to the has-booted set, excluding down nodes", func() {
		Expect(c.Update(context.Background())).To(Succeed())
		Expect(c.IdleOrDownHostnames(true)).To(ContainElement("host1.example"))
		Expect(c.IdleOrDownHostnames(true)).NotTo(ContainElement("host2.example"))
	})

	It("excludes job-exclusive nodes even when also free", func() {
		Expect(c.Update(context.Background())).To(Succeed())
		Expect(c.IdleOrDownHostnames(true)).NotTo(ContainElement("host3.example"))
	})

	It("leaves prior state untouched on failure", func() {
		Expect(c.Update(context.Background())).To(Succeed())
		runner.outputs["qstat"] = ""
		runner.exits = map[string]int{"qstat": 1}
		Expect(c.Update(context.Background())).To(HaveOccurred())
		Expect(c.NumTotalNodes()).To(Equal(3), "prior node state must survive a failed update")
	})
})
