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

// Package torque implements cluster.Adapter against a PBS/Torque-shaped
// scheduler by shelling out to qstat, pbsnodes, and qmgr and regex-parsing
// their line-oriented text output.
package torque

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/avast/retry-go"
	"github.com/patrickmn/go-cache"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/carriercomm/phorque/pkg/cluster"
	"github.com/carriercomm/phorque/pkg/phorqueerr"
)

// jobLinePattern matches one qstat -a row; group 7 is requested cores, group
// 10 is the one-letter job state ('Q' = queued).
var jobLinePattern = regexp.MustCompile(
	`(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\d+)\s+(\d+)\s+(\S+)\s+(\S+)\s+([A-Z])\s+(\S+)`)

// nodeLinePattern matches one pbsnodes -a record:
// "\n<hostname>\n state = <state>\n np = <int>\n".
var nodeLinePattern = regexp.MustCompile(`\n(\S+)\n\s+state\s=\s(\S+)\n\s+np\s=\s(\d+)\n`)

// CommandRunner abstracts process execution so tests can substitute a fake
// without shelling out. The zero value of the default runner below wraps
// os/exec.
type CommandRunner interface {
	Run(ctx context.Context, command string) (stdout string, exitCode int, err error)
}

// execRunner runs command through /bin/bash -c, matching the original
// backend's shell=True invocation style.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, command string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	out, err := cmd.Output()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return string(out), -1, err
	}
	return string(out), exitCode, nil
}

// Cluster implements cluster.Adapter against the qstat/pbsnodes/qmgr CLIs
// found under directory/bin.
type Cluster struct {
	directory string
	runner    CommandRunner

	qstatCmd    string
	pbsnodesCmd string
	qmgrCmd     string

	nodes []cluster.Node

	numQueuedJobs  int
	numQueuedCores int
	numTotalJobs   int
	numTotalNodes  int
	numTotalCores  int
	numFreeCores   int
	numDownCores   int

	hasBooted *cache.Cache
}

// New builds a Cluster rooted at directory (expects directory/bin/{qstat,
// pbsnodes,qmgr}).
func New(directory string) *Cluster {
	return &Cluster{
		directory:   directory,
		runner:      execRunner{},
		qstatCmd:    filepath.Join(directory, "bin/qstat"),
		pbsnodesCmd: filepath.Join(directory, "bin/pbsnodes"),
		qmgrCmd:     filepath.Join(directory, "bin/qmgr"),
		hasBooted:   cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

var _ cluster.Adapter = (*Cluster)(nil)

func (c *Cluster) run(ctx context.Context, command string) (string, error) {
	var stdout string
	err := retry.Do(func() error {
		var exitCode int
		var runErr error
		stdout, exitCode, runErr = c.runner.Run(ctx, command)
		if runErr != nil {
			return runErr
		}
		if exitCode != 0 {
			return fmt.Errorf("command %q exited %d", command, exitCode)
		}
		return nil
	}, retry.Attempts(3), retry.LastErrorOnly(true))
	return stdout, err
}

// Update refreshes job and node info in one shot. On any failure, all prior
// counters and the node list are left untouched.
func (c *Cluster) Update(ctx context.Context) error {
	queuedJobs, queuedCores, totalJobs, err := c.updateJobInfo(ctx)
	if err != nil {
		return phorqueerr.Wrap(phorqueerr.ErrClusterUpdateFailed, err, "stage", "qstat")
	}
	nodes, totalNodes, totalCores, freeCores, downCores, err := c.updateNodeInfo(ctx)
	if err != nil {
		return phorqueerr.Wrap(phorqueerr.ErrClusterUpdateFailed, err, "stage", "pbsnodes")
	}
	c.numQueuedJobs, c.numQueuedCores, c.numTotalJobs = queuedJobs, queuedCores, totalJobs
	c.nodes = nodes
	c.numTotalNodes, c.numTotalCores, c.numFreeCores, c.numDownCores = totalNodes, totalCores, freeCores, downCores
	for _, n := range nodes {
		if !strings.Contains(n.State, "down") {
			c.hasBooted.SetDefault(n.Hostname, struct{}{})
		}
	}
	log.FromContext(ctx).V(1).Info("cluster updated",
		"totalNodes", totalNodes, "totalCores", totalCores, "queuedCores", queuedCores)
	return nil
}

func (c *Cluster) updateJobInfo(ctx context.Context) (queuedJobs, queuedCores, totalJobs int, err error) {
	stdout, err := c.run(ctx, c.qstatCmd+" -a")
	if err != nil {
		return 0, 0, 0, fmt.Errorf("qstat: %w", err)
	}
	for _, match := range jobLinePattern.FindAllStringSubmatch(stdout, -1) {
		cores, _ := strconv.Atoi(match[7])
		totalJobs++
		if match[10] == "Q" {
			queuedJobs++
			queuedCores += cores
		}
	}
	return queuedJobs, queuedCores, totalJobs, nil
}

func (c *Cluster) updateNodeInfo(ctx context.Context) (nodes []cluster.Node, totalNodes, totalCores, freeCores, downCores int, err error) {
	stdout, err := c.run(ctx, c.pbsnodesCmd+" -a")
	if err != nil {
		return nil, 0, 0, 0, 0, fmt.Errorf("pbsnodes: %w", err)
	}
	for _, match := range nodeLinePattern.FindAllStringSubmatch(stdout, -1) {
		np, _ := strconv.Atoi(match[3])
		n := cluster.Node{Hostname: match[1], State: match[2], NP: np}
		nodes = append(nodes, n)
		totalNodes++
		totalCores += np
		if match[2] == "free" {
			freeCores += np
		}
		if strings.Contains(match[2], "down") {
			downCores += np
		}
	}
	return nodes, totalNodes, totalCores, freeCores, downCores, nil
}

// AddNode is a no-op if hostname is already registered.
func (c *Cluster) AddNode(ctx context.Context, hostname string, np int) error {
	if c.hostnamePresent(hostname) {
		return nil
	}
	cmd := fmt.Sprintf(`%s -c "create node %s np=%d"`, c.qmgrCmd, hostname, np)
	if _, err := c.run(ctx, cmd); err != nil {
		log.FromContext(ctx).Error(err, "qmgr create node failed", "hostname", hostname)
		return nil // swallowed per spec: next tick re-converges
	}
	return nil
}

// RemoveNode is a no-op if hostname is absent.
func (c *Cluster) RemoveNode(ctx context.Context, hostname string) error {
	if !c.hostnamePresent(hostname) {
		return nil
	}
	cmd := fmt.Sprintf(`%s -c "delete node %s"`, c.qmgrCmd, hostname)
	if _, err := c.run(ctx, cmd); err != nil {
		log.FromContext(ctx).Error(err, "qmgr delete node failed", "hostname", hostname)
		return nil
	}
	c.hasBooted.Delete(hostname)
	return nil
}

// OfflineNode instructs pbsnodes to stop scheduling work to hostname and
// flips TerminateMe on the in-memory Node.
func (c *Cluster) OfflineNode(ctx context.Context, hostname string) error {
	cmd := fmt.Sprintf("%s -o %s", c.pbsnodesCmd, hostname)
	if _, err := c.run(ctx, cmd); err != nil {
		log.FromContext(ctx).Error(err, "pbsnodes offline failed", "hostname", hostname)
		return nil
	}
	for i := range c.nodes {
		if c.nodes[i].Hostname == hostname {
			c.nodes[i].TerminateMe = true
		}
	}
	return nil
}

func (c *Cluster) hostnamePresent(hostname string) bool {
	for _, n := range c.nodes {
		if n.Hostname == hostname {
			return true
		}
	}
	return false
}

// IdleOrDownHostnames implements the selection rule from the node data
// model: idle/down/offline/free and not job-exclusive, optionally gated on
// has-booted history.
func (c *Cluster) IdleOrDownHostnames(requireBooted bool) []string {
	var names []string
	for _, n := range c.nodes {
		if !n.IsIdleOrDown() {
			continue
		}
		if requireBooted {
			if _, ok := c.hasBooted.Get(n.Hostname); !ok {
				continue
			}
		}
		names = append(names, n.Hostname)
	}
	return names
}

func (c *Cluster) Nodes() []cluster.Node { return c.nodes }

func (c *Cluster) NumQueuedJobs() int  { return c.numQueuedJobs }
func (c *Cluster) NumQueuedCores() int { return c.numQueuedCores }
func (c *Cluster) NumTotalJobs() int   { return c.numTotalJobs }
func (c *Cluster) NumTotalNodes() int  { return c.numTotalNodes }
func (c *Cluster) NumTotalCores() int  { return c.numTotalCores }
func (c *Cluster) NumFreeCores() int   { return c.numFreeCores }
func (c *Cluster) NumDownCores() int   { return c.numDownCores }

