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

// Package clustertest provides an in-memory cluster.Adapter fake for tests
// exercising the policy engine and control loop without a real scheduler.
package clustertest

import (
	"context"

	"github.com/patrickmn/go-cache"

	"github.com/carriercomm/phorque/pkg/cluster"
)

// Fake is a mutable, in-memory cluster.Adapter. Tests set the counters and
// Nodes slice directly, then call the code under test; AddNode/RemoveNode/
// OfflineNode calls are recorded for assertions.
type Fake struct {
	QueuedJobs  int
	QueuedCores int
	TotalJobs   int
	TotalNodes  int
	TotalCores  int
	FreeCores   int
	DownCores   int

	NodeList []cluster.Node

	AddedNodes     []string
	RemovedNodes   []string
	OfflinedNodes  []string
	UpdateErr      error
	hasBooted      *cache.Cache
}

// New returns an empty Fake with an initialized has-booted set.
func New() *Fake {
	return &Fake{hasBooted: cache.New(cache.NoExpiration, cache.NoExpiration)}
}

var _ cluster.Adapter = (*Fake)(nil)

// Boot marks hostname as having booted, for tests exercising requireBooted.
func (f *Fake) Boot(hostname string) {
	f.hasBooted.SetDefault(hostname, struct{}{})
}

func (f *Fake) Update(ctx context.Context) error {
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	for _, n := range f.NodeList {
		f.Boot(n.Hostname)
	}
	return nil
}

func (f *Fake) AddNode(ctx context.Context, hostname string, np int) error {
	for _, n := range f.NodeList {
		if n.Hostname == hostname {
			return nil
		}
	}
	f.NodeList = append(f.NodeList, cluster.Node{Hostname: hostname, NP: np, State: "free"})
	f.TotalNodes++
	f.TotalCores += np
	f.AddedNodes = append(f.AddedNodes, hostname)
	return nil
}

func (f *Fake) RemoveNode(ctx context.Context, hostname string) error {
	for i, n := range f.NodeList {
		if n.Hostname == hostname {
			f.NodeList = append(f.NodeList[:i], f.NodeList[i+1:]...)
			f.TotalNodes--
			f.TotalCores -= n.NP
			f.hasBooted.Delete(hostname)
			break
		}
	}
	f.RemovedNodes = append(f.RemovedNodes, hostname)
	return nil
}

func (f *Fake) OfflineNode(ctx context.Context, hostname string) error {
	for i := range f.NodeList {
		if f.NodeList[i].Hostname == hostname {
			f.NodeList[i].TerminateMe = true
		}
	}
	f.OfflinedNodes = append(f.OfflinedNodes, hostname)
	return nil
}

func (f *Fake) IdleOrDownHostnames(requireBooted bool) []string {
	var names []string
	for _, n := range f.NodeList {
		if !n.IsIdleOrDown() {
			continue
		}
		if requireBooted {
			if _, ok := f.hasBooted.Get(n.Hostname); !ok {
				continue
			}
		}
		names = append(names, n.Hostname)
	}
	return names
}

func (f *Fake) Nodes() []cluster.Node { return f.NodeList }

func (f *Fake) NumQueuedJobs() int  { return f.QueuedJobs }
func (f *Fake) NumQueuedCores() int { return f.QueuedCores }
func (f *Fake) NumTotalJobs() int   { return f.TotalJobs }
func (f *Fake) NumTotalNodes() int  { return f.TotalNodes }
func (f *Fake) NumTotalCores() int  { return f.TotalCores }
func (f *Fake) NumFreeCores() int   { return f.FreeCores }
func (f *Fake) NumDownCores() int   { return f.DownCores }
