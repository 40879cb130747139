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

package cloud

import (
	"context"
	"sort"
	"sync"

	"github.com/patrickmn/go-cache"
	"go.uber.org/multierr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/carriercomm/phorque/pkg/cluster"
	"github.com/carriercomm/phorque/pkg/phorqueerr"
)

// Registry holds every configured cloud, ordered low-to-high by price, and
// reconciles the scheduler's node list against the union of valid instances
// across all of them.
type Registry struct {
	clouds       map[string]Adapter
	lowToHigh    []Adapter
	outOfDate    *cache.Cache // hostname -> struct{}, one-tick debounce
}

// NewRegistry sorts clouds low-to-high by price (stable: ties keep their
// input order) and returns a Registry over them.
func NewRegistry(clouds []Adapter) *Registry {
	byName := make(map[string]Adapter, len(clouds))
	ordered := make([]Adapter, len(clouds))
	copy(ordered, clouds)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Price() < ordered[j].Price() })
	for _, c := range clouds {
		byName[c.Name()] = c
	}
	return &Registry{
		clouds:    byName,
		lowToHigh: ordered,
		outOfDate: cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

// CloudsLowToHigh is the price-ordered list of every registered cloud.
func (r *Registry) CloudsLowToHigh() []Adapter { return r.lowToHigh }

// Get returns the cloud registered under name, if any.
func (r *Registry) Get(name string) (Adapter, bool) {
	c, ok := r.clouds[name]
	return c, ok
}

// CheapestUsable returns the first usable cloud in price order, or nil if
// none are usable.
func (r *Registry) CheapestUsable() Adapter {
	for _, c := range r.lowToHigh {
		if Usable(c) {
			return c
		}
	}
	return nil
}

// TotalValidCoresAcrossClouds sums TotalValidCores() over every cloud.
func (r *Registry) TotalValidCoresAcrossClouds() int {
	total := 0
	for _, c := range r.lowToHigh {
		total += c.TotalValidCores()
	}
	return total
}

// RefreshAll refreshes every cloud concurrently (refresh is read-only and
// per-cloud isolated), joins on all of them, then runs reconcileNodes. A
// per-cloud refresh failure is logged and does not block the others or the
// reconcile step; the combined error (if any) is returned to the caller so
// the control loop can record a failed tick, but reconcile still runs against
// whatever state each cloud last successfully reported.
func (r *Registry) RefreshAll(ctx context.Context, cl cluster.Adapter) error {
	var (
		mu      sync.Mutex
		combined error
	)
	var wg sync.WaitGroup
	for _, c := range r.lowToHigh {
		wg.Add(1)
		go func(c Adapter) {
			defer wg.Done()
			if err := c.Refresh(ctx); err != nil {
				log.FromContext(ctx).Error(err, "cloud refresh failed", "cloud", c.Name())
				mu.Lock()
				combined = multierr.Append(combined, phorqueerr.Wrap(phorqueerr.ErrCloudRefreshFailed, err, "cloud", c.Name()))
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	r.reconcileNodes(ctx, cl)
	return combined
}

// reconcileNodes makes cl's node list match the union of valid instances
// across every cloud, with a one-tick debounce: a cluster node missing from
// every cloud's valid-instance set is only removed once it has been missing
// for two consecutive calls.
func (r *Registry) reconcileNodes(ctx context.Context, cl cluster.Adapter) {
	cloudDNS := map[string]bool{}
	for _, c := range r.lowToHigh {
		for _, name := range c.AllInstanceDNSNames() {
			cloudDNS[name] = true
		}
	}

	var toRemove []string
	for _, n := range cl.Nodes() {
		if !cloudDNS[n.Hostname] {
			if _, wasOutOfDate := r.outOfDate.Get(n.Hostname); wasOutOfDate {
				toRemove = append(toRemove, n.Hostname)
			} else {
				r.outOfDate.SetDefault(n.Hostname, struct{}{})
			}
		} else if _, wasOutOfDate := r.outOfDate.Get(n.Hostname); wasOutOfDate {
			r.outOfDate.Delete(n.Hostname)
		}
	}

	for _, hostname := range toRemove {
		if err := cl.RemoveNode(ctx, hostname); err != nil {
			log.FromContext(ctx).Error(err, "failed to remove stale node", "hostname", hostname)
		}
		r.outOfDate.Delete(hostname)
	}

	for _, c := range r.lowToHigh {
		for _, inst := range c.ValidInstances() {
			if inst.PublicDNSName == "" {
				continue
			}
			if err := cl.AddNode(ctx, inst.PublicDNSName, c.InstanceCores()); err != nil {
				log.FromContext(ctx).Error(err, "failed to add node", "hostname", inst.PublicDNSName)
			}
		}
	}
}
