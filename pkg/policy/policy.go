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

// Package policy holds the scaling decision: given a cluster snapshot and a
// cloud registry snapshot, decide to launch, to drain and terminate, or to do
// nothing. Policies are selected once at startup by name, mirroring the
// teacher's named cloud-provider registry.
package policy

import (
	"context"
	"fmt"

	"github.com/carriercomm/phorque/pkg/cloud"
	"github.com/carriercomm/phorque/pkg/cluster"
	"github.com/carriercomm/phorque/pkg/phorqueerr"
)

// Config is the "[Policy]" section of the TOML config.
type Config struct {
	Name          string
	Multiplier    int
	LoopSleepSecs int
}

// Policy is one scaling strategy.
type Policy interface {
	Execute(ctx context.Context, cl cluster.Adapter, reg *cloud.Registry) error
}

var registry = map[string]func(Config) Policy{
	"OnDemand":         func(Config) Policy { return &OnDemand{} },
	"OnDemandPlusPlus": func(cfg Config) Policy { return NewOnDemandPlusPlus(cfg) },
}

// Get resolves a policy by configured name. An unrecognized name is a
// configInvalid error, caught at startup rather than at the first tick.
func Get(cfg Config) (Policy, error) {
	ctor, ok := registry[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown policy %q", phorqueerr.ErrConfigInvalid, cfg.Name)
	}
	return ctor(cfg), nil
}
