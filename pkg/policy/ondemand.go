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

package policy

import (
	"context"

	"github.com/carriercomm/phorque/pkg/cloud"
	"github.com/carriercomm/phorque/pkg/cluster"
)

// OnDemand is a no-op baseline policy, useful for exercising the rest of the
// plumbing (config, control loop, adapters) without triggering any cloud
// mutation.
type OnDemand struct{}

var _ Policy = (*OnDemand)(nil)

func (p *OnDemand) Execute(ctx context.Context, cl cluster.Adapter, reg *cloud.Registry) error {
	return nil
}
