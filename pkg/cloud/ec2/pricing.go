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

package ec2

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

// priceListProduct is the subset of the AWS Price List API's GetProducts
// JSON blob this backend needs: the on-demand hourly USD rate for the
// product's single SKU.
type priceListProduct struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				PricePerUnit struct {
					USD string `json:"USD"`
				} `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// lookupOnDemandPrice queries the Price List API for c.cfg.InstanceType's
// on-demand Linux/shared-tenancy hourly rate in the c.cfg.CloudType region.
func (c *Cloud) lookupOnDemandPrice(ctx context.Context) (float64, error) {
	out, err := c.pricingClient.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters: []types.Filter{
			{Type: types.FilterTypeTermMatch, Field: aws.String("instanceType"), Value: aws.String(c.cfg.InstanceType)},
			{Type: types.FilterTypeTermMatch, Field: aws.String("location"), Value: aws.String(regionName(c.cfg.CloudType))},
			{Type: types.FilterTypeTermMatch, Field: aws.String("operatingSystem"), Value: aws.String("Linux")},
			{Type: types.FilterTypeTermMatch, Field: aws.String("tenancy"), Value: aws.String("Shared")},
			{Type: types.FilterTypeTermMatch, Field: aws.String("preInstalledSw"), Value: aws.String("NA")},
			{Type: types.FilterTypeTermMatch, Field: aws.String("capacitystatus"), Value: aws.String("Used")},
		},
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("pricing GetProducts for %s: %w", c.cfg.InstanceType, err)
	}
	if len(out.PriceList) == 0 {
		return 0, fmt.Errorf("no price list entry for instance type %s", c.cfg.InstanceType)
	}
	var product priceListProduct
	if err := json.Unmarshal([]byte(out.PriceList[0]), &product); err != nil {
		return 0, fmt.Errorf("decoding price list entry: %w", err)
	}
	for _, term := range product.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			var price float64
			if _, err := fmt.Sscanf(dim.PricePerUnit.USD, "%f", &price); err != nil {
				continue
			}
			return price, nil
		}
	}
	return 0, fmt.Errorf("no on-demand price dimension found for %s", c.cfg.InstanceType)
}

// regionName maps an AWS region code to the Price List API's free-text
// location name. Only the regions this project has ever been configured for
// are listed; an unrecognized region is passed through as-is, which will
// simply fail to match and surface as a lookup error.
func regionName(region string) string {
	names := map[string]string{
		"us-east-1": "US East (N. Virginia)",
		"us-east-2": "US East (Ohio)",
		"us-west-1": "US West (N. California)",
		"us-west-2": "US West (Oregon)",
		"eu-west-1": "EU (Ireland)",
	}
	if n, ok := names[region]; ok {
		return n
	}
	return region
}
