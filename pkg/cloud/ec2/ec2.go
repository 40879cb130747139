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
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/avast/retry-go"
	"github.com/samber/lo"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/carriercomm/phorque/pkg/cloud"
	"github.com/carriercomm/phorque/pkg/metrics"
	"github.com/carriercomm/phorque/pkg/phorqueerr"
)

// ec2API and asgAPI are the slices of the SDK clients this backend calls,
// narrowed for test substitution (mirroring the teacher's awsapi interfaces).
type ec2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

type asgAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, in *autoscaling.DescribeAutoScalingGroupsInput, opts ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	SetDesiredCapacity(ctx context.Context, in *autoscaling.SetDesiredCapacityInput, opts ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error)
	TerminateInstanceInAutoScalingGroup(ctx context.Context, in *autoscaling.TerminateInstanceInAutoScalingGroupInput, opts ...func(*autoscaling.Options)) (*autoscaling.TerminateInstanceInAutoScalingGroupOutput, error)
}

type pricingAPI interface {
	GetProducts(ctx context.Context, in *pricing.GetProductsInput, opts ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// Cloud is the EC2 Auto-Scaling-Group-shaped cloud.Adapter implementation.
type Cloud struct {
	cfg   Config
	clock clock.Clock

	ec2Client     ec2API
	asgClient     asgAPI
	pricingClient pricingAPI

	price float64 // resolved once, either cfg.Price or a pricing API lookup

	validInstances []cloud.Instance
	desired        int
	maxed          bool

	failedLaunch            bool
	failedCount             int
	failedLastValidCount    int
	failedLastValidCountSet bool
}

var _ cloud.Adapter = (*Cloud)(nil)

// New builds a Cloud from cfg, constructing its own AWS SDK v2 clients. A
// non-zero cfg.Price skips the live pricing lookup entirely (useful for
// tests and for clouds whose rate card isn't in the AWS Price List API).
func New(ctx context.Context, cfg Config) (*Cloud, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.CloudType),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessID, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, phorqueerr.Wrap(phorqueerr.ErrConfigInvalid, err, "cloud", cfg.Name, "stage", "load_aws_config")
	}
	c := &Cloud{
		cfg:           cfg,
		clock:         clock.RealClock{},
		ec2Client:     ec2.NewFromConfig(awsCfg),
		asgClient:     autoscaling.NewFromConfig(awsCfg),
		pricingClient: pricing.NewFromConfig(awsCfg, func(o *pricing.Options) { o.Region = "us-east-1" }),
		price:         cfg.Price,
	}
	if c.price <= 0 {
		p, err := c.lookupOnDemandPrice(ctx)
		if err != nil {
			log.FromContext(ctx).Error(err, "pricing lookup failed, leaving price at 0", "cloud", cfg.Name)
		} else {
			c.price = p
		}
	}
	return c, nil
}

func (c *Cloud) Name() string          { return c.cfg.Name }
func (c *Cloud) Price() float64        { return c.price }
func (c *Cloud) InstanceCores() int    { return c.cfg.InstanceCores }
func (c *Cloud) MaxInstances() int     { return c.cfg.MaxInstances }
func (c *Cloud) Maxed() bool           { return c.maxed }
func (c *Cloud) DesiredCapacity() int  { return c.desired }

func (c *Cloud) ValidInstances() []cloud.Instance { return c.validInstances }

func (c *Cloud) AllInstanceDNSNames() []string {
	return lo.FilterMap(c.validInstances, func(i cloud.Instance, _ int) (string, bool) {
		return i.PublicDNSName, i.PublicDNSName != ""
	})
}

func (c *Cloud) TotalValidCores() int {
	return len(c.validInstances) * c.cfg.InstanceCores
}

// Refresh fetches the group's instances from EC2 and its desired capacity
// from Auto Scaling, retrying transient API errors.
func (c *Cloud) Refresh(ctx context.Context) error {
	group, err := c.describeGroup(ctx)
	if err != nil {
		return phorqueerr.Wrap(phorqueerr.ErrCloudRefreshFailed, err, "cloud", c.cfg.Name, "stage", "describe_group")
	}
	c.desired = int(aws.ToInt32(group.DesiredCapacity))
	metrics.CloudDesiredCapacity.WithLabelValues(c.cfg.Name).Set(float64(c.desired))

	instanceIDs := lo.Map(group.Instances, func(i asgtypes.Instance, _ int) string { return aws.ToString(i.InstanceId) })
	instances, err := c.describeInstances(ctx, instanceIDs)
	if err != nil {
		return phorqueerr.Wrap(phorqueerr.ErrCloudRefreshFailed, err, "cloud", c.cfg.Name, "stage", "describe_instances")
	}
	c.validInstances = lo.Filter(instances, func(i cloud.Instance, _ int) bool { return i.Valid() })
	c.maxed = len(c.validInstances) >= c.cfg.MaxInstances
	return nil
}

func (c *Cloud) describeGroup(ctx context.Context) (*asgtypes.AutoScalingGroup, error) {
	var out *autoscaling.DescribeAutoScalingGroupsOutput
	err := retry.Do(func() error {
		var err error
		out, err = c.asgClient.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
			AutoScalingGroupNames: []string{c.cfg.AutoscaleGroupName},
		})
		return err
	}, retry.Attempts(3), retry.LastErrorOnly(true))
	if err != nil {
		return nil, err
	}
	if len(out.AutoScalingGroups) != 1 {
		return nil, fmt.Errorf("expected exactly one group named %s, got %d", c.cfg.AutoscaleGroupName, len(out.AutoScalingGroups))
	}
	return &out.AutoScalingGroups[0], nil
}

func (c *Cloud) describeInstances(ctx context.Context, instanceIDs []string) ([]cloud.Instance, error) {
	if len(instanceIDs) == 0 {
		return nil, nil
	}
	var out *ec2.DescribeInstancesOutput
	err := retry.Do(func() error {
		var err error
		out, err = c.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: instanceIDs})
		return err
	}, retry.Attempts(3), retry.LastErrorOnly(true))
	if err != nil {
		return nil, err
	}
	var instances []cloud.Instance
	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			instances = append(instances, cloud.Instance{
				ID:            aws.ToString(inst.InstanceId),
				PublicDNSName: aws.ToString(inst.PublicDnsName),
				RunState:      string(inst.State.Name),
				LaunchTime:    aws.ToTime(inst.LaunchTime),
			})
		}
	}
	return instances, nil
}

// HostnamesCloseToCharge returns hostnames whose next billing boundary falls
// within 3*loopSleep, per the billing-boundary formula in the data model.
func (c *Cloud) HostnamesCloseToCharge(loopSleep time.Duration) []string {
	now := c.clock.Now().UTC()
	chargeTime := time.Duration(c.cfg.ChargeTimeSecs) * time.Second
	var names []string
	for _, inst := range c.validInstances {
		elapsed := now.Sub(inst.LaunchTime)
		cur := elapsed % chargeTime
		secsToCharge := chargeTime - cur
		if secsToCharge < 3*loopSleep {
			names = append(names, inst.PublicDNSName)
		}
	}
	return names
}

func (c *Cloud) InstanceIDsForHostnames(hostnames []string) []string {
	want := lo.SliceToMap(hostnames, func(h string) (string, bool) { return h, true })
	return lo.FilterMap(c.validInstances, func(i cloud.Instance, _ int) (string, bool) {
		return i.ID, want[i.PublicDNSName]
	})
}

// LaunchAutoscale sets desired capacity to min(desired+n, MaxInstances).
func (c *Cloud) LaunchAutoscale(ctx context.Context, n int) error {
	newCapacity := c.desired + n
	if newCapacity > c.cfg.MaxInstances {
		newCapacity = c.cfg.MaxInstances
	}
	metrics.CloudMutations.WithLabelValues(c.cfg.Name, "launch").Inc()
	return c.SetCapacity(ctx, newCapacity)
}

// DeleteInstances terminates ids, first clamping desired capacity down to
// the current valid-instance count if the cloud is still trying to grow past
// what's actually running, so the autoscaler doesn't replace what's draining.
func (c *Cloud) DeleteInstances(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if c.desired > len(c.validInstances) && len(c.validInstances) > 0 {
		if err := c.SetCapacity(ctx, len(c.validInstances)); err != nil {
			return err
		}
	}
	metrics.CloudMutations.WithLabelValues(c.cfg.Name, "terminate").Inc()
	for _, id := range ids {
		err := retry.Do(func() error {
			_, err := c.asgClient.TerminateInstanceInAutoScalingGroup(ctx, &autoscaling.TerminateInstanceInAutoScalingGroupInput{
				InstanceId:                     aws.String(id),
				ShouldDecrementDesiredCapacity: aws.Bool(false),
			})
			return err
		}, retry.Attempts(3), retry.LastErrorOnly(true))
		if err != nil {
			return phorqueerr.Wrap(phorqueerr.ErrCloudMutationFailed, err, "cloud", c.cfg.Name, "op", "terminate", "instance", id)
		}
	}
	return nil
}

// SetCapacity writes desired capacity through to the Auto Scaling group,
// capped at MaxInstances.
func (c *Cloud) SetCapacity(ctx context.Context, n int) error {
	if n > c.cfg.MaxInstances {
		n = c.cfg.MaxInstances
	}
	metrics.CloudMutations.WithLabelValues(c.cfg.Name, "set_capacity").Inc()
	err := retry.Do(func() error {
		_, err := c.asgClient.SetDesiredCapacity(ctx, &autoscaling.SetDesiredCapacityInput{
			AutoScalingGroupName: aws.String(c.cfg.AutoscaleGroupName),
			DesiredCapacity:      aws.Int32(int32(n)),
		})
		return err
	}, retry.Attempts(3), retry.LastErrorOnly(true))
	if err != nil {
		return phorqueerr.Wrap(phorqueerr.ErrCloudMutationFailed, err, "cloud", c.cfg.Name, "op", "set_capacity", "n", n)
	}
	c.desired = n
	metrics.CloudDesiredCapacity.WithLabelValues(c.cfg.Name).Set(float64(n))
	return nil
}

func (c *Cloud) FailedLaunch() bool { return c.failedLaunch }
func (c *Cloud) FailedCount() int   { return c.failedCount }

// FailedLastValidCount returns -1 until MarkProgress has been called at
// least once, so a first-time launch/valid discrepancy is never mistaken
// for a stalled tick at the same (zero) count.
func (c *Cloud) FailedLastValidCount() int {
	if !c.failedLastValidCountSet {
		return -1
	}
	return c.failedLastValidCount
}

func (c *Cloud) MarkProgress(validCount int) {
	c.failedLastValidCount = validCount
	c.failedLastValidCountSet = true
}

func (c *Cloud) MarkStall() { c.failedCount++ }

// MarkFailed caps desired capacity to cappedTo, marks the cloud failed, and
// resets the stall counters so a later recovery starts clean.
func (c *Cloud) MarkFailed(ctx context.Context, cappedTo int) error {
	c.failedLaunch = true
	c.failedCount = 0
	c.failedLastValidCount = 0
	c.failedLastValidCountSet = false
	metrics.CloudFailed.WithLabelValues(c.cfg.Name).Set(1)
	return c.SetCapacity(ctx, cappedTo)
}

func (c *Cloud) ResetFailure() {
	c.failedLaunch = false
	c.failedCount = 0
	c.failedLastValidCount = 0
	c.failedLastValidCountSet = false
	metrics.CloudFailed.WithLabelValues(c.cfg.Name).Set(0)
}
