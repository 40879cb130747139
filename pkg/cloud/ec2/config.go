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

// Package ec2 implements cloud.Adapter against an EC2 Auto Scaling Group:
// a launch configuration plus a group carrying desired/min/max capacity, as
// called out in the external interfaces the core expects a cloud backend to
// provide.
package ec2

// Config is the per-cloud configuration section, as read from the
// "[<cloud-name>]" table of the TOML config file.
type Config struct {
	Name string

	ImageID              string
	LaunchConfigName     string
	AutoscaleGroupName   string
	Price                float64 // 0 means "look it up via the pricing API"
	CloudURI             string
	CloudPort            int
	AutoscaleURI         string
	AutoscalePort        int
	CloudType            string
	AvailabilityZone     string
	InstanceType         string
	InstanceCores        int
	MaxInstances         int
	ChargeTimeSecs       int
	AccessID             string
	SecretKey            string

	// KeyName, SecurityGroups, and Tags replace what the original backend
	// hard-coded (phantomkey, the "default" security group, and a set of
	// autoscale policy tags); they are ordinary configuration here.
	KeyName        string
	SecurityGroups []string
	Tags           map[string]string
}
