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

// Package config loads the TOML configuration file: the fixed "[Phorque]"
// and "[Policy]" sections plus one dynamic section per configured cloud.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/carriercomm/phorque/pkg/cloud/ec2"
	"github.com/carriercomm/phorque/pkg/phorqueerr"
	"github.com/carriercomm/phorque/pkg/policy"
)

// Phorque is the "[Phorque]" section.
type Phorque struct {
	LoopSleepSecs    int    `toml:"loop_sleep_secs"`
	ClusterDirectory string `toml:"cluster_directory"`
}

// Config is the fully parsed, environment-resolved configuration.
type Config struct {
	Phorque Phorque
	Policy  policy.Config
	Clouds  []ec2.Config
}

// rawCloudSection mirrors every recognized cloud key as a string so
// $ENV_VAR indirection can be resolved uniformly before type conversion.
type rawCloudSection struct {
	ImageID            string `toml:"image_id"`
	LaunchConfigName   string `toml:"launch_config_name"`
	AutoscaleGroupName string `toml:"autoscale_group_name"`
	Price              string `toml:"price"`
	CloudURI           string `toml:"cloud_uri"`
	CloudPort          string `toml:"cloud_port"`
	AutoscaleURI       string `toml:"autoscale_uri"`
	AutoscalePort      string `toml:"autoscale_port"`
	CloudType          string `toml:"cloud_type"`
	AvailabilityZone   string `toml:"availability_zone"`
	InstanceType       string `toml:"instance_type"`
	InstanceCores      string `toml:"instance_cores"`
	MaxInstances       string `toml:"max_instances"`
	ChargeTimeSecs     string `toml:"charge_time_secs"`
	AccessID           string `toml:"access_id"`
	SecretKey          string `toml:"secret_key"`
	KeyName            string `toml:"key_name"`
	SecurityGroups     []string `toml:"security_groups"`
	Tags               map[string]string `toml:"tags"`
}

type rawDoc struct {
	Phorque Phorque
	Policy  policy.Config
	// everything else is cloud sections, decoded in a second pass below.
}

// Load reads, resolves, and validates the TOML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %s", phorqueerr.ErrConfigInvalid, path, err)
	}

	var generic map[string]any
	if err := toml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %s", phorqueerr.ErrConfigInvalid, path, err)
	}

	var doc rawDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %s", phorqueerr.ErrConfigInvalid, path, err)
	}

	cfg := &Config{Phorque: doc.Phorque, Policy: doc.Policy}
	// The policy needs loop_sleep_secs (it's a [Phorque] key, not a [Policy]
	// key) to compute close-to-charge gating; carry it over here so every
	// caller of Load gets a fully wired policy.Config instead of relying on
	// each construction site to remember the cross-section copy.
	cfg.Policy.LoopSleepSecs = cfg.Phorque.LoopSleepSecs

	for name, section := range generic {
		if name == "Phorque" || name == "Policy" {
			continue
		}
		table, ok := section.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: section %q is not a table", phorqueerr.ErrConfigInvalid, name)
		}
		cloudCfg, err := decodeCloudSection(name, table)
		if err != nil {
			return nil, err
		}
		cfg.Clouds = append(cfg.Clouds, cloudCfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeCloudSection(name string, table map[string]any) (ec2.Config, error) {
	// Native TOML numbers (price = 0.10, instance_cores = 4) are turned into
	// their string form so they decode into rawCloudSection's string fields.
	for k, v := range table {
		switch v.(type) {
		case int64, float64:
			table[k] = fmt.Sprint(v)
		}
	}
	raw, err := toml.Marshal(table)
	if err != nil {
		return ec2.Config{}, fmt.Errorf("%w: re-marshaling section %q: %s", phorqueerr.ErrConfigInvalid, name, err)
	}
	var sec rawCloudSection
	if err := toml.Unmarshal(raw, &sec); err != nil {
		return ec2.Config{}, fmt.Errorf("%w: decoding section %q: %s", phorqueerr.ErrConfigInvalid, name, err)
	}

	var price float64
	if v := resolveEnv(sec.Price); v != "" {
		if _, err := fmt.Sscanf(v, "%f", &price); err != nil {
			return ec2.Config{}, fmt.Errorf("%w: section %q: invalid price %q", phorqueerr.ErrConfigInvalid, name, v)
		}
	}

	cloudPort := atoiOrZero(resolveEnv(sec.CloudPort))
	autoscalePort := atoiOrZero(resolveEnv(sec.AutoscalePort))
	instanceCores := atoiOrZero(resolveEnv(sec.InstanceCores))
	maxInstances := atoiOrZero(resolveEnv(sec.MaxInstances))
	chargeTimeSecs := atoiOrZero(resolveEnv(sec.ChargeTimeSecs))

	return ec2.Config{
		Name:               name,
		ImageID:            resolveEnv(sec.ImageID),
		LaunchConfigName:   resolveEnv(sec.LaunchConfigName),
		AutoscaleGroupName: resolveEnv(sec.AutoscaleGroupName),
		Price:              price,
		CloudURI:           resolveEnv(sec.CloudURI),
		CloudPort:          cloudPort,
		AutoscaleURI:       resolveEnv(sec.AutoscaleURI),
		AutoscalePort:      autoscalePort,
		CloudType:          resolveEnv(sec.CloudType),
		AvailabilityZone:   resolveEnv(sec.AvailabilityZone),
		InstanceType:       resolveEnv(sec.InstanceType),
		InstanceCores:      instanceCores,
		MaxInstances:       maxInstances,
		ChargeTimeSecs:     chargeTimeSecs,
		AccessID:           resolveEnv(sec.AccessID),
		SecretKey:          resolveEnv(sec.SecretKey),
		KeyName:            resolveEnv(sec.KeyName),
		SecurityGroups:     sec.SecurityGroups,
		Tags:               sec.Tags,
	}, nil
}

// resolveEnv applies the original config format's $ENV_VAR indirection
// uniformly to every string config value: a leading "$" means "read this
// from the named environment variable" rather than take it literally.
func resolveEnv(v string) string {
	if strings.HasPrefix(v, "$") {
		return os.Getenv(strings.TrimPrefix(v, "$"))
	}
	return v
}

func atoiOrZero(s string) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0
	}
	return n
}

func (c *Config) validate() error {
	if c.Phorque.LoopSleepSecs <= 0 {
		return fmt.Errorf("%w: loop_sleep_secs must be positive", phorqueerr.ErrConfigInvalid)
	}
	if c.Phorque.ClusterDirectory == "" {
		return fmt.Errorf("%w: cluster_directory is required", phorqueerr.ErrConfigInvalid)
	}
	if c.Policy.Name == "" {
		return fmt.Errorf("%w: policy name is required", phorqueerr.ErrConfigInvalid)
	}
	if len(c.Clouds) == 0 {
		return fmt.Errorf("%w: at least one cloud section is required", phorqueerr.ErrConfigInvalid)
	}
	for _, cl := range c.Clouds {
		if cl.AutoscaleGroupName == "" {
			return fmt.Errorf("%w: section %q missing autoscale_group_name", phorqueerr.ErrConfigInvalid, cl.Name)
		}
		if cl.InstanceCores <= 0 {
			return fmt.Errorf("%w: section %q instance_cores must be positive", phorqueerr.ErrConfigInvalid, cl.Name)
		}
		if cl.MaxInstances <= 0 {
			return fmt.Errorf("%w: section %q max_instances must be positive", phorqueerr.ErrConfigInvalid, cl.Name)
		}
	}
	return nil
}
