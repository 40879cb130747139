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

// Command phorque is the elastic cluster autoscaler: it bridges a Torque
// scheduler with one or more EC2-Auto-Scaling-Group-shaped clouds, draining
// the job queue by launching and terminating instances on a fixed tick.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carriercomm/phorque/pkg/cloud"
	"github.com/carriercomm/phorque/pkg/cloud/ec2"
	"github.com/carriercomm/phorque/pkg/cluster/torque"
	"github.com/carriercomm/phorque/pkg/config"
	"github.com/carriercomm/phorque/pkg/control"
	"github.com/carriercomm/phorque/pkg/logging"
	"github.com/carriercomm/phorque/pkg/metrics"
	"github.com/carriercomm/phorque/pkg/phorqueerr"
	"github.com/carriercomm/phorque/pkg/policy"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configFile := flag.String("c", "etc/phorque.conf", "path to the configuration file")
	flag.StringVar(configFile, "config_file", "etc/phorque.conf", "path to the configuration file")
	debug := flag.Bool("d", false, "increase log verbosity")
	flag.BoolVar(debug, "debug", false, "increase log verbosity")
	flag.Parse()

	logger := logging.NewLogger(*debug)
	ctx := logging.IntoContext(context.Background(), logger)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile); err != nil {
		logger.Error(err, "fatal error")
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	clusterAdapter := torque.New(cfg.Phorque.ClusterDirectory)

	clouds := make([]cloud.Adapter, 0, len(cfg.Clouds))
	for _, cloudCfg := range cfg.Clouds {
		c, err := ec2.New(ctx, cloudCfg)
		if err != nil {
			return fmt.Errorf("%w: initializing cloud %q: %s", phorqueerr.ErrConfigInvalid, cloudCfg.Name, err)
		}
		clouds = append(clouds, c)
	}
	registry := cloud.NewRegistry(clouds)

	p, err := policy.Get(cfg.Policy)
	if err != nil {
		return err
	}

	loop := &control.Loop{
		Cluster:   clusterAdapter,
		Registry:  registry,
		Policy:    p,
		LoopSleep: time.Duration(cfg.Phorque.LoopSleepSecs) * time.Second,
	}
	loop.Run(ctx)
	return nil
}
