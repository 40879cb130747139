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

// Package metrics holds the process's prometheus collectors. The core is
// log-driven per spec (no alerting/dead-letter path), but every tick and
// mutation still increments a counter so an operator can graph the loop's
// behavior over time.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "phorque"

var (
	// TickDuration buckets the wall time of each of the three tick phases.
	TickDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_loop",
		Name:      "tick_duration_seconds",
		Help:      "Duration of a control loop tick phase.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"phase"})

	// TickTotal counts completed ticks by result (ok|error).
	TickTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_loop",
		Name:      "tick_total",
		Help:      "Completed control loop ticks by result.",
	}, []string{"result"})

	// CloudMutations counts launch/terminate/set-capacity calls per cloud.
	CloudMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cloud",
		Name:      "mutations_total",
		Help:      "Mutating cloud adapter calls by cloud and operation.",
	}, []string{"cloud", "op"})

	// CloudDesiredCapacity mirrors each cloud's desired capacity.
	CloudDesiredCapacity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cloud",
		Name:      "desired_capacity",
		Help:      "Last known desired capacity per cloud.",
	}, []string{"cloud"})

	// CloudFailed reports 1 when a cloud has transitioned to Failed.
	CloudFailed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cloud",
		Name:      "failed_launch",
		Help:      "1 if the cloud's launch attempts are currently marked failed.",
	}, []string{"cloud"})
)

// MustRegister registers every collector against reg. Call once at startup
// with prometheus.DefaultRegisterer (or a test registry).
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(TickDuration, TickTotal, CloudMutations, CloudDesiredCapacity, CloudFailed)
}
