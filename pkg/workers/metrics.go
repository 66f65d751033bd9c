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

package workers

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teacurran/village-homepage/pkg/metrics"
)

var (
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workers",
			Name:      "job_duration_seconds",
			Help:      "Wall time spent executing jobs, by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"family", "type", "outcome"})
	inFlightGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workers",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently executing.",
		},
		[]string{"family"})
	fairnessSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workers",
			Name:      "fairness_skips_total",
			Help:      "Claimed jobs released back to pending because their type hit the concurrency ceiling.",
		},
		[]string{"family", "type"})
	fatalHalts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workers",
			Name:      "fatal_halts_total",
			Help:      "Pools halted by a fatal job error.",
		},
		[]string{"family", "type"})
)

func init() {
	metrics.Registry.MustRegister(jobDuration, inFlightGauge, fairnessSkips, fatalHalts)
}
