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

package directory

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teacurran/village-homepage/pkg/metrics"
)

var (
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "directory",
			Name:      "submissions_total",
			Help:      "Site submissions, by whether the submitter was trusted.",
		},
		[]string{"trusted"})
	votes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "directory",
			Name:      "votes_total",
			Help:      "Votes applied, by direction.",
		},
		[]string{"direction"})
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "directory",
			Name:      "health_checks_total",
			Help:      "Link probes, by outcome.",
		},
		[]string{"outcome"})
	deadLinks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "directory",
			Name:      "dead_links_total",
			Help:      "Sites marked dead by the health checker.",
		})
)

func init() {
	metrics.Registry.MustRegister(submissions, votes, healthChecks, deadLinks)
}
