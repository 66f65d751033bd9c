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

package screenshot

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teacurran/village-homepage/pkg/metrics"
)

var (
	captures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "screenshot",
			Name:      "captures_total",
			Help:      "Screenshots captured and stored.",
		})
	launches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "screenshot",
			Name:      "browser_launches_total",
			Help:      "Fresh browser sessions launched.",
		})
	retirements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "screenshot",
			Name:      "session_retirements_total",
			Help:      "Browser sessions retired from the pool, by reason.",
		},
		[]string{"reason"})
	poolExhaustion = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "screenshot",
			Name:      "browser_pool_exhaustion_total",
			Help:      "Captures that waited past the exhaustion threshold for a browser slot.",
		})
)

func init() {
	metrics.Registry.MustRegister(captures, launches, retirements, poolExhaustion)
}
