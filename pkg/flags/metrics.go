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

package flags

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teacurran/village-homepage/pkg/metrics"
)

var (
	evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "flags",
			Name:      "evaluations_total",
			Help:      "Flag evaluations by flag and result.",
		},
		[]string{"flag", "result"})
	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "flags",
			Name:      "mutations_total",
			Help:      "Flag configuration changes.",
		},
		[]string{"flag"})
	evaluationsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "flags",
			Name:      "evaluations_pruned_total",
			Help:      "Evaluation records deleted by the retention job.",
		})
)

func init() {
	metrics.Registry.MustRegister(evaluations, mutations, evaluationsPruned)
}
