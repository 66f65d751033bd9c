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

package aibudget

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teacurran/village-homepage/pkg/metrics"
)

var (
	admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "aibudget",
			Name:      "admissions_total",
			Help:      "Admission checks by provider and mode at decision time.",
		},
		[]string{"provider", "mode"})
	deferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "aibudget",
			Name:      "deferred_total",
			Help:      "Non-critical requests queued to the next month.",
		},
		[]string{"provider"})
	spendCents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "aibudget",
			Name:      "spend_cents_total",
			Help:      "Recorded AI spend in cents.",
		},
		[]string{"provider"})
	spendRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "aibudget",
			Name:      "spend_ratio",
			Help:      "Month-to-date spend as a fraction of budget, sampled at admission.",
		},
		[]string{"provider"})
)

func init() {
	metrics.Registry.MustRegister(admissions, deferred, spendCents, spendRatio)
}
