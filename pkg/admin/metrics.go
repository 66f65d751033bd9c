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

package admin

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teacurran/village-homepage/pkg/metrics"
)

var (
	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "admin",
			Name:      "mutations_total",
			Help:      "Number of admin mutation attempts, by action and outcome.",
		},
		[]string{"action", "outcome"})
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "admin",
			Name:      "moderator_notifications_total",
			Help:      "Number of moderator notifications delivered, by reason.",
		},
		[]string{"reason"})
)

func init() {
	metrics.Registry.MustRegister(mutations, notifications)
}
