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

package marketplace

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teacurran/village-homepage/pkg/metrics"
)

var (
	listings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "marketplace",
			Name:      "listing_transitions_total",
			Help:      "Listing lifecycle transitions, by resulting status.",
		},
		[]string{"status"})
	bumps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "marketplace",
			Name:      "bumps_total",
			Help:      "Listing bumps applied.",
		})
	expirations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "marketplace",
			Name:      "expirations_total",
			Help:      "Listings expired by the daily job.",
		})
	reminders = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "marketplace",
			Name:      "reminders_total",
			Help:      "Expiry reminder emails enqueued.",
		})
	relayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "marketplace",
			Name:      "relay_messages_total",
			Help:      "Inbound relay messages, by disposition.",
		},
		[]string{"disposition"})
)

func init() {
	metrics.Registry.MustRegister(listings, bumps, expirations, reminders, relayed)
}
