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

package queue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teacurran/village-homepage/pkg/metrics"
)

const (
	queueSubsystem = "jobqueue"

	FamilyLabel    = "family"
	TypeLabel      = "type"
	RetryableLabel = "retryable"
)

var (
	jobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: queueSubsystem,
			Name:      "jobs_enqueued_total",
			Help:      "Number of jobs appended to the queue, labeled by family and type.",
		},
		[]string{FamilyLabel, TypeLabel})
	jobsClaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: queueSubsystem,
			Name:      "jobs_claimed_total",
			Help:      "Number of jobs claimed under a lease.",
		},
		[]string{FamilyLabel, TypeLabel})
	jobsAcked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: queueSubsystem,
			Name:      "jobs_acked_total",
			Help:      "Number of jobs acknowledged as succeeded.",
		},
		[]string{FamilyLabel, TypeLabel})
	jobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: queueSubsystem,
			Name:      "jobs_failed_total",
			Help:      "Number of job failures, labeled by whether the failure was retryable.",
		},
		[]string{FamilyLabel, TypeLabel, RetryableLabel})
	jobsReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: queueSubsystem,
			Name:      "leases_reaped_total",
			Help:      "Number of expired leases converted back to retryable failures.",
		})
	deadLetterSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: queueSubsystem,
			Name:      "dead_letter_size",
			Help:      "Current number of dead jobs retained for operator review.",
		})
)

func init() {
	metrics.Registry.MustRegister(jobsEnqueued, jobsClaimed, jobsAcked, jobsFailed, jobsReaped, deadLetterSize)
}

// SetDeadLetterSize publishes the dead-letter gauge; called from the reaper
// loop after each sweep.
func SetDeadLetterSize(n int) {
	deadLetterSize.Set(float64(n))
}
