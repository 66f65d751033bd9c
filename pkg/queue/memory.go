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
	"context"
	"sort"
	"time"

	"sync"

	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/utils/ids"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// memoryEntry wraps a Job with an insertion sequence for stable FIFO
// tie-breaking within (family, priority).
type memoryEntry struct {
	job *Job
	seq uint64
}

// InMemory is a mutex-guarded queue with the same observable semantics as the
// Postgres queue. Worker pools, the scheduler, and every service test run
// against it.
type InMemory struct {
	mu      sync.Mutex
	clock   clock.Clock
	backoff *BackoffPolicy
	jobs    map[string]*memoryEntry
	dedupe  map[string]string // type+"\x00"+key -> job id
	seq     uint64
}

func NewInMemory(clk clock.Clock, backoff *BackoffPolicy) *InMemory {
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	return &InMemory{
		clock:   clk,
		backoff: backoff,
		jobs:    map[string]*memoryEntry{},
		dedupe:  map[string]string{},
	}
}

func (q *InMemory) Enqueue(ctx context.Context, jobType Type, payload any, opts ...EnqueueOption) (string, error) {
	options := applyEnqueueOptions(opts)
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if options.IdempotencyKey != "" {
		if existing, ok := q.dedupe[dedupeKey(jobType, options.IdempotencyKey)]; ok {
			return existing, nil
		}
	}
	now := q.clock.Now()
	nextAttempt := now.Add(options.Delay)
	if !options.RunAt.IsZero() {
		nextAttempt = options.RunAt
	}
	job := &Job{
		ID:             ids.NewULID(now),
		Family:         options.Family,
		Type:           jobType,
		Payload:        raw,
		Priority:       options.Priority,
		Status:         StatusPending,
		MaxAttempts:    options.MaxAttempts,
		NextAttemptAt:  nextAttempt,
		IdempotencyKey: options.IdempotencyKey,
		EnqueuedAt:     now,
	}
	q.seq++
	q.jobs[job.ID] = &memoryEntry{job: job, seq: q.seq}
	if options.IdempotencyKey != "" {
		q.dedupe[dedupeKey(jobType, options.IdempotencyKey)] = job.ID
	}
	jobsEnqueued.WithLabelValues(string(job.Family), string(job.Type)).Inc()
	return job.ID, nil
}

func (q *InMemory) Claim(ctx context.Context, family Family, workerID string, lease time.Duration, batch int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	var eligible []*memoryEntry
	for _, entry := range q.jobs {
		j := entry.job
		if j.Family == family && j.Status == StatusPending && !j.NextAttemptAt.After(now) {
			eligible = append(eligible, entry)
		}
	}
	sort.Slice(eligible, func(i, k int) bool {
		a, b := eligible[i], eligible[k]
		if a.job.Priority != b.job.Priority {
			return a.job.Priority > b.job.Priority
		}
		if !a.job.EnqueuedAt.Equal(b.job.EnqueuedAt) {
			return a.job.EnqueuedAt.Before(b.job.EnqueuedAt)
		}
		return a.seq < b.seq
	})
	if batch < len(eligible) {
		eligible = eligible[:batch]
	}
	claimed := make([]*Job, 0, len(eligible))
	for _, entry := range eligible {
		j := entry.job
		j.Status = StatusRunning
		j.Attempts++
		j.LeaseHolder = workerID
		j.LeaseExpiresAt = now.Add(lease)
		if j.FirstStartedAt.IsZero() {
			j.FirstStartedAt = now
		}
		copied := *j
		claimed = append(claimed, &copied)
		jobsClaimed.WithLabelValues(string(j.Family), string(j.Type)).Inc()
	}
	return claimed, nil
}

func (q *InMemory) RenewLease(ctx context.Context, jobID, workerID string, extend time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	j := entry.job
	if j.Status != StatusRunning || j.LeaseHolder != workerID {
		return ErrNotLeaseHolder
	}
	if j.LeaseExpiresAt.Before(q.clock.Now()) {
		return ErrLeaseExpired
	}
	j.LeaseExpiresAt = q.clock.Now().Add(extend)
	return nil
}

func (q *InMemory) Ack(ctx context.Context, jobID, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	j := entry.job
	if j.LeaseHolder != workerID {
		return ErrNotLeaseHolder
	}
	if j.Status == StatusSucceeded {
		return nil
	}
	if j.Status != StatusRunning {
		return ErrTerminalState
	}
	j.Status = StatusSucceeded
	j.FinishedAt = q.clock.Now()
	j.LeaseExpiresAt = time.Time{}
	jobsAcked.WithLabelValues(string(j.Family), string(j.Type)).Inc()
	return nil
}

func (q *InMemory) Fail(ctx context.Context, jobID, workerID, cause string, retryable bool, opts ...FailOption) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	j := entry.job
	if j.Status != StatusRunning || j.LeaseHolder != workerID {
		return ErrNotLeaseHolder
	}
	q.failLocked(j, cause, retryable, opts...)
	return nil
}

// failLocked applies the failure taxonomy; the caller holds the lock.
func (q *InMemory) failLocked(j *Job, cause string, retryable bool, opts ...FailOption) {
	options := FailOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	j.LastError = cause
	j.LeaseHolder = ""
	j.LeaseExpiresAt = time.Time{}
	jobsFailed.WithLabelValues(string(j.Family), string(j.Type), boolLabel(retryable)).Inc()
	if retryable && j.Attempts < j.MaxAttempts {
		j.Status = StatusPending
		j.NextAttemptAt = q.clock.Now().Add(q.backoff.Delay(j.Attempts, options.RetryAfter))
		return
	}
	j.Status = StatusDead
	j.FinishedAt = q.clock.Now()
}

func (q *InMemory) Release(ctx context.Context, jobID, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	j := entry.job
	if j.Status != StatusRunning || j.LeaseHolder != workerID {
		return ErrNotLeaseHolder
	}
	j.Status = StatusPending
	j.Attempts--
	j.LeaseHolder = ""
	j.LeaseExpiresAt = time.Time{}
	j.NextAttemptAt = q.clock.Now()
	return nil
}

func (q *InMemory) Reap(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	reaped := 0
	for _, entry := range q.jobs {
		j := entry.job
		if j.Status == StatusRunning && j.LeaseExpiresAt.Before(now) {
			q.failLocked(j, "lease_expired", true)
			reaped++
		}
	}
	if reaped > 0 {
		jobsReaped.Add(float64(reaped))
		logging.FromContext(ctx).With("count", reaped).Debugf("reaped expired leases")
	}
	return reaped, nil
}

func (q *InMemory) Revive(ctx context.Context, jobID, actor string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	j := entry.job
	if j.Status != StatusDead {
		return ErrNotDead
	}
	j.Status = StatusPending
	j.Attempts = 0
	j.NextAttemptAt = q.clock.Now()
	j.FinishedAt = time.Time{}
	logging.FromContext(ctx).With("job-id", jobID, "actor", actor).Infof("revived dead job")
	return nil
}

func (q *InMemory) Get(ctx context.Context, jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrUnknownJob
	}
	copied := *entry.job
	return &copied, nil
}

func (q *InMemory) DeadLetterCount(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, entry := range q.jobs {
		if entry.job.Status == StatusDead {
			count++
		}
	}
	return count, nil
}

func dedupeKey(jobType Type, key string) string {
	return string(jobType) + "\x00" + key
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
