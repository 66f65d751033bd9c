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
	"encoding/json"
	"errors"
	"time"
)

// Family is a logical partition of the queue used to segregate SLAs and worker
// pools. Cross-family ordering is never guaranteed.
type Family string

const (
	FamilyDefault    Family = "DEFAULT"
	FamilyHigh       Family = "HIGH"
	FamilyLow        Family = "LOW"
	FamilyBulk       Family = "BULK"
	FamilyScreenshot Family = "SCREENSHOT"
)

// Families returns every known family, in no particular order.
func Families() []Family {
	return []Family{FamilyDefault, FamilyHigh, FamilyLow, FamilyBulk, FamilyScreenshot}
}

// Type enumerates the closed set of job kinds the handler registry can bind.
type Type string

const (
	TypeRSSRefresh          Type = "rss_refresh"
	TypeWeatherRefresh      Type = "weather_refresh"
	TypeStockRefresh        Type = "stock_refresh"
	TypeSocialRefresh       Type = "social_refresh"
	TypeScreenshotCapture   Type = "screenshot_capture"
	TypeLinkHealthCheck     Type = "link_health_check"
	TypeRankRecalculation   Type = "rank_recalculation"
	TypeListingExpiration   Type = "listing_expiration"
	TypeListingReminder     Type = "listing_reminder"
	TypeEmailSend           Type = "email_send"
	TypeInboundEmailPoll    Type = "inbound_email_poll"
	TypeModeratorNotify     Type = "moderator_notify"
	TypeAICompletion        Type = "ai_completion"
	TypeSitemapGenerate     Type = "sitemap_generate"
	TypeGDPRExport          Type = "gdpr_export"
	TypeEvaluationRetention Type = "flag_evaluation_retention"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusDead      Status = "dead"
)

// DefaultMaxAttempts applies when neither the enqueue call nor the handler
// declaration overrides it.
const DefaultMaxAttempts = 5

var (
	ErrNotLeaseHolder = errors.New("caller is not the lease holder")
	ErrLeaseExpired   = errors.New("lease has expired")
	ErrUnknownJob     = errors.New("unknown job")
	ErrTerminalState  = errors.New("job is in a terminal state")
	ErrNotDead        = errors.New("job is not dead")
)

// Job is the durable unit of asynchronous work. Terminal states (succeeded,
// dead) are absorbing.
type Job struct {
	ID             string
	Family         Family
	Type           Type
	Payload        json.RawMessage
	Priority       int
	Status         Status
	Attempts       int
	MaxAttempts    int
	NextAttemptAt  time.Time
	LeaseHolder    string
	LeaseExpiresAt time.Time
	LastError      string
	IdempotencyKey string
	EnqueuedAt     time.Time
	FirstStartedAt time.Time
	FinishedAt     time.Time
}

// Terminal reports whether the job can never transition again.
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusDead
}

type EnqueueOptions struct {
	Family         Family
	Delay          time.Duration
	RunAt          time.Time
	IdempotencyKey string
	MaxAttempts    int
	Priority       int
}

type EnqueueOption func(*EnqueueOptions)

func WithFamily(f Family) EnqueueOption {
	return func(o *EnqueueOptions) { o.Family = f }
}

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) { o.Delay = d }
}

// WithRunAt pins the first eligibility time; it wins over WithDelay.
func WithRunAt(t time.Time) EnqueueOption {
	return func(o *EnqueueOptions) { o.RunAt = t }
}

func WithIdempotencyKey(key string) EnqueueOption {
	return func(o *EnqueueOptions) { o.IdempotencyKey = key }
}

func WithMaxAttempts(n int) EnqueueOption {
	return func(o *EnqueueOptions) { o.MaxAttempts = n }
}

func WithPriority(p int) EnqueueOption {
	return func(o *EnqueueOptions) { o.Priority = p }
}

type FailOptions struct {
	// RetryAfter caps the computed backoff with an upstream throttle hint.
	RetryAfter time.Duration
}

type FailOption func(*FailOptions)

func WithRetryAfter(d time.Duration) FailOption {
	return func(o *FailOptions) { o.RetryAfter = d }
}

// Enqueuer is the enqueue-only face of the queue, for callers whose enqueue
// must commit or roll back with the writes it accompanies.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType Type, payload any, opts ...EnqueueOption) (string, error)
}

// Interface is the durable at-least-once job queue contract. Implementations:
// the Postgres queue used in production and the in-memory queue used by tests
// and local development. Both honor identical semantics.
type Interface interface {
	// Enqueue appends a job. A duplicate (type, idempotency key) collapses to
	// the existing row and returns its id.
	Enqueue(ctx context.Context, jobType Type, payload any, opts ...EnqueueOption) (string, error)

	// Claim atomically transitions up to batch eligible pending jobs of the
	// family to running under a lease held by workerID. Ordering is priority
	// descending, then FIFO on enqueue time. Concurrent claims by distinct
	// workers return disjoint sets.
	Claim(ctx context.Context, family Family, workerID string, lease time.Duration, batch int) ([]*Job, error)

	// RenewLease extends the lease. Fails with ErrNotLeaseHolder or
	// ErrLeaseExpired.
	RenewLease(ctx context.Context, jobID, workerID string, extend time.Duration) error

	// Ack marks the job succeeded. Idempotent while the caller remains the
	// last recorded holder.
	Ack(ctx context.Context, jobID, workerID string) error

	// Fail records a failure. Retryable failures below the attempt budget go
	// back to pending with backoff; everything else dead-letters.
	Fail(ctx context.Context, jobID, workerID, cause string, retryable bool, opts ...FailOption) error

	// Release returns a running job to pending immediately without charging an
	// attempt. Used by worker pools for fairness skips.
	Release(ctx context.Context, jobID, workerID string) error

	// Reap converts every expired lease into a retryable failure with reason
	// "lease_expired". Safe to run concurrently.
	Reap(ctx context.Context) (int, error)

	// Revive resets a dead job to pending with zero attempts. Operator-only;
	// audited.
	Revive(ctx context.Context, jobID, actor string) error

	Get(ctx context.Context, jobID string) (*Job, error)
	DeadLetterCount(ctx context.Context) (int, error)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}

func applyEnqueueOptions(opts []EnqueueOption) EnqueueOptions {
	options := EnqueueOptions{Family: FamilyDefault, MaxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = DefaultMaxAttempts
	}
	return options
}
