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

// Package ratelimit implements the sliding-window limiter over Redis sorted
// sets. Each (action, tier, subject) key holds one timestamped member per
// consumed unit; the window slides by pruning members older than the rule's
// window before counting.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// Tier buckets subjects by trust. Rules are keyed by (action, tier), so the
// same action can carry different budgets per tier.
type Tier string

const (
	TierAnonymous Tier = "anonymous"
	TierLoggedIn  Tier = "logged_in"
	TierTrusted   Tier = "trusted"
)

// DeriveTier maps an authenticated/trusted pair onto a tier.
func DeriveTier(loggedIn, trusted bool) Tier {
	switch {
	case trusted:
		return TierTrusted
	case loggedIn:
		return TierLoggedIn
	default:
		return TierAnonymous
	}
}

// Rule is one (action, tier) budget.
type Rule struct {
	Action string
	Tier   Tier
	Limit  int64
	Window time.Duration
}

// RuleSource provides the current rule set. The production implementation
// reads Postgres; the limiter caches the result so the hot path never touches
// the database.
type RuleSource interface {
	ListRules(ctx context.Context) ([]Rule, error)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int64
	// RetryAfter is how long until one unit frees up. Zero when allowed.
	RetryAfter time.Duration
}

// Violation is one denial. The sink aggregates violations into hourly window
// rows keyed by (subject, action, endpoint).
type Violation struct {
	Subject  string
	Action   string
	Endpoint string
	At       time.Time
}

// ViolationSink persists denials for abuse review. Recording is best-effort;
// a sink failure never changes the limiter's decision.
type ViolationSink interface {
	RecordViolation(ctx context.Context, violation Violation) error
}

// ViolationWindow is one aggregated hour of denials.
type ViolationWindow struct {
	Subject          string
	Action           string
	Endpoint         string
	WindowStart      time.Time
	FirstViolationAt time.Time
	LastViolationAt  time.Time
	Count            int64
}

const (
	ruleCacheKey = "rules"
	ruleCacheTTL = 30 * time.Second
)

// Limiter evaluates rules against Redis state.
type Limiter struct {
	client redis.UniversalClient
	source RuleSource
	sink   ViolationSink
	rules  *cache.Cache
	clock  clock.PassiveClock
}

func NewLimiter(client redis.UniversalClient, source RuleSource, sink ViolationSink, clk clock.PassiveClock) *Limiter {
	return &Limiter{
		client: client,
		source: source,
		sink:   sink,
		rules:  cache.New(ruleCacheTTL, ruleCacheTTL),
		clock:  clk,
	}
}

// InvalidateRules drops the cached rule set so the next Allow call reloads
// it. Admin rule mutations call this after committing.
func (l *Limiter) InvalidateRules() {
	l.rules.Flush()
}

func (l *Limiter) rule(ctx context.Context, action string, tier Tier) (*Rule, error) {
	cached, ok := l.rules.Get(ruleCacheKey)
	if !ok {
		listed, err := l.source.ListRules(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing rate limit rules, %w", err)
		}
		index := map[string]*Rule{}
		for i := range listed {
			r := listed[i]
			index[r.Action+"/"+string(r.Tier)] = &r
		}
		l.rules.SetDefault(ruleCacheKey, index)
		cached = index
	}
	return cached.(map[string]*Rule)[action+"/"+string(tier)], nil
}

func limitKey(action string, tier Tier, subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", action, tier, subject)
}

// allowScript prunes, counts, and conditionally consumes in one atomic step,
// so concurrent callers cannot both pass a nearly-spent budget. It returns
// {allowed, count, oldest score}; count is post-add when allowed.
var allowScript = redis.NewScript(`
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
	local count = redis.call('ZCARD', KEYS[1])
	if count >= tonumber(ARGV[2]) then
		local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
		if #oldest == 2 then
			return {0, count, oldest[2]}
		end
		return {0, count, '0'}
	end
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	return {1, count + 1, '0'}
`)

// AllowOptions carries optional denial context.
type AllowOptions struct {
	// Endpoint is the request surface recorded on violations.
	Endpoint string
}

type AllowOption func(*AllowOptions)

func WithEndpoint(endpoint string) AllowOption {
	return func(o *AllowOptions) { o.Endpoint = endpoint }
}

// Allow consumes one unit of the (action, tier) budget for subject. Actions
// with no configured rule are unlimited. A denial returns a budget_exceeded
// error alongside the decision so callers can surface the retry hint.
func (l *Limiter) Allow(ctx context.Context, action, subject string, tier Tier, opts ...AllowOption) (Decision, error) {
	options := AllowOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	rule, err := l.rule(ctx, action, tier)
	if err != nil {
		return Decision{}, err
	}
	if rule == nil {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	now := l.clock.Now()
	key := limitKey(action, tier, subject)

	result, err := allowScript.Run(ctx, l.client, []string{key},
		strconv.FormatInt(now.Add(-rule.Window).UnixNano(), 10),
		rule.Limit,
		strconv.FormatInt(now.UnixNano(), 10),
		uuid.NewString(),
		rule.Window.Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("consuming unit for %s, %w", key, err)
	}
	allowed, count := result[0].(int64) == 1, result[1].(int64)
	if !allowed {
		retryAfter := rule.Window
		if raw, ok := result[2].(string); ok {
			if score, err := strconv.ParseFloat(raw, 64); err == nil && score > 0 {
				retryAfter = time.Unix(0, int64(score)).Add(rule.Window).Sub(now)
			}
		}
		l.recordViolation(ctx, Violation{Subject: subject, Action: action, Endpoint: options.Endpoint, At: now})
		decisions.WithLabelValues(action, string(tier), "false").Inc()
		return Decision{Allowed: false, RetryAfter: retryAfter},
			errors.BudgetExceeded("rate_limited", fmt.Errorf("%s exceeded %d per %s", action, rule.Limit, rule.Window))
	}
	decisions.WithLabelValues(action, string(tier), "true").Inc()
	return Decision{Allowed: true, Remaining: rule.Limit - count}, nil
}

// recordViolation hands the denial to the sink, which aggregates into hourly
// window rows. Sink failures are logged and swallowed.
func (l *Limiter) recordViolation(ctx context.Context, violation Violation) {
	if l.sink == nil {
		return
	}
	if err := l.sink.RecordViolation(ctx, violation); err != nil {
		logging.FromContext(ctx).With("action", violation.Action).Errorf("recording rate limit violation, %s", err)
		return
	}
	violations.WithLabelValues(violation.Action).Inc()
}
