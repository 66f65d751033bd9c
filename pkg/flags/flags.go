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

// Package flags implements percentage feature rollouts with deterministic
// cohort bucketing. A subject's bucket for a flag never changes, so raising
// the rollout percentage only ever adds subjects to the enabled cohort.
package flags

import (
	"context"
	// md5 is the pinned bucketing hash. Buckets are persisted implicitly in
	// user experience, so the algorithm can never change.
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// Flag is one rollout toggle. Enabled is the master switch; when it is off
// nothing else is consulted. AnalyticsEnabled controls whether evaluations
// are persisted for this flag at all.
type Flag struct {
	Key              string    `json:"key"`
	Description      string    `json:"description"`
	Enabled          bool      `json:"enabled"`
	AnalyticsEnabled bool      `json:"analytics_enabled"`
	RolloutPercent   int       `json:"rollout_percent"`
	Whitelist        []string  `json:"whitelist"`
	UpdatedAt        time.Time `json:"updated_at"`
	UpdatedBy        string    `json:"updated_by"`
}

// Audit is one recorded mutation, carrying full before and after snapshots of
// the flag. Before is nil on creation.
type Audit struct {
	FlagKey string
	Actor   string
	Reason  string
	Before  json.RawMessage
	After   json.RawMessage
	At      time.Time
}

// Decision reasons, in precedence order.
const (
	ReasonUnknownFlag    = "unknown_flag"
	ReasonMasterDisabled = "master_disabled"
	ReasonWhitelisted    = "whitelisted"
	ReasonCohortEnabled  = "cohort_enabled"
	ReasonCohortDisabled = "cohort_disabled"
)

// Decision is the outcome of one evaluation. RolloutSnapshot is the rollout
// percentage in force at the moment of the decision.
type Decision struct {
	Enabled         bool
	Reason          string
	RolloutSnapshot int
}

// Evaluation is one persisted evaluation record, kept for rollout analysis
// and pruned by the retention job.
type Evaluation struct {
	FlagKey         string
	Subject         string
	Result          bool
	Reason          string
	RolloutSnapshot int
	At              time.Time
}

// Store is the durable side of the flag service. Save persists the flag and
// its audit row in one transaction.
type Store interface {
	Get(ctx context.Context, key string) (*Flag, error)
	List(ctx context.Context) ([]Flag, error)
	Save(ctx context.Context, flag *Flag, audit Audit) error
	RecordEvaluation(ctx context.Context, eval Evaluation) error
	DeleteEvaluationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// IsFlagNotFound reports whether err is the store's unknown-flag result.
func IsFlagNotFound(err error) bool {
	return errors.Code(err) == "flag_not_found"
}

// FlagNotFound is the canonical unknown-flag error for Store implementations.
func FlagNotFound(key string) error {
	return errors.Validation("flag_not_found", fmt.Errorf("no flag %q", key))
}

const flagCacheTTL = 10 * time.Second

// Service evaluates and mutates flags. Mutations on the same flag are
// serialized so concurrent admin edits cannot interleave their audit trail.
type Service struct {
	store Store
	clock clock.PassiveClock
	cache *cache.Cache

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(store Store, clk clock.PassiveClock) *Service {
	return &Service{
		store: store,
		clock: clk,
		cache: cache.New(flagCacheTTL, flagCacheTTL),
		locks: map[string]*sync.Mutex{},
	}
}

// Bucket deterministically places a subject in [0, 100) for a flag. The first
// eight hex digits of md5("<key>:<subject>") are read as a 32-bit integer and
// reduced mod 100.
func Bucket(key, subject string) int {
	sum := md5.Sum([]byte(key + ":" + subject)) //nolint:gosec
	prefix := hex.EncodeToString(sum[:])[:8]
	n, _ := strconv.ParseUint(prefix, 16, 64)
	return int(n % 100)
}

// Evaluate resolves a flag for a subject. Precedence: master switch, then
// whitelist, then rollout cohort. Unknown flags evaluate to false. The
// evaluation is recorded only when the flag has analytics enabled AND the
// subject has consented.
func (s *Service) Evaluate(ctx context.Context, key, subject string, consented bool) (Decision, error) {
	flag, err := s.cached(ctx, key)
	if err != nil {
		if IsFlagNotFound(err) {
			logging.FromContext(ctx).With("flag", key).Debugf("evaluating unknown flag")
			return Decision{Reason: ReasonUnknownFlag}, nil
		}
		return Decision{}, err
	}
	decision := s.resolve(flag, subject)
	evaluations.WithLabelValues(key, strconv.FormatBool(decision.Enabled)).Inc()
	if flag.AnalyticsEnabled && consented {
		eval := Evaluation{
			FlagKey:         key,
			Subject:         subject,
			Result:          decision.Enabled,
			Reason:          decision.Reason,
			RolloutSnapshot: decision.RolloutSnapshot,
			At:              s.clock.Now(),
		}
		if err := s.store.RecordEvaluation(ctx, eval); err != nil {
			logging.FromContext(ctx).With("flag", key).Errorf("recording evaluation, %s", err)
		}
	}
	return decision, nil
}

func (s *Service) resolve(flag *Flag, subject string) Decision {
	decision := Decision{RolloutSnapshot: flag.RolloutPercent}
	switch {
	case !flag.Enabled:
		decision.Reason = ReasonMasterDisabled
	case lo.Contains(flag.Whitelist, subject):
		decision.Enabled, decision.Reason = true, ReasonWhitelisted
	case Bucket(flag.Key, subject) < flag.RolloutPercent:
		decision.Enabled, decision.Reason = true, ReasonCohortEnabled
	default:
		decision.Reason = ReasonCohortDisabled
	}
	return decision
}

func (s *Service) cached(ctx context.Context, key string) (*Flag, error) {
	if hit, ok := s.cache.Get(key); ok {
		return hit.(*Flag), nil
	}
	flag, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, flag)
	return flag, nil
}

func (s *Service) lock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[key]; !ok {
		s.locks[key] = &sync.Mutex{}
	}
	return s.locks[key]
}

// Create registers a new flag, disabled at zero rollout unless specified.
func (s *Service) Create(ctx context.Context, flag Flag, actor string) error {
	if flag.Key == "" {
		return errors.Validation("invalid_flag", fmt.Errorf("flag key is required"))
	}
	if flag.RolloutPercent < 0 || flag.RolloutPercent > 100 {
		return errors.Validation("invalid_flag", fmt.Errorf("rollout percent %d out of range", flag.RolloutPercent))
	}
	return s.mutate(ctx, flag.Key, actor, "created", func(existing *Flag) (*Flag, error) {
		if existing != nil {
			return nil, errors.Conflict("flag_exists", fmt.Errorf("flag %q already exists", flag.Key))
		}
		return &flag, nil
	})
}

// SetEnabled flips the master switch.
func (s *Service) SetEnabled(ctx context.Context, key string, enabled bool, actor string) error {
	return s.mutate(ctx, key, actor, fmt.Sprintf("enabled=%t", enabled), func(existing *Flag) (*Flag, error) {
		if existing == nil {
			return nil, FlagNotFound(key)
		}
		existing.Enabled = enabled
		return existing, nil
	})
}

// SetRollout moves the cohort boundary. 0 disables the cohort entirely and
// 100 admits everyone, whitelist aside.
func (s *Service) SetRollout(ctx context.Context, key string, percent int, actor string) error {
	if percent < 0 || percent > 100 {
		return errors.Validation("invalid_flag", fmt.Errorf("rollout percent %d out of range", percent))
	}
	return s.mutate(ctx, key, actor, fmt.Sprintf("rollout=%d", percent), func(existing *Flag) (*Flag, error) {
		if existing == nil {
			return nil, FlagNotFound(key)
		}
		existing.RolloutPercent = percent
		return existing, nil
	})
}

// SetWhitelist replaces the explicit allow list.
func (s *Service) SetWhitelist(ctx context.Context, key string, subjects []string, actor string) error {
	return s.mutate(ctx, key, actor, fmt.Sprintf("whitelist=%d subjects", len(subjects)), func(existing *Flag) (*Flag, error) {
		if existing == nil {
			return nil, FlagNotFound(key)
		}
		existing.Whitelist = subjects
		return existing, nil
	})
}

// SetAnalytics toggles whether evaluations of this flag are persisted.
func (s *Service) SetAnalytics(ctx context.Context, key string, enabled bool, actor string) error {
	return s.mutate(ctx, key, actor, fmt.Sprintf("analytics=%t", enabled), func(existing *Flag) (*Flag, error) {
		if existing == nil {
			return nil, FlagNotFound(key)
		}
		existing.AnalyticsEnabled = enabled
		return existing, nil
	})
}

func (s *Service) mutate(ctx context.Context, key, actor, reason string, apply func(*Flag) (*Flag, error)) error {
	lock := s.lock(key)
	lock.Lock()
	defer lock.Unlock()
	existing, err := s.store.Get(ctx, key)
	if err != nil && !IsFlagNotFound(err) {
		return err
	}
	var before json.RawMessage
	if existing != nil {
		if before, err = json.Marshal(existing); err != nil {
			return fmt.Errorf("encoding flag %q, %w", key, err)
		}
	}
	updated, err := apply(existing)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	updated.UpdatedAt = now
	updated.UpdatedBy = actor
	after, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encoding flag %q, %w", key, err)
	}
	audit := Audit{FlagKey: key, Actor: actor, Reason: reason, Before: before, After: after, At: now}
	if err := s.store.Save(ctx, updated, audit); err != nil {
		return fmt.Errorf("saving flag %q, %w", key, err)
	}
	s.cache.Delete(key)
	mutations.WithLabelValues(key).Inc()
	return nil
}
