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
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/flags"
	"github.com/teacurran/village-homepage/pkg/karma"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/ratelimit"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// RuleWriter persists rate limit rules.
type RuleWriter interface {
	SaveRule(ctx context.Context, rule ratelimit.Rule) error
	DeleteRule(ctx context.Context, action string, tier ratelimit.Tier) error
}

// RuleInvalidator drops the limiter's cached rule set after a mutation.
type RuleInvalidator interface {
	InvalidateRules()
}

// AuditEntry is one recorded admin action.
type AuditEntry struct {
	ActorID string
	Role    Role
	Action  string
	Target  string
	Detail  string
	At      time.Time
}

// AuditSink persists admin audit entries. Mutations that cannot be audited
// fail; the write happens after the mutation succeeds.
type AuditSink interface {
	RecordAdminAction(ctx context.Context, entry AuditEntry) error
}

// UserTransactor runs karma adjustments against a transaction-bound user
// store, so the row lock taken by the karma engine holds until the user row
// and its audit row commit together.
type UserTransactor interface {
	InUsersTx(ctx context.Context, fn func(users karma.Store) error) error
}

func Forbidden(actor Actor, permission Permission) error {
	return errors.Validation("forbidden",
		fmt.Errorf("role %q of actor %q lacks %q", actor.Role, actor.ID, permission))
}

func IsForbidden(err error) bool {
	return errors.Code(err) == "forbidden"
}

// Service fronts every operator mutation with a permission check and an audit
// row.
type Service struct {
	flags       *flags.Service
	rules       RuleWriter
	invalidator RuleInvalidator
	userTx      UserTransactor
	karma       *karma.Service
	queue       queue.Interface
	audits      AuditSink
	clock       clock.PassiveClock
}

func NewService(flagService *flags.Service, rules RuleWriter, invalidator RuleInvalidator,
	userTx UserTransactor, karmaService *karma.Service, q queue.Interface, audits AuditSink, clk clock.PassiveClock) *Service {
	return &Service{
		flags:       flagService,
		rules:       rules,
		invalidator: invalidator,
		userTx:      userTx,
		karma:       karmaService,
		queue:       q,
		audits:      audits,
		clock:       clk,
	}
}

func (s *Service) CreateFlag(ctx context.Context, actor Actor, flag flags.Flag) error {
	return s.gated(ctx, actor, PermissionFlagMutate, "flag_create", flag.Key,
		fmt.Sprintf("enabled=%t rollout=%d", flag.Enabled, flag.RolloutPercent),
		func() error { return s.flags.Create(ctx, flag, actor.ID) })
}

func (s *Service) SetFlagEnabled(ctx context.Context, actor Actor, key string, enabled bool) error {
	return s.gated(ctx, actor, PermissionFlagMutate, "flag_set_enabled", key,
		fmt.Sprintf("enabled=%t", enabled),
		func() error { return s.flags.SetEnabled(ctx, key, enabled, actor.ID) })
}

func (s *Service) SetFlagRollout(ctx context.Context, actor Actor, key string, percent int) error {
	return s.gated(ctx, actor, PermissionFlagMutate, "flag_set_rollout", key,
		fmt.Sprintf("rollout=%d", percent),
		func() error { return s.flags.SetRollout(ctx, key, percent, actor.ID) })
}

func (s *Service) SetFlagWhitelist(ctx context.Context, actor Actor, key string, subjects []string) error {
	return s.gated(ctx, actor, PermissionFlagMutate, "flag_set_whitelist", key,
		fmt.Sprintf("whitelist=%d subjects", len(subjects)),
		func() error { return s.flags.SetWhitelist(ctx, key, subjects, actor.ID) })
}

// PutRateRule upserts one rule and invalidates the limiter cache so the change
// lands within one poll rather than one TTL.
func (s *Service) PutRateRule(ctx context.Context, actor Actor, rule ratelimit.Rule) error {
	if rule.Action == "" || rule.Limit <= 0 || rule.Window <= 0 {
		return errors.Validation("invalid_rule",
			fmt.Errorf("rule needs an action, a positive limit, and a positive window"))
	}
	return s.gated(ctx, actor, PermissionRateRuleMutate, "rate_rule_put", rule.Action,
		fmt.Sprintf("tier=%s limit=%d window=%s", rule.Tier, rule.Limit, rule.Window),
		func() error {
			if err := s.rules.SaveRule(ctx, rule); err != nil {
				return err
			}
			s.invalidator.InvalidateRules()
			return nil
		})
}

func (s *Service) DeleteRateRule(ctx context.Context, actor Actor, action string, tier ratelimit.Tier) error {
	return s.gated(ctx, actor, PermissionRateRuleMutate, "rate_rule_delete", action,
		fmt.Sprintf("tier=%s", tier),
		func() error {
			if err := s.rules.DeleteRule(ctx, action, tier); err != nil {
				return err
			}
			s.invalidator.InvalidateRules()
			return nil
		})
}

// AdjustKarma applies a manual delta through the karma engine, which records
// its own audit row alongside the admin one.
func (s *Service) AdjustKarma(ctx context.Context, actor Actor, userID string, delta int, note string) error {
	return s.gated(ctx, actor, PermissionKarmaAdjust, "karma_adjust", userID,
		fmt.Sprintf("delta=%d note=%q", delta, note),
		func() error {
			return s.userTx.InUsersTx(ctx, func(users karma.Store) error {
				_, err := s.karma.Apply(ctx, users, userID, karma.EventAdminAdjust,
					karma.WithDelta(delta), karma.WithActor(actor.ID), karma.WithNote(note))
				return err
			})
		})
}

// ReviveJob resets a dead-letter job to pending.
func (s *Service) ReviveJob(ctx context.Context, actor Actor, jobID string) error {
	return s.gated(ctx, actor, PermissionJobRevive, "job_revive", jobID, "",
		func() error { return s.queue.Revive(ctx, jobID, actor.ID) })
}

func (s *Service) gated(ctx context.Context, actor Actor, permission Permission, action, target, detail string, mutate func() error) error {
	if !actor.Role.Can(permission) {
		mutations.WithLabelValues(action, "forbidden").Inc()
		return Forbidden(actor, permission)
	}
	if err := mutate(); err != nil {
		mutations.WithLabelValues(action, "error").Inc()
		return err
	}
	entry := AuditEntry{
		ActorID: actor.ID,
		Role:    actor.Role,
		Action:  action,
		Target:  target,
		Detail:  detail,
		At:      s.clock.Now(),
	}
	if err := s.audits.RecordAdminAction(ctx, entry); err != nil {
		return fmt.Errorf("recording audit for %s on %q, %w", action, target, err)
	}
	mutations.WithLabelValues(action, "ok").Inc()
	logging.FromContext(ctx).With("actor", actor.ID, "action", action, "target", target).
		Debugf("admin mutation applied")
	return nil
}
