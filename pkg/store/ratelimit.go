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

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/teacurran/village-homepage/pkg/ratelimit"
)

// RuleStore implements ratelimit.RuleSource for the limiter and the rule
// mutation side for pkg/admin.
type RuleStore struct {
	db querier
}

func (s *RuleStore) ListRules(ctx context.Context) ([]ratelimit.Rule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT action, tier, "limit", window_seconds FROM rate_limit_rules`)
	if err != nil {
		return nil, fmt.Errorf("listing rate limit rules, %w", err)
	}
	defer rows.Close()
	var rules []ratelimit.Rule
	for rows.Next() {
		var rule ratelimit.Rule
		var windowSeconds int64
		if err := rows.Scan(&rule.Action, &rule.Tier, &rule.Limit, &windowSeconds); err != nil {
			return nil, err
		}
		rule.Window = time.Duration(windowSeconds) * time.Second
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *RuleStore) SaveRule(ctx context.Context, rule ratelimit.Rule) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rate_limit_rules (action, tier, "limit", window_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (action, tier) DO UPDATE SET
			"limit" = EXCLUDED."limit",
			window_seconds = EXCLUDED.window_seconds`,
		rule.Action, rule.Tier, rule.Limit, int64(rule.Window/time.Second))
	if err != nil {
		return fmt.Errorf("saving rule for %q, %w", rule.Action, err)
	}
	return nil
}

func (s *RuleStore) DeleteRule(ctx context.Context, action string, tier ratelimit.Tier) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM rate_limit_rules WHERE action = $1 AND tier = $2`, action, tier)
	if err != nil {
		return fmt.Errorf("deleting rule for %q, %w", action, err)
	}
	return nil
}

// RecordViolation implements ratelimit.ViolationSink, folding each denial
// into its (subject, action, endpoint) hourly window row.
func (s *RuleStore) RecordViolation(ctx context.Context, violation ratelimit.Violation) error {
	at := violation.At.UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO rate_limit_violations (subject, action, endpoint, window_start, first_violation_at, last_violation_at, count)
		VALUES ($1, $2, $3, $4, $5, $5, 1)
		ON CONFLICT (subject, action, endpoint, window_start) DO UPDATE SET
			count = rate_limit_violations.count + 1,
			last_violation_at = EXCLUDED.last_violation_at`,
		violation.Subject, violation.Action, violation.Endpoint, at.Truncate(time.Hour), at)
	if err != nil {
		return fmt.Errorf("recording violation for %q, %w", violation.Subject, err)
	}
	return nil
}

// ViolationsInWindow lists the aggregated denials for the hour containing at.
func (s *RuleStore) ViolationsInWindow(ctx context.Context, at time.Time) ([]ratelimit.ViolationWindow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT subject, action, endpoint, window_start, first_violation_at, last_violation_at, count
		FROM rate_limit_violations WHERE window_start = $1
		ORDER BY count DESC, subject`, at.UTC().Truncate(time.Hour))
	if err != nil {
		return nil, fmt.Errorf("listing violations, %w", err)
	}
	defer rows.Close()
	var out []ratelimit.ViolationWindow
	for rows.Next() {
		var window ratelimit.ViolationWindow
		if err := rows.Scan(&window.Subject, &window.Action, &window.Endpoint, &window.WindowStart,
			&window.FirstViolationAt, &window.LastViolationAt, &window.Count); err != nil {
			return nil, err
		}
		out = append(out, window)
	}
	return out, rows.Err()
}
