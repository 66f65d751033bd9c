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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/teacurran/village-homepage/pkg/flags"
)

// FlagStore implements flags.Store. Save upserts the flag and its audit row
// together; when bound to the pool rather than a transaction the two writes
// ride one implicit transaction via a CTE.
type FlagStore struct {
	db querier
}

func (s *FlagStore) Get(ctx context.Context, key string) (*flags.Flag, error) {
	flag, err := scanFlag(s.db.QueryRow(ctx, `
		SELECT key, description, enabled, analytics_enabled, rollout_percent, whitelist, updated_at, updated_by
		FROM feature_flags WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, flags.FlagNotFound(key)
	}
	return flag, err
}

func (s *FlagStore) List(ctx context.Context) ([]flags.Flag, error) {
	rows, err := s.db.Query(ctx, `
		SELECT key, description, enabled, analytics_enabled, rollout_percent, whitelist, updated_at, updated_by
		FROM feature_flags ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("listing flags, %w", err)
	}
	defer rows.Close()
	var out []flags.Flag
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *flag)
	}
	return out, rows.Err()
}

func (s *FlagStore) Save(ctx context.Context, flag *flags.Flag, audit flags.Audit) error {
	whitelist, err := json.Marshal(flag.Whitelist)
	if err != nil {
		return fmt.Errorf("encoding whitelist, %w", err)
	}
	_, err = s.db.Exec(ctx, `
		WITH saved AS (
			INSERT INTO feature_flags (key, description, enabled, analytics_enabled, rollout_percent, whitelist, updated_at, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (key) DO UPDATE SET
				description = EXCLUDED.description,
				enabled = EXCLUDED.enabled,
				analytics_enabled = EXCLUDED.analytics_enabled,
				rollout_percent = EXCLUDED.rollout_percent,
				whitelist = EXCLUDED.whitelist,
				updated_at = EXCLUDED.updated_at,
				updated_by = EXCLUDED.updated_by
		)
		INSERT INTO feature_flag_audits (flag_key, actor, reason, before, after, created_at)
		VALUES ($9, $10, $11, $12, $13, $14)`,
		flag.Key, flag.Description, flag.Enabled, flag.AnalyticsEnabled, flag.RolloutPercent, whitelist,
		flag.UpdatedAt, flag.UpdatedBy,
		audit.FlagKey, audit.Actor, audit.Reason, audit.Before, audit.After, audit.At)
	if err != nil {
		return fmt.Errorf("saving flag %q, %w", flag.Key, err)
	}
	return nil
}

func (s *FlagStore) RecordEvaluation(ctx context.Context, eval flags.Evaluation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feature_flag_evaluations (flag_key, subject, result, reason, rollout_snapshot, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		eval.FlagKey, eval.Subject, eval.Result, eval.Reason, eval.RolloutSnapshot, eval.At)
	if err != nil {
		return fmt.Errorf("recording evaluation of %q, %w", eval.FlagKey, err)
	}
	return nil
}

func (s *FlagStore) DeleteEvaluationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM feature_flag_evaluations WHERE at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning evaluations, %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanFlag(row pgx.Row) (*flags.Flag, error) {
	var flag flags.Flag
	var whitelist []byte
	if err := row.Scan(&flag.Key, &flag.Description, &flag.Enabled, &flag.AnalyticsEnabled,
		&flag.RolloutPercent, &whitelist, &flag.UpdatedAt, &flag.UpdatedBy); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(whitelist, &flag.Whitelist); err != nil {
		return nil, fmt.Errorf("decoding whitelist for %q, %w", flag.Key, err)
	}
	return &flag, nil
}
