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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/teacurran/village-homepage/pkg/aibudget"
)

// AIUsageStore implements aibudget.Store. AddUsage is a single-statement
// upsert, so concurrent completions increment rather than overwrite.
type AIUsageStore struct {
	db querier
}

func (s *AIUsageStore) MonthSpend(ctx context.Context, provider, month string) (int64, error) {
	var cents int64
	err := s.db.QueryRow(ctx, `
		SELECT cost_cents FROM ai_usage WHERE provider = $1 AND month = $2`,
		provider, month).Scan(&cents)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading spend for %q in %s, %w", provider, month, err)
	}
	return cents, nil
}

func (s *AIUsageStore) AddUsage(ctx context.Context, provider, month string, usage aibudget.Usage) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ai_usage (provider, month, requests, input_tokens, output_tokens, cost_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, month) DO UPDATE SET
			requests = ai_usage.requests + EXCLUDED.requests,
			input_tokens = ai_usage.input_tokens + EXCLUDED.input_tokens,
			output_tokens = ai_usage.output_tokens + EXCLUDED.output_tokens,
			cost_cents = ai_usage.cost_cents + EXCLUDED.cost_cents`,
		provider, month, usage.Requests, usage.InputTokens, usage.OutputTokens, usage.CostCents)
	if err != nil {
		return fmt.Errorf("adding %d cents for %q in %s, %w", usage.CostCents, provider, month, err)
	}
	return nil
}
