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

// Package aibudget governs monthly AI spend per provider. Spend is accounted
// in cents against a per-provider budget; crossing the soft thresholds
// degrades service before the hard stop cuts it off entirely.
package aibudget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// Mode is the current degradation level for a provider.
type Mode string

const (
	// ModeNormal serves requests unmodified below 70% of budget.
	ModeNormal Mode = "NORMAL"
	// ModeReduce serves requests with reduced token ceilings from 70%.
	ModeReduce Mode = "REDUCE"
	// ModeQueue defers non-critical requests to the next month from 90%.
	ModeQueue Mode = "QUEUE"
	// ModeHardStop rejects everything at or past 100%.
	ModeHardStop Mode = "HARD_STOP"
)

const (
	reduceThreshold = 0.70
	queueThreshold  = 0.90

	// reduceScale is the token ceiling multiplier applied in REDUCE mode.
	reduceScale = 0.5
)

// Usage is the accounted outcome of completed requests: a request count,
// token volumes in each direction, and the cost in cents.
type Usage struct {
	Requests     int64
	InputTokens  int64
	OutputTokens int64
	CostCents    int64
}

// Store is the durable spend ledger, one row per provider and month.
// AddUsage must be an atomic upsert so concurrent completions never lose
// increments.
type Store interface {
	MonthSpend(ctx context.Context, provider, month string) (int64, error)
	AddUsage(ctx context.Context, provider, month string, usage Usage) error
}

// Decision is the outcome of one admission check.
type Decision struct {
	Mode Mode
	// DeferredJobID is set when the request was queued for the next month
	// instead of served.
	DeferredJobID string
}

// Governor admits or defers AI requests against per-provider budgets.
type Governor struct {
	store Store
	queue queue.Interface
	clock clock.PassiveClock

	mu      sync.RWMutex
	budgets map[string]int64 // provider -> monthly budget in cents
}

func NewGovernor(store Store, q queue.Interface, clk clock.PassiveClock, budgets map[string]int64) *Governor {
	return &Governor{store: store, queue: q, clock: clk, budgets: budgets}
}

// SetBudgets swaps the budget table. Settings reloads call this so budget
// changes take effect without a restart.
func (g *Governor) SetBudgets(budgets map[string]int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.budgets = budgets
}

func (g *Governor) budgetFor(provider string) (int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	budget, ok := g.budgets[provider]
	return budget, ok
}

// MonthKey buckets spend by calendar month in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// NextMonthStart is the first instant of the following calendar month in UTC.
func NextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// Mode reports the provider's current degradation level.
func (g *Governor) Mode(ctx context.Context, provider string) (Mode, error) {
	budget, ok := g.budgetFor(provider)
	if !ok || budget <= 0 {
		return ModeHardStop, errors.Validation("unknown_provider", fmt.Errorf("no budget configured for provider %q", provider))
	}
	spent, err := g.store.MonthSpend(ctx, provider, MonthKey(g.clock.Now()))
	if err != nil {
		return ModeNormal, fmt.Errorf("reading month spend for %q, %w", provider, err)
	}
	return modeFor(spent, budget), nil
}

func modeFor(spentCents, budgetCents int64) Mode {
	ratio := float64(spentCents) / float64(budgetCents)
	switch {
	case ratio >= 1:
		return ModeHardStop
	case ratio >= queueThreshold:
		return ModeQueue
	case ratio >= reduceThreshold:
		return ModeReduce
	default:
		return ModeNormal
	}
}

// Admit decides whether a request estimated at estimateCents may run now.
// HARD_STOP, and any estimate that would cross the budget, rejects with a
// budget_exceeded error. QUEUE mode defers non-critical requests to the next
// month boundary as a bulk job carrying the original payload; critical
// requests pass through degraded.
func (g *Governor) Admit(ctx context.Context, provider string, estimateCents int64, critical bool, payload any) (Decision, error) {
	budget, ok := g.budgetFor(provider)
	if !ok || budget <= 0 {
		return Decision{}, errors.Validation("unknown_provider", fmt.Errorf("no budget configured for provider %q", provider))
	}
	month := MonthKey(g.clock.Now())
	spent, err := g.store.MonthSpend(ctx, provider, month)
	if err != nil {
		return Decision{}, fmt.Errorf("reading month spend for %q, %w", provider, err)
	}
	mode := modeFor(spent, budget)
	admissions.WithLabelValues(provider, string(mode)).Inc()
	spendRatio.WithLabelValues(provider).Set(float64(spent) / float64(budget))

	if mode == ModeHardStop || spent+estimateCents > budget {
		return Decision{Mode: ModeHardStop},
			errors.BudgetExceeded("ai_budget_exhausted", fmt.Errorf("provider %q spent %d of %d cents", provider, spent, budget))
	}
	if mode == ModeQueue && !critical {
		jobID, err := g.queue.Enqueue(ctx, queue.TypeAICompletion, payload,
			queue.WithFamily(queue.FamilyBulk),
			queue.WithRunAt(NextMonthStart(g.clock.Now())))
		if err != nil {
			return Decision{Mode: mode}, fmt.Errorf("deferring request for %q, %w", provider, err)
		}
		deferred.WithLabelValues(provider).Inc()
		logging.FromContext(ctx).With("provider", provider, "job-id", jobID).Debugf("deferred ai request to next month")
		return Decision{Mode: mode, DeferredJobID: jobID}, nil
	}
	return Decision{Mode: mode}, nil
}

// ReducedMaxTokens applies the mode's token ceiling.
func ReducedMaxTokens(mode Mode, requested int) int {
	if mode == ModeReduce || mode == ModeQueue {
		return int(float64(requested) * reduceScale)
	}
	return requested
}

// Record adds actual usage to the month ledger. The upsert retries on
// transient store failures so completed spend is not silently dropped.
func (g *Governor) Record(ctx context.Context, provider string, usage Usage) error {
	month := MonthKey(g.clock.Now())
	err := retry.Do(
		func() error { return g.store.AddUsage(ctx, provider, month, usage) },
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("recording %d cents for %q, %w", usage.CostCents, provider, err)
	}
	spendCents.WithLabelValues(provider).Add(float64(usage.CostCents))
	return nil
}
