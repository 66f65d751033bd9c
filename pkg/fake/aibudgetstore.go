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

package fake

import (
	"context"
	"sync"

	"github.com/teacurran/village-homepage/pkg/aibudget"
)

// AIBudgetStore is the in-memory aibudget.Store used across test suites.
// AddUsageErrs pops one error per AddUsage call, letting tests exercise the
// retry path.
type AIBudgetStore struct {
	mu    sync.Mutex
	Usage map[string]aibudget.Usage // provider+"/"+month -> accumulated usage

	AddUsageErrs  []error
	AddUsageCalls int
}

func NewAIBudgetStore() *AIBudgetStore {
	return &AIBudgetStore{Usage: map[string]aibudget.Usage{}}
}

func (s *AIBudgetStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Usage = map[string]aibudget.Usage{}
	s.AddUsageErrs = nil
	s.AddUsageCalls = 0
}

func (s *AIBudgetStore) MonthSpend(_ context.Context, provider, month string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Usage[provider+"/"+month].CostCents, nil
}

func (s *AIBudgetStore) AddUsage(_ context.Context, provider, month string, usage aibudget.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AddUsageCalls++
	if len(s.AddUsageErrs) > 0 {
		err := s.AddUsageErrs[0]
		s.AddUsageErrs = s.AddUsageErrs[1:]
		if err != nil {
			return err
		}
	}
	key := provider + "/" + month
	total := s.Usage[key]
	total.Requests += usage.Requests
	total.InputTokens += usage.InputTokens
	total.OutputTokens += usage.OutputTokens
	total.CostCents += usage.CostCents
	s.Usage[key] = total
	return nil
}
