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

package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/ratelimit"
)

type staticRules struct {
	rules []ratelimit.Rule
}

func (s *staticRules) ListRules(context.Context) ([]ratelimit.Rule, error) {
	return s.rules, nil
}

type violationLog struct {
	mu         sync.Mutex
	violations []ratelimit.Violation
}

func (l *violationLog) RecordViolation(_ context.Context, violation ratelimit.Violation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.violations = append(l.violations, violation)
	return nil
}

var _ = Describe("Limiter", func() {
	var ctx context.Context
	var server *miniredis.Miniredis
	var client *redis.Client
	var clk *testingclock.FakeClock
	var source *staticRules
	var sink *violationLog
	var limiter *ratelimit.Limiter

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		server, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(server.Close)
		client = redis.NewClient(&redis.Options{Addr: server.Addr()})
		DeferCleanup(func() { _ = client.Close() })
		clk = testingclock.NewFakeClock(time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC))
		source = &staticRules{rules: []ratelimit.Rule{
			{Action: "vote", Tier: ratelimit.TierLoggedIn, Limit: 3, Window: time.Minute},
			{Action: "vote", Tier: ratelimit.TierTrusted, Limit: 10, Window: time.Minute},
			{Action: "submit", Tier: ratelimit.TierAnonymous, Limit: 1, Window: time.Hour},
		}}
		sink = &violationLog{}
		limiter = ratelimit.NewLimiter(client, source, sink, clk)
	})

	It("should allow until the budget is spent and then deny", func() {
		for i := 0; i < 3; i++ {
			decision, err := limiter.Allow(ctx, "vote", "user-1", ratelimit.TierLoggedIn)
			Expect(err).ToNot(HaveOccurred())
			Expect(decision.Allowed).To(BeTrue())
			Expect(decision.Remaining).To(Equal(int64(2 - i)))
		}
		decision, err := limiter.Allow(ctx, "vote", "user-1", ratelimit.TierLoggedIn)
		Expect(errors.IsBudgetExceeded(err)).To(BeTrue())
		Expect(decision.Allowed).To(BeFalse())
		Expect(decision.RetryAfter).To(BeNumerically(">", 0))
		Expect(decision.RetryAfter).To(BeNumerically("<=", time.Minute))
	})
	It("should free budget as the window slides", func() {
		for i := 0; i < 3; i++ {
			_, err := limiter.Allow(ctx, "vote", "user-1", ratelimit.TierLoggedIn)
			Expect(err).ToNot(HaveOccurred())
			clk.Step(10 * time.Second)
		}
		_, err := limiter.Allow(ctx, "vote", "user-1", ratelimit.TierLoggedIn)
		Expect(errors.IsBudgetExceeded(err)).To(BeTrue())
		// Units sit at t=0s, 10s, 20s; the oldest leaves the window at t=60s.
		clk.Step(35 * time.Second)
		decision, err := limiter.Allow(ctx, "vote", "user-1", ratelimit.TierLoggedIn)
		Expect(err).ToNot(HaveOccurred())
		Expect(decision.Allowed).To(BeTrue())
	})
	It("should keep subjects isolated", func() {
		for i := 0; i < 3; i++ {
			_, err := limiter.Allow(ctx, "vote", "user-1", ratelimit.TierLoggedIn)
			Expect(err).ToNot(HaveOccurred())
		}
		decision, err := limiter.Allow(ctx, "vote", "user-2", ratelimit.TierLoggedIn)
		Expect(err).ToNot(HaveOccurred())
		Expect(decision.Allowed).To(BeTrue())
	})
	It("should give tiers independent budgets for the same action", func() {
		for i := 0; i < 3; i++ {
			_, err := limiter.Allow(ctx, "vote", "user-1", ratelimit.TierLoggedIn)
			Expect(err).ToNot(HaveOccurred())
		}
		decision, err := limiter.Allow(ctx, "vote", "user-1", ratelimit.TierTrusted)
		Expect(err).ToNot(HaveOccurred())
		Expect(decision.Allowed).To(BeTrue())
	})
	It("should treat actions with no rule as unlimited", func() {
		for i := 0; i < 50; i++ {
			decision, err := limiter.Allow(ctx, "page_view", "user-1", ratelimit.TierAnonymous)
			Expect(err).ToNot(HaveOccurred())
			Expect(decision.Allowed).To(BeTrue())
		}
	})
	It("should serve rules from cache until invalidated", func() {
		_, err := limiter.Allow(ctx, "submit", "anon-1", ratelimit.TierAnonymous)
		Expect(err).ToNot(HaveOccurred())
		_, err = limiter.Allow(ctx, "submit", "anon-1", ratelimit.TierAnonymous)
		Expect(errors.IsBudgetExceeded(err)).To(BeTrue())

		source.rules = []ratelimit.Rule{{Action: "submit", Tier: ratelimit.TierAnonymous, Limit: 5, Window: time.Hour}}
		_, err = limiter.Allow(ctx, "submit", "anon-1", ratelimit.TierAnonymous)
		Expect(errors.IsBudgetExceeded(err)).To(BeTrue())

		limiter.InvalidateRules()
		decision, err := limiter.Allow(ctx, "submit", "anon-1", ratelimit.TierAnonymous)
		Expect(err).ToNot(HaveOccurred())
		Expect(decision.Allowed).To(BeTrue())
	})
	It("should hand every denial to the violation sink with its context", func() {
		_, err := limiter.Allow(ctx, "submit", "anon-1", ratelimit.TierAnonymous, ratelimit.WithEndpoint("/directory/submit"))
		Expect(err).ToNot(HaveOccurred())
		for i := 0; i < 4; i++ {
			_, err = limiter.Allow(ctx, "submit", "anon-1", ratelimit.TierAnonymous, ratelimit.WithEndpoint("/directory/submit"))
			Expect(errors.IsBudgetExceeded(err)).To(BeTrue())
		}
		Expect(sink.violations).To(HaveLen(4))
		Expect(sink.violations[0].Subject).To(Equal("anon-1"))
		Expect(sink.violations[0].Action).To(Equal("submit"))
		Expect(sink.violations[0].Endpoint).To(Equal("/directory/submit"))
		Expect(sink.violations[0].At).To(Equal(clk.Now()))
	})
	It("should never admit past the limit under concurrent callers", func() {
		var wg sync.WaitGroup
		var allowed atomic.Int64
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				decision, _ := limiter.Allow(ctx, "vote", "user-1", ratelimit.TierLoggedIn)
				if decision.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		Expect(allowed.Load()).To(Equal(int64(3)))
	})

	DescribeTable("DeriveTier",
		func(loggedIn, trusted bool, expected ratelimit.Tier) {
			Expect(ratelimit.DeriveTier(loggedIn, trusted)).To(Equal(expected))
		},
		Entry("anonymous", false, false, ratelimit.TierAnonymous),
		Entry("logged in", true, false, ratelimit.TierLoggedIn),
		Entry("trusted", true, true, ratelimit.TierTrusted),
	)
})
