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

package scheduler_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/scheduler"
)

var _ = Describe("Scheduler", func() {
	var ctx context.Context
	var clk *testingclock.FakeClock
	var q *queue.InMemory

	BeforeEach(func() {
		ctx = context.Background()
		clk = testingclock.NewFakeClock(time.Date(2025, 6, 2, 12, 0, 30, 0, time.UTC))
		q = queue.NewInMemory(clk, nil)
	})

	newScheduler := func(entries []scheduler.Entry) *scheduler.Scheduler {
		s, err := scheduler.New(q, clk, entries)
		Expect(err).ToNot(HaveOccurred())
		return s
	}

	It("should enqueue one job per elapsed firing", func() {
		s := newScheduler([]scheduler.Entry{{Spec: "* * * * *", Type: queue.TypeInboundEmailPoll, Family: queue.FamilyHigh}})
		clk.Step(time.Minute)
		Expect(s.Tick(ctx)).To(Equal(1))
		claimed, err := q.Claim(ctx, queue.FamilyHigh, "w1", time.Minute, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(claimed).To(HaveLen(1))
		Expect(claimed[0].Type).To(Equal(queue.TypeInboundEmailPoll))
	})
	It("should catch up on multiple missed firings after a stall", func() {
		s := newScheduler([]scheduler.Entry{{Spec: "* * * * *", Type: queue.TypeInboundEmailPoll}})
		clk.Step(3 * time.Minute)
		Expect(s.Tick(ctx)).To(Equal(3))
	})
	It("should not fire before the schedule is due", func() {
		s := newScheduler([]scheduler.Entry{{Spec: "0 3 * * 0", Type: queue.TypeLinkHealthCheck}})
		clk.Step(time.Minute)
		Expect(s.Tick(ctx)).To(Equal(0))
	})
	It("should dedupe replicated schedulers onto the same firing", func() {
		a := newScheduler([]scheduler.Entry{{Spec: "* * * * *", Type: queue.TypeInboundEmailPoll, Family: queue.FamilyHigh}})
		b := newScheduler([]scheduler.Entry{{Spec: "* * * * *", Type: queue.TypeInboundEmailPoll, Family: queue.FamilyHigh}})
		clk.Step(time.Minute)
		a.Tick(ctx)
		b.Tick(ctx)
		claimed, err := q.Claim(ctx, queue.FamilyHigh, "w1", time.Minute, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(claimed).To(HaveLen(1))
	})
	It("should skip firings when the payload builder declines", func() {
		s := newScheduler([]scheduler.Entry{{
			Spec: "* * * * *",
			Type: queue.TypeStockRefresh,
			Payload: func(_ time.Time) (any, bool) {
				return nil, false
			}}})
		clk.Step(time.Minute)
		Expect(s.Tick(ctx)).To(Equal(0))
	})
	It("should reject malformed cron specs", func() {
		_, err := scheduler.New(q, clk, []scheduler.Entry{{Spec: "not a cron", Type: queue.TypeRSSRefresh}})
		Expect(err).To(HaveOccurred())
	})
	It("should parse every canonical entry", func() {
		_, err := scheduler.New(q, clk, scheduler.CanonicalEntries())
		Expect(err).ToNot(HaveOccurred())
	})
})
