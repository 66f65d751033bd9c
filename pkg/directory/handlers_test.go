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

package directory_test

import (
	"context"
	"fmt"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/teacurran/village-homepage/pkg/directory"
	"github.com/teacurran/village-homepage/pkg/fake"
	"github.com/teacurran/village-homepage/pkg/queue"
)

var _ = Describe("RankHandler", func() {
	var ctx context.Context
	var store *fake.DirectoryStore
	var handler *directory.RankHandler
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	seed := func(id, category string, up, down int, bubbled bool, created time.Time) {
		Expect(store.CreateMembership(ctx, fake.RandomMembership(id, category, func(m *directory.Membership) {
			m.Upvotes, m.Downvotes = up, down
			m.Bubbled = bubbled
			m.CreatedAt = created
		}))).To(Succeed())
	}

	rank := func(id, category string) int {
		membership, err := store.GetMembership(ctx, id, category)
		Expect(err).ToNot(HaveOccurred())
		return membership.Rank
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = fake.NewDirectoryStore()
		handler = directory.NewRankHandler(store)
	})

	It("should rank by score descending with older entries winning ties", func() {
		seed("low", "tech", 1, 0, false, base)
		seed("high", "tech", 5, 0, false, base)
		seed("tie-old", "tech", 3, 0, false, base)
		seed("tie-new", "tech", 3, 0, false, base.Add(time.Hour))
		Expect(handler.Run(ctx, nil)).To(Succeed())
		Expect(rank("high", "tech")).To(Equal(1))
		Expect(rank("tie-old", "tech")).To(Equal(2))
		Expect(rank("tie-new", "tech")).To(Equal(3))
		Expect(rank("low", "tech")).To(Equal(4))
	})
	It("should rank each category independently", func() {
		seed("alpha", "tech", 5, 0, false, base)
		seed("beta", "tech", 1, 0, false, base)
		seed("beta", "art", 9, 0, false, base)
		seed("alpha", "art", 2, 0, false, base)
		Expect(handler.Run(ctx, nil)).To(Succeed())
		Expect(rank("alpha", "tech")).To(Equal(1))
		Expect(rank("beta", "tech")).To(Equal(2))
		Expect(rank("beta", "art")).To(Equal(1))
		Expect(rank("alpha", "art")).To(Equal(2))
	})
	It("should rank bubbled memberships in their own band", func() {
		seed("general-high", "tech", 100, 0, false, base)
		seed("bubbled-low", "tech", 1, 0, true, base)
		Expect(handler.Run(ctx, nil)).To(Succeed())
		// Both are rank 1 within their own bands.
		Expect(rank("bubbled-low", "tech")).To(Equal(1))
		Expect(rank("general-high", "tech")).To(Equal(1))
	})
	It("should ignore unapproved memberships", func() {
		seed("approved", "tech", 1, 0, false, base)
		Expect(store.CreateMembership(ctx, fake.RandomMembership("pending", "tech", func(m *directory.Membership) {
			m.Status = directory.SiteStatusPending
			m.CreatedAt = base
		}))).To(Succeed())
		Expect(handler.Run(ctx, nil)).To(Succeed())
		Expect(rank("pending", "tech")).To(Equal(0))
	})
})

var _ = Describe("HealthHandler", func() {
	var ctx context.Context
	var store *fake.DirectoryStore
	var fetcher *fake.HTTPFetcher
	var q *queue.InMemory
	var clk *testingclock.FakeClock
	var handler *directory.HealthHandler

	site := func(id string, failures int) *directory.Site {
		return &directory.Site{
			ID: id, URL: fmt.Sprintf("https://%s.example.org", id), Title: id,
			Status: directory.SiteStatusApproved, FailureCount: failures,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = fake.NewDirectoryStore()
		fetcher = fake.NewHTTPFetcher()
		clk = testingclock.NewFakeClock(time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC))
		q = queue.NewInMemory(clk, nil)
		handler = directory.NewHealthHandler(store, fetcher, q, clk)
	})

	It("should reset the failure counter on a healthy response", func() {
		Expect(store.CreateSite(ctx, site("ok", 2))).To(Succeed())
		fetcher.Script(http.MethodHead, "https://ok.example.org", fake.HTTPResponse{Status: 200})
		Expect(handler.Run(ctx, nil)).To(Succeed())
		Expect(store.Sites["ok"].FailureCount).To(Equal(0))
		Expect(store.Sites["ok"].Status).To(Equal(directory.SiteStatusApproved))
		Expect(store.Sites["ok"].LastCheckedAt).To(Equal(clk.Now()))
	})
	It("should fall back to GET when HEAD is rejected with 405", func() {
		Expect(store.CreateSite(ctx, site("no-head", 0))).To(Succeed())
		fetcher.Script(http.MethodHead, "https://no-head.example.org", fake.HTTPResponse{Status: 405})
		fetcher.Script(http.MethodGet, "https://no-head.example.org", fake.HTTPResponse{Status: 200})
		Expect(handler.Run(ctx, nil)).To(Succeed())
		Expect(store.Sites["no-head"].FailureCount).To(Equal(0))
		Expect(fetcher.CallCount(http.MethodGet, "https://no-head.example.org")).To(Equal(1))
	})
	It("should count a failure without killing the link before the threshold", func() {
		Expect(store.CreateSite(ctx, site("flaky", 0))).To(Succeed())
		fetcher.Script(http.MethodHead, "https://flaky.example.org", fake.HTTPResponse{Err: fmt.Errorf("connection refused")})
		Expect(handler.Run(ctx, nil)).To(Succeed())
		Expect(store.Sites["flaky"].FailureCount).To(Equal(1))
		Expect(store.Sites["flaky"].Status).To(Equal(directory.SiteStatusApproved))
	})
	It("should mark the site dead at the third consecutive failure and notify moderators", func() {
		Expect(store.CreateSite(ctx, site("dying", 2))).To(Succeed())
		fetcher.Script(http.MethodHead, "https://dying.example.org", fake.HTTPResponse{Status: 500})
		Expect(handler.Run(ctx, nil)).To(Succeed())
		Expect(store.Sites["dying"].FailureCount).To(Equal(3))
		Expect(store.Sites["dying"].Status).To(Equal(directory.SiteStatusDead))

		jobs, err := q.Claim(ctx, queue.FamilyHigh, "test", time.Minute, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(jobs).To(HaveLen(1))
		Expect(jobs[0].Type).To(Equal(queue.TypeModeratorNotify))
	})
	It("should leave a dead site dead even when the link recovers", func() {
		dead := site("revived", 3)
		dead.Status = directory.SiteStatusDead
		Expect(store.CreateSite(ctx, dead)).To(Succeed())
		fetcher.Script(http.MethodHead, "https://revived.example.org", fake.HTTPResponse{Status: 200})
		Expect(handler.Run(ctx, nil)).To(Succeed())
		// Dead sites are out of the health check population entirely.
		Expect(store.Sites["revived"].Status).To(Equal(directory.SiteStatusDead))
		Expect(fetcher.CallCount(http.MethodHead, "https://revived.example.org")).To(BeZero())
	})
	It("should treat a redirect status as alive", func() {
		Expect(store.CreateSite(ctx, site("moved", 1))).To(Succeed())
		fetcher.Script(http.MethodHead, "https://moved.example.org", fake.HTTPResponse{Status: 301})
		Expect(handler.Run(ctx, nil)).To(Succeed())
		Expect(store.Sites["moved"].FailureCount).To(Equal(0))
	})
})
