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

package feeds_test

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/fake"
	"github.com/teacurran/village-homepage/pkg/feeds"
)

var _ = Describe("RefreshHandler", func() {
	var ctx context.Context
	var store *fake.FeedStore
	var fetcher *fake.HTTPFetcher
	var clk *testingclock.FakeClock
	var handler *feeds.RefreshHandler
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	BeforeEach(func() {
		ctx = context.Background()
		store = fake.NewFeedStore()
		fetcher = fake.NewHTTPFetcher()
		clk = testingclock.NewFakeClock(now)
		handler = feeds.NewRSSHandler(store, fetcher, clk)
	})

	It("should snapshot a fresh body and remember the validator", func() {
		store.Seed(&feeds.Source{ID: "src-1", Kind: feeds.KindRSS, URL: "https://example.org/feed.xml"})
		fetcher.Script(http.MethodGet, "https://example.org/feed.xml", fake.HTTPResponse{
			Status: http.StatusOK,
			Body:   "<rss/>",
			Header: map[string]string{"ETag": `"v1"`},
		})
		Expect(handler.Run(ctx, nil)).To(Succeed())

		snaps := store.SnapshotsFor("src-1")
		Expect(snaps).To(HaveLen(1))
		Expect(string(snaps[0].Body)).To(Equal("<rss/>"))
		Expect(store.Sources["src-1"].ETag).To(Equal(`"v1"`))
		Expect(store.Sources["src-1"].LastRefreshedAt).To(Equal(now))
		Expect(store.Sources["src-1"].FailureCount).To(BeZero())
	})

	It("should send the validator and skip the snapshot on 304", func() {
		store.Seed(&feeds.Source{ID: "src-1", Kind: feeds.KindRSS, URL: "https://example.org/feed.xml", ETag: `"v1"`})
		fetcher.Script(http.MethodGet, "https://example.org/feed.xml", fake.HTTPResponse{Status: http.StatusNotModified})
		Expect(handler.Run(ctx, nil)).To(Succeed())

		Expect(store.SnapshotsFor("src-1")).To(BeEmpty())
		Expect(store.Sources["src-1"].LastRefreshedAt).To(Equal(now))
		Expect(fetcher.Requests).To(HaveLen(1))
		Expect(fetcher.Requests[0].Header.Get("If-None-Match")).To(Equal(`"v1"`))
	})

	It("should abort with a throttle error carrying Retry-After on 429", func() {
		store.Seed(&feeds.Source{ID: "src-1", Kind: feeds.KindRSS, URL: "https://example.org/feed.xml"})
		fetcher.Script(http.MethodGet, "https://example.org/feed.xml", fake.HTTPResponse{
			Status: http.StatusTooManyRequests,
			Header: map[string]string{"Retry-After": "120"},
		})
		err := handler.Run(ctx, nil)
		Expect(errors.IsThrottle(err)).To(BeTrue())
		Expect(errors.RetryAfter(err)).To(Equal(2 * time.Minute))
		Expect(store.Sources["src-1"].FailureCount).To(Equal(1))
	})

	It("should fall back to the default backoff when Retry-After is garbage", func() {
		store.Seed(&feeds.Source{ID: "src-1", Kind: feeds.KindRSS, URL: "https://example.org/feed.xml"})
		fetcher.Script(http.MethodGet, "https://example.org/feed.xml", fake.HTTPResponse{
			Status: http.StatusTooManyRequests,
			Header: map[string]string{"Retry-After": "soon"},
		})
		err := handler.Run(ctx, nil)
		Expect(errors.IsThrottle(err)).To(BeTrue())
		Expect(errors.RetryAfter(err)).To(Equal(feeds.DefaultThrottleBackoff))
	})

	It("should keep refreshing other sources past one failure", func() {
		store.Seed(
			&feeds.Source{ID: "src-bad", Kind: feeds.KindRSS, URL: "https://down.example.org/feed.xml"},
			&feeds.Source{ID: "src-good", Kind: feeds.KindRSS, URL: "https://up.example.org/feed.xml"},
		)
		fetcher.Script(http.MethodGet, "https://down.example.org/feed.xml", fake.HTTPResponse{Status: http.StatusInternalServerError})
		fetcher.Script(http.MethodGet, "https://up.example.org/feed.xml", fake.HTTPResponse{Status: http.StatusOK, Body: "ok"})

		err := handler.Run(ctx, nil)
		Expect(errors.IsRetryable(err)).To(BeTrue())
		Expect(store.SnapshotsFor("src-good")).To(HaveLen(1))
		Expect(store.Sources["src-bad"].FailureCount).To(Equal(1))
	})

	It("should narrow the run when the payload names a source", func() {
		store.Seed(
			&feeds.Source{ID: "src-1", Kind: feeds.KindRSS, URL: "https://one.example.org/feed.xml"},
			&feeds.Source{ID: "src-2", Kind: feeds.KindRSS, URL: "https://two.example.org/feed.xml"},
		)
		fetcher.Script(http.MethodGet, "https://one.example.org/feed.xml", fake.HTTPResponse{Status: http.StatusOK, Body: "one"})

		Expect(handler.Run(ctx, json.RawMessage(`{"source_id": "src-1"}`))).To(Succeed())
		Expect(store.SnapshotsFor("src-1")).To(HaveLen(1))
		Expect(store.SnapshotsFor("src-2")).To(BeEmpty())
	})

	It("should leave sources of other kinds alone", func() {
		store.Seed(&feeds.Source{ID: "src-wx", Kind: feeds.KindWeather, URL: "https://wx.example.org/now.json"})
		Expect(handler.Run(ctx, nil)).To(Succeed())
		Expect(fetcher.Requests).To(BeEmpty())
	})

	It("should count network errors against the source", func() {
		store.Seed(&feeds.Source{ID: "src-1", Kind: feeds.KindRSS, URL: "https://example.org/feed.xml"})
		fetcher.Script(http.MethodGet, "https://example.org/feed.xml", fake.HTTPResponse{Err: context.DeadlineExceeded})
		err := handler.Run(ctx, nil)
		Expect(err).To(HaveOccurred())
		Expect(store.Sources["src-1"].FailureCount).To(Equal(1))
	})
})
