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

package screenshot_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/utils/clock"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/fake"
	"github.com/teacurran/village-homepage/pkg/screenshot"
)

type recordedShot struct {
	siteID string
	url    string
}

type fakeRecorder struct {
	mu    sync.Mutex
	shots []recordedShot
}

func (r *fakeRecorder) RecordScreenshot(_ context.Context, siteID, objectURL string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shots = append(r.shots, recordedShot{siteID: siteID, url: objectURL})
	return nil
}

var _ = Describe("SessionPool", func() {
	var ctx context.Context
	var launcher *fake.BrowserLauncher
	var clk *testingclock.FakeClock
	var pool *screenshot.SessionPool

	BeforeEach(func() {
		ctx = context.Background()
		launcher = &fake.BrowserLauncher{}
		clk = testingclock.NewFakeClock(time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC))
		pool = screenshot.NewSessionPool(launcher, clk)
	})

	It("should reuse a returned session", func() {
		session, put, err := pool.Get(ctx)
		Expect(err).ToNot(HaveOccurred())
		put()
		again, put2, err := pool.Get(ctx)
		Expect(err).ToNot(HaveOccurred())
		put2()
		Expect(again).To(BeIdenticalTo(session))
		Expect(launcher.Launched()).To(Equal(1))
	})
	It("should retire sessions past their TTL", func() {
		_, put, err := pool.Get(ctx)
		Expect(err).ToNot(HaveOccurred())
		put()
		clk.Step(screenshot.SessionTTL + time.Second)
		_, put2, err := pool.Get(ctx)
		Expect(err).ToNot(HaveOccurred())
		put2()
		Expect(launcher.Launched()).To(Equal(2))
		Expect(launcher.Sessions[0].Closed.Load()).To(BeTrue())
	})
	It("should replace an unhealthy session at checkout", func() {
		session, put, err := pool.Get(ctx)
		Expect(err).ToNot(HaveOccurred())
		put()
		launcher.Sessions[0].Unhealthy.Store(true)
		replacement, put2, err := pool.Get(ctx)
		Expect(err).ToNot(HaveOccurred())
		put2()
		Expect(replacement).ToNot(BeIdenticalTo(session))
		Expect(launcher.Sessions[0].Closed.Load()).To(BeTrue())
	})
	It("should surface launch failures", func() {
		launcher.LaunchErr = fmt.Errorf("no chrome binary")
		_, _, err := pool.Get(ctx)
		Expect(err).To(HaveOccurred())
	})
	It("should close idle sessions on shutdown", func() {
		_, put, err := pool.Get(ctx)
		Expect(err).ToNot(HaveOccurred())
		put()
		pool.Close(ctx)
		Expect(launcher.Sessions[0].Closed.Load()).To(BeTrue())
	})
})

var _ = Describe("Coordinator", func() {
	var ctx context.Context
	var launcher *fake.BrowserLauncher
	var objects *fake.ObjectStore

	newCoordinator := func() *screenshot.Coordinator {
		pool := screenshot.NewSessionPool(launcher, clock.RealClock{})
		return screenshot.NewCoordinator(pool, objects, clock.RealClock{})
	}

	BeforeEach(func() {
		ctx = context.Background()
		launcher = &fake.BrowserLauncher{}
		objects = fake.NewObjectStore()
	})

	It("should capture and store a screenshot", func() {
		coordinator := newCoordinator()
		location, err := coordinator.Capture(ctx, "site-1", "https://example.org", 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(location).To(HavePrefix("fake://screenshots/site-1/"))
		Expect(objects.Objects).To(HaveLen(1))
	})
	It("should never run more captures than the concurrency cap", func() {
		var concurrent, peak atomic.Int64
		release := make(chan struct{})
		launcher.NewSession = func() *fake.BrowserSession {
			return &fake.BrowserSession{
				CaptureFn: func(ctx context.Context, url string, _ int) ([]byte, error) {
					cur := concurrent.Add(1)
					defer concurrent.Add(-1)
					for {
						prev := peak.Load()
						if cur <= prev || peak.CompareAndSwap(prev, cur) {
							break
						}
					}
					select {
					case <-release:
						return []byte("png"), nil
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				},
			}
		}
		coordinator := newCoordinator()
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer GinkgoRecover()
				_, err := coordinator.Capture(ctx, fmt.Sprintf("site-%d", i), "https://example.org", 0)
				Expect(err).ToNot(HaveOccurred())
			}(i)
		}
		Eventually(concurrent.Load, "2s", "10ms").Should(Equal(int64(3)))
		Consistently(concurrent.Load, "300ms", "10ms").Should(BeNumerically("<=", 3))
		close(release)
		wg.Wait()
		Expect(peak.Load()).To(Equal(int64(3)))
	})
	It("should classify a cancelled semaphore wait as transient", func() {
		release := make(chan struct{})
		defer close(release)
		launcher.NewSession = func() *fake.BrowserSession {
			return &fake.BrowserSession{
				CaptureFn: func(ctx context.Context, _ string, _ int) ([]byte, error) {
					select {
					case <-release:
						return []byte("png"), nil
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				},
			}
		}
		coordinator := newCoordinator()
		blockedCtx, cancelBlocked := context.WithCancel(ctx)
		defer cancelBlocked()
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = coordinator.Capture(blockedCtx, "site", "https://example.org", 0)
			}()
		}
		waiterCtx, cancelWaiter := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancelWaiter()
		Eventually(launcher.Launched, "2s", "10ms").Should(Equal(3))
		_, err := coordinator.Capture(waiterCtx, "site-late", "https://example.org", 0)
		Expect(errors.IsRetryable(err)).To(BeTrue())
		cancelBlocked()
		wg.Wait()
	})
	It("should drop the session on capture failure instead of pooling it", func() {
		launcher.NewSession = func() *fake.BrowserSession {
			return &fake.BrowserSession{
				CaptureFn: func(context.Context, string, int) ([]byte, error) {
					return nil, fmt.Errorf("render crashed")
				},
			}
		}
		coordinator := newCoordinator()
		_, err := coordinator.Capture(ctx, "site-1", "https://example.org", 0)
		Expect(errors.IsRetryable(err)).To(BeTrue())
		Expect(launcher.Sessions[0].Closed.Load()).To(BeTrue())
	})
})

var _ = Describe("Handler", func() {
	var ctx context.Context
	var launcher *fake.BrowserLauncher
	var objects *fake.ObjectStore
	var recorder *fakeRecorder
	var handler *screenshot.Handler

	BeforeEach(func() {
		ctx = context.Background()
		launcher = &fake.BrowserLauncher{}
		objects = fake.NewObjectStore()
		recorder = &fakeRecorder{}
		pool := screenshot.NewSessionPool(launcher, clock.RealClock{})
		coordinator := screenshot.NewCoordinator(pool, objects, clock.RealClock{})
		handler = screenshot.NewHandler(coordinator, recorder, clock.RealClock{})
	})

	It("should capture and record against the site", func() {
		payload := json.RawMessage(`{"site_id": "site-9", "url": "https://example.org"}`)
		Expect(handler.Validate(payload)).To(Succeed())
		Expect(handler.Run(ctx, payload)).To(Succeed())
		Expect(recorder.shots).To(HaveLen(1))
		Expect(recorder.shots[0].siteID).To(Equal("site-9"))
		Expect(recorder.shots[0].url).To(HavePrefix("fake://screenshots/site-9/"))
	})
	It("should reject payloads without a site id", func() {
		err := handler.Validate(json.RawMessage(`{"url": "https://example.org"}`))
		Expect(errors.IsValidation(err)).To(BeTrue())
	})
	It("should reject non-http urls", func() {
		err := handler.Validate(json.RawMessage(`{"site_id": "s", "url": "ftp://example.org"}`))
		Expect(errors.IsValidation(err)).To(BeTrue())
	})
})
