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

package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

const (
	// HealthCheckBatch bounds one health check run.
	HealthCheckBatch = 100

	// DeadThreshold is the consecutive-failure count that kills a link.
	DeadThreshold = 3

	// RequestTimeout bounds each probe.
	RequestTimeout = 10 * time.Second

	// MaxRedirects bounds redirect chains during probes.
	MaxRedirects = 5
)

// NewProbeClient builds the production HTTP client for link probes with the
// probe timeout and redirect cap applied.
func NewProbeClient() *http.Client {
	return &http.Client{
		Timeout: RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// HealthHandler probes approved sites and dead-letters links that fail three
// runs in a row. A recovered link resets its failure counter; a site already
// marked dead stays dead until a moderator intervenes.
type HealthHandler struct {
	store   Store
	fetcher gateways.HTTPFetcher
	queue   queue.Interface
	clock   clock.PassiveClock
}

func NewHealthHandler(store Store, fetcher gateways.HTTPFetcher, q queue.Interface, clk clock.PassiveClock) *HealthHandler {
	return &HealthHandler{store: store, fetcher: fetcher, queue: q, clock: clk}
}

func (h *HealthHandler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:         queue.TypeLinkHealthCheck,
		Family:       queue.FamilyBulk,
		Capabilities: []registry.Capability{registry.CapabilityFetcher},
		MaxDuration:  30 * time.Minute,
		MaxAttempts:  2,
	}
}

func (h *HealthHandler) Validate(json.RawMessage) error { return nil }

func (h *HealthHandler) Run(ctx context.Context, _ json.RawMessage) error {
	sites, err := h.store.ListForHealthCheck(ctx, HealthCheckBatch)
	if err != nil {
		return fmt.Errorf("listing sites for health check, %w", err)
	}
	for i := range sites {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		site := sites[i]
		h.checkOne(ctx, &site)
	}
	return nil
}

func (h *HealthHandler) checkOne(ctx context.Context, site *Site) {
	alive := h.probe(ctx, site.URL)
	site.LastCheckedAt = h.clock.Now()
	logger := logging.FromContext(ctx).With("site-id", site.ID)
	if alive {
		site.FailureCount = 0
		healthChecks.WithLabelValues("ok").Inc()
	} else {
		site.FailureCount++
		healthChecks.WithLabelValues("failed").Inc()
		if site.FailureCount >= DeadThreshold && site.Status == SiteStatusApproved {
			site.Status = SiteStatusDead
			deadLinks.Inc()
			if _, err := h.queue.Enqueue(ctx, queue.TypeModeratorNotify,
				map[string]any{"site_id": site.ID, "reason": "link_dead", "url": site.URL},
				queue.WithFamily(queue.FamilyHigh),
				queue.WithIdempotencyKey("link_dead:"+site.ID)); err != nil {
				logger.Errorf("enqueuing moderator notification, %s", err)
			}
			logger.Infof("marked site dead after %d consecutive failures", site.FailureCount)
		}
	}
	if err := h.store.SaveSite(ctx, site); err != nil {
		logger.Errorf("saving health check result, %s", err)
	}
}

// probe issues a HEAD and falls back to GET when the origin rejects HEAD with
// 405. Any 2xx or 3xx counts as alive.
func (h *HealthHandler) probe(ctx context.Context, rawURL string) bool {
	status, err := h.request(ctx, http.MethodHead, rawURL)
	if err != nil {
		return false
	}
	if status == http.StatusMethodNotAllowed {
		status, err = h.request(ctx, http.MethodGet, rawURL)
		if err != nil {
			return false
		}
	}
	return status >= 200 && status < 400
}

func (h *HealthHandler) request(ctx context.Context, method, rawURL string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := h.fetcher.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}
