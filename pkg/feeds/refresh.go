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

package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

const (
	// MaxBodyBytes caps what one source may hand us.
	MaxBodyBytes = 1 << 20

	// FetchTimeout bounds each upstream request.
	FetchTimeout = 15 * time.Second

	// DefaultThrottleBackoff applies when a 429 arrives without a usable
	// Retry-After header.
	DefaultThrottleBackoff = 5 * time.Minute
)

// RefreshHandler refreshes every source of one kind. A 429 from any source
// aborts the run with a throttle error carrying the upstream's Retry-After
// hint; other per-source failures are counted and the run continues.
type RefreshHandler struct {
	kind    Kind
	family  queue.Family
	store   Store
	fetcher gateways.HTTPFetcher
	clock   clock.PassiveClock
}

func NewRSSHandler(store Store, fetcher gateways.HTTPFetcher, clk clock.PassiveClock) *RefreshHandler {
	return &RefreshHandler{kind: KindRSS, family: queue.FamilyDefault, store: store, fetcher: fetcher, clock: clk}
}

func NewWeatherHandler(store Store, fetcher gateways.HTTPFetcher, clk clock.PassiveClock) *RefreshHandler {
	return &RefreshHandler{kind: KindWeather, family: queue.FamilyDefault, store: store, fetcher: fetcher, clock: clk}
}

func NewStockHandler(store Store, fetcher gateways.HTTPFetcher, clk clock.PassiveClock) *RefreshHandler {
	return &RefreshHandler{kind: KindStocks, family: queue.FamilyDefault, store: store, fetcher: fetcher, clock: clk}
}

func NewSocialHandler(store Store, fetcher gateways.HTTPFetcher, clk clock.PassiveClock) *RefreshHandler {
	return &RefreshHandler{kind: KindSocial, family: queue.FamilyLow, store: store, fetcher: fetcher, clock: clk}
}

func (h *RefreshHandler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:         typeFor(h.kind),
		Family:       h.family,
		Capabilities: []registry.Capability{registry.CapabilityFetcher},
		MaxDuration:  5 * time.Minute,
		MaxAttempts:  3,
	}
}

type refreshPayload struct {
	// SourceID narrows the run to one source. Empty refreshes the kind.
	SourceID string `json:"source_id"`
}

func (h *RefreshHandler) Validate(payload json.RawMessage) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := registry.BindPayload[refreshPayload](payload, nil)
	return err
}

func (h *RefreshHandler) Run(ctx context.Context, payload json.RawMessage) error {
	var bound refreshPayload
	if len(payload) > 0 {
		var err error
		if bound, err = registry.BindPayload[refreshPayload](payload, nil); err != nil {
			return err
		}
	}
	sources, err := h.store.ListSources(ctx, h.kind)
	if err != nil {
		return fmt.Errorf("listing %s sources, %w", h.kind, err)
	}
	var failures error
	for _, source := range sources {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if bound.SourceID != "" && source.ID != bound.SourceID {
			continue
		}
		if err := h.refreshOne(ctx, source); err != nil {
			if errors.IsThrottle(err) {
				return err
			}
			failures = multierr.Append(failures, err)
		}
	}
	if failures != nil {
		return errors.Transient("feed_fetch_failed", failures)
	}
	return nil
}

func (h *RefreshHandler) refreshOne(ctx context.Context, source *Source) error {
	logger := logging.FromContext(ctx).With("source-id", source.ID, "kind", string(h.kind))
	status, body, header, err := h.fetch(ctx, source)
	if err != nil {
		h.recordFailure(ctx, source)
		return fmt.Errorf("fetching %s, %w", source.URL, err)
	}
	switch {
	case status == http.StatusNotModified:
		source.LastRefreshedAt = h.clock.Now()
		source.FailureCount = 0
		refreshes.WithLabelValues(string(h.kind), "not_modified").Inc()
	case status == http.StatusTooManyRequests:
		h.recordFailure(ctx, source)
		retryAfter := parseRetryAfter(header.Get("Retry-After"), h.clock.Now())
		logger.Debugf("source throttled us, retrying after %s", retryAfter)
		refreshes.WithLabelValues(string(h.kind), "throttled").Inc()
		return errors.Throttle("feed_throttled",
			fmt.Errorf("%s responded 429", source.URL), retryAfter)
	case status >= 200 && status < 300:
		now := h.clock.Now()
		if err := h.store.SaveSnapshot(ctx, source.ID, body, now); err != nil {
			return fmt.Errorf("saving snapshot for source %q, %w", source.ID, err)
		}
		source.ETag = header.Get("ETag")
		source.LastRefreshedAt = now
		source.FailureCount = 0
		refreshes.WithLabelValues(string(h.kind), "ok").Inc()
	default:
		h.recordFailure(ctx, source)
		return fmt.Errorf("%s responded %d", source.URL, status)
	}
	if err := h.store.SaveSource(ctx, source); err != nil {
		return fmt.Errorf("saving source %q, %w", source.ID, err)
	}
	return nil
}

func (h *RefreshHandler) fetch(ctx context.Context, source *Source) (int, []byte, http.Header, error) {
	reqCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, source.URL, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	if source.ETag != "" {
		req.Header.Set("If-None-Match", source.ETag)
	}
	resp, err := h.fetcher.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, body, resp.Header, nil
}

func (h *RefreshHandler) recordFailure(ctx context.Context, source *Source) {
	source.FailureCount++
	refreshes.WithLabelValues(string(h.kind), "failed").Inc()
	if err := h.store.SaveSource(ctx, source); err != nil {
		logging.FromContext(ctx).With("source-id", source.ID).Errorf("saving failure count, %s", err)
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return DefaultThrottleBackoff
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return DefaultThrottleBackoff
}

func typeFor(kind Kind) queue.Type {
	switch kind {
	case KindRSS:
		return queue.TypeRSSRefresh
	case KindWeather:
		return queue.TypeWeatherRefresh
	case KindStocks:
		return queue.TypeStockRefresh
	default:
		return queue.TypeSocialRefresh
	}
}
