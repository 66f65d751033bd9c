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

package screenshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// Recorder persists the captured object URL against the site.
type Recorder interface {
	RecordScreenshot(ctx context.Context, siteID, objectURL string, at time.Time) error
}

type capturePayload struct {
	SiteID string `json:"site_id"`
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
}

func validateCapturePayload(p capturePayload) error {
	if p.SiteID == "" {
		return fmt.Errorf("site_id is required")
	}
	parsed, err := url.Parse(p.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("url %q is not an absolute http(s) url", p.URL)
	}
	return nil
}

// Handler runs screenshot_capture jobs on the SCREENSHOT family.
type Handler struct {
	coordinator *Coordinator
	recorder    Recorder
	clock       clock.PassiveClock
}

func NewHandler(coordinator *Coordinator, recorder Recorder, clk clock.PassiveClock) *Handler {
	return &Handler{coordinator: coordinator, recorder: recorder, clock: clk}
}

func (h *Handler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:         queue.TypeScreenshotCapture,
		Family:       queue.FamilyScreenshot,
		Capabilities: []registry.Capability{registry.CapabilityBrowser},
		MaxDuration:  2 * time.Minute,
		MaxAttempts:  4,
	}
}

func (h *Handler) Validate(payload json.RawMessage) error {
	_, err := registry.BindPayload(payload, validateCapturePayload)
	return err
}

func (h *Handler) Run(ctx context.Context, payload json.RawMessage) error {
	bound, err := registry.BindPayload(payload, validateCapturePayload)
	if err != nil {
		return err
	}
	location, err := h.coordinator.Capture(ctx, bound.SiteID, bound.URL, bound.Width)
	if err != nil {
		return err
	}
	if err := h.recorder.RecordScreenshot(ctx, bound.SiteID, location, h.clock.Now()); err != nil {
		return fmt.Errorf("recording screenshot for site %q, %w", bound.SiteID, err)
	}
	logging.FromContext(ctx).With("site-id", bound.SiteID, "object", location).Debugf("captured screenshot")
	return nil
}
