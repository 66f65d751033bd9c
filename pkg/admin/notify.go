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

package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
)

// NotifyHandler delivers moderator notifications raised by the directory
// health checker and the marketplace flag threshold. The queue's idempotency
// keys keep repeated triggers from stacking mail.
type NotifyHandler struct {
	mailer         gateways.Mailer
	fromAddress    string
	moderatorsList string
}

func NewNotifyHandler(mailer gateways.Mailer, fromAddress, moderatorsList string) *NotifyHandler {
	return &NotifyHandler{mailer: mailer, fromAddress: fromAddress, moderatorsList: moderatorsList}
}

func (h *NotifyHandler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:         queue.TypeModeratorNotify,
		Family:       queue.FamilyHigh,
		Capabilities: []registry.Capability{registry.CapabilityMailer},
		MaxDuration:  30 * time.Second,
		MaxAttempts:  5,
	}
}

type notifyPayload struct {
	Reason    string `json:"reason"`
	SiteID    string `json:"site_id"`
	ListingID string `json:"listing_id"`
	URL       string `json:"url"`
}

func (h *NotifyHandler) Validate(payload json.RawMessage) error {
	_, err := registry.BindPayload(payload, func(p notifyPayload) error {
		if p.Reason == "" {
			return fmt.Errorf("reason is required")
		}
		if p.SiteID == "" && p.ListingID == "" {
			return fmt.Errorf("either site_id or listing_id is required")
		}
		return nil
	})
	return err
}

func (h *NotifyHandler) Run(ctx context.Context, payload json.RawMessage) error {
	bound, err := registry.BindPayload[notifyPayload](payload, nil)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("[moderation] %s", bound.Reason)
	body := fmt.Sprintf("Reason: %s\n", bound.Reason)
	if bound.SiteID != "" {
		body += fmt.Sprintf("Site: %s\n", bound.SiteID)
	}
	if bound.ListingID != "" {
		body += fmt.Sprintf("Listing: %s\n", bound.ListingID)
	}
	if bound.URL != "" {
		body += fmt.Sprintf("URL: %s\n", bound.URL)
	}
	if err := h.mailer.Send(ctx, gateways.Mail{
		From:    h.fromAddress,
		To:      h.moderatorsList,
		Subject: subject,
		Body:    body,
	}); err != nil {
		return fmt.Errorf("sending moderator notification, %w", err)
	}
	notifications.WithLabelValues(bound.Reason).Inc()
	return nil
}
