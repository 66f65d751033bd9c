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

package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// ExpirationHandler retires active listings whose term has ended. Runs daily.
type ExpirationHandler struct {
	store Store
	queue queue.Interface
	clock clock.PassiveClock
}

func NewExpirationHandler(store Store, q queue.Interface, clk clock.PassiveClock) *ExpirationHandler {
	return &ExpirationHandler{store: store, queue: q, clock: clk}
}

func (h *ExpirationHandler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:        queue.TypeListingExpiration,
		Family:      queue.FamilyBulk,
		MaxDuration: 15 * time.Minute,
		MaxAttempts: 3,
	}
}

func (h *ExpirationHandler) Validate(json.RawMessage) error { return nil }

func (h *ExpirationHandler) Run(ctx context.Context, _ json.RawMessage) error {
	now := h.clock.Now()
	expiring, err := h.store.ListExpiring(ctx, now)
	if err != nil {
		return fmt.Errorf("listing expiring listings, %w", err)
	}
	for i := range expiring {
		listing := expiring[i]
		listing.Status = ListingStatusExpired
		if err := h.store.SaveListing(ctx, &listing); err != nil {
			return fmt.Errorf("expiring listing %q, %w", listing.ID, err)
		}
		if _, err := h.queue.Enqueue(ctx, queue.TypeEmailSend,
			map[string]any{"kind": "listing_expired", "listing_id": listing.ID, "seller_id": listing.SellerID},
			queue.WithFamily(queue.FamilyLow),
			queue.WithIdempotencyKey("expired:"+listing.ID)); err != nil {
			logging.FromContext(ctx).With("listing-id", listing.ID).Errorf("enqueuing expiry email, %s", err)
		}
		expirations.Inc()
	}
	return nil
}

// ReminderHandler mails sellers three days ahead of expiry, once per listing.
type ReminderHandler struct {
	store Store
	queue queue.Interface
	clock clock.PassiveClock
}

func NewReminderHandler(store Store, q queue.Interface, clk clock.PassiveClock) *ReminderHandler {
	return &ReminderHandler{store: store, queue: q, clock: clk}
}

func (h *ReminderHandler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:        queue.TypeListingReminder,
		Family:      queue.FamilyBulk,
		MaxDuration: 15 * time.Minute,
		MaxAttempts: 3,
	}
}

func (h *ReminderHandler) Validate(json.RawMessage) error { return nil }

func (h *ReminderHandler) Run(ctx context.Context, _ json.RawMessage) error {
	now := h.clock.Now()
	upcoming, err := h.store.ListExpiring(ctx, now.Add(ReminderLead))
	if err != nil {
		return fmt.Errorf("listing expiring listings, %w", err)
	}
	for i := range upcoming {
		listing := upcoming[i]
		if !listing.RemindedAt.IsZero() || listing.ExpiresAt.Before(now) {
			continue
		}
		listing.RemindedAt = now
		if err := h.store.SaveListing(ctx, &listing); err != nil {
			return fmt.Errorf("marking listing %q reminded, %w", listing.ID, err)
		}
		if _, err := h.queue.Enqueue(ctx, queue.TypeEmailSend,
			map[string]any{"kind": "listing_expiring", "listing_id": listing.ID, "seller_id": listing.SellerID},
			queue.WithFamily(queue.FamilyLow),
			queue.WithIdempotencyKey("reminder:"+listing.ID)); err != nil {
			logging.FromContext(ctx).With("listing-id", listing.ID).Errorf("enqueuing reminder email, %s", err)
		}
		reminders.Inc()
	}
	return nil
}
