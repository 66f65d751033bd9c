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
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/utils/ids"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

const (
	minTitle       = 10
	maxTitle       = 100
	minDescription = 50
	maxDescription = 8000
)

// Draft is the input to CreateDraft.
type Draft struct {
	SellerID    string
	Title       string
	Description string
	PriceCents  *int64
	Category    string
}

func (d Draft) validate() error {
	var err error
	if d.SellerID == "" {
		err = multierr.Append(err, fmt.Errorf("seller id is required"))
	}
	if n := utf8.RuneCountInString(d.Title); n < minTitle || n > maxTitle {
		err = multierr.Append(err, fmt.Errorf("title must be %d to %d characters, got %d", minTitle, maxTitle, n))
	}
	if n := utf8.RuneCountInString(d.Description); n < minDescription || n > maxDescription {
		err = multierr.Append(err, fmt.Errorf("description must be %d to %d characters, got %d", minDescription, maxDescription, n))
	}
	if d.PriceCents != nil && *d.PriceCents < 0 {
		err = multierr.Append(err, fmt.Errorf("price must be non-negative or absent"))
	}
	if err != nil {
		return errors.Validation("invalid_listing", err)
	}
	return nil
}

// Service implements the listing lifecycle over a Store and the Stripe and
// queue collaborators.
type Service struct {
	tx          Transactor
	store       Store
	stripe      gateways.StripeGateway
	clock       clock.PassiveClock
	relayDomain string
}

func NewService(tx Transactor, store Store, stripe gateways.StripeGateway, clk clock.PassiveClock, relayDomain string) *Service {
	return &Service{tx: tx, store: store, stripe: stripe, clock: clk, relayDomain: relayDomain}
}

// CreateDraft validates and persists a new draft with its relay address
// already minted, so the address is stable across the listing's life.
func (s *Service) CreateDraft(ctx context.Context, draft Draft) (*Listing, error) {
	if err := draft.validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	listing := &Listing{
		ID:          ids.NewULID(now),
		SellerID:    draft.SellerID,
		Title:       draft.Title,
		Description: draft.Description,
		PriceCents:  draft.PriceCents,
		Category:    draft.Category,
		Status:      ListingStatusDraft,
		MaskedEmail: fmt.Sprintf("listing-%s@%s", uuid.NewString(), s.relayDomain),
		CreatedAt:   now,
	}
	if err := s.store.CreateListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("creating listing, %w", err)
	}
	listings.WithLabelValues(string(ListingStatusDraft)).Inc()
	return listing, nil
}

// BeginCheckout moves a draft to pending_payment and returns the checkout
// URL. The listing price is what Stripe charges; free listings skip checkout
// and activate directly.
func (s *Service) BeginCheckout(ctx context.Context, listingID, sellerID string) (string, error) {
	listing, err := s.ownedListing(ctx, listingID, sellerID)
	if err != nil {
		return "", err
	}
	if listing.Status != ListingStatusDraft {
		return "", errors.Validation("not_draft", fmt.Errorf("listing %q is %s", listingID, listing.Status))
	}
	var amount int64
	if listing.PriceCents != nil {
		amount = *listing.PriceCents
	}
	url, err := s.stripe.CreateCheckoutSession(ctx, listing.ID, CheckoutPurposeListing, amount)
	if err != nil {
		return "", errors.Transient("checkout_failed", err)
	}
	listing.Status = ListingStatusPendingPayment
	if err := s.store.SaveListing(ctx, listing); err != nil {
		return "", fmt.Errorf("saving listing %q, %w", listingID, err)
	}
	return url, nil
}

// HandlePaymentEvent applies whatever a verified webhook event paid for: a
// new listing activates, a bump lands. Redelivered events collapse on the
// payment intent id. Activation and the receipt email enqueue commit together
// in the Postgres store.
func (s *Service) HandlePaymentEvent(ctx context.Context, event *gateways.StripeEvent) error {
	listingID := event.Metadata["listing_id"]
	if listingID == "" {
		return errors.Validation("missing_listing", fmt.Errorf("event %q carries no listing id", event.ID))
	}
	if event.Metadata["purpose"] == CheckoutPurposeBump {
		return s.applyBump(ctx, listingID, event)
	}
	activated := false
	err := s.tx.InMarketplaceTx(ctx, func(tx Tx) error {
		if existing, err := tx.Store.GetByPaymentIntent(ctx, event.PaymentIntentID); err != nil {
			return err
		} else if existing != nil {
			logging.FromContext(ctx).With("listing-id", existing.ID).Debugf("duplicate payment event %s", event.ID)
			return nil
		}
		listing, err := tx.Store.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if listing.Status != ListingStatusPendingPayment {
			return errors.Validation("not_pending_payment", fmt.Errorf("listing %q is %s", listingID, listing.Status))
		}
		now := s.clock.Now()
		listing.Status = ListingStatusActive
		listing.PaymentIntentID = event.PaymentIntentID
		listing.ActivatedAt = now
		listing.ExpiresAt = now.Add(ListingDuration)
		if err := tx.Store.SaveListing(ctx, listing); err != nil {
			return fmt.Errorf("activating listing %q, %w", listingID, err)
		}
		if _, err := tx.Jobs.Enqueue(ctx, queue.TypeEmailSend,
			map[string]any{"kind": "listing_activated", "listing_id": listing.ID, "seller_id": listing.SellerID},
			queue.WithFamily(queue.FamilyHigh),
			queue.WithIdempotencyKey("receipt:"+event.PaymentIntentID)); err != nil {
			return fmt.Errorf("enqueuing activation email, %w", err)
		}
		activated = true
		return nil
	})
	if err != nil {
		return err
	}
	if activated {
		listings.WithLabelValues(string(ListingStatusActive)).Inc()
	}
	return nil
}

// BeginBumpCheckout sells a recency bump for an active listing. The bump
// itself lands when the paid webhook event arrives; nothing on the listing
// changes here. At most one bump per 24h, enforced at purchase time.
func (s *Service) BeginBumpCheckout(ctx context.Context, listingID, sellerID string) (string, error) {
	listing, err := s.ownedListing(ctx, listingID, sellerID)
	if err != nil {
		return "", err
	}
	if listing.Status != ListingStatusActive {
		return "", errors.Validation("not_active", fmt.Errorf("listing %q is %s", listingID, listing.Status))
	}
	now := s.clock.Now()
	if !listing.BumpedAt.IsZero() && now.Sub(listing.BumpedAt) < BumpSpacing {
		return "", errors.Validation("bump_too_soon", fmt.Errorf("listing %q was bumped %s ago", listingID, now.Sub(listing.BumpedAt)))
	}
	url, err := s.stripe.CreateCheckoutSession(ctx, listing.ID, CheckoutPurposeBump, BumpPriceCents)
	if err != nil {
		return "", errors.Transient("checkout_failed", err)
	}
	return url, nil
}

// applyBump lands a paid bump on its listing.
func (s *Service) applyBump(ctx context.Context, listingID string, event *gateways.StripeEvent) error {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.BumpPaymentIntentID == event.PaymentIntentID {
		logging.FromContext(ctx).With("listing-id", listing.ID).Debugf("duplicate bump event %s", event.ID)
		return nil
	}
	if listing.Status != ListingStatusActive {
		return errors.Validation("not_active", fmt.Errorf("listing %q is %s", listingID, listing.Status))
	}
	listing.BumpedAt = s.clock.Now()
	listing.BumpPaymentIntentID = event.PaymentIntentID
	if err := s.store.SaveListing(ctx, listing); err != nil {
		return fmt.Errorf("bumping listing %q, %w", listingID, err)
	}
	bumps.Inc()
	return nil
}

// Remove takes the listing down at the seller's request.
func (s *Service) Remove(ctx context.Context, listingID, sellerID string) error {
	listing, err := s.ownedListing(ctx, listingID, sellerID)
	if err != nil {
		return err
	}
	if listing.Status == ListingStatusRemoved {
		return nil
	}
	listing.Status = ListingStatusRemoved
	if err := s.store.SaveListing(ctx, listing); err != nil {
		return fmt.Errorf("removing listing %q, %w", listingID, err)
	}
	listings.WithLabelValues(string(ListingStatusRemoved)).Inc()
	return nil
}

// Flag records a community report. Crossing the threshold pulls the listing
// and notifies moderators; the listing row and the notification job commit
// together.
func (s *Service) Flag(ctx context.Context, listingID, reporterID string) error {
	pulled := false
	err := s.tx.InMarketplaceTx(ctx, func(tx Tx) error {
		listing, err := tx.Store.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if listing.Status != ListingStatusActive {
			return errors.Validation("not_active", fmt.Errorf("listing %q is %s", listingID, listing.Status))
		}
		listing.FlagCount++
		if listing.FlagCount >= FlagThreshold {
			listing.Status = ListingStatusFlagged
			if _, err := tx.Jobs.Enqueue(ctx, queue.TypeModeratorNotify,
				map[string]any{"listing_id": listing.ID, "reason": "flag_threshold", "reporter_id": reporterID},
				queue.WithFamily(queue.FamilyHigh),
				queue.WithIdempotencyKey("flagged:"+listing.ID)); err != nil {
				return fmt.Errorf("enqueuing moderator notification, %w", err)
			}
			pulled = true
		}
		if err := tx.Store.SaveListing(ctx, listing); err != nil {
			return fmt.Errorf("flagging listing %q, %w", listingID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if pulled {
		listings.WithLabelValues(string(ListingStatusFlagged)).Inc()
	}
	return nil
}

func (s *Service) ownedListing(ctx context.Context, listingID, sellerID string) (*Listing, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID != sellerID {
		return nil, errors.Validation("not_owner", fmt.Errorf("listing %q is not owned by %q", listingID, sellerID))
	}
	return listing, nil
}
