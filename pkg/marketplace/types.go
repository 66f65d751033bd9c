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

// Package marketplace implements classified listings: drafting, payment
// activation, expiry, bumping, flagging, and the masked-email relay between
// buyers and sellers.
package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/queue"
)

// ListingStatus is the listing lifecycle. Active is the only publicly visible
// state.
type ListingStatus string

const (
	ListingStatusDraft          ListingStatus = "draft"
	ListingStatusPendingPayment ListingStatus = "pending_payment"
	ListingStatusActive         ListingStatus = "active"
	ListingStatusExpired        ListingStatus = "expired"
	ListingStatusRemoved        ListingStatus = "removed"
	ListingStatusFlagged        ListingStatus = "flagged"
)

const (
	// ListingDuration is how long a paid listing stays active.
	ListingDuration = 30 * 24 * time.Hour

	// BumpSpacing is the minimum interval between bumps of one listing.
	BumpSpacing = 24 * time.Hour

	// BumpPriceCents is the flat price of one recency bump.
	BumpPriceCents int64 = 200

	// ReminderLead is how far before expiry the reminder email goes out.
	ReminderLead = 3 * 24 * time.Hour

	// FlagThreshold pulls a listing for review.
	FlagThreshold = 3
)

// Checkout purposes distinguish what a session pays for. They travel in the
// Stripe session metadata and come back on the webhook event.
const (
	CheckoutPurposeListing = "listing"
	CheckoutPurposeBump    = "bump"
)

// Listing is one classified ad. PriceCents nil means "contact seller".
type Listing struct {
	ID          string
	SellerID    string
	Title       string
	Description string
	PriceCents  *int64
	Category    string
	Status      ListingStatus
	// MaskedEmail is the relay address buyers write to; the seller's real
	// address never appears publicly.
	MaskedEmail     string
	PaymentIntentID string
	// BumpPaymentIntentID is the intent behind the most recent paid bump;
	// redelivered bump events collapse on it.
	BumpPaymentIntentID string
	FlagCount           int
	CreatedAt           time.Time
	ActivatedAt         time.Time
	ExpiresAt           time.Time
	BumpedAt            time.Time
	RemindedAt          time.Time
}

// Store is the durable side of the marketplace.
type Store interface {
	CreateListing(ctx context.Context, listing *Listing) error
	GetListing(ctx context.Context, listingID string) (*Listing, error)
	SaveListing(ctx context.Context, listing *Listing) error
	// GetByPaymentIntent returns nil with no error when no listing matches.
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*Listing, error)
	// GetByMaskedEmail returns nil with no error when no listing matches.
	GetByMaskedEmail(ctx context.Context, maskedEmail string) (*Listing, error)
	// ListExpiring returns active listings expiring at or before the horizon.
	ListExpiring(ctx context.Context, horizon time.Time) ([]Listing, error)
}

// UserDirectory resolves a seller's real contact address for relay delivery.
type UserDirectory interface {
	EmailOf(ctx context.Context, userID string) (string, error)
}

// Tx bundles the collaborators of one marketplace transaction. The Postgres
// implementation binds both to a single transaction; the in-memory fakes hand
// back the fakes themselves.
type Tx struct {
	Store Store
	Jobs  queue.Enqueuer
}

// Transactor runs compound marketplace writes so the listing row and the job
// rows it enqueues commit or roll back as one unit.
type Transactor interface {
	InMarketplaceTx(ctx context.Context, fn func(tx Tx) error) error
}

// ListingNotFound is the canonical unknown-listing error for Store
// implementations.
func ListingNotFound(listingID string) error {
	return errors.Validation("listing_not_found", fmt.Errorf("no listing %q", listingID))
}

func IsListingNotFound(err error) bool {
	return errors.Code(err) == "listing_not_found"
}
