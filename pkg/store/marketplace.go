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

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/teacurran/village-homepage/pkg/marketplace"
)

const listingColumns = `id, seller_id, title, description, price_cents, category, status,
	masked_email, payment_intent_id, bump_payment_intent_id, flag_count, created_at,
	activated_at, expires_at, bumped_at, reminded_at`

// MarketplaceStore implements marketplace.Store.
type MarketplaceStore struct {
	db querier
}

func (s *MarketplaceStore) CreateListing(ctx context.Context, listing *marketplace.Listing) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO marketplace_listings (id, seller_id, title, description, price_cents,
			category, status, masked_email, payment_intent_id, bump_payment_intent_id,
			flag_count, created_at, activated_at, expires_at, bumped_at, reminded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		listing.ID, listing.SellerID, listing.Title, listing.Description, listing.PriceCents,
		listing.Category, listing.Status, listing.MaskedEmail, listing.PaymentIntentID,
		listing.BumpPaymentIntentID, listing.FlagCount, listing.CreatedAt,
		nullableTime(listing.ActivatedAt), nullableTime(listing.ExpiresAt),
		nullableTime(listing.BumpedAt), nullableTime(listing.RemindedAt))
	if err != nil {
		return fmt.Errorf("creating listing %q, %w", listing.ID, err)
	}
	return nil
}

func (s *MarketplaceStore) GetListing(ctx context.Context, listingID string) (*marketplace.Listing, error) {
	listing, err := scanListing(s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM marketplace_listings WHERE id = $1`, listingColumns), listingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, marketplace.ListingNotFound(listingID)
	}
	return listing, err
}

func (s *MarketplaceStore) SaveListing(ctx context.Context, listing *marketplace.Listing) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE marketplace_listings SET title = $1, description = $2, price_cents = $3,
			category = $4, status = $5, payment_intent_id = $6, bump_payment_intent_id = $7,
			flag_count = $8, activated_at = $9, expires_at = $10, bumped_at = $11,
			reminded_at = $12
		WHERE id = $13`,
		listing.Title, listing.Description, listing.PriceCents, listing.Category,
		listing.Status, listing.PaymentIntentID, listing.BumpPaymentIntentID, listing.FlagCount,
		nullableTime(listing.ActivatedAt), nullableTime(listing.ExpiresAt),
		nullableTime(listing.BumpedAt), nullableTime(listing.RemindedAt), listing.ID)
	if err != nil {
		return fmt.Errorf("saving listing %q, %w", listing.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return marketplace.ListingNotFound(listing.ID)
	}
	return nil
}

func (s *MarketplaceStore) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*marketplace.Listing, error) {
	listing, err := scanListing(s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM marketplace_listings WHERE payment_intent_id = $1`, listingColumns),
		paymentIntentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return listing, err
}

func (s *MarketplaceStore) GetByMaskedEmail(ctx context.Context, maskedEmail string) (*marketplace.Listing, error) {
	listing, err := scanListing(s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM marketplace_listings WHERE masked_email = $1`, listingColumns),
		maskedEmail))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return listing, err
}

func (s *MarketplaceStore) ListExpiring(ctx context.Context, horizon time.Time) ([]marketplace.Listing, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM marketplace_listings
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at ASC`, listingColumns), horizon)
	if err != nil {
		return nil, fmt.Errorf("listing expiring listings, %w", err)
	}
	defer rows.Close()
	var listings []marketplace.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *listing)
	}
	return listings, rows.Err()
}

func scanListing(row pgx.Row) (*marketplace.Listing, error) {
	var listing marketplace.Listing
	var activated, expires, bumped, reminded *time.Time
	if err := row.Scan(&listing.ID, &listing.SellerID, &listing.Title, &listing.Description,
		&listing.PriceCents, &listing.Category, &listing.Status, &listing.MaskedEmail,
		&listing.PaymentIntentID, &listing.BumpPaymentIntentID, &listing.FlagCount,
		&listing.CreatedAt, &activated, &expires, &bumped, &reminded); err != nil {
		return nil, err
	}
	if activated != nil {
		listing.ActivatedAt = *activated
	}
	if expires != nil {
		listing.ExpiresAt = *expires
	}
	if bumped != nil {
		listing.BumpedAt = *bumped
	}
	if reminded != nil {
		listing.RemindedAt = *reminded
	}
	return &listing, nil
}
