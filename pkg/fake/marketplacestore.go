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

package fake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teacurran/village-homepage/pkg/marketplace"
)

// MarketplaceStore is the in-memory marketplace.Store used across test
// suites.
type MarketplaceStore struct {
	mu       sync.Mutex
	Listings map[string]*marketplace.Listing
}

func NewMarketplaceStore() *MarketplaceStore {
	return &MarketplaceStore{Listings: map[string]*marketplace.Listing{}}
}

func (s *MarketplaceStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Listings = map[string]*marketplace.Listing{}
}

func (s *MarketplaceStore) CreateListing(_ context.Context, listing *marketplace.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *listing
	s.Listings[listing.ID] = &copied
	return nil
}

func (s *MarketplaceStore) GetListing(_ context.Context, listingID string) (*marketplace.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.Listings[listingID]
	if !ok {
		return nil, marketplace.ListingNotFound(listingID)
	}
	copied := *listing
	return &copied, nil
}

func (s *MarketplaceStore) SaveListing(_ context.Context, listing *marketplace.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Listings[listing.ID]; !ok {
		return marketplace.ListingNotFound(listing.ID)
	}
	copied := *listing
	s.Listings[listing.ID] = &copied
	return nil
}

func (s *MarketplaceStore) GetByPaymentIntent(_ context.Context, paymentIntentID string) (*marketplace.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, listing := range s.Listings {
		if listing.PaymentIntentID == paymentIntentID && paymentIntentID != "" {
			copied := *listing
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MarketplaceStore) GetByMaskedEmail(_ context.Context, maskedEmail string) (*marketplace.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, listing := range s.Listings {
		if listing.MaskedEmail == maskedEmail {
			copied := *listing
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MarketplaceStore) ListExpiring(_ context.Context, horizon time.Time) ([]marketplace.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []marketplace.Listing
	for _, listing := range s.Listings {
		if listing.Status == marketplace.ListingStatusActive && !listing.ExpiresAt.After(horizon) {
			out = append(out, *listing)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ExpiresAt.Before(out[k].ExpiresAt) })
	return out, nil
}
