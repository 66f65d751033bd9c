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
	"fmt"
	"strings"
	"time"

	"github.com/Pallinder/go-randomdata"

	"github.com/teacurran/village-homepage/pkg/directory"
	"github.com/teacurran/village-homepage/pkg/marketplace"
)

// RandomSite builds an approved directory entry with randomized content.
// Identity fields are taken from overrides when provided, so tests only spell
// out what they assert on.
func RandomSite(overrides ...func(*directory.Site)) *directory.Site {
	host := strings.ToLower(randomdata.SillyName())
	site := &directory.Site{
		ID:          randomdata.Alphanumeric(26),
		URL:         fmt.Sprintf("https://%s.example.org", host),
		Title:       randomdata.SillyName(),
		Description: randomdata.Paragraph(),
		SubmitterID: fmt.Sprintf("user-%s", strings.ToLower(randomdata.SillyName())),
		Status:      directory.SiteStatusApproved,
		CreatedAt:   time.Now().UTC(),
		ApprovedAt:  time.Now().UTC(),
	}
	for _, override := range overrides {
		override(site)
	}
	return site
}

// RandomMembership builds an approved category membership for a site.
func RandomMembership(siteID, category string, overrides ...func(*directory.Membership)) *directory.Membership {
	membership := &directory.Membership{
		SiteID:    siteID,
		Category:  category,
		Status:    directory.SiteStatusApproved,
		CreatedAt: time.Now().UTC(),
	}
	for _, override := range overrides {
		override(membership)
	}
	return membership
}

// RandomListing builds an active marketplace listing with randomized content.
func RandomListing(overrides ...func(*marketplace.Listing)) *marketplace.Listing {
	now := time.Now().UTC()
	price := int64(randomdata.Number(100, 100000))
	listing := &marketplace.Listing{
		ID:          randomdata.Alphanumeric(26),
		SellerID:    fmt.Sprintf("user-%s", strings.ToLower(randomdata.SillyName())),
		Title:       randomdata.SillyName(),
		Description: randomdata.Paragraph(),
		PriceCents:  &price,
		Category:    "general",
		Status:      marketplace.ListingStatusActive,
		MaskedEmail: fmt.Sprintf("%s@relay.example.org", strings.ToLower(randomdata.Alphanumeric(12))),
		CreatedAt:   now,
		ActivatedAt: now,
		ExpiresAt:   now.Add(marketplace.ListingDuration),
	}
	for _, override := range overrides {
		override(listing)
	}
	return listing
}
