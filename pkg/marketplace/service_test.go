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

package marketplace_test

import (
	"context"
	"fmt"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/fake"
	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/marketplace"
	"github.com/teacurran/village-homepage/pkg/queue"
)

func price(cents int64) *int64 { return &cents }

var _ = Describe("Service", func() {
	var ctx context.Context
	var store *fake.MarketplaceStore
	var stripe *fake.StripeGateway
	var q *queue.InMemory
	var txr *fake.MarketplaceTransactor
	var clk *testingclock.FakeClock
	var service *marketplace.Service

	draft := marketplace.Draft{
		SellerID:    "seller-1",
		Title:       "Vintage road bike",
		Description: strings.Repeat("A lovely steel frame with fresh tires. ", 3),
		PriceCents:  price(12500),
		Category:    "bikes",
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = fake.NewMarketplaceStore()
		stripe = &fake.StripeGateway{}
		clk = testingclock.NewFakeClock(time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC))
		q = queue.NewInMemory(clk, nil)
		txr = fake.NewMarketplaceTransactor(store, q)
		service = marketplace.NewService(txr, store, stripe, clk, "relay.village.test")
	})

	createActive := func() *marketplace.Listing {
		listing, err := service.CreateDraft(ctx, draft)
		Expect(err).ToNot(HaveOccurred())
		_, err = service.BeginCheckout(ctx, listing.ID, "seller-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(service.HandlePaymentEvent(ctx, &gateways.StripeEvent{
			ID:              "evt_1",
			Type:            "checkout.session.completed",
			PaymentIntentID: "pi_1",
			Metadata:        map[string]string{"listing_id": listing.ID},
		})).To(Succeed())
		updated, err := store.GetListing(ctx, listing.ID)
		Expect(err).ToNot(HaveOccurred())
		return updated
	}

	Context("CreateDraft", func() {
		It("should mint a grammar-conforming masked email", func() {
			listing, err := service.CreateDraft(ctx, draft)
			Expect(err).ToNot(HaveOccurred())
			Expect(listing.Status).To(Equal(marketplace.ListingStatusDraft))
			_, ok := marketplace.ParseMaskedEmail(listing.MaskedEmail)
			Expect(ok).To(BeTrue())
			Expect(listing.MaskedEmail).To(HaveSuffix("@relay.village.test"))
		})
		It("should accept a nil price as contact-seller", func() {
			free := draft
			free.PriceCents = nil
			_, err := service.CreateDraft(ctx, free)
			Expect(err).ToNot(HaveOccurred())
		})
		It("should collect every field violation in one error", func() {
			bad := marketplace.Draft{SellerID: "seller-1", Title: "short", Description: "too short", PriceCents: price(-1)}
			_, err := service.CreateDraft(ctx, bad)
			Expect(errors.IsValidation(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("title"))
			Expect(err.Error()).To(ContainSubstring("description"))
			Expect(err.Error()).To(ContainSubstring("price"))
		})
	})

	Context("checkout and activation", func() {
		It("should move draft through pending_payment to active", func() {
			listing, err := service.CreateDraft(ctx, draft)
			Expect(err).ToNot(HaveOccurred())
			url, err := service.BeginCheckout(ctx, listing.ID, "seller-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(url).To(ContainSubstring(listing.ID))
			pending, _ := store.GetListing(ctx, listing.ID)
			Expect(pending.Status).To(Equal(marketplace.ListingStatusPendingPayment))

			Expect(service.HandlePaymentEvent(ctx, &gateways.StripeEvent{
				PaymentIntentID: "pi_1",
				Metadata:        map[string]string{"listing_id": listing.ID},
			})).To(Succeed())
			active, _ := store.GetListing(ctx, listing.ID)
			Expect(active.Status).To(Equal(marketplace.ListingStatusActive))
			Expect(active.ExpiresAt).To(Equal(clk.Now().Add(marketplace.ListingDuration)))
		})
		It("should enqueue exactly one activation email", func() {
			createActive()
			jobs, err := q.Claim(ctx, queue.FamilyHigh, "test", time.Minute, 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].Type).To(Equal(queue.TypeEmailSend))
		})
		It("should treat a redelivered payment event as a no-op", func() {
			listing := createActive()
			Expect(service.HandlePaymentEvent(ctx, &gateways.StripeEvent{
				PaymentIntentID: "pi_1",
				Metadata:        map[string]string{"listing_id": listing.ID},
			})).To(Succeed())
			jobs, err := q.Claim(ctx, queue.FamilyHigh, "test", time.Minute, 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(jobs).To(HaveLen(1))
		})
		It("should refuse checkout by a non-owner", func() {
			listing, err := service.CreateDraft(ctx, draft)
			Expect(err).ToNot(HaveOccurred())
			_, err = service.BeginCheckout(ctx, listing.ID, "intruder")
			Expect(errors.IsValidation(err)).To(BeTrue())
		})
		It("should reject events without a listing id", func() {
			err := service.HandlePaymentEvent(ctx, &gateways.StripeEvent{PaymentIntentID: "pi_9"})
			Expect(errors.IsValidation(err)).To(BeTrue())
		})
		It("should activate and enqueue the receipt in one transaction", func() {
			listing, err := service.CreateDraft(ctx, draft)
			Expect(err).ToNot(HaveOccurred())
			_, err = service.BeginCheckout(ctx, listing.ID, "seller-1")
			Expect(err).ToNot(HaveOccurred())

			before := txr.Calls
			txr.NextErr = fmt.Errorf("connection reset")
			err = service.HandlePaymentEvent(ctx, &gateways.StripeEvent{
				PaymentIntentID: "pi_1",
				Metadata:        map[string]string{"listing_id": listing.ID},
			})
			Expect(err).To(MatchError(ContainSubstring("connection reset")))
			Expect(txr.Calls).To(Equal(before + 1))
			pending, _ := store.GetListing(ctx, listing.ID)
			Expect(pending.Status).To(Equal(marketplace.ListingStatusPendingPayment))
			jobs, err := q.Claim(ctx, queue.FamilyHigh, "test", time.Minute, 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(jobs).To(BeEmpty())
		})
	})

	Context("bumps", func() {
		bumpEvent := func(listingID, intentID string) *gateways.StripeEvent {
			return &gateways.StripeEvent{
				ID:              "evt_" + intentID,
				Type:            "checkout.session.completed",
				PaymentIntentID: intentID,
				Metadata:        map[string]string{"listing_id": listingID, "purpose": marketplace.CheckoutPurposeBump},
			}
		}

		It("should not move the bump until its payment event lands", func() {
			listing := createActive()
			url, err := service.BeginBumpCheckout(ctx, listing.ID, "seller-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(url).To(ContainSubstring(listing.ID))
			session := stripe.CheckoutSessions[len(stripe.CheckoutSessions)-1]
			Expect(session.Purpose).To(Equal(marketplace.CheckoutPurposeBump))
			Expect(session.Amount).To(Equal(marketplace.BumpPriceCents))

			unpaid, _ := store.GetListing(ctx, listing.ID)
			Expect(unpaid.BumpedAt).To(BeZero())

			Expect(service.HandlePaymentEvent(ctx, bumpEvent(listing.ID, "pi_bump_1"))).To(Succeed())
			bumped, _ := store.GetListing(ctx, listing.ID)
			Expect(bumped.BumpedAt).To(Equal(clk.Now()))
		})
		It("should sell at most one bump per 24 hours", func() {
			listing := createActive()
			_, err := service.BeginBumpCheckout(ctx, listing.ID, "seller-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(service.HandlePaymentEvent(ctx, bumpEvent(listing.ID, "pi_bump_1"))).To(Succeed())

			_, err = service.BeginBumpCheckout(ctx, listing.ID, "seller-1")
			Expect(errors.IsValidation(err)).To(BeTrue())
			Expect(errors.Code(err)).To(Equal("bump_too_soon"))

			clk.Step(marketplace.BumpSpacing)
			_, err = service.BeginBumpCheckout(ctx, listing.ID, "seller-1")
			Expect(err).ToNot(HaveOccurred())
		})
		It("should treat a redelivered bump event as a no-op", func() {
			listing := createActive()
			_, err := service.BeginBumpCheckout(ctx, listing.ID, "seller-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(service.HandlePaymentEvent(ctx, bumpEvent(listing.ID, "pi_bump_1"))).To(Succeed())
			first, _ := store.GetListing(ctx, listing.ID)

			clk.Step(time.Hour)
			Expect(service.HandlePaymentEvent(ctx, bumpEvent(listing.ID, "pi_bump_1"))).To(Succeed())
			redelivered, _ := store.GetListing(ctx, listing.ID)
			Expect(redelivered.BumpedAt).To(Equal(first.BumpedAt))
		})
		It("should refuse selling bumps on inactive listings", func() {
			listing, err := service.CreateDraft(ctx, draft)
			Expect(err).ToNot(HaveOccurred())
			_, err = service.BeginBumpCheckout(ctx, listing.ID, "seller-1")
			Expect(errors.IsValidation(err)).To(BeTrue())
		})
	})

	Context("Flag", func() {
		It("should pull the listing and notify moderators at the third flag", func() {
			listing := createActive()
			Expect(service.Flag(ctx, listing.ID, "user-a")).To(Succeed())
			Expect(service.Flag(ctx, listing.ID, "user-b")).To(Succeed())
			flagged, _ := store.GetListing(ctx, listing.ID)
			Expect(flagged.Status).To(Equal(marketplace.ListingStatusActive))

			Expect(service.Flag(ctx, listing.ID, "user-c")).To(Succeed())
			flagged, _ = store.GetListing(ctx, listing.ID)
			Expect(flagged.Status).To(Equal(marketplace.ListingStatusFlagged))

			jobs, err := q.Claim(ctx, queue.FamilyHigh, "test", time.Minute, 10)
			Expect(err).ToNot(HaveOccurred())
			types := []queue.Type{jobs[0].Type}
			if len(jobs) > 1 {
				types = append(types, jobs[1].Type)
			}
			Expect(types).To(ContainElement(queue.TypeModeratorNotify))
		})
	})

	Context("Remove", func() {
		It("should be idempotent", func() {
			listing := createActive()
			Expect(service.Remove(ctx, listing.ID, "seller-1")).To(Succeed())
			Expect(service.Remove(ctx, listing.ID, "seller-1")).To(Succeed())
			removed, _ := store.GetListing(ctx, listing.ID)
			Expect(removed.Status).To(Equal(marketplace.ListingStatusRemoved))
		})
	})
})
