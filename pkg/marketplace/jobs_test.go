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
	"encoding/json"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/teacurran/village-homepage/pkg/fake"
	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/marketplace"
	"github.com/teacurran/village-homepage/pkg/queue"
)

var _ = Describe("lifecycle jobs", func() {
	var ctx context.Context
	var store *fake.MarketplaceStore
	var q *queue.InMemory
	var clk *testingclock.FakeClock
	now := time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)

	seedActive := func(id string, expiresAt time.Time) {
		Expect(store.CreateListing(ctx, fake.RandomListing(func(l *marketplace.Listing) {
			l.ID = id
			l.SellerID = "seller-1"
			l.MaskedEmail = fmt.Sprintf("listing-00000000-0000-0000-0000-%012s@relay.village.test", id)
			l.ExpiresAt = expiresAt
		}))).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = fake.NewMarketplaceStore()
		clk = testingclock.NewFakeClock(now)
		q = queue.NewInMemory(clk, nil)
	})

	Context("ExpirationHandler", func() {
		It("should expire due listings and leave the rest alone", func() {
			seedActive("000000000001", now.Add(-time.Hour))
			seedActive("000000000002", now.Add(48*time.Hour))
			handler := marketplace.NewExpirationHandler(store, q, clk)
			Expect(handler.Run(ctx, nil)).To(Succeed())
			Expect(store.Listings["000000000001"].Status).To(Equal(marketplace.ListingStatusExpired))
			Expect(store.Listings["000000000002"].Status).To(Equal(marketplace.ListingStatusActive))

			jobs, err := q.Claim(ctx, queue.FamilyLow, "test", time.Minute, 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].Type).To(Equal(queue.TypeEmailSend))
		})
		It("should be idempotent across reruns", func() {
			seedActive("000000000001", now.Add(-time.Hour))
			handler := marketplace.NewExpirationHandler(store, q, clk)
			Expect(handler.Run(ctx, nil)).To(Succeed())
			Expect(handler.Run(ctx, nil)).To(Succeed())
			jobs, err := q.Claim(ctx, queue.FamilyLow, "test", time.Minute, 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(jobs).To(HaveLen(1))
		})
	})

	Context("ReminderHandler", func() {
		It("should remind sellers three days out exactly once", func() {
			seedActive("000000000001", now.Add(2*24*time.Hour))
			seedActive("000000000002", now.Add(10*24*time.Hour))
			handler := marketplace.NewReminderHandler(store, q, clk)
			Expect(handler.Run(ctx, nil)).To(Succeed())
			Expect(store.Listings["000000000001"].RemindedAt).To(Equal(now))
			Expect(store.Listings["000000000002"].RemindedAt).To(BeZero())

			Expect(handler.Run(ctx, nil)).To(Succeed())
			jobs, err := q.Claim(ctx, queue.FamilyLow, "test", time.Minute, 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(jobs).To(HaveLen(1))
		})
		It("should not remind for already-expired listings", func() {
			seedActive("000000000001", now.Add(-time.Hour))
			handler := marketplace.NewReminderHandler(store, q, clk)
			Expect(handler.Run(ctx, nil)).To(Succeed())
			Expect(store.Listings["000000000001"].RemindedAt).To(BeZero())
		})
	})
})

var _ = Describe("RelayHandler", func() {
	var ctx context.Context
	var store *fake.MarketplaceStore
	var imap *fake.IMAPFetcher
	var mailer *fake.Mailer
	var users *fake.UserDirectory
	var handler *marketplace.RelayHandler

	const maskedAddr = "listing-1b4e28ba-2fa1-11d2-883f-0016d3cca427@relay.village.test"

	BeforeEach(func() {
		ctx = context.Background()
		store = fake.NewMarketplaceStore()
		imap = &fake.IMAPFetcher{}
		mailer = &fake.Mailer{}
		users = fake.NewUserDirectory()
		users.Emails["seller-1"] = "seller@example.org"
		handler = marketplace.NewRelayHandler(store, imap, mailer, users)
		Expect(store.CreateListing(ctx, &marketplace.Listing{
			ID: "lst-1", SellerID: "seller-1", Title: "Road bike",
			Status:      marketplace.ListingStatusActive,
			MaskedEmail: maskedAddr,
		})).To(Succeed())
	})

	It("should forward buyer mail to the seller with the buyer in reply-to", func() {
		imap.Unseen = []gateways.InboundMail{{
			MessageID: "m1", From: "buyer@example.net", To: maskedAddr,
			Subject: "Is it available?", Body: "Hi, still for sale?",
		}}
		Expect(handler.Run(ctx, nil)).To(Succeed())
		sent := mailer.SentMail()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].To).To(Equal("seller@example.org"))
		Expect(sent[0].ReplyTo).To(Equal("buyer@example.net"))
		Expect(sent[0].From).To(Equal(maskedAddr))
		Expect(sent[0].Subject).To(ContainSubstring("Road bike"))
	})
	It("should drop mail to addresses outside the grammar", func() {
		imap.Unseen = []gateways.InboundMail{{MessageID: "m1", From: "buyer@example.net", To: "listing-nonsense@relay.village.test"}}
		Expect(handler.Run(ctx, nil)).To(Succeed())
		Expect(mailer.SentMail()).To(BeEmpty())
	})
	It("should drop mail for unknown listings", func() {
		imap.Unseen = []gateways.InboundMail{{
			MessageID: "m1", From: "buyer@example.net",
			To: "listing-00000000-0000-0000-0000-000000000000@relay.village.test",
		}}
		Expect(handler.Run(ctx, nil)).To(Succeed())
		Expect(mailer.SentMail()).To(BeEmpty())
	})
	It("should drop mail for inactive listings", func() {
		listing, _ := store.GetListing(ctx, "lst-1")
		listing.Status = marketplace.ListingStatusExpired
		Expect(store.SaveListing(ctx, listing)).To(Succeed())
		imap.Unseen = []gateways.InboundMail{{MessageID: "m1", From: "buyer@example.net", To: maskedAddr}}
		Expect(handler.Run(ctx, nil)).To(Succeed())
		Expect(mailer.SentMail()).To(BeEmpty())
	})

	DescribeTable("ParseMaskedEmail",
		func(address string, expectOK bool) {
			_, ok := marketplace.ParseMaskedEmail(address)
			Expect(ok).To(Equal(expectOK))
		},
		Entry("valid", maskedAddr, true),
		Entry("uppercase uuid rejected", "listing-1B4E28BA-2FA1-11D2-883F-0016D3CCA427@relay.village.test", false),
		Entry("missing prefix", "1b4e28ba-2fa1-11d2-883f-0016d3cca427@relay.village.test", false),
		Entry("no domain", "listing-1b4e28ba-2fa1-11d2-883f-0016d3cca427@", false),
		Entry("not a uuid", "listing-hello@relay.village.test", false),
	)
})

var _ = Describe("EmailHandler", func() {
	var ctx context.Context
	var store *fake.MarketplaceStore
	var mailer *fake.Mailer
	var users *fake.UserDirectory
	var handler *marketplace.EmailHandler

	BeforeEach(func() {
		ctx = context.Background()
		store = fake.NewMarketplaceStore()
		mailer = &fake.Mailer{}
		users = fake.NewUserDirectory()
		users.Emails["seller-1"] = "seller@example.org"
		handler = marketplace.NewEmailHandler(store, mailer, users, "noreply@village.test")
		Expect(store.CreateListing(ctx, &marketplace.Listing{
			ID: "lst-1", SellerID: "seller-1", Title: "Road bike",
			Status: marketplace.ListingStatusActive,
		})).To(Succeed())
	})

	It("should send the notification to the seller's real address", func() {
		payload := json.RawMessage(`{"kind": "listing_activated", "listing_id": "lst-1", "seller_id": "seller-1"}`)
		Expect(handler.Validate(payload)).To(Succeed())
		Expect(handler.Run(ctx, payload)).To(Succeed())
		sent := mailer.SentMail()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].To).To(Equal("seller@example.org"))
		Expect(sent[0].From).To(Equal("noreply@village.test"))
	})
	It("should reject unknown notification kinds", func() {
		Expect(handler.Validate(json.RawMessage(`{"kind": "nonsense", "listing_id": "lst-1", "seller_id": "seller-1"}`))).ToNot(Succeed())
	})
})
