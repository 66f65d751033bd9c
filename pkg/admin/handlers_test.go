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

package admin_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/teacurran/village-homepage/pkg/admin"
	"github.com/teacurran/village-homepage/pkg/directory"
	"github.com/teacurran/village-homepage/pkg/fake"
)

var _ = Describe("NotifyHandler", func() {
	var ctx context.Context
	var mailer *fake.Mailer
	var handler *admin.NotifyHandler

	BeforeEach(func() {
		ctx = context.Background()
		mailer = &fake.Mailer{}
		handler = admin.NewNotifyHandler(mailer, "noreply@village.test", "moderators@village.test")
	})

	It("should mail the moderator list with the reason and subject ids", func() {
		payload := json.RawMessage(`{"reason": "link_dead", "site_id": "site-1", "url": "https://gone.example.org"}`)
		Expect(handler.Validate(payload)).To(Succeed())
		Expect(handler.Run(ctx, payload)).To(Succeed())

		sent := mailer.SentMail()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].To).To(Equal("moderators@village.test"))
		Expect(sent[0].Subject).To(ContainSubstring("link_dead"))
		Expect(sent[0].Body).To(ContainSubstring("site-1"))
		Expect(sent[0].Body).To(ContainSubstring("https://gone.example.org"))
	})
	It("should reject payloads without a reason", func() {
		Expect(handler.Validate(json.RawMessage(`{"site_id": "site-1"}`))).ToNot(Succeed())
	})
	It("should reject payloads without any subject", func() {
		Expect(handler.Validate(json.RawMessage(`{"reason": "flagged"}`))).ToNot(Succeed())
	})
})

var _ = Describe("SitemapHandler", func() {
	var ctx context.Context
	var sites *fake.DirectoryStore
	var objects *fake.ObjectStore
	var handler *admin.SitemapHandler

	BeforeEach(func() {
		ctx = context.Background()
		sites = fake.NewDirectoryStore()
		objects = fake.NewObjectStore()
		handler = admin.NewSitemapHandler(sites, objects, "https://village.test/")
	})

	It("should write a sitemap covering the approved directory", func() {
		Expect(sites.CreateSite(ctx, &directory.Site{ID: "site-1", URL: "https://a.example.org", Status: directory.SiteStatusApproved})).To(Succeed())
		Expect(sites.CreateSite(ctx, &directory.Site{ID: "site-2", URL: "https://b.example.org", Status: directory.SiteStatusPending})).To(Succeed())

		Expect(handler.Run(ctx, nil)).To(Succeed())
		body := string(objects.Objects["sitemap.xml"])
		Expect(body).To(ContainSubstring("<urlset"))
		Expect(body).To(ContainSubstring("https://village.test/directory/site-1"))
		Expect(body).ToNot(ContainSubstring("site-2"))
	})
})

var _ = Describe("GDPRExportHandler", func() {
	var ctx context.Context
	var source *fake.GDPRSource
	var objects *fake.ObjectStore
	var handler *admin.GDPRExportHandler

	BeforeEach(func() {
		ctx = context.Background()
		source = fake.NewGDPRSource()
		objects = fake.NewObjectStore()
		clk := testingclock.NewFakeClock(time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC))
		handler = admin.NewGDPRExportHandler(source, objects, clk)
	})

	It("should materialize the export under the user's prefix", func() {
		source.Exports["user-1"] = json.RawMessage(`{"karma": 12}`)
		payload := json.RawMessage(`{"user_id": "user-1"}`)
		Expect(handler.Validate(payload)).To(Succeed())
		Expect(handler.Run(ctx, payload)).To(Succeed())

		Expect(objects.Objects).To(HaveLen(1))
		for key, body := range objects.Objects {
			Expect(key).To(HavePrefix("exports/user-1/"))
			Expect(string(body)).To(Equal(`{"karma": 12}`))
		}
	})
	It("should reject payloads without a user id", func() {
		Expect(handler.Validate(json.RawMessage(`{}`))).ToNot(Succeed())
	})
})
