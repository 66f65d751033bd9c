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

package registry_test

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
)

type stubHandler struct {
	decl registry.Declaration
}

func (h stubHandler) Declare() registry.Declaration            { return h.decl }
func (h stubHandler) Validate(_ json.RawMessage) error         { return nil }
func (h stubHandler) Run(_ context.Context, _ json.RawMessage) error { return nil }

var _ = Describe("Registry", func() {
	var r *registry.Registry

	BeforeEach(func() {
		r = registry.New(registry.CapabilityFetcher)
	})

	It("should resolve a registered handler", func() {
		Expect(r.Register(stubHandler{decl: registry.Declaration{
			Type:        queue.TypeRSSRefresh,
			Family:      queue.FamilyDefault,
			MaxDuration: time.Minute,
		}})).To(Succeed())
		h, err := r.Resolve(queue.TypeRSSRefresh)
		Expect(err).ToNot(HaveOccurred())
		Expect(h).ToNot(BeNil())
	})
	It("should fail unknown types non-retryably", func() {
		_, err := r.Resolve(queue.TypeWeatherRefresh)
		Expect(err).To(HaveOccurred())
		Expect(errors.IsValidation(err)).To(BeTrue())
		Expect(errors.Code(err)).To(Equal("unknown_type"))
	})
	It("should reject duplicate registrations", func() {
		decl := registry.Declaration{Type: queue.TypeRSSRefresh, MaxDuration: time.Minute}
		Expect(r.Register(stubHandler{decl: decl})).To(Succeed())
		Expect(r.Register(stubHandler{decl: decl})).To(HaveOccurred())
	})
	It("should reject handlers with unprovisioned capabilities", func() {
		Expect(r.Register(stubHandler{decl: registry.Declaration{
			Type:         queue.TypeScreenshotCapture,
			MaxDuration:  time.Minute,
			Capabilities: []registry.Capability{registry.CapabilityBrowser},
		}})).To(HaveOccurred())
	})
	It("should reject handlers without a max duration", func() {
		Expect(r.Register(stubHandler{decl: registry.Declaration{
			Type: queue.TypeRSSRefresh,
		}})).To(HaveOccurred())
	})
})

var _ = Describe("BindPayload", func() {
	type payload struct {
		SiteID string `json:"site_id"`
	}
	It("should bind and validate a payload", func() {
		bound, err := registry.BindPayload(json.RawMessage(`{"site_id":"s-1"}`), func(p payload) error {
			if p.SiteID == "" {
				return fmt.Errorf("site_id is required")
			}
			return nil
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(bound.SiteID).To(Equal("s-1"))
	})
	It("should classify missing required fields as validation errors", func() {
		_, err := registry.BindPayload(json.RawMessage(`{}`), func(p payload) error {
			if p.SiteID == "" {
				return fmt.Errorf("site_id is required")
			}
			return nil
		})
		Expect(errors.IsValidation(err)).To(BeTrue())
	})
	It("should ignore unknown fields", func() {
		bound, err := registry.BindPayload[payload](json.RawMessage(`{"site_id":"s-1","extra":true}`), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(bound.SiteID).To(Equal("s-1"))
	})
})
