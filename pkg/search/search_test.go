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

package search_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/fake"
	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/search"
)

var _ = Describe("Service", func() {
	var ctx context.Context
	var index *fake.SearchIndex
	var geo *fake.GeoStore
	var service *search.Service

	// Burlington VT and its surroundings; Brooklyn is the far outlier.
	burlington := fake.GeoPoint{ID: "site-burlington", Kind: search.KindSite, Lat: 44.4759, Lon: -73.2121}
	winooski := fake.GeoPoint{ID: "site-winooski", Kind: search.KindSite, Lat: 44.4906, Lon: -73.1857}
	brooklyn := fake.GeoPoint{ID: "site-brooklyn", Kind: search.KindSite, Lat: 40.6782, Lon: -73.9442}

	BeforeEach(func() {
		ctx = context.Background()
		index = fake.NewSearchIndex()
		geo = &fake.GeoStore{Points: []fake.GeoPoint{burlington, winooski, brooklyn}}
		service = search.NewService(geo, index)
		Expect(service.IndexDocuments(ctx,
			gateways.SearchDocument{ID: "site-burlington", Kind: search.KindSite, Title: "Burlington bike collective"},
			gateways.SearchDocument{ID: "site-winooski", Kind: search.KindSite, Title: "Winooski mill museum"},
			gateways.SearchDocument{ID: "site-brooklyn", Kind: search.KindSite, Title: "Brooklyn bike shop"},
			gateways.SearchDocument{ID: "lst-1", Kind: search.KindListing, Title: "Bike for sale"},
		)).To(Succeed())
	})

	It("should answer text-only queries from the index", func() {
		ids, err := service.Search(ctx, search.Query{Text: "bike"})
		Expect(err).ToNot(HaveOccurred())
		Expect(ids).To(Equal([]string{"site-burlington", "site-brooklyn", "lst-1"}))
	})

	It("should restrict by kind", func() {
		ids, err := service.Search(ctx, search.Query{Text: "bike", Kind: search.KindListing})
		Expect(err).ToNot(HaveOccurred())
		Expect(ids).To(Equal([]string{"lst-1"}))
	})

	It("should answer geo-only queries from the store", func() {
		ids, err := service.Search(ctx, search.Query{HasGeo: true, Lat: 44.4759, Lon: -73.2121, RadiusMiles: 10})
		Expect(err).ToNot(HaveOccurred())
		Expect(ids).To(ConsistOf("site-burlington", "site-winooski"))
	})

	It("should keep text ranking while filtering by radius", func() {
		ids, err := service.Search(ctx, search.Query{
			Text: "bike", HasGeo: true, Lat: 44.4759, Lon: -73.2121, RadiusMiles: 10,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(ids).To(Equal([]string{"site-burlington"}))
	})

	It("should honor the result limit", func() {
		for i := 0; i < 5; i++ {
			Expect(service.IndexDocuments(ctx, gateways.SearchDocument{
				ID: fmt.Sprintf("site-extra-%d", i), Kind: search.KindSite, Title: "bike co-op annex",
			})).To(Succeed())
		}
		ids, err := service.Search(ctx, search.Query{Text: "bike", Limit: 3})
		Expect(err).ToNot(HaveOccurred())
		Expect(ids).To(HaveLen(3))
	})

	It("should stop matching removed documents", func() {
		Expect(service.RemoveDocuments(ctx, "site-brooklyn")).To(Succeed())
		ids, err := service.Search(ctx, search.Query{Text: "brooklyn"})
		Expect(err).ToNot(HaveOccurred())
		Expect(ids).To(BeEmpty())
	})

	DescribeTable("query validation",
		func(query search.Query, code string) {
			_, err := service.Search(ctx, query)
			Expect(errors.IsValidation(err)).To(BeTrue())
			Expect(errors.Code(err)).To(Equal(code))
		},
		Entry("empty", search.Query{}, "empty_query"),
		Entry("unknown kind", search.Query{Text: "bike", Kind: "widget"}, "unknown_kind"),
		Entry("zero radius", search.Query{HasGeo: true, Lat: 44, Lon: -73}, "invalid_radius"),
		Entry("oversized radius", search.Query{HasGeo: true, Lat: 44, Lon: -73, RadiusMiles: 1e5}, "invalid_radius"),
		Entry("bad coordinates", search.Query{HasGeo: true, Lat: 104, Lon: -73, RadiusMiles: 5}, "invalid_coordinates"),
	)
})
