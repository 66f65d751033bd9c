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

// Package search is the read-side façade over the full-text index and the
// store's radius query. Directory sites and marketplace listings share one
// document space, distinguished by Kind.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

const (
	KindSite    = "site"
	KindListing = "listing"

	DefaultLimit = 50
	MaxLimit     = 200
	// MaxRadiusMiles bounds radius queries so a wide circle cannot scan the
	// whole table.
	MaxRadiusMiles = 500.0
)

// GeoStore answers radius queries in miles. The pgx implementation uses
// earth_distance-style SQL; fakes compute haversine directly.
type GeoStore interface {
	WithinRadius(ctx context.Context, lat, lon, radiusMiles float64, kind string, limit int) ([]string, error)
}

// Query is one search request. Text and geo are independently optional but at
// least one must be present.
type Query struct {
	Text        string
	Kind        string
	Lat         float64
	Lon         float64
	RadiusMiles float64
	HasGeo      bool
	Limit       int
}

type Service struct {
	store GeoStore
	index gateways.SearchIndex
}

func NewService(store GeoStore, index gateways.SearchIndex) *Service {
	return &Service{store: store, index: index}
}

// Search returns matching document ids, best match first. When both text and
// geo constraints are present the text ranking is kept and the geo result set
// acts as a filter.
func (s *Service) Search(ctx context.Context, query Query) ([]string, error) {
	if err := s.validate(query); err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	text := strings.TrimSpace(query.Text)
	if text == "" {
		ids, err := s.store.WithinRadius(ctx, query.Lat, query.Lon, query.RadiusMiles, query.Kind, limit)
		if err != nil {
			return nil, fmt.Errorf("radius query, %w", err)
		}
		searches.WithLabelValues("geo").Inc()
		return ids, nil
	}

	// Over-fetch text matches so the geo filter still fills the page.
	fetch := limit
	if query.HasGeo {
		fetch = MaxLimit
	}
	ranked, err := s.index.Query(ctx, text, query.Kind, fetch)
	if err != nil {
		return nil, fmt.Errorf("index query, %w", err)
	}
	if !query.HasGeo {
		searches.WithLabelValues("text").Inc()
		return lo.Slice(ranked, 0, limit), nil
	}

	nearby, err := s.store.WithinRadius(ctx, query.Lat, query.Lon, query.RadiusMiles, query.Kind, MaxLimit)
	if err != nil {
		return nil, fmt.Errorf("radius query, %w", err)
	}
	within := lo.SliceToMap(nearby, func(id string) (string, struct{}) { return id, struct{}{} })
	filtered := lo.Filter(ranked, func(id string, _ int) bool {
		_, ok := within[id]
		return ok
	})
	logging.FromContext(ctx).With("text", text, "radius-miles", query.RadiusMiles).
		Debugf("search matched %d of %d ranked documents", len(filtered), len(ranked))
	searches.WithLabelValues("text_geo").Inc()
	return lo.Slice(filtered, 0, limit), nil
}

// IndexDocuments writes documents to the index. Callers invoke this from the
// same code paths that persist the underlying rows.
func (s *Service) IndexDocuments(ctx context.Context, docs ...gateways.SearchDocument) error {
	if len(docs) == 0 {
		return nil
	}
	if err := s.index.Index(ctx, docs...); err != nil {
		return fmt.Errorf("indexing %d documents, %w", len(docs), err)
	}
	indexed.Add(float64(len(docs)))
	return nil
}

// RemoveDocuments drops documents from the index, tolerating ids that were
// never indexed.
func (s *Service) RemoveDocuments(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.index.Remove(ctx, ids...); err != nil {
		return fmt.Errorf("removing %d documents, %w", len(ids), err)
	}
	return nil
}

func (s *Service) validate(query Query) error {
	if strings.TrimSpace(query.Text) == "" && !query.HasGeo {
		return errors.Validation("empty_query", fmt.Errorf("a search needs text, a radius, or both"))
	}
	if query.Kind != "" && query.Kind != KindSite && query.Kind != KindListing {
		return errors.Validation("unknown_kind", fmt.Errorf("unknown document kind %q", query.Kind))
	}
	if query.HasGeo {
		if query.RadiusMiles <= 0 || query.RadiusMiles > MaxRadiusMiles {
			return errors.Validation("invalid_radius", fmt.Errorf("radius must be in (0, %.0f] miles, got %.1f", MaxRadiusMiles, query.RadiusMiles))
		}
		if query.Lat < -90 || query.Lat > 90 || query.Lon < -180 || query.Lon > 180 {
			return errors.Validation("invalid_coordinates", fmt.Errorf("coordinates (%f, %f) out of range", query.Lat, query.Lon))
		}
	}
	return nil
}
