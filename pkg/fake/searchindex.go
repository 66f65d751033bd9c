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
	"math"
	"strings"
	"sync"

	"github.com/teacurran/village-homepage/pkg/gateways"
)

// SearchIndex matches by case-insensitive substring over title and body, in
// insertion order. Good enough to exercise the façade's filtering and limits.
type SearchIndex struct {
	mu       sync.Mutex
	order    []string
	docs     map[string]gateways.SearchDocument
	QueryErr error
	IndexErr error
}

func NewSearchIndex() *SearchIndex {
	return &SearchIndex{docs: map[string]gateways.SearchDocument{}}
}

func (s *SearchIndex) Index(_ context.Context, docs ...gateways.SearchDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IndexErr != nil {
		return s.IndexErr
	}
	for _, doc := range docs {
		if _, ok := s.docs[doc.ID]; !ok {
			s.order = append(s.order, doc.ID)
		}
		s.docs[doc.ID] = doc
	}
	return nil
}

func (s *SearchIndex) Remove(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.docs, id)
	}
	return nil
}

func (s *SearchIndex) Query(_ context.Context, text, kind string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	needle := strings.ToLower(text)
	var ids []string
	for _, id := range s.order {
		doc, ok := s.docs[id]
		if !ok {
			continue
		}
		if kind != "" && doc.Kind != kind {
			continue
		}
		if !strings.Contains(strings.ToLower(doc.Title), needle) &&
			!strings.Contains(strings.ToLower(doc.Body), needle) {
			continue
		}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (s *SearchIndex) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.docs = map[string]gateways.SearchDocument{}
	s.QueryErr = nil
	s.IndexErr = nil
}

// GeoPoint is one located document in a GeoStore.
type GeoPoint struct {
	ID   string
	Kind string
	Lat  float64
	Lon  float64
}

// GeoStore answers radius queries with the haversine distance over a static
// point set.
type GeoStore struct {
	mu     sync.Mutex
	Points []GeoPoint
	Err    error
}

func (g *GeoStore) WithinRadius(_ context.Context, lat, lon, radiusMiles float64, kind string, limit int) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	var ids []string
	for _, point := range g.Points {
		if kind != "" && point.Kind != kind {
			continue
		}
		if haversineMiles(lat, lon, point.Lat, point.Lon) > radiusMiles {
			continue
		}
		ids = append(ids, point.ID)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

const earthRadiusMiles = 3958.8

func haversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(a))
}
