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
	"sync"
	"time"

	"github.com/teacurran/village-homepage/pkg/feeds"
)

// FeedSnapshot is one stored fetch result.
type FeedSnapshot struct {
	SourceID  string
	Body      []byte
	FetchedAt time.Time
}

// FeedStore keeps sources and snapshots in memory.
type FeedStore struct {
	mu        sync.Mutex
	Sources   map[string]*feeds.Source
	Snapshots []FeedSnapshot
}

func NewFeedStore() *FeedStore {
	return &FeedStore{Sources: map[string]*feeds.Source{}}
}

func (s *FeedStore) Seed(sources ...*feeds.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, source := range sources {
		copied := *source
		s.Sources[source.ID] = &copied
	}
}

func (s *FeedStore) ListSources(_ context.Context, kind feeds.Kind) ([]*feeds.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*feeds.Source
	for _, source := range s.Sources {
		if source.Kind == kind {
			copied := *source
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *FeedStore) SaveSource(_ context.Context, source *feeds.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *source
	s.Sources[source.ID] = &copied
	return nil
}

func (s *FeedStore) SaveSnapshot(_ context.Context, sourceID string, body []byte, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Snapshots = append(s.Snapshots, FeedSnapshot{SourceID: sourceID, Body: append([]byte{}, body...), FetchedAt: fetchedAt})
	return nil
}

func (s *FeedStore) SnapshotsFor(sourceID string) []FeedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FeedSnapshot
	for _, snap := range s.Snapshots {
		if snap.SourceID == sourceID {
			out = append(out, snap)
		}
	}
	return out
}

func (s *FeedStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sources = map[string]*feeds.Source{}
	s.Snapshots = nil
}
