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

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/teacurran/village-homepage/pkg/feeds"
)

// FeedStore implements feeds.Store.
type FeedStore struct {
	db querier
}

func (s *FeedStore) ListSources(ctx context.Context, kind feeds.Kind) ([]*feeds.Source, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, kind, url, etag, last_refreshed_at, failure_count
		FROM feed_sources WHERE kind = $1 ORDER BY id`, kind)
	if err != nil {
		return nil, fmt.Errorf("listing %s sources, %w", kind, err)
	}
	defer rows.Close()
	var sources []*feeds.Source
	for rows.Next() {
		var source feeds.Source
		var refreshed *time.Time
		if err := rows.Scan(&source.ID, &source.Kind, &source.URL, &source.ETag,
			&refreshed, &source.FailureCount); err != nil {
			return nil, err
		}
		if refreshed != nil {
			source.LastRefreshedAt = *refreshed
		}
		sources = append(sources, &source)
	}
	return sources, rows.Err()
}

func (s *FeedStore) SaveSource(ctx context.Context, source *feeds.Source) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feed_sources (id, kind, url, etag, last_refreshed_at, failure_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			etag = EXCLUDED.etag,
			last_refreshed_at = EXCLUDED.last_refreshed_at,
			failure_count = EXCLUDED.failure_count`,
		source.ID, source.Kind, source.URL, source.ETag,
		nullableTime(source.LastRefreshedAt), source.FailureCount)
	if err != nil {
		return fmt.Errorf("saving source %q, %w", source.ID, err)
	}
	return nil
}

func (s *FeedStore) SaveSnapshot(ctx context.Context, sourceID string, body []byte, fetchedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feed_snapshots (source_id, body, fetched_at) VALUES ($1, $2, $3)`,
		sourceID, body, fetchedAt)
	if err != nil {
		return fmt.Errorf("saving snapshot for %q, %w", sourceID, err)
	}
	return nil
}
