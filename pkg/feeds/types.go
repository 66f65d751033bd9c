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

// Package feeds refreshes the portal's external content sources. Each kind
// gets its own job type on the schedule; all kinds share one fetch core with
// conditional requests and throttle-aware failure classification.
package feeds

import (
	"context"
	"time"
)

type Kind string

const (
	KindRSS     Kind = "rss"
	KindWeather Kind = "weather"
	KindStocks  Kind = "stocks"
	KindSocial  Kind = "social"
)

// Source is one upstream endpoint. ETag carries the validator from the last
// 200 so refreshes can short-circuit on 304.
type Source struct {
	ID              string
	Kind            Kind
	URL             string
	ETag            string
	LastRefreshedAt time.Time
	FailureCount    int
}

// Store persists sources and their fetched snapshots.
type Store interface {
	ListSources(ctx context.Context, kind Kind) ([]*Source, error)
	SaveSource(ctx context.Context, source *Source) error
	SaveSnapshot(ctx context.Context, sourceID string, body []byte, fetchedAt time.Time) error
}
