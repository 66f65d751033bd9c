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

// Package screenshot renders directory sites to PNG through a capped pool of
// headless browser sessions.
package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/utils/ids"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

const (
	// MaxConcurrentCaptures caps browser renders across the whole process.
	// Headless browsers are the heaviest thing this service runs.
	MaxConcurrentCaptures = 3

	// DefaultViewportWidth matches the directory card renderer.
	DefaultViewportWidth = 1280

	// exhaustionThreshold is how long a capture may wait on the semaphore
	// before the wait counts as pool exhaustion.
	exhaustionThreshold = 30 * time.Second
)

// Coordinator serializes captures through the concurrency cap, renders via
// the session pool, and persists the result to object storage.
type Coordinator struct {
	sem     *semaphore.Weighted
	pool    *SessionPool
	objects gateways.ObjectStore
	clock   clock.PassiveClock
}

func NewCoordinator(pool *SessionPool, objects gateways.ObjectStore, clk clock.PassiveClock) *Coordinator {
	return &Coordinator{
		sem:     semaphore.NewWeighted(MaxConcurrentCaptures),
		pool:    pool,
		objects: objects,
		clock:   clk,
	}
}

// Capture renders url and stores the PNG under a ULID-keyed object path,
// returning the stored object's URL. Waits past the exhaustion threshold are
// recorded; a cancelled wait surfaces as a transient failure so the job
// retries with backoff.
func (c *Coordinator) Capture(ctx context.Context, siteID, url string, width int) (string, error) {
	if width <= 0 {
		width = DefaultViewportWidth
	}
	waitStart := c.clock.Now()
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", errors.Transient("browser_pool_wait_cancelled", err)
	}
	defer c.sem.Release(1)
	if wait := c.clock.Now().Sub(waitStart); wait >= exhaustionThreshold {
		poolExhaustion.Inc()
		logging.FromContext(ctx).With("wait", wait).Debugf("browser pool exhausted")
	}

	session, put, err := c.pool.Get(ctx)
	if err != nil {
		return "", errors.Transient("browser_launch_failed", err)
	}
	png, err := session.Capture(ctx, url, width)
	if err != nil {
		// A failed capture may mean a wedged browser. Drop the session
		// instead of returning it.
		_ = session.Close(ctx)
		return "", errors.Transient("capture_failed", err)
	}
	put()

	key := fmt.Sprintf("screenshots/%s/%s.png", siteID, ids.NewULID(c.clock.Now()))
	location, err := c.objects.Put(ctx, key, "image/png", bytes.NewReader(png))
	if err != nil {
		return "", errors.Transient("object_store_put_failed", err)
	}
	captures.Inc()
	return location, nil
}
