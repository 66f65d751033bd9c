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

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// TickPeriod is the coarsest evaluation period; schedules cannot fire more
// often than once a minute.
const TickPeriod = time.Minute

// PayloadBuilder produces the payload for one firing. Returning false skips
// the firing (stock refresh outside market hours).
type PayloadBuilder func(now time.Time) (any, bool)

// Entry binds a cron expression to a job type, family, and payload builder.
type Entry struct {
	Spec    string
	Type    queue.Type
	Family  queue.Family
	Payload PayloadBuilder

	schedule cron.Schedule
}

// Scheduler turns cron specs into enqueue events. Firing dedupe keys carry the
// firing-time bucket, so replicated schedulers and restarts collapse onto the
// same job rows.
type Scheduler struct {
	queue   queue.Interface
	clock   clock.WithTicker
	entries []*Entry
	last    time.Time
}

func New(q queue.Interface, clk clock.WithTicker, entries []Entry) (*Scheduler, error) {
	s := &Scheduler{queue: q, clock: clk, last: clk.Now()}
	for i := range entries {
		entry := entries[i]
		schedule, err := cron.ParseStandard(entry.Spec)
		if err != nil {
			return nil, fmt.Errorf("parsing schedule %q for %s, %w", entry.Spec, entry.Type, err)
		}
		entry.schedule = schedule
		if entry.Family == "" {
			entry.Family = queue.FamilyDefault
		}
		s.entries = append(s.entries, &entry)
	}
	return s, nil
}

// Run evaluates schedules once per TickPeriod until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.Tick(ctx)
		}
	}
}

// Tick enqueues a job for every schedule whose next firing time has arrived
// since the previous tick, and returns the number of enqueue attempts.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.clock.Now()
	fired := 0
	for _, entry := range s.entries {
		for next := entry.schedule.Next(s.last); !next.After(now); next = entry.schedule.Next(next) {
			payload, ok := any(map[string]string{}), true
			if entry.Payload != nil {
				payload, ok = entry.Payload(next)
			}
			if !ok {
				continue
			}
			key := fmt.Sprintf("%s:%d", entry.Type, next.Unix())
			if _, err := s.queue.Enqueue(ctx, entry.Type, payload,
				queue.WithFamily(entry.Family),
				queue.WithIdempotencyKey(key)); err != nil {
				logging.FromContext(ctx).With("type", entry.Type, "firing", next).Errorf("enqueuing scheduled job, %s", err)
				continue
			}
			fired++
		}
	}
	s.last = now
	ticks.Inc()
	return fired
}
