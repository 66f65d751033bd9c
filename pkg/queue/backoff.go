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

package queue

import (
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffMax  = time.Hour
)

// BackoffPolicy computes the retry delay schedule: exponential growth capped
// at Max, then a uniform full-jitter sample in [0, delay(n)].
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewBackoffPolicy(base, max time.Duration, seed int64) *BackoffPolicy {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	return &BackoffPolicy{Base: base, Max: max, rng: rand.New(rand.NewSource(seed))}
}

func DefaultBackoff() *BackoffPolicy {
	return NewBackoffPolicy(DefaultBackoffBase, DefaultBackoffMax, time.Now().UnixNano())
}

// Ceiling returns the un-jittered delay for the nth attempt (1-based):
// min(Max, Base * 2^(n-1)).
func (b *BackoffPolicy) Ceiling(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}

// Delay samples the jittered delay for the nth attempt. A retryAfter hint from
// an upstream throttle caps the ceiling before sampling; zero means no hint.
func (b *BackoffPolicy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	ceiling := b.Ceiling(attempt)
	if retryAfter > 0 && retryAfter < ceiling {
		ceiling = retryAfter
	}
	if ceiling <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.rng.Int63n(int64(ceiling) + 1))
}
