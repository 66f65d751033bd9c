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

package screenshot

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// SessionTTL bounds how long a browser session is reused before being retired.
// Long-lived headless browsers leak memory, so the pool cycles them.
const SessionTTL = 10 * time.Minute

type pooledSession struct {
	session  gateways.BrowserSession
	launched time.Time
}

// SessionPool reuses browser sessions across captures. Checkout health-checks
// the session and retires expired or unresponsive ones before handing out a
// replacement.
type SessionPool struct {
	launcher gateways.BrowserLauncher
	clock    clock.PassiveClock

	mu   sync.Mutex
	idle []*pooledSession
}

func NewSessionPool(launcher gateways.BrowserLauncher, clk clock.PassiveClock) *SessionPool {
	return &SessionPool{launcher: launcher, clock: clk}
}

// Get returns a healthy session and a put function that returns it to the
// pool. Discard the put call on capture failure; the session dies with it.
func (p *SessionPool) Get(ctx context.Context) (gateways.BrowserSession, func(), error) {
	for {
		pooled := p.takeIdle()
		if pooled == nil {
			break
		}
		if p.clock.Now().Sub(pooled.launched) >= SessionTTL {
			p.retire(ctx, pooled, "expired")
			continue
		}
		if !pooled.session.Healthy(ctx) {
			p.retire(ctx, pooled, "unhealthy")
			continue
		}
		return pooled.session, p.putter(pooled), nil
	}
	session, err := p.launcher.Launch(ctx)
	if err != nil {
		return nil, nil, err
	}
	launches.Inc()
	pooled := &pooledSession{session: session, launched: p.clock.Now()}
	return session, p.putter(pooled), nil
}

func (p *SessionPool) takeIdle() *pooledSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return nil
	}
	pooled := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return pooled
}

func (p *SessionPool) putter(pooled *pooledSession) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.idle = append(p.idle, pooled)
		})
	}
}

func (p *SessionPool) retire(ctx context.Context, pooled *pooledSession, reason string) {
	retirements.WithLabelValues(reason).Inc()
	if err := pooled.session.Close(ctx); err != nil {
		logging.FromContext(ctx).Debugf("closing retired browser session, %s", err)
	}
}

// Close drains the pool, closing every idle session.
func (p *SessionPool) Close(ctx context.Context) {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, pooled := range idle {
		p.retire(ctx, pooled, "shutdown")
	}
}
