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
	"sync/atomic"

	"github.com/teacurran/village-homepage/pkg/gateways"
)

// BrowserSession is a scriptable gateways.BrowserSession.
type BrowserSession struct {
	CaptureFn func(ctx context.Context, url string, width int) ([]byte, error)
	Unhealthy atomic.Bool
	Captures  atomic.Int64
	Closed    atomic.Bool
}

func (s *BrowserSession) Capture(ctx context.Context, url string, width int) ([]byte, error) {
	s.Captures.Add(1)
	if s.CaptureFn != nil {
		return s.CaptureFn(ctx, url, width)
	}
	return []byte("png:" + url), nil
}

func (s *BrowserSession) Healthy(context.Context) bool {
	return !s.Unhealthy.Load()
}

func (s *BrowserSession) Close(context.Context) error {
	s.Closed.Store(true)
	return nil
}

// BrowserLauncher hands out BrowserSessions, recording each launch.
type BrowserLauncher struct {
	mu        sync.Mutex
	Sessions  []*BrowserSession
	LaunchErr error
	// NewSession overrides the default session construction.
	NewSession func() *BrowserSession
}

func (l *BrowserLauncher) Launch(context.Context) (gateways.BrowserSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	session := &BrowserSession{}
	if l.NewSession != nil {
		session = l.NewSession()
	}
	l.Sessions = append(l.Sessions, session)
	return session, nil
}

func (l *BrowserLauncher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Sessions)
}

func (l *BrowserLauncher) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Sessions = nil
	l.LaunchErr = nil
	l.NewSession = nil
}
