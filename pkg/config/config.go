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

// Package config loads the runtime-tunable product settings from a TOML file
// and hot-reloads them on change. Operator-level settings (addresses,
// credentials, parallelism) live in pkg/operator/options instead.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// Config is one immutable settings snapshot. Callers keep the pointer they
// read; the store swaps the whole snapshot on reload.
type Config struct {
	BaseURL     string `toml:"base_url"`
	RelayDomain string `toml:"relay_domain"`

	Email struct {
		FromAddress    string `toml:"from_address"`
		ModeratorsList string `toml:"moderators_list"`
	} `toml:"email"`

	// AIBudgetsCents caps monthly spend per provider.
	AIBudgetsCents map[string]int64 `toml:"ai_budgets_cents"`

	Screenshot struct {
		ViewportWidth int `toml:"viewport_width"`
	} `toml:"screenshot"`

	Directory struct {
		BubbledSlots int `toml:"bubbled_slots"`
	} `toml:"directory"`
}

// Default returns the baseline every load starts from, so a partial file only
// overrides what it names.
func Default() *Config {
	c := &Config{
		BaseURL:     "https://village.test",
		RelayDomain: "relay.village.test",
		AIBudgetsCents: map[string]int64{
			"openai":    5000,
			"anthropic": 5000,
		},
	}
	c.Email.FromAddress = "noreply@village.test"
	c.Email.ModeratorsList = "moderators@village.test"
	c.Screenshot.ViewportWidth = 1280
	c.Directory.BubbledSlots = 10
	return c
}

func (c *Config) validate() error {
	var err error
	if c.BaseURL == "" {
		err = multierr.Append(err, fmt.Errorf("base_url is required"))
	}
	if c.RelayDomain == "" {
		err = multierr.Append(err, fmt.Errorf("relay_domain is required"))
	}
	if c.Screenshot.ViewportWidth <= 0 {
		err = multierr.Append(err, fmt.Errorf("screenshot.viewport_width must be positive"))
	}
	for provider, cents := range c.AIBudgetsCents {
		if cents < 0 {
			err = multierr.Append(err, fmt.Errorf("ai_budgets_cents[%s] must not be negative", provider))
		}
	}
	return err
}

// Load reads one snapshot from path, merged over defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q, %w", path, err)
	}
	c := Default()
	if err := toml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("parsing config %q, %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("validating config %q, %w", path, err)
	}
	return c, nil
}

// Store serves the current snapshot and watches the file for changes. A
// reload that fails to parse or validate keeps the last good snapshot.
type Store struct {
	path string

	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

func NewStore(path string) (*Store, error) {
	initial, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, current: initial}, nil
}

func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// OnChange registers a callback invoked with each new good snapshot.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Watch blocks until ctx is done, swapping in new snapshots as the file
// changes. Editors that replace rather than rewrite are handled by watching
// the parent directory.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher, %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching %q, %w", filepath.Dir(s.path), err)
	}
	logger := logging.FromContext(ctx).With("path", s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.reload(logger)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Errorf("watching config, %s", watchErr)
		}
	}
}

func (s *Store) reload(logger *zap.SugaredLogger) {
	next, err := Load(s.path)
	if err != nil {
		reloads.WithLabelValues("error").Inc()
		logger.Errorf("keeping previous config, %s", err)
		return
	}
	s.mu.Lock()
	// fsnotify can deliver several events for one save; identical snapshots
	// are dropped so subscribers only see real changes.
	if hash(next) == hash(s.current) {
		s.mu.Unlock()
		reloads.WithLabelValues("unchanged").Inc()
		return
	}
	s.current = next
	callbacks := append([]func(*Config){}, s.onChange...)
	s.mu.Unlock()
	reloads.WithLabelValues("ok").Inc()
	logger.Debugf("config reloaded")
	for _, fn := range callbacks {
		fn(next)
	}
}

func hash(c *Config) uint64 {
	h, err := hashstructure.Hash(c, hashstructure.FormatV2, nil)
	if err != nil {
		return 0
	}
	return h
}
