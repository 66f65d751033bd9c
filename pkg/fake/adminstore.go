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
	"encoding/json"
	"sync"

	"github.com/teacurran/village-homepage/pkg/admin"
	"github.com/teacurran/village-homepage/pkg/ratelimit"
)

// RuleWriter keeps rate limit rules keyed by action and tier.
type RuleWriter struct {
	mu      sync.Mutex
	Rules   map[string]ratelimit.Rule
	SaveErr error
}

func NewRuleWriter() *RuleWriter {
	return &RuleWriter{Rules: map[string]ratelimit.Rule{}}
}

func ruleKey(action string, tier ratelimit.Tier) string {
	return action + "/" + string(tier)
}

func (w *RuleWriter) SaveRule(_ context.Context, rule ratelimit.Rule) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.SaveErr != nil {
		return w.SaveErr
	}
	w.Rules[ruleKey(rule.Action, rule.Tier)] = rule
	return nil
}

func (w *RuleWriter) DeleteRule(_ context.Context, action string, tier ratelimit.Tier) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.Rules, ruleKey(action, tier))
	return nil
}

// ListRules lets the writer double as a ratelimit.RuleSource in tests.
func (w *RuleWriter) ListRules(context.Context) ([]ratelimit.Rule, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var rules []ratelimit.Rule
	for _, rule := range w.Rules {
		rules = append(rules, rule)
	}
	return rules, nil
}

func (w *RuleWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Rules = map[string]ratelimit.Rule{}
	w.SaveErr = nil
}

// RuleInvalidator counts cache invalidations.
type RuleInvalidator struct {
	mu    sync.Mutex
	Calls int
}

func (i *RuleInvalidator) InvalidateRules() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Calls++
}

func (i *RuleInvalidator) Invalidations() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.Calls
}

// AdminAuditSink records admin audit entries.
type AdminAuditSink struct {
	mu        sync.Mutex
	Entries   []admin.AuditEntry
	RecordErr error
}

func (s *AdminAuditSink) RecordAdminAction(_ context.Context, entry admin.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecordErr != nil {
		return s.RecordErr
	}
	s.Entries = append(s.Entries, entry)
	return nil
}

func (s *AdminAuditSink) Recorded() []admin.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]admin.AuditEntry{}, s.Entries...)
}

func (s *AdminAuditSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Entries = nil
	s.RecordErr = nil
}

// GDPRSource returns a scripted export document per user.
type GDPRSource struct {
	mu      sync.Mutex
	Exports map[string]json.RawMessage
	Err     error
}

func NewGDPRSource() *GDPRSource {
	return &GDPRSource{Exports: map[string]json.RawMessage{}}
}

func (g *GDPRSource) ExportUser(_ context.Context, userID string) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	export, ok := g.Exports[userID]
	if !ok {
		return json.RawMessage(`{}`), nil
	}
	return export, nil
}
