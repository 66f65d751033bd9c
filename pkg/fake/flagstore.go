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

	"github.com/teacurran/village-homepage/pkg/flags"
)

// FlagStore is the in-memory flags.Store used across test suites. Error
// injection fields apply to the next matching call and then clear.
type FlagStore struct {
	mu          sync.Mutex
	Flags       map[string]*flags.Flag
	Audits      []flags.Audit
	Evaluations []flags.Evaluation

	NextGetErr  error
	NextSaveErr error
}

func NewFlagStore() *FlagStore {
	return &FlagStore{Flags: map[string]*flags.Flag{}}
}

func (s *FlagStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Flags = map[string]*flags.Flag{}
	s.Audits = nil
	s.Evaluations = nil
	s.NextGetErr = nil
	s.NextSaveErr = nil
}

func (s *FlagStore) Get(_ context.Context, key string) (*flags.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NextGetErr != nil {
		err := s.NextGetErr
		s.NextGetErr = nil
		return nil, err
	}
	flag, ok := s.Flags[key]
	if !ok {
		return nil, flags.FlagNotFound(key)
	}
	copied := *flag
	return &copied, nil
}

func (s *FlagStore) List(_ context.Context) ([]flags.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]flags.Flag, 0, len(s.Flags))
	for _, flag := range s.Flags {
		out = append(out, *flag)
	}
	return out, nil
}

func (s *FlagStore) Save(_ context.Context, flag *flags.Flag, audit flags.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NextSaveErr != nil {
		err := s.NextSaveErr
		s.NextSaveErr = nil
		return err
	}
	copied := *flag
	s.Flags[flag.Key] = &copied
	s.Audits = append(s.Audits, audit)
	return nil
}

func (s *FlagStore) RecordEvaluation(_ context.Context, eval flags.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Evaluations = append(s.Evaluations, eval)
	return nil
}

func (s *FlagStore) DeleteEvaluationsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.Evaluations[:0]
	var deleted int64
	for _, eval := range s.Evaluations {
		if eval.At.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, eval)
	}
	s.Evaluations = kept
	return deleted, nil
}
