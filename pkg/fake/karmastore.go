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

	"github.com/teacurran/village-homepage/pkg/karma"
)

// KarmaStore is the in-memory karma.Store used across test suites.
type KarmaStore struct {
	mu     sync.Mutex
	Users  map[string]*karma.User
	Audits []karma.Audit

	NextSaveErr error
}

func NewKarmaStore() *KarmaStore {
	return &KarmaStore{Users: map[string]*karma.User{}}
}

func (s *KarmaStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Users = map[string]*karma.User{}
	s.Audits = nil
	s.NextSaveErr = nil
}

// Seed installs a user, creating it if needed.
func (s *KarmaStore) Seed(user karma.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := user
	s.Users[user.ID] = &copied
}

func (s *KarmaStore) GetUserForUpdate(_ context.Context, userID string) (*karma.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.Users[userID]
	if !ok {
		return nil, karma.UserNotFound(userID)
	}
	copied := *user
	return &copied, nil
}

func (s *KarmaStore) SaveUser(_ context.Context, user *karma.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NextSaveErr != nil {
		err := s.NextSaveErr
		s.NextSaveErr = nil
		return err
	}
	copied := *user
	s.Users[user.ID] = &copied
	return nil
}

func (s *KarmaStore) AppendAudit(_ context.Context, audit karma.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Audits = append(s.Audits, audit)
	return nil
}
