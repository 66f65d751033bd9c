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
	"io"
	"sync"
)

// ObjectStore keeps stored objects in memory and returns fake://<key> URLs.
type ObjectStore struct {
	mu      sync.Mutex
	Objects map[string][]byte

	NextPutErr error
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{Objects: map[string][]byte{}}
}

func (s *ObjectStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects = map[string][]byte{}
	s.NextPutErr = nil
}

func (s *ObjectStore) Put(_ context.Context, key, _ string, body io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NextPutErr != nil {
		err := s.NextPutErr
		s.NextPutErr = nil
		return "", err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.Objects[key] = data
	return "fake://" + key, nil
}

func (s *ObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Objects, key)
	return nil
}
