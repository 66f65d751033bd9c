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
	"fmt"
	"sync"

	"github.com/teacurran/village-homepage/pkg/gateways"
)

// Mailer records sent mail.
type Mailer struct {
	mu      sync.Mutex
	Sent    []gateways.Mail
	SendErr error
}

func (m *Mailer) Send(_ context.Context, mail gateways.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, mail)
	return nil
}

func (m *Mailer) SentMail() []gateways.Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]gateways.Mail{}, m.Sent...)
}

func (m *Mailer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = nil
	m.SendErr = nil
}

// IMAPFetcher hands out scripted inbound mail once per call.
type IMAPFetcher struct {
	mu       sync.Mutex
	Unseen   []gateways.InboundMail
	FetchErr error
}

func (f *IMAPFetcher) FetchUnseen(context.Context) ([]gateways.InboundMail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	mails := f.Unseen
	f.Unseen = nil
	return mails, nil
}

func (f *IMAPFetcher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Unseen = nil
	f.FetchErr = nil
}

// UserDirectory resolves user ids to email addresses from a static map.
type UserDirectory struct {
	mu     sync.Mutex
	Emails map[string]string
}

func NewUserDirectory() *UserDirectory {
	return &UserDirectory{Emails: map[string]string{}}
}

func (d *UserDirectory) EmailOf(_ context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	address, ok := d.Emails[userID]
	if !ok {
		return "", fmt.Errorf("no email for user %q", userID)
	}
	return address, nil
}
