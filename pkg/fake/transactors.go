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

	"github.com/teacurran/village-homepage/pkg/directory"
	"github.com/teacurran/village-homepage/pkg/karma"
	"github.com/teacurran/village-homepage/pkg/marketplace"
	"github.com/teacurran/village-homepage/pkg/queue"
)

// DirectoryTransactor is an in-memory directory.Transactor. It hands fn the
// fakes it was built with; there is no rollback, so tests inject NextErr to
// exercise the failure path before any write lands.
type DirectoryTransactor struct {
	Store   directory.Store
	Users   karma.Store
	Jobs    queue.Enqueuer
	Calls   int
	NextErr error
}

func NewDirectoryTransactor(store directory.Store, users karma.Store, jobs queue.Enqueuer) *DirectoryTransactor {
	return &DirectoryTransactor{Store: store, Users: users, Jobs: jobs}
}

func (t *DirectoryTransactor) InDirectoryTx(_ context.Context, fn func(tx directory.Tx) error) error {
	t.Calls++
	if t.NextErr != nil {
		err := t.NextErr
		t.NextErr = nil
		return err
	}
	return fn(directory.Tx{Store: t.Store, Users: t.Users, Jobs: t.Jobs})
}

// MarketplaceTransactor is the marketplace.Transactor counterpart.
type MarketplaceTransactor struct {
	Store   marketplace.Store
	Jobs    queue.Enqueuer
	Calls   int
	NextErr error
}

func NewMarketplaceTransactor(store marketplace.Store, jobs queue.Enqueuer) *MarketplaceTransactor {
	return &MarketplaceTransactor{Store: store, Jobs: jobs}
}

func (t *MarketplaceTransactor) InMarketplaceTx(_ context.Context, fn func(tx marketplace.Tx) error) error {
	t.Calls++
	if t.NextErr != nil {
		err := t.NextErr
		t.NextErr = nil
		return err
	}
	return fn(marketplace.Tx{Store: t.Store, Jobs: t.Jobs})
}

// UsersTransactor is the admin.UserTransactor counterpart.
type UsersTransactor struct {
	Users   karma.Store
	Calls   int
	NextErr error
}

func NewUsersTransactor(users karma.Store) *UsersTransactor {
	return &UsersTransactor{Users: users}
}

func (t *UsersTransactor) InUsersTx(_ context.Context, fn func(users karma.Store) error) error {
	t.Calls++
	if t.NextErr != nil {
		err := t.NextErr
		t.NextErr = nil
		return err
	}
	return fn(t.Users)
}
