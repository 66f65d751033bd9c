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

package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/teacurran/village-homepage/pkg/directory"
	"github.com/teacurran/village-homepage/pkg/karma"
	"github.com/teacurran/village-homepage/pkg/marketplace"
	"github.com/teacurran/village-homepage/pkg/queue"
)

// TxRunner implements the per-service transactor interfaces. Each method
// opens one transaction, binds the stores (and the job queue, where the
// service enqueues inside the transaction) to it, and hands the bundle to fn.
type TxRunner struct {
	client *Client
	queue  *queue.Postgres
}

func NewTxRunner(client *Client, q *queue.Postgres) *TxRunner {
	return &TxRunner{client: client, queue: q}
}

func (r *TxRunner) InDirectoryTx(ctx context.Context, fn func(tx directory.Tx) error) error {
	return r.client.inTx(ctx, func(tx pgx.Tx) error {
		s := r.client.bound(tx)
		return fn(directory.Tx{Store: s.Directory, Users: s.Users, Jobs: r.queue.Bound(tx)})
	})
}

func (r *TxRunner) InMarketplaceTx(ctx context.Context, fn func(tx marketplace.Tx) error) error {
	return r.client.inTx(ctx, func(tx pgx.Tx) error {
		s := r.client.bound(tx)
		return fn(marketplace.Tx{Store: s.Marketplace, Jobs: r.queue.Bound(tx)})
	})
}

// InUsersTx runs fn against a transaction-bound user store, so row locks
// taken with SELECT ... FOR UPDATE hold until commit.
func (r *TxRunner) InUsersTx(ctx context.Context, fn func(users karma.Store) error) error {
	return r.client.inTx(ctx, func(tx pgx.Tx) error {
		return fn(r.client.bound(tx).Users)
	})
}
