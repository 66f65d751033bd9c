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

// Package store provides the Postgres implementations of the per-service
// store interfaces, plus schema migrations. Every store type works against
// either the shared pool or a transaction, so the TxRunner can bind the same
// stores to one transaction for compound operations.
package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	"github.com/pressly/goose/v3"
	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

//go:embed migrations/*.sql
var migrations embed.FS

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client owns the connection pool and hands out store implementations.
type Client struct {
	pool  *pgxpool.Pool
	clock clock.PassiveClock
}

func New(ctx context.Context, dsn string, clk clock.PassiveClock) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config, %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool, %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database, %w", err)
	}
	return &Client{pool: pool, clock: clk}, nil
}

func (c *Client) Close() {
	c.pool.Close()
}

// Pool exposes the underlying pool for components that manage their own SQL,
// like the job queue.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Migrate applies pending schema migrations. It opens its own database/sql
// connection because goose does not speak pgx natively.
func Migrate(ctx context.Context, dsn string) error {
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection, %w", err)
	}
	defer func() { _ = db.Close() }()
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("applying migrations, %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).With("version", version).Infof("database schema up to date")
	return nil
}

// Stores bundles every store implementation bound to one querier.
type Stores struct {
	Users       *UserStore
	Flags       *FlagStore
	Rules       *RuleStore
	Directory   *DirectoryStore
	Marketplace *MarketplaceStore
	AIUsage     *AIUsageStore
	Feeds       *FeedStore
	AdminAudits *AdminAuditStore
}

func (c *Client) bound(db querier) *Stores {
	return &Stores{
		Users:       &UserStore{db: db},
		Flags:       &FlagStore{db: db},
		Rules:       &RuleStore{db: db},
		Directory:   &DirectoryStore{db: db},
		Marketplace: &MarketplaceStore{db: db},
		AIUsage:     &AIUsageStore{db: db},
		Feeds:       &FeedStore{db: db},
		AdminAudits: &AdminAuditStore{db: db},
	}
}

// Stores returns pool-bound stores for straight-line operations.
func (c *Client) Stores() *Stores {
	return c.bound(c.pool)
}

// inTx runs fn inside one transaction, committing when fn returns nil and
// rolling back otherwise. Callers bind stores and the queue to the handed-out
// transaction themselves.
func (c *Client) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction, %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
