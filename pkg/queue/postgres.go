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

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/utils/ids"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

const jobColumns = `id, family, type, payload, priority, status, attempts, max_attempts,
	next_attempt_at, lease_holder, lease_expires_at, last_error, idempotency_key,
	enqueued_at, first_started_at, finished_at`

// DB is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the queue
// runs against the pool or joins a caller's transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is the production queue. Claims use FOR UPDATE SKIP LOCKED so
// concurrent workers never block each other and never receive overlapping
// sets.
type Postgres struct {
	db      DB
	clock   clock.Clock
	backoff *BackoffPolicy
}

func NewPostgres(db DB, clk clock.Clock, backoff *BackoffPolicy) *Postgres {
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	return &Postgres{db: db, clock: clk, backoff: backoff}
}

// Bound returns a queue running its statements on db. Binding a transaction
// makes an enqueue commit with the caller's other writes.
func (q *Postgres) Bound(db DB) *Postgres {
	bound := *q
	bound.db = db
	return &bound
}

func (q *Postgres) Enqueue(ctx context.Context, jobType Type, payload any, opts ...EnqueueOption) (string, error) {
	options := applyEnqueueOptions(opts)
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}
	now := q.clock.Now()
	nextAttempt := now.Add(options.Delay)
	if !options.RunAt.IsZero() {
		nextAttempt = options.RunAt
	}
	id := ids.NewULID(now)
	var key *string
	if options.IdempotencyKey != "" {
		key = &options.IdempotencyKey
	}
	// The no-op DO UPDATE makes the conflicting row visible to RETURNING, so a
	// duplicate collapses to the existing id.
	var returned string
	err = q.db.QueryRow(ctx, `
		INSERT INTO jobs (id, family, type, payload, priority, status, attempts, max_attempts,
			next_attempt_at, idempotency_key, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $7, $8, $9)
		ON CONFLICT (type, idempotency_key) WHERE idempotency_key IS NOT NULL
		DO UPDATE SET type = jobs.type
		RETURNING id`,
		id, options.Family, jobType, raw, options.Priority, options.MaxAttempts, nextAttempt, key, now).Scan(&returned)
	if err != nil {
		return "", fmt.Errorf("enqueuing %s job, %w", jobType, err)
	}
	if returned == id {
		jobsEnqueued.WithLabelValues(string(options.Family), string(jobType)).Inc()
	}
	return returned, nil
}

func (q *Postgres) Claim(ctx context.Context, family Family, workerID string, lease time.Duration, batch int) ([]*Job, error) {
	now := q.clock.Now()
	rows, err := q.db.Query(ctx, fmt.Sprintf(`
		WITH eligible AS (
			SELECT id FROM jobs
			WHERE family = $1 AND status = 'pending' AND next_attempt_at <= $2
			ORDER BY priority DESC, enqueued_at ASC, id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j SET
			status = 'running',
			attempts = j.attempts + 1,
			lease_holder = $4,
			lease_expires_at = $5,
			first_started_at = COALESCE(j.first_started_at, $2)
		FROM eligible e
		WHERE j.id = e.id
		RETURNING %s`, prefixed("j", jobColumns)),
		family, now, batch, workerID, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claiming %s jobs, %w", family, err)
	}
	defer rows.Close()
	var claimed []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, job)
		jobsClaimed.WithLabelValues(string(job.Family), string(job.Type)).Inc()
	}
	return claimed, rows.Err()
}

func (q *Postgres) RenewLease(ctx context.Context, jobID, workerID string, extend time.Duration) error {
	now := q.clock.Now()
	tag, err := q.db.Exec(ctx, `
		UPDATE jobs SET lease_expires_at = $1
		WHERE id = $2 AND status = 'running' AND lease_holder = $3 AND lease_expires_at > $4`,
		now.Add(extend), jobID, workerID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return q.classifyLeaseFailure(ctx, jobID, workerID)
	}
	return nil
}

func (q *Postgres) Ack(ctx context.Context, jobID, workerID string) error {
	now := q.clock.Now()
	var family, jobType string
	err := q.db.QueryRow(ctx, `
		UPDATE jobs SET status = 'succeeded', finished_at = $1, lease_expires_at = NULL
		WHERE id = $2 AND lease_holder = $3 AND status IN ('running', 'succeeded')
		RETURNING family, type`,
		now, jobID, workerID).Scan(&family, &jobType)
	if errors.Is(err, pgx.ErrNoRows) {
		return q.classifyLeaseFailure(ctx, jobID, workerID)
	}
	if err != nil {
		return err
	}
	jobsAcked.WithLabelValues(family, jobType).Inc()
	return nil
}

func (q *Postgres) Fail(ctx context.Context, jobID, workerID, cause string, retryable bool, opts ...FailOption) error {
	options := FailOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	now := q.clock.Now()
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	var attempts, maxAttempts int
	var family, jobType string
	err = tx.QueryRow(ctx, `
		SELECT attempts, max_attempts, family, type FROM jobs
		WHERE id = $1 AND status = 'running' AND lease_holder = $2
		FOR UPDATE`,
		jobID, workerID).Scan(&attempts, &maxAttempts, &family, &jobType)
	if errors.Is(err, pgx.ErrNoRows) {
		return q.classifyLeaseFailure(ctx, jobID, workerID)
	}
	if err != nil {
		return err
	}
	if retryable && attempts < maxAttempts {
		next := now.Add(q.backoff.Delay(attempts, options.RetryAfter))
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET status = 'pending', next_attempt_at = $1, last_error = $2,
				lease_holder = NULL, lease_expires_at = NULL
			WHERE id = $3`, next, cause, jobID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET status = 'dead', finished_at = $1, last_error = $2,
				lease_holder = NULL, lease_expires_at = NULL
			WHERE id = $3`, now, cause, jobID)
	}
	if err != nil {
		return err
	}
	jobsFailed.WithLabelValues(family, jobType, boolLabel(retryable)).Inc()
	return tx.Commit(ctx)
}

func (q *Postgres) Release(ctx context.Context, jobID, workerID string) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE jobs SET status = 'pending', attempts = attempts - 1, next_attempt_at = $1,
			lease_holder = NULL, lease_expires_at = NULL
		WHERE id = $2 AND status = 'running' AND lease_holder = $3`,
		q.clock.Now(), jobID, workerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotLeaseHolder
	}
	return nil
}

func (q *Postgres) Reap(ctx context.Context) (int, error) {
	now := q.clock.Now()
	// Expired leases become retryable failures; jobs already at the attempt
	// budget dead-letter directly. Each retry backs off from its own attempt
	// count, so a fifth-attempt job does not retry on a first-attempt delay.
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	rows, err := tx.Query(ctx, `
		SELECT id, attempts, max_attempts FROM jobs
		WHERE status = 'running' AND lease_expires_at < $1
		FOR UPDATE SKIP LOCKED`, now)
	if err != nil {
		return 0, err
	}
	type expired struct {
		id                    string
		attempts, maxAttempts int
	}
	var lapsed []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.attempts, &e.maxAttempts); err != nil {
			rows.Close()
			return 0, err
		}
		lapsed = append(lapsed, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, e := range lapsed {
		if e.attempts < e.maxAttempts {
			_, err = tx.Exec(ctx, `
				UPDATE jobs SET status = 'pending', next_attempt_at = $1, last_error = 'lease_expired',
					lease_holder = NULL, lease_expires_at = NULL
				WHERE id = $2`, now.Add(q.backoff.Delay(e.attempts, 0)), e.id)
		} else {
			_, err = tx.Exec(ctx, `
				UPDATE jobs SET status = 'dead', finished_at = $1, last_error = 'lease_expired',
					lease_holder = NULL, lease_expires_at = NULL
				WHERE id = $2`, now, e.id)
		}
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	reaped := len(lapsed)
	if reaped > 0 {
		jobsReaped.Add(float64(reaped))
		logging.FromContext(ctx).With("count", reaped).Debugf("reaped expired leases")
	}
	return reaped, nil
}

func (q *Postgres) Revive(ctx context.Context, jobID, actor string) error {
	now := q.clock.Now()
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'pending', attempts = 0, next_attempt_at = $1, finished_at = NULL
		WHERE id = $2 AND status = 'dead'`, now, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDead
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO job_audits (job_id, action, actor, created_at) VALUES ($1, 'revive', $2, $3)`,
		jobID, actor, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (q *Postgres) Get(ctx context.Context, jobID string) (*Job, error) {
	row := q.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns), jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownJob
	}
	return job, err
}

func (q *Postgres) DeadLetterCount(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = 'dead'`).Scan(&count)
	return count, err
}

// classifyLeaseFailure distinguishes a lapsed lease from a stolen or unknown
// one after an update matched zero rows.
func (q *Postgres) classifyLeaseFailure(ctx context.Context, jobID, workerID string) error {
	var holder *string
	var status string
	err := q.db.QueryRow(ctx, `SELECT lease_holder, status FROM jobs WHERE id = $1`, jobID).Scan(&holder, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUnknownJob
	}
	if err != nil {
		return err
	}
	if holder != nil && *holder == workerID && status == "running" {
		return ErrLeaseExpired
	}
	return ErrNotLeaseHolder
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var leaseHolder, lastError, idempotencyKey *string
	var leaseExpires, firstStarted, finished *time.Time
	if err := row.Scan(&j.ID, &j.Family, &j.Type, &j.Payload, &j.Priority, &j.Status,
		&j.Attempts, &j.MaxAttempts, &j.NextAttemptAt, &leaseHolder, &leaseExpires,
		&lastError, &idempotencyKey, &j.EnqueuedAt, &firstStarted, &finished); err != nil {
		return nil, err
	}
	if leaseHolder != nil {
		j.LeaseHolder = *leaseHolder
	}
	if leaseExpires != nil {
		j.LeaseExpiresAt = *leaseExpires
	}
	if lastError != nil {
		j.LastError = *lastError
	}
	if idempotencyKey != nil {
		j.IdempotencyKey = *idempotencyKey
	}
	if firstStarted != nil {
		j.FirstStartedAt = *firstStarted
	}
	if finished != nil {
		j.FinishedAt = *finished
	}
	return &j, nil
}

// prefixed qualifies each column in list with the table alias for use in
// UPDATE ... RETURNING.
func prefixed(alias, list string) string {
	out := ""
	for i, col := range splitColumns(list) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + col
	}
	return out
}

func splitColumns(list string) []string {
	var cols []string
	current := ""
	for _, r := range list {
		switch r {
		case ',':
			cols = append(cols, current)
			current = ""
		case ' ', '\n', '\t':
		default:
			current += string(r)
		}
	}
	if current != "" {
		cols = append(cols, current)
	}
	return cols
}
