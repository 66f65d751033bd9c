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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/teacurran/village-homepage/pkg/karma"
)

// UserStore implements karma.Store and resolves contact addresses for the
// marketplace relay.
type UserStore struct {
	db querier
}

func (s *UserStore) GetUserForUpdate(ctx context.Context, userID string) (*karma.User, error) {
	var user karma.User
	var trustedAt *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT id, karma, trusted, trusted_at FROM users WHERE id = $1 FOR UPDATE`,
		userID).Scan(&user.ID, &user.Karma, &user.Trusted, &trustedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, karma.UserNotFound(userID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading user %q, %w", userID, err)
	}
	if trustedAt != nil {
		user.TrustedAt = *trustedAt
	}
	return &user, nil
}

func (s *UserStore) SaveUser(ctx context.Context, user *karma.User) error {
	var trustedAt *time.Time
	if !user.TrustedAt.IsZero() {
		trustedAt = &user.TrustedAt
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET karma = $1, trusted = $2, trusted_at = $3 WHERE id = $4`,
		user.Karma, user.Trusted, trustedAt, user.ID)
	if err != nil {
		return fmt.Errorf("saving user %q, %w", user.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return karma.UserNotFound(user.ID)
	}
	return nil
}

func (s *UserStore) AppendAudit(ctx context.Context, audit karma.Audit) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO karma_audits (user_id, event, delta, before_karma, karma_after, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		audit.UserID, audit.Event, audit.Delta, audit.BeforeKarma, audit.KarmaAfter, audit.Actor, audit.Note, audit.At)
	if err != nil {
		return fmt.Errorf("appending karma audit for %q, %w", audit.UserID, err)
	}
	return nil
}

// EmailOf satisfies marketplace.UserDirectory.
func (s *UserStore) EmailOf(ctx context.Context, userID string) (string, error) {
	var email string
	err := s.db.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", karma.UserNotFound(userID)
	}
	if err != nil {
		return "", fmt.Errorf("reading email for %q, %w", userID, err)
	}
	if email == "" {
		return "", fmt.Errorf("user %q has no contact address", userID)
	}
	return email, nil
}

// ExportUser satisfies admin.GDPRSource with everything stored about one
// user: the account row, karma trail, votes, clicks, and listings.
func (s *UserStore) ExportUser(ctx context.Context, userID string) (json.RawMessage, error) {
	export := map[string]any{}

	var account struct {
		Email     string     `json:"email"`
		Karma     int        `json:"karma"`
		Trusted   bool       `json:"trusted"`
		CreatedAt time.Time  `json:"created_at"`
		TrustedAt *time.Time `json:"trusted_at,omitempty"`
	}
	err := s.db.QueryRow(ctx, `
		SELECT email, karma, trusted, created_at, trusted_at FROM users WHERE id = $1`,
		userID).Scan(&account.Email, &account.Karma, &account.Trusted, &account.CreatedAt, &account.TrustedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, karma.UserNotFound(userID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading user %q, %w", userID, err)
	}
	export["account"] = account

	karmaTrail, err := collectRows(ctx, s.db, `
		SELECT event, delta, before_karma, karma_after, created_at FROM karma_audits
		WHERE user_id = $1 ORDER BY created_at`, userID,
		func(rows pgx.Rows) (map[string]any, error) {
			var event string
			var delta, before, after int
			var at time.Time
			if err := rows.Scan(&event, &delta, &before, &after, &at); err != nil {
				return nil, err
			}
			return map[string]any{"event": event, "delta": delta, "before_karma": before, "karma_after": after, "at": at}, nil
		})
	if err != nil {
		return nil, err
	}
	export["karma_history"] = karmaTrail

	votes, err := collectRows(ctx, s.db, `
		SELECT site_id, category, direction, cast_at FROM directory_votes
		WHERE voter_id = $1 ORDER BY cast_at`, userID,
		func(rows pgx.Rows) (map[string]any, error) {
			var siteID, category string
			var direction int
			var at time.Time
			if err := rows.Scan(&siteID, &category, &direction, &at); err != nil {
				return nil, err
			}
			return map[string]any{"site_id": siteID, "category": category, "direction": direction, "cast_at": at}, nil
		})
	if err != nil {
		return nil, err
	}
	export["directory_votes"] = votes

	listings, err := collectRows(ctx, s.db, `
		SELECT id, title, status, created_at FROM marketplace_listings
		WHERE seller_id = $1 ORDER BY created_at`, userID,
		func(rows pgx.Rows) (map[string]any, error) {
			var id, title, status string
			var at time.Time
			if err := rows.Scan(&id, &title, &status, &at); err != nil {
				return nil, err
			}
			return map[string]any{"id": id, "title": title, "status": status, "created_at": at}, nil
		})
	if err != nil {
		return nil, err
	}
	export["marketplace_listings"] = listings

	return json.Marshal(export)
}

func collectRows(ctx context.Context, db querier, sql, arg string,
	scan func(pgx.Rows) (map[string]any, error)) ([]map[string]any, error) {
	rows, err := db.Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		record, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
