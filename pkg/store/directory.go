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
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/teacurran/village-homepage/pkg/directory"
)

const siteColumns = `id, url, title, description, submitter_id, status, failure_count,
	last_checked_at, screenshot_url, created_at, approved_at`

const membershipColumns = `site_id, category, status, upvotes, downvotes, bubbled, rank, created_at`

// DirectoryStore implements directory.Store and the geo half of the search
// façade.
type DirectoryStore struct {
	db querier
}

func (s *DirectoryStore) CreateSite(ctx context.Context, site *directory.Site) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO directory_sites (id, url, title, description, submitter_id, status,
			failure_count, screenshot_url, created_at, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		site.ID, site.URL, site.Title, site.Description, site.SubmitterID, site.Status,
		site.FailureCount, site.ScreenshotURL, site.CreatedAt, nullableTime(site.ApprovedAt))
	if err != nil {
		return fmt.Errorf("creating site %q, %w", site.ID, err)
	}
	return nil
}

func (s *DirectoryStore) GetSite(ctx context.Context, siteID string) (*directory.Site, error) {
	site, err := scanSite(s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM directory_sites WHERE id = $1`, siteColumns), siteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, directory.SiteNotFound(siteID)
	}
	return site, err
}

func (s *DirectoryStore) SaveSite(ctx context.Context, site *directory.Site) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE directory_sites SET url = $1, title = $2, description = $3, status = $4,
			failure_count = $5, last_checked_at = $6, screenshot_url = $7, approved_at = $8
		WHERE id = $9`,
		site.URL, site.Title, site.Description, site.Status, site.FailureCount,
		nullableTime(site.LastCheckedAt), site.ScreenshotURL, nullableTime(site.ApprovedAt), site.ID)
	if err != nil {
		return fmt.Errorf("saving site %q, %w", site.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return directory.SiteNotFound(site.ID)
	}
	return nil
}

func (s *DirectoryStore) CreateMembership(ctx context.Context, membership *directory.Membership) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO directory_site_categories (site_id, category, status, upvotes, downvotes,
			bubbled, rank, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		membership.SiteID, membership.Category, membership.Status, membership.Upvotes,
		membership.Downvotes, membership.Bubbled, membership.Rank, membership.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating membership of %q in %q, %w", membership.SiteID, membership.Category, err)
	}
	return nil
}

func (s *DirectoryStore) GetMembership(ctx context.Context, siteID, category string) (*directory.Membership, error) {
	membership, err := scanMembership(s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM directory_site_categories
		WHERE site_id = $1 AND category = $2`, membershipColumns), siteID, category))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, directory.MembershipNotFound(siteID, category)
	}
	return membership, err
}

func (s *DirectoryStore) SaveMembership(ctx context.Context, membership *directory.Membership) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE directory_site_categories SET status = $1, upvotes = $2, downvotes = $3,
			bubbled = $4, rank = $5
		WHERE site_id = $6 AND category = $7`,
		membership.Status, membership.Upvotes, membership.Downvotes, membership.Bubbled,
		membership.Rank, membership.SiteID, membership.Category)
	if err != nil {
		return fmt.Errorf("saving membership of %q in %q, %w", membership.SiteID, membership.Category, err)
	}
	if tag.RowsAffected() == 0 {
		return directory.MembershipNotFound(membership.SiteID, membership.Category)
	}
	return nil
}

func (s *DirectoryStore) ListMemberships(ctx context.Context, siteID string) ([]directory.Membership, error) {
	return s.listMemberships(ctx, fmt.Sprintf(`
		SELECT %s FROM directory_site_categories WHERE site_id = $1
		ORDER BY category`, membershipColumns), siteID)
}

func (s *DirectoryStore) GetVote(ctx context.Context, siteID, category, voterID string) (*directory.Vote, error) {
	var vote directory.Vote
	err := s.db.QueryRow(ctx, `
		SELECT site_id, category, voter_id, direction, cast_at FROM directory_votes
		WHERE site_id = $1 AND category = $2 AND voter_id = $3`,
		siteID, category, voterID).Scan(&vote.SiteID, &vote.Category, &vote.VoterID, &vote.Direction, &vote.CastAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading vote on %q, %w", siteID, err)
	}
	return &vote, nil
}

func (s *DirectoryStore) SaveVote(ctx context.Context, vote *directory.Vote) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO directory_votes (site_id, category, voter_id, direction, cast_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (site_id, category, voter_id) DO UPDATE SET
			direction = EXCLUDED.direction,
			cast_at = EXCLUDED.cast_at`,
		vote.SiteID, vote.Category, vote.VoterID, vote.Direction, vote.CastAt)
	if err != nil {
		return fmt.Errorf("saving vote on %q, %w", vote.SiteID, err)
	}
	return nil
}

func (s *DirectoryStore) DeleteVote(ctx context.Context, siteID, category, voterID string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM directory_votes WHERE site_id = $1 AND category = $2 AND voter_id = $3`,
		siteID, category, voterID)
	if err != nil {
		return fmt.Errorf("deleting vote on %q, %w", siteID, err)
	}
	return nil
}

func (s *DirectoryStore) RecordClick(ctx context.Context, click directory.Click) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO directory_clicks (site_id, category, user_id, kind, at)
		VALUES ($1, $2, $3, $4, $5)`,
		click.SiteID, click.Category, click.UserID, click.Kind, click.At)
	if err != nil {
		return fmt.Errorf("recording click on %q, %w", click.SiteID, err)
	}
	return nil
}

func (s *DirectoryStore) ListApproved(ctx context.Context) ([]directory.Site, error) {
	return s.listSites(ctx, fmt.Sprintf(`
		SELECT %s FROM directory_sites WHERE status = 'approved'`, siteColumns))
}

func (s *DirectoryStore) ListApprovedMemberships(ctx context.Context) ([]directory.Membership, error) {
	return s.listMemberships(ctx, fmt.Sprintf(`
		SELECT %s FROM directory_site_categories WHERE status = 'approved'`, membershipColumns))
}

func (s *DirectoryStore) SaveRanks(ctx context.Context, assignments []directory.RankAssignment) error {
	for _, assignment := range assignments {
		if _, err := s.db.Exec(ctx, `
			UPDATE directory_site_categories SET rank = $1
			WHERE site_id = $2 AND category = $3`,
			assignment.Rank, assignment.SiteID, assignment.Category); err != nil {
			return fmt.Errorf("saving rank for %q in %q, %w", assignment.SiteID, assignment.Category, err)
		}
	}
	return nil
}

func (s *DirectoryStore) ListForHealthCheck(ctx context.Context, limit int) ([]directory.Site, error) {
	return s.listSites(ctx, fmt.Sprintf(`
		SELECT %s FROM directory_sites WHERE status = 'approved'
		ORDER BY last_checked_at ASC NULLS FIRST
		LIMIT $1`, siteColumns), limit)
}

// WithinRadius satisfies search.GeoStore over sites carrying coordinates,
// using the earthdistance point operator (meters, converted from miles).
func (s *DirectoryStore) WithinRadius(ctx context.Context, lat, lon, radiusMiles float64, kind string, limit int) ([]string, error) {
	if kind != "" && kind != "site" {
		return nil, nil
	}
	const metersPerMile = 1609.344
	rows, err := s.db.Query(ctx, `
		SELECT id FROM directory_sites
		WHERE status = 'approved' AND lat IS NOT NULL AND lon IS NOT NULL
			AND earth_distance(ll_to_earth($1, $2), ll_to_earth(lat, lon)) <= $3
		ORDER BY earth_distance(ll_to_earth($1, $2), ll_to_earth(lat, lon)) ASC
		LIMIT $4`,
		lat, lon, radiusMiles*metersPerMile, limit)
	if err != nil {
		return nil, fmt.Errorf("radius query, %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *DirectoryStore) listSites(ctx context.Context, sql string, args ...any) ([]directory.Site, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sites, %w", err)
	}
	defer rows.Close()
	var sites []directory.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, *site)
	}
	return sites, rows.Err()
}

func (s *DirectoryStore) listMemberships(ctx context.Context, sql string, args ...any) ([]directory.Membership, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing memberships, %w", err)
	}
	defer rows.Close()
	var memberships []directory.Membership
	for rows.Next() {
		membership, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, *membership)
	}
	return memberships, rows.Err()
}

func scanSite(row pgx.Row) (*directory.Site, error) {
	var site directory.Site
	var lastChecked, approved *time.Time
	if err := row.Scan(&site.ID, &site.URL, &site.Title, &site.Description, &site.SubmitterID,
		&site.Status, &site.FailureCount, &lastChecked, &site.ScreenshotURL,
		&site.CreatedAt, &approved); err != nil {
		return nil, err
	}
	if lastChecked != nil {
		site.LastCheckedAt = *lastChecked
	}
	if approved != nil {
		site.ApprovedAt = *approved
	}
	return &site, nil
}

func scanMembership(row pgx.Row) (*directory.Membership, error) {
	var membership directory.Membership
	if err := row.Scan(&membership.SiteID, &membership.Category, &membership.Status,
		&membership.Upvotes, &membership.Downvotes, &membership.Bubbled,
		&membership.Rank, &membership.CreatedAt); err != nil {
		return nil, err
	}
	return &membership, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
