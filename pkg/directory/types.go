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

// Package directory is the community site directory: submissions, moderation,
// per-category voting, ranking, and link health.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/karma"
	"github.com/teacurran/village-homepage/pkg/queue"
)

// MaxCategories caps how many categories one submission can list under.
const MaxCategories = 3

// SiteStatus is the moderation lifecycle of a directory entry.
type SiteStatus string

const (
	// SiteStatusPending awaits moderator review.
	SiteStatusPending  SiteStatus = "pending"
	SiteStatusApproved SiteStatus = "approved"
	SiteStatusRejected SiteStatus = "rejected"
	// SiteStatusDead marks a link that failed health checks repeatedly. Only a
	// moderator can resurrect it.
	SiteStatusDead    SiteStatus = "dead"
	SiteStatusRemoved SiteStatus = "removed"
)

// Site is one directory entry. Votes and ranks live on its category
// memberships, not here.
type Site struct {
	ID            string
	URL           string
	Title         string
	Description   string
	SubmitterID   string
	Status        SiteStatus
	FailureCount  int
	LastCheckedAt time.Time
	ScreenshotURL string
	CreatedAt     time.Time
	ApprovedAt    time.Time
}

// Membership is a site's listing in one category. Each membership carries its
// own vote aggregate and rank, so the same site can sit at different positions
// in different categories.
type Membership struct {
	SiteID    string
	Category  string
	Status    SiteStatus
	Upvotes   int
	Downvotes int
	// Bubbled memberships are surfaced in a parent category and ranked in
	// their own band above the general population.
	Bubbled bool
	// Rank is the position within the membership's band, assigned by the rank
	// recalculation job. Zero means unranked.
	Rank      int
	CreatedAt time.Time
}

// Score is the ranking signal: net votes.
func (m *Membership) Score() int {
	return m.Upvotes - m.Downvotes
}

// Direction is a vote's value.
type Direction int

const (
	DirectionUp   Direction = 1
	DirectionDown Direction = -1
)

// Vote is one user's standing vote on a site within one category.
type Vote struct {
	SiteID    string
	Category  string
	VoterID   string
	Direction Direction
	CastAt    time.Time
}

// Click is a consented interaction record used for rank analysis.
type Click struct {
	SiteID   string
	Category string
	UserID   string
	Kind     string
	At       time.Time
}

// RankAssignment is one ranked position produced by the recalculation job.
type RankAssignment struct {
	SiteID   string
	Category string
	Rank     int
}

// Store is the durable side of the directory.
type Store interface {
	CreateSite(ctx context.Context, site *Site) error
	GetSite(ctx context.Context, siteID string) (*Site, error)
	SaveSite(ctx context.Context, site *Site) error
	CreateMembership(ctx context.Context, membership *Membership) error
	GetMembership(ctx context.Context, siteID, category string) (*Membership, error)
	SaveMembership(ctx context.Context, membership *Membership) error
	ListMemberships(ctx context.Context, siteID string) ([]Membership, error)
	// GetVote returns nil with no error when the voter has no standing vote.
	GetVote(ctx context.Context, siteID, category, voterID string) (*Vote, error)
	SaveVote(ctx context.Context, vote *Vote) error
	DeleteVote(ctx context.Context, siteID, category, voterID string) error
	RecordClick(ctx context.Context, click Click) error
	// ListApproved returns every approved site, for the sitemap and indexing.
	ListApproved(ctx context.Context) ([]Site, error)
	// ListApprovedMemberships returns every approved membership for ranking.
	ListApprovedMemberships(ctx context.Context) ([]Membership, error)
	SaveRanks(ctx context.Context, assignments []RankAssignment) error
	// ListForHealthCheck returns approved sites least recently checked first.
	ListForHealthCheck(ctx context.Context, limit int) ([]Site, error)
}

// Tx bundles the collaborators of one directory transaction. The Postgres
// implementation binds all three to a single transaction; the in-memory fakes
// hand back the fakes themselves.
type Tx struct {
	Store Store
	Users karma.Store
	Jobs  queue.Enqueuer
}

// Transactor runs compound directory writes so the site, membership, vote,
// karma, and job rows they touch commit or roll back as one unit.
type Transactor interface {
	InDirectoryTx(ctx context.Context, fn func(tx Tx) error) error
}

// SiteNotFound is the canonical unknown-site error for Store implementations.
func SiteNotFound(siteID string) error {
	return errors.Validation("site_not_found", fmt.Errorf("no site %q", siteID))
}

func IsSiteNotFound(err error) bool {
	return errors.Code(err) == "site_not_found"
}

// MembershipNotFound is the canonical unknown-membership error for Store
// implementations.
func MembershipNotFound(siteID, category string) error {
	return errors.Validation("membership_not_found",
		fmt.Errorf("site %q is not listed in category %q", siteID, category))
}

func IsMembershipNotFound(err error) bool {
	return errors.Code(err) == "membership_not_found"
}
