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

package directory

import (
	"context"
	"fmt"
	"net/url"
	"time"
	"unicode/utf8"

	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/karma"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/utils/ids"
)

const maxTitleLength = 120

// Submission is the input to Submit.
type Submission struct {
	URL         string
	Title       string
	Description string
	// Categories lists where the site appears; 1 to MaxCategories, distinct.
	Categories  []string
	SubmitterID string
	// SubmitterTrusted gates auto-approval; untrusted submissions queue for
	// moderation.
	SubmitterTrusted bool
}

// Service implements directory operations over a Store. Compound writes run
// through the Transactor so votes, aggregates, karma, and job enqueues commit
// as one unit.
type Service struct {
	tx    Transactor
	store Store
	karma *karma.Service
	clock clock.PassiveClock
}

func NewService(tx Transactor, store Store, karmaSvc *karma.Service, clk clock.PassiveClock) *Service {
	return &Service{tx: tx, store: store, karma: karmaSvc, clock: clk}
}

func validateSubmission(sub Submission) error {
	parsed, err := url.Parse(sub.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.Validation("invalid_url", fmt.Errorf("url %q is not an absolute http(s) url", sub.URL))
	}
	if sub.Title == "" || utf8.RuneCountInString(sub.Title) > maxTitleLength {
		return errors.Validation("invalid_title", fmt.Errorf("title must be 1 to %d characters", maxTitleLength))
	}
	if sub.SubmitterID == "" {
		return errors.Validation("missing_submitter", fmt.Errorf("submitter id is required"))
	}
	if len(sub.Categories) == 0 || len(sub.Categories) > MaxCategories {
		return errors.Validation("invalid_categories", fmt.Errorf("a submission lists 1 to %d categories, got %d", MaxCategories, len(sub.Categories)))
	}
	seen := map[string]bool{}
	for _, category := range sub.Categories {
		if category == "" {
			return errors.Validation("invalid_categories", fmt.Errorf("category names cannot be empty"))
		}
		if seen[category] {
			return errors.Validation("invalid_categories", fmt.Errorf("category %q listed twice", category))
		}
		seen[category] = true
	}
	return nil
}

// Submit creates a directory entry with one membership per category. Trusted
// submitters are approved immediately, which awards karma and kicks off the
// screenshot; everyone else lands in the moderation queue.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Site, error) {
	if err := validateSubmission(sub); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	site := &Site{
		ID:          ids.NewULID(now),
		URL:         sub.URL,
		Title:       sub.Title,
		Description: sub.Description,
		SubmitterID: sub.SubmitterID,
		Status:      SiteStatusPending,
		CreatedAt:   now,
	}
	err := s.tx.InDirectoryTx(ctx, func(tx Tx) error {
		if err := tx.Store.CreateSite(ctx, site); err != nil {
			return fmt.Errorf("creating site, %w", err)
		}
		for _, category := range sub.Categories {
			if err := tx.Store.CreateMembership(ctx, &Membership{
				SiteID:    site.ID,
				Category:  category,
				Status:    SiteStatusPending,
				CreatedAt: now,
			}); err != nil {
				return fmt.Errorf("creating membership in %q, %w", category, err)
			}
		}
		if sub.SubmitterTrusted {
			return s.approve(ctx, tx, site)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	submissions.WithLabelValues(boolLabel(sub.SubmitterTrusted)).Inc()
	return site, nil
}

// Approve transitions a pending site and its memberships to approved, awards
// submission karma, and schedules the screenshot.
func (s *Service) Approve(ctx context.Context, siteID string) (*Site, error) {
	var site *Site
	err := s.tx.InDirectoryTx(ctx, func(tx Tx) error {
		var err error
		site, err = tx.Store.GetSite(ctx, siteID)
		if err != nil {
			return err
		}
		if site.Status != SiteStatusPending {
			return errors.Validation("not_pending", fmt.Errorf("site %q is %s", siteID, site.Status))
		}
		return s.approve(ctx, tx, site)
	})
	if err != nil {
		return nil, err
	}
	return site, nil
}

func (s *Service) approve(ctx context.Context, tx Tx, site *Site) error {
	site.Status = SiteStatusApproved
	site.ApprovedAt = s.clock.Now()
	if err := tx.Store.SaveSite(ctx, site); err != nil {
		return fmt.Errorf("approving site %q, %w", site.ID, err)
	}
	if err := s.setMembershipStatuses(ctx, tx.Store, site.ID, SiteStatusApproved); err != nil {
		return err
	}
	if _, err := s.karma.Apply(ctx, tx.Users, site.SubmitterID, karma.EventSubmissionApproved); err != nil {
		return err
	}
	if _, err := tx.Jobs.Enqueue(ctx, queue.TypeScreenshotCapture,
		map[string]any{"site_id": site.ID, "url": site.URL},
		queue.WithFamily(queue.FamilyScreenshot),
		queue.WithIdempotencyKey(site.ID)); err != nil {
		return fmt.Errorf("enqueuing screenshot, %w", err)
	}
	return nil
}

// Reject transitions a pending site and its memberships to rejected and docks
// submission karma.
func (s *Service) Reject(ctx context.Context, siteID string) (*Site, error) {
	var site *Site
	err := s.tx.InDirectoryTx(ctx, func(tx Tx) error {
		var err error
		site, err = tx.Store.GetSite(ctx, siteID)
		if err != nil {
			return err
		}
		if site.Status != SiteStatusPending {
			return errors.Validation("not_pending", fmt.Errorf("site %q is %s", siteID, site.Status))
		}
		site.Status = SiteStatusRejected
		if err := tx.Store.SaveSite(ctx, site); err != nil {
			return fmt.Errorf("rejecting site %q, %w", siteID, err)
		}
		if err := s.setMembershipStatuses(ctx, tx.Store, site.ID, SiteStatusRejected); err != nil {
			return err
		}
		_, err = s.karma.Apply(ctx, tx.Users, site.SubmitterID, karma.EventSubmissionRejected)
		return err
	})
	if err != nil {
		return nil, err
	}
	return site, nil
}

func (s *Service) setMembershipStatuses(ctx context.Context, store Store, siteID string, status SiteStatus) error {
	memberships, err := store.ListMemberships(ctx, siteID)
	if err != nil {
		return fmt.Errorf("listing memberships for %q, %w", siteID, err)
	}
	for i := range memberships {
		memberships[i].Status = status
		if err := store.SaveMembership(ctx, &memberships[i]); err != nil {
			return fmt.Errorf("saving membership in %q, %w", memberships[i].Category, err)
		}
	}
	return nil
}

// SetBubbled moves one membership into or out of the editorial band. Ranks
// refresh on the next recalculation.
func (s *Service) SetBubbled(ctx context.Context, siteID, category string, bubbled bool) error {
	membership, err := s.store.GetMembership(ctx, siteID, category)
	if err != nil {
		return err
	}
	membership.Bubbled = bubbled
	membership.Rank = 0
	return s.store.SaveMembership(ctx, membership)
}

// Vote records voterID's vote on a site within one category. Repeating the
// same direction is a no-op. Changing direction moves the aggregate by two and
// adjusts the submitter's karma accordingly. The vote, the aggregate, the
// karma change, and the consented click row commit in one transaction.
func (s *Service) Vote(ctx context.Context, siteID, category, voterID string, direction Direction, consented bool) error {
	if direction != DirectionUp && direction != DirectionDown {
		return errors.Validation("invalid_direction", fmt.Errorf("direction must be up or down"))
	}
	err := s.tx.InDirectoryTx(ctx, func(tx Tx) error {
		site, err := tx.Store.GetSite(ctx, siteID)
		if err != nil {
			return err
		}
		if voterID == site.SubmitterID {
			return errors.Validation("self_vote", fmt.Errorf("submitters cannot vote on their own site"))
		}
		membership, err := tx.Store.GetMembership(ctx, siteID, category)
		if err != nil {
			return err
		}
		if membership.Status != SiteStatusApproved {
			return errors.Validation("not_votable", fmt.Errorf("site %q in %q is %s", siteID, category, membership.Status))
		}
		existing, err := tx.Store.GetVote(ctx, siteID, category, voterID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Direction == direction {
			return nil
		}

		now := s.clock.Now()
		var event karma.Event
		switch {
		case existing == nil && direction == DirectionUp:
			membership.Upvotes++
			event = karma.EventReceivedUpvote
		case existing == nil && direction == DirectionDown:
			membership.Downvotes++
			event = karma.EventReceivedDownvote
		case direction == DirectionUp:
			membership.Upvotes++
			membership.Downvotes--
			event = karma.EventVoteChangedToUp
		default:
			membership.Upvotes--
			membership.Downvotes++
			event = karma.EventVoteChangedToDown
		}
		if err := tx.Store.SaveVote(ctx, &Vote{SiteID: siteID, Category: category, VoterID: voterID, Direction: direction, CastAt: now}); err != nil {
			return fmt.Errorf("saving vote, %w", err)
		}
		if err := tx.Store.SaveMembership(ctx, membership); err != nil {
			return fmt.Errorf("saving vote aggregate, %w", err)
		}
		if _, err := s.karma.Apply(ctx, tx.Users, site.SubmitterID, event); err != nil {
			return err
		}
		if consented {
			if err := tx.Store.RecordClick(ctx, Click{SiteID: siteID, Category: category, UserID: voterID, Kind: "vote", At: now}); err != nil {
				return fmt.Errorf("recording click, %w", err)
			}
		}
		votes.WithLabelValues(directionLabel(direction)).Inc()
		return nil
	})
	return err
}

// Unvote removes a standing vote, reversing its aggregate and karma effects.
// Removing a vote that does not exist is a no-op.
func (s *Service) Unvote(ctx context.Context, siteID, category, voterID string) error {
	return s.tx.InDirectoryTx(ctx, func(tx Tx) error {
		site, err := tx.Store.GetSite(ctx, siteID)
		if err != nil {
			return err
		}
		membership, err := tx.Store.GetMembership(ctx, siteID, category)
		if err != nil {
			return err
		}
		existing, err := tx.Store.GetVote(ctx, siteID, category, voterID)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		var event karma.Event
		if existing.Direction == DirectionUp {
			membership.Upvotes--
			event = karma.EventVoteRemovedUp
		} else {
			membership.Downvotes--
			event = karma.EventVoteRemovedDown
		}
		if err := tx.Store.DeleteVote(ctx, siteID, category, voterID); err != nil {
			return fmt.Errorf("deleting vote, %w", err)
		}
		if err := tx.Store.SaveMembership(ctx, membership); err != nil {
			return fmt.Errorf("saving vote aggregate, %w", err)
		}
		_, err = s.karma.Apply(ctx, tx.Users, site.SubmitterID, event)
		return err
	})
}

// RecordScreenshot stores the rendered screenshot's object URL on the site.
func (s *Service) RecordScreenshot(ctx context.Context, siteID, objectURL string, at time.Time) error {
	site, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return err
	}
	site.ScreenshotURL = objectURL
	site.LastCheckedAt = at
	return s.store.SaveSite(ctx, site)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func directionLabel(d Direction) string {
	if d == DirectionUp {
		return "up"
	}
	return "down"
}
