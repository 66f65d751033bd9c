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

// Package karma tracks per-user reputation and the trust promotion derived
// from it. Karma never goes below zero, and every change leaves an audit row.
package karma

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// TrustThreshold is the karma score at which a user is promoted to trusted.
// Promotion is sticky; losing karma afterwards does not demote.
const TrustThreshold = 10

// Event names the cause of a karma change.
type Event string

const (
	EventSubmissionApproved Event = "submission_approved"
	EventSubmissionRejected Event = "submission_rejected"
	EventReceivedUpvote     Event = "received_upvote"
	EventReceivedDownvote   Event = "received_downvote"
	// EventVoteChangedToUp covers a voter flipping down to up on the user's
	// content, reversing the old unit and applying the new one.
	EventVoteChangedToUp   Event = "vote_changed_to_up"
	EventVoteChangedToDown Event = "vote_changed_to_down"
	EventVoteRemovedUp     Event = "vote_removed_up"
	EventVoteRemovedDown   Event = "vote_removed_down"
	EventAdminAdjust       Event = "admin_adjust"
)

var deltas = map[Event]int{
	EventSubmissionApproved: 5,
	EventSubmissionRejected: -2,
	EventReceivedUpvote:     1,
	EventReceivedDownvote:   -1,
	EventVoteChangedToUp:    2,
	EventVoteChangedToDown:  -2,
	EventVoteRemovedUp:      -1,
	EventVoteRemovedDown:    1,
}

// User is the reputation slice of an account.
type User struct {
	ID        string
	Karma     int
	Trusted   bool
	TrustedAt time.Time
}

// Audit is one recorded karma change. Delta is the effective change after
// clamping, so BeforeKarma + Delta == KarmaAfter holds on every row and the
// audit trail sums back to the current score.
type Audit struct {
	UserID      string
	Event       Event
	Delta       int
	BeforeKarma int
	KarmaAfter  int
	Actor       string
	Note        string
	At          time.Time
}

// Store is the durable side of karma accounting. Callers that need karma
// changes atomic with their own writes pass a transaction-bound Store.
type Store interface {
	// GetUserForUpdate reads the user with a row lock in implementations that
	// support one.
	GetUserForUpdate(ctx context.Context, userID string) (*User, error)
	SaveUser(ctx context.Context, user *User) error
	AppendAudit(ctx context.Context, audit Audit) error
}

// UserNotFound is the canonical unknown-user error for Store implementations.
func UserNotFound(userID string) error {
	return errors.Validation("user_not_found", fmt.Errorf("no user %q", userID))
}

func IsUserNotFound(err error) bool {
	return errors.Code(err) == "user_not_found"
}

type ApplyOptions struct {
	// Delta overrides the event's fixed delta. Only admin_adjust honors it.
	Delta int
	Actor string
	Note  string
}

type ApplyOption func(*ApplyOptions)

func WithDelta(delta int) ApplyOption {
	return func(o *ApplyOptions) { o.Delta = delta }
}

func WithActor(actor string) ApplyOption {
	return func(o *ApplyOptions) { o.Actor = actor }
}

func WithNote(note string) ApplyOption {
	return func(o *ApplyOptions) { o.Note = note }
}

// Service applies karma events. It holds no state beyond a clock, so one
// instance serves every caller and transaction.
type Service struct {
	clock clock.PassiveClock
}

func NewService(clk clock.PassiveClock) *Service {
	return &Service{clock: clk}
}

// Apply records one karma event against a user through the given store and
// returns the updated user. The score clamps at zero, and crossing the trust
// threshold promotes exactly once.
func (s *Service) Apply(ctx context.Context, store Store, userID string, event Event, opts ...ApplyOption) (*User, error) {
	options := ApplyOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	delta, err := resolveDelta(event, options)
	if err != nil {
		return nil, err
	}
	user, err := store.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	before := user.Karma
	user.Karma += delta
	if user.Karma < 0 {
		user.Karma = 0
	}
	now := s.clock.Now()
	if !user.Trusted && user.Karma >= TrustThreshold {
		user.Trusted = true
		user.TrustedAt = now
		promotions.Inc()
		logging.FromContext(ctx).With("user-id", userID, "karma", user.Karma).Infof("user promoted to trusted")
	}
	if err := store.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("saving user %q, %w", userID, err)
	}
	if err := store.AppendAudit(ctx, Audit{
		UserID:      userID,
		Event:       event,
		Delta:       user.Karma - before,
		BeforeKarma: before,
		KarmaAfter:  user.Karma,
		Actor:       options.Actor,
		Note:        options.Note,
		At:          now,
	}); err != nil {
		return nil, fmt.Errorf("appending karma audit for %q, %w", userID, err)
	}
	events.WithLabelValues(string(event)).Inc()
	return user, nil
}

func resolveDelta(event Event, options ApplyOptions) (int, error) {
	if event == EventAdminAdjust {
		if options.Actor == "" {
			return 0, errors.Validation("missing_actor", fmt.Errorf("admin adjustments require an actor"))
		}
		return options.Delta, nil
	}
	delta, ok := deltas[event]
	if !ok {
		return 0, errors.Validation("unknown_event", fmt.Errorf("no delta for karma event %q", event))
	}
	return delta, nil
}
