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
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// RankHandler recomputes directory ranks per category. Within a category,
// bubbled memberships form their own band with an independent rank sequence;
// within each band the order is score descending with submission time breaking
// ties in favor of older entries.
type RankHandler struct {
	store Store
}

func NewRankHandler(store Store) *RankHandler {
	return &RankHandler{store: store}
}

func (h *RankHandler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:        queue.TypeRankRecalculation,
		Family:      queue.FamilyLow,
		MaxDuration: 5 * time.Minute,
		MaxAttempts: 3,
	}
}

func (h *RankHandler) Validate(json.RawMessage) error { return nil }

func (h *RankHandler) Run(ctx context.Context, _ json.RawMessage) error {
	memberships, err := h.store.ListApprovedMemberships(ctx)
	if err != nil {
		return fmt.Errorf("listing memberships for ranking, %w", err)
	}
	var assignments []RankAssignment
	byCategory := lo.GroupBy(memberships, func(m Membership) string { return m.Category })
	for _, members := range byCategory {
		bubbled := lo.Filter(members, func(m Membership, _ int) bool { return m.Bubbled })
		general := lo.Filter(members, func(m Membership, _ int) bool { return !m.Bubbled })
		assignments = append(assignments, rankBand(bubbled)...)
		assignments = append(assignments, rankBand(general)...)
	}
	if err := h.store.SaveRanks(ctx, assignments); err != nil {
		return fmt.Errorf("saving ranks, %w", err)
	}
	logging.FromContext(ctx).With("categories", len(byCategory), "memberships", len(memberships)).
		Debugf("recomputed directory ranks")
	return nil
}

func rankBand(members []Membership) []RankAssignment {
	sort.SliceStable(members, func(i, k int) bool {
		if members[i].Score() != members[k].Score() {
			return members[i].Score() > members[k].Score()
		}
		return members[i].CreatedAt.Before(members[k].CreatedAt)
	})
	return lo.Map(members, func(m Membership, i int) RankAssignment {
		return RankAssignment{SiteID: m.SiteID, Category: m.Category, Rank: i + 1}
	})
}
