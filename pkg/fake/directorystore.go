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
	"sort"
	"sync"

	"github.com/teacurran/village-homepage/pkg/directory"
)

// DirectoryStore is the in-memory directory.Store used across test suites.
type DirectoryStore struct {
	mu          sync.Mutex
	Sites       map[string]*directory.Site
	Memberships map[string]*directory.Membership // siteID+"/"+category
	Votes       map[string]*directory.Vote       // siteID+"/"+category+"/"+voterID
	Clicks      []directory.Click
}

func NewDirectoryStore() *DirectoryStore {
	return &DirectoryStore{
		Sites:       map[string]*directory.Site{},
		Memberships: map[string]*directory.Membership{},
		Votes:       map[string]*directory.Vote{},
	}
}

func (s *DirectoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sites = map[string]*directory.Site{}
	s.Memberships = map[string]*directory.Membership{}
	s.Votes = map[string]*directory.Vote{}
	s.Clicks = nil
}

func membershipKey(siteID, category string) string {
	return siteID + "/" + category
}

func voteKey(siteID, category, voterID string) string {
	return siteID + "/" + category + "/" + voterID
}

func (s *DirectoryStore) CreateSite(_ context.Context, site *directory.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *site
	s.Sites[site.ID] = &copied
	return nil
}

func (s *DirectoryStore) GetSite(_ context.Context, siteID string) (*directory.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.Sites[siteID]
	if !ok {
		return nil, directory.SiteNotFound(siteID)
	}
	copied := *site
	return &copied, nil
}

func (s *DirectoryStore) SaveSite(_ context.Context, site *directory.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Sites[site.ID]; !ok {
		return directory.SiteNotFound(site.ID)
	}
	copied := *site
	s.Sites[site.ID] = &copied
	return nil
}

func (s *DirectoryStore) CreateMembership(_ context.Context, membership *directory.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *membership
	s.Memberships[membershipKey(membership.SiteID, membership.Category)] = &copied
	return nil
}

func (s *DirectoryStore) GetMembership(_ context.Context, siteID, category string) (*directory.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	membership, ok := s.Memberships[membershipKey(siteID, category)]
	if !ok {
		return nil, directory.MembershipNotFound(siteID, category)
	}
	copied := *membership
	return &copied, nil
}

func (s *DirectoryStore) SaveMembership(_ context.Context, membership *directory.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey(membership.SiteID, membership.Category)
	if _, ok := s.Memberships[key]; !ok {
		return directory.MembershipNotFound(membership.SiteID, membership.Category)
	}
	copied := *membership
	s.Memberships[key] = &copied
	return nil
}

func (s *DirectoryStore) ListMemberships(_ context.Context, siteID string) ([]directory.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []directory.Membership
	for _, membership := range s.Memberships {
		if membership.SiteID == siteID {
			out = append(out, *membership)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Category < out[k].Category })
	return out, nil
}

func (s *DirectoryStore) GetVote(_ context.Context, siteID, category, voterID string) (*directory.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vote, ok := s.Votes[voteKey(siteID, category, voterID)]
	if !ok {
		return nil, nil
	}
	copied := *vote
	return &copied, nil
}

func (s *DirectoryStore) SaveVote(_ context.Context, vote *directory.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *vote
	s.Votes[voteKey(vote.SiteID, vote.Category, vote.VoterID)] = &copied
	return nil
}

func (s *DirectoryStore) DeleteVote(_ context.Context, siteID, category, voterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Votes, voteKey(siteID, category, voterID))
	return nil
}

func (s *DirectoryStore) RecordClick(_ context.Context, click directory.Click) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Clicks = append(s.Clicks, click)
	return nil
}

func (s *DirectoryStore) ListApproved(_ context.Context) ([]directory.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []directory.Site
	for _, site := range s.Sites {
		if site.Status == directory.SiteStatusApproved {
			out = append(out, *site)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *DirectoryStore) ListApprovedMemberships(_ context.Context) ([]directory.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []directory.Membership
	for _, membership := range s.Memberships {
		if membership.Status == directory.SiteStatusApproved {
			out = append(out, *membership)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].SiteID != out[k].SiteID {
			return out[i].SiteID < out[k].SiteID
		}
		return out[i].Category < out[k].Category
	})
	return out, nil
}

func (s *DirectoryStore) SaveRanks(_ context.Context, assignments []directory.RankAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, assignment := range assignments {
		if membership, ok := s.Memberships[membershipKey(assignment.SiteID, assignment.Category)]; ok {
			membership.Rank = assignment.Rank
		}
	}
	return nil
}

func (s *DirectoryStore) ListForHealthCheck(_ context.Context, limit int) ([]directory.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []directory.Site
	for _, site := range s.Sites {
		if site.Status == directory.SiteStatusApproved {
			out = append(out, *site)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].LastCheckedAt.Before(out[k].LastCheckedAt) })
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
