package storage

import (
	"sort"
	"strings"
	"time"

	"vidloop-live/internal/models"

	"golang.org/x/text/unicode/norm"
)

// FollowResult reports the outcome of a follow toggle.
type FollowResult struct {
	Following   bool        `json:"following"`
	Followers   int         `json:"followers"`
	ReachedGoal bool        `json:"reachedGoal"`
	Target      models.User `json:"-"`
}

// ToggleFollow flips the follow edge between two users and keeps both
// denormalised counters in sync with edge existence. ReachedGoal is true for
// exactly the call that first lifts the target's follower count to the live
// threshold; that call also flips CanBroadcast, which never reverts.
func (s *Storage) ToggleFollow(followerID, followingID string) (FollowResult, error) {
	if followerID == followingID {
		return FollowResult{}, ErrSelfFollow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	follower, ok := s.data.Users[followerID]
	if !ok {
		return FollowResult{}, ErrUserNotFound
	}
	target, ok := s.data.Users[followingID]
	if !ok {
		return FollowResult{}, ErrUserNotFound
	}

	updated := cloneDataset(s.data)

	edges := updated.Follows[followerID]
	_, following := edges[followingID]

	result := FollowResult{}
	if following {
		delete(edges, followingID)
		if len(edges) == 0 {
			delete(updated.Follows, followerID)
		}
		follower.Following--
		target.Followers--
		if follower.Following < 0 {
			follower.Following = 0
		}
		if target.Followers < 0 {
			target.Followers = 0
		}
		result.Following = false
	} else {
		if edges == nil {
			edges = make(map[string]time.Time)
			updated.Follows[followerID] = edges
		}
		edges[followingID] = time.Now().UTC()
		follower.Following++
		target.Followers++
		result.Following = true
		if target.Followers >= s.liveThreshold && !target.CanBroadcast {
			target.CanBroadcast = true
			result.ReachedGoal = true
		}
	}

	updated.Users[followerID] = follower
	updated.Users[followingID] = target

	if err := s.persistDataset(updated); err != nil {
		return FollowResult{}, err
	}
	s.data = updated

	result.Followers = target.Followers
	result.Target = target
	return result, nil
}

// IsFollowing reports whether a follow edge exists.
func (s *Storage) IsFollowing(followerID, followingID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edges, ok := s.data.Follows[followerID]
	if !ok {
		return false
	}
	_, following := edges[followingID]
	return following
}

// CanBroadcast reports whether the user has earned broadcast rights. Unknown
// users cannot broadcast.
func (s *Storage) CanBroadcast(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[userID]
	return ok && user.CanBroadcast
}

// ListFollowers returns the accounts following the given user, most recent
// first.
func (s *Storage) ListFollowers(userID string) []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		user models.User
		at   time.Time
	}
	entries := make([]entry, 0)
	for followerID, edges := range s.data.Follows {
		followedAt, ok := edges[userID]
		if !ok {
			continue
		}
		follower, ok := s.data.Users[followerID]
		if !ok {
			continue
		}
		entries = append(entries, entry{user: follower, at: followedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].at.After(entries[j].at)
	})
	followers := make([]models.User, 0, len(entries))
	for _, e := range entries {
		followers = append(followers, e.user)
	}
	return followers
}

// SuggestedUsers returns accounts the user does not yet follow, ordered by
// follower count.
func (s *Storage) SuggestedUsers(forUserID string, limit int) []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges := s.data.Follows[forUserID]
	suggestions := make([]models.User, 0)
	for id, user := range s.data.Users {
		if id == forUserID {
			continue
		}
		if _, following := edges[id]; following {
			continue
		}
		suggestions = append(suggestions, user)
	}
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Followers != suggestions[j].Followers {
			return suggestions[i].Followers > suggestions[j].Followers
		}
		return suggestions[i].CreatedAt.Before(suggestions[j].CreatedAt)
	})
	if limit > 0 && len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}

// SearchUsers matches usernames against the query after Unicode
// normalisation and case folding, so composed and decomposed spellings of the
// same name compare equal.
func (s *Storage) SearchUsers(query string) []models.User {
	needle := foldForSearch(query)
	if needle == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]models.User, 0)
	for _, user := range s.data.Users {
		if strings.Contains(foldForSearch(user.Username), needle) {
			matches = append(matches, user)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Followers > matches[j].Followers
	})
	return matches
}

// Leaderboard ranks users by accumulated video likes, follower count breaking
// ties.
func (s *Storage) Leaderboard(limit int) []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ranked := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		ranked = append(ranked, user)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalLikes != ranked[j].TotalLikes {
			return ranked[i].TotalLikes > ranked[j].TotalLikes
		}
		return ranked[i].Followers > ranked[j].Followers
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func foldForSearch(value string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(value)))
}
