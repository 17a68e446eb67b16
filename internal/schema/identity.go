package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Identity scopes per-user state. The zero value is Anonymous.
type Identity struct {
	userID string
}

// Anonymous is the signed-out local session.
var Anonymous = Identity{}

// Authenticated returns the identity for a signed-in user.
func Authenticated(userID string) Identity {
	return Identity{userID: userID}
}

// IsAnonymous reports whether no user is signed in.
func (i Identity) IsAnonymous() bool {
	return i.userID == ""
}

// UserID returns the authenticated user id, or "" for Anonymous.
func (i Identity) UserID() string {
	return i.userID
}

// Key is the storage suffix for this identity's favorites and history.
func (i Identity) Key() string {
	if i.IsAnonymous() {
		return "anon"
	}
	return "user:" + i.userID
}

func (i Identity) String() string {
	if i.IsAnonymous() {
		return "anonymous"
	}
	return i.userID
}

// ParseIdentity is the inverse of Key.
func ParseIdentity(key string) (Identity, error) {
	switch {
	case key == "anon":
		return Anonymous, nil
	case strings.HasPrefix(key, "user:") && len(key) > len("user:"):
		return Authenticated(strings.TrimPrefix(key, "user:")), nil
	default:
		return Identity{}, fmt.Errorf("invalid identity key %q", key)
	}
}

// FavoriteSet is a set of term titles that remembers insertion order.
type FavoriteSet struct {
	items []string
	index map[string]struct{}
}

// NewFavoriteSet builds a set from titles, dropping duplicates and blanks.
func NewFavoriteSet(titles ...string) *FavoriteSet {
	s := &FavoriteSet{index: make(map[string]struct{})}
	for _, t := range titles {
		s.Add(t)
	}
	return s
}

// Add inserts title. Returns false if it was already present.
func (s *FavoriteSet) Add(title string) bool {
	if title == "" {
		return false
	}
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[title]; ok {
		return false
	}
	s.index[title] = struct{}{}
	s.items = append(s.items, title)
	return true
}

// Remove deletes title. Returns false if it was absent.
func (s *FavoriteSet) Remove(title string) bool {
	if _, ok := s.index[title]; !ok {
		return false
	}
	delete(s.index, title)
	for i, t := range s.items {
		if t == title {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports membership.
func (s *FavoriteSet) Contains(title string) bool {
	_, ok := s.index[title]
	return ok
}

// Len returns the number of titles.
func (s *FavoriteSet) Len() int {
	return len(s.items)
}

// Items returns a copy of the titles in insertion order.
func (s *FavoriteSet) Items() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// Union returns a new set with s's titles followed by other's new ones.
func (s *FavoriteSet) Union(other *FavoriteSet) *FavoriteSet {
	out := NewFavoriteSet(s.items...)
	if other != nil {
		for _, t := range other.items {
			out.Add(t)
		}
	}
	return out
}

// Difference returns titles in s that are not in other.
func (s *FavoriteSet) Difference(other *FavoriteSet) []string {
	var out []string
	for _, t := range s.items {
		if other == nil || !other.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s *FavoriteSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Items())
}

func (s *FavoriteSet) UnmarshalJSON(data []byte) error {
	var titles []string
	if err := json.Unmarshal(data, &titles); err != nil {
		return err
	}
	*s = *NewFavoriteSet(titles...)
	return nil
}
