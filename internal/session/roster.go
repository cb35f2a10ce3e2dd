package session

import "sort"

// Roster tracks who is currently in the active room. Every presence event
// carries the full authoritative membership, so updates replace the whole
// set; there is no merge logic.
type Roster struct {
	users map[string]struct{}
}

// NewRoster builds an empty roster.
func NewRoster() *Roster {
	return &Roster{users: make(map[string]struct{})}
}

// Replace swaps in a new membership snapshot. Duplicate names collapse.
func (r *Roster) Replace(users []string) {
	next := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u == "" {
			continue
		}
		next[u] = struct{}{}
	}
	r.users = next
}

// Users returns the current membership as a sorted copy.
func (r *Roster) Users() []string {
	out := make([]string, 0, len(r.users))
	for u := range r.users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether name is in the active room.
func (r *Roster) Contains(name string) bool {
	_, ok := r.users[name]
	return ok
}
