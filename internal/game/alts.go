package game

import (
	"sort"

	kit "spookbot/internal/transport"
)

// AltRegistry maps linked accounts to the primary identity that controls
// them. It is built once and never mutated.
type AltRegistry struct {
	primary map[kit.UserID]kit.UserID
	groups  map[kit.UserID][]kit.UserID
}

// NewAltRegistry builds the registry from primary -> alts. An id listed
// under several primaries stays with the first primary in id order.
func NewAltRegistry(table map[kit.UserID][]kit.UserID) *AltRegistry {
	r := &AltRegistry{
		primary: map[kit.UserID]kit.UserID{},
		groups:  map[kit.UserID][]kit.UserID{},
	}
	primaries := make([]kit.UserID, 0, len(table))
	for p := range table {
		primaries = append(primaries, p)
	}
	sort.Slice(primaries, func(i, j int) bool { return primaries[i] < primaries[j] })

	for _, p := range primaries {
		if _, taken := r.primary[p]; taken {
			continue
		}
		group := []kit.UserID{p}
		r.primary[p] = p
		for _, a := range table[p] {
			if a == 0 || a == p {
				continue
			}
			if _, taken := r.primary[a]; taken {
				continue
			}
			r.primary[a] = p
			group = append(group, a)
		}
		if len(group) == 1 {
			delete(r.primary, p)
			continue
		}
		r.groups[p] = group
	}
	return r
}

// GroupOf returns every identity linked with id, primary first.
func (r *AltRegistry) GroupOf(id kit.UserID) ([]kit.UserID, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.primary[id]
	if !ok {
		return nil, false
	}
	return append([]kit.UserID(nil), r.groups[p]...), true
}

// IsAlt reports whether id is a linked account (not a primary).
func (r *AltRegistry) IsAlt(id kit.UserID) bool {
	if r == nil {
		return false
	}
	p, ok := r.primary[id]
	return ok && p != id
}

// Key collapses id to its group's primary; unlinked ids map to themselves.
func (r *AltRegistry) Key(id kit.UserID) kit.UserID {
	if r == nil {
		return id
	}
	if p, ok := r.primary[id]; ok {
		return p
	}
	return id
}

func (r *AltRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.groups)
}
