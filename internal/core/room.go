package core

import "github.com/hudl-live/huddle/internal/domain"

// Room holds the membership of one room code in insertion order.
//
// Room is not synchronized on its own: every mutation and fan-out is
// serialized by the registry owning it, which is what gives all members
// a single observed order of join/leave/broadcast triples.
type Room struct {
	code    string
	members map[domain.ConnID]*Member
	order   []domain.ConnID
}

func NewRoom(code string) *Room {
	return &Room{
		code:    code,
		members: make(map[domain.ConnID]*Member),
	}
}

func (r *Room) Code() string { return r.code }

func (r *Room) Len() int { return len(r.members) }

func (r *Room) Has(id domain.ConnID) bool {
	_, ok := r.members[id]
	return ok
}

// Add inserts or updates a member. A re-join of an existing member keeps
// its original position in the insertion order.
func (r *Room) Add(m *Member) {
	if _, ok := r.members[m.ID]; !ok {
		r.order = append(r.order, m.ID)
	}
	r.members[m.ID] = m
}

// Remove drops a member; it reports whether the member was present.
func (r *Room) Remove(id domain.ConnID) bool {
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns the live membership in insertion order. The slice is
// always non-nil so an empty room marshals as [].
func (r *Room) Snapshot() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id].Participant())
	}
	return out
}

// Broadcast fans a frame out to every member except the given one; pass
// an empty ConnID to include everyone. Frames that cannot be enqueued
// are dropped for that member only.
func (r *Room) Broadcast(f Frame, except domain.ConnID) (dropped int) {
	for _, id := range r.order {
		if id == except {
			continue
		}
		if err := r.members[id].Conn.TrySend(f); err != nil {
			dropped++
		}
	}
	return dropped
}
