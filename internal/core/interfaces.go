package core

import "github.com/hudl-live/huddle/internal/domain"

// Frame is a single marshalled wire envelope.
type Frame []byte

// SignalConn abstracts the per-connection messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConn interface {
	// TrySend enqueues a frame without blocking. It returns an error when
	// the connection is closed or its send buffer is full; callers treat
	// both as a dropped frame, never as a reason to stall a room.
	TrySend(Frame) error
	Close()
}

// Member binds a participant identity to its transport endpoint.
type Member struct {
	ID   domain.ConnID
	Name string
	Conn SignalConn
}

// Participant is the read-only identity view of a member.
func (m *Member) Participant() domain.Participant {
	return domain.Participant{ID: m.ID, Name: m.Name}
}
