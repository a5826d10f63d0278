// Package protocol defines the JSON wire envelopes exchanged between
// clients and the coordination service. Both the server handlers and the
// client mesh speak these types; SDP and ICE payloads stay opaque raw
// JSON so the relay never inspects them.
package protocol

import (
	"encoding/json"

	"github.com/hudl-live/huddle/internal/domain"
)

type Type string

const (
	TypeJoin         Type = "room:join"
	TypeJoined       Type = "room:joined"
	TypeParticipants Type = "room:participants"
	TypeUserJoined   Type = "room:user-joined"
	TypeUserLeft     Type = "room:user-left"
	TypeOffer        Type = "webrtc:offer"
	TypeAnswer       Type = "webrtc:answer"
	TypeICE          Type = "webrtc:ice"
	TypeChatSend     Type = "chat:send"
	TypeChatMessage  Type = "chat:message"
)

// Peek decodes only the type discriminator of an envelope.
func Peek(data []byte) Type {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	return env.Type
}

// Join is sent by a client to enter a room.
type Join struct {
	Type     Type   `json:"type"`
	RoomCode string `json:"roomCode"`
	Name     string `json:"name,omitempty"`
}

// JoinAck acknowledges a Join. On success Me carries the server-assigned
// identity and Participants the members present before the join, in
// insertion order.
type JoinAck struct {
	Type         Type                 `json:"type"`
	OK           bool                 `json:"ok"`
	Error        string               `json:"error,omitempty"`
	Me           *domain.Participant  `json:"me,omitempty"`
	Participants []domain.Participant `json:"participants"`
}

// Participants is the full live membership snapshot, never a diff.
type Participants struct {
	Type         Type                 `json:"type"`
	Participants []domain.Participant `json:"participants"`
}

// UserJoined notifies pre-existing members of a new joiner so they can
// eagerly start negotiating instead of waiting for the next snapshot.
type UserJoined struct {
	Type Type               `json:"type"`
	User domain.Participant `json:"user"`
}

// UserLeft notifies remaining members that a participant is gone.
type UserLeft struct {
	Type Type          `json:"type"`
	ID   domain.ConnID `json:"id"`
}

// Signal carries an offer, answer or ICE candidate. Clients address it
// with To; the relay rewrites it with the authenticated From before
// forwarding. Exactly one of SDP and Candidate is set, depending on Type.
type Signal struct {
	Type      Type            `json:"type"`
	To        domain.ConnID   `json:"to,omitempty"`
	From      domain.ConnID   `json:"from,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Payload returns whichever opaque payload the signal carries.
func (s *Signal) Payload() json.RawMessage {
	if s.Type == TypeICE {
		return s.Candidate
	}
	return s.SDP
}

// ChatSend is a client request to broadcast a chat line.
type ChatSend struct {
	Type     Type   `json:"type"`
	RoomCode string `json:"roomCode,omitempty"`
	Message  string `json:"message"`
}

// ChatMessage is the fanned-out chat broadcast, identical for the sender
// and every other member.
type ChatMessage struct {
	Type Type `json:"type"`
	domain.ChatMessage
}
