package app

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hudl-live/huddle/internal/domain"
	"github.com/hudl-live/huddle/internal/protocol"
)

// SendChat broadcasts a chat line to every member of the room, including
// the sender, so everyone renders messages through the same path.
//
// Whitespace-only text is a silent no-op, mirroring an empty chat submit.
// The id, timestamp and sender identity are stamped server-side from the
// authenticated connection, never taken from the message.
func (r *Registry) SendChat(from domain.ConnID, rawCode, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[from]
	if !ok {
		return
	}
	code := domain.NormalizeCode(rawCode)
	if code == "" {
		code = e.room
	}
	room, ok := r.rooms[code]
	if !ok || !room.Has(from) {
		return
	}

	msg := protocol.ChatMessage{
		Type: protocol.TypeChatMessage,
		ChatMessage: domain.ChatMessage{
			ID:   uuid.NewString(),
			TS:   time.Now().UnixMilli(),
			From: domain.Participant{ID: e.id, Name: e.name},
			Text: text,
		},
	}
	r.broadcast(room, msg, "")
	log.Debug().Str("module", "app.chat").Str("sid", string(from)).
		Str("room", code).Msg("chat broadcast")
}
