package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/hudl-live/huddle/internal/domain"
	"github.com/hudl-live/huddle/internal/protocol"
)

// Relay forwards a signaling envelope to the target connection, stamping
// the authenticated sender as From. The payload is never inspected.
//
// A missing target means the peer already disconnected; the envelope is
// silently dropped. At-most-once, best-effort: the relay never queues,
// retries or errors back to the sender, which reacts to user-left events
// independently.
func (r *Registry) Relay(from domain.ConnID, kind protocol.Type, to domain.ConnID, payload json.RawMessage) {
	r.mu.RLock()
	target, ok := r.conns[to]
	r.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "app.relay").Str("from", string(from)).
			Str("to", string(to)).Str("kind", string(kind)).Msg("target gone, dropped")
		return
	}

	out := protocol.Signal{Type: kind, From: from}
	if kind == protocol.TypeICE {
		out.Candidate = payload
	} else {
		out.SDP = payload
	}
	f, err := encode(out)
	if err != nil {
		return
	}
	_ = target.conn.TrySend(f)
}
