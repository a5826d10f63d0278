package app

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hudl-live/huddle/internal/core"
	"github.com/hudl-live/huddle/internal/domain"
	"github.com/hudl-live/huddle/internal/protocol"
)

type entry struct {
	id   domain.ConnID
	name string
	room string // normalized room code, "" when not in a room
	conn core.SignalConn
}

// Registry is the authoritative room presence state: every live
// connection and every materialized room. It is the single serialization
// point for membership mutations, so each state change and the broadcast
// reflecting it are observed by all members in the same relative order.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*entry
	rooms map[string]*core.Room
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*entry),
		rooms: make(map[string]*core.Room),
	}
}

// Connect registers a freshly established transport session.
func (r *Registry) Connect(id domain.ConnID, conn core.SignalConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &entry{id: id, name: domain.DefaultName, conn: conn}
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("connected")
}

// Disconnect removes a connection, performing the implicit leave. Safe to
// call more than once; only the first call has any effect.
func (r *Registry) Disconnect(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return
	}
	r.leaveLocked(e)
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("disconnected")
}

// Join puts a connection into a room, swapping it out of any previous
// room first so it is never a member of two rooms at once. It returns the
// joiner's identity and the participants present before the join, in
// insertion order; that snapshot is what the join ack carries.
//
// Side effects, in order: pre-existing members receive user-joined, then
// the whole room (joiner included) receives the refreshed participants
// snapshot.
func (r *Registry) Join(id domain.ConnID, rawCode, rawName string) (domain.Participant, []domain.Participant, error) {
	code := domain.NormalizeCode(rawCode)
	if code == "" {
		return domain.Participant{}, nil, domain.ErrInvalidRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return domain.Participant{}, nil, domain.ErrInvalidRoom
	}
	e.name = domain.CleanName(rawName)

	if e.room != "" && e.room != code {
		r.leaveLocked(e)
	}

	room, ok := r.rooms[code]
	if !ok {
		room = core.NewRoom(code)
		r.rooms[code] = room
		log.Info().Str("module", "app.registry").Str("room", code).Msg("room materialized")
	}

	me := domain.Participant{ID: e.id, Name: e.name}
	before := make([]domain.Participant, 0, room.Len())
	for _, p := range room.Snapshot() {
		if p.ID != id {
			before = append(before, p)
		}
	}

	room.Add(&core.Member{ID: e.id, Name: e.name, Conn: e.conn})
	e.room = code

	r.broadcast(room, protocol.UserJoined{Type: protocol.TypeUserJoined, User: me}, id)
	r.broadcast(room, protocol.Participants{
		Type:         protocol.TypeParticipants,
		Participants: room.Snapshot(),
	}, "")

	log.Info().Str("module", "app.registry").Str("sid", string(id)).
		Str("room", code).Int("count", room.Len()).Msg("joined room")
	return me, before, nil
}

// Leave removes the connection from its current room, if any. Idempotent.
func (r *Registry) Leave(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		r.leaveLocked(e)
	}
}

// leaveLocked emits user-left to the remaining members followed by a
// refreshed snapshot, and garbage-collects the room when it empties.
func (r *Registry) leaveLocked(e *entry) {
	if e.room == "" {
		return
	}
	code := e.room
	e.room = ""

	room, ok := r.rooms[code]
	if !ok || !room.Remove(e.id) {
		return
	}
	if room.Len() == 0 {
		delete(r.rooms, code)
		log.Info().Str("module", "app.registry").Str("room", code).Msg("room garbage-collected")
		return
	}
	r.broadcast(room, protocol.UserLeft{Type: protocol.TypeUserLeft, ID: e.id}, "")
	r.broadcast(room, protocol.Participants{
		Type:         protocol.TypeParticipants,
		Participants: room.Snapshot(),
	}, "")
}

// Participants returns the ordered live snapshot of a room, or an empty
// list for a room that does not exist.
func (r *Registry) Participants(rawCode string) []domain.Participant {
	code := domain.NormalizeCode(rawCode)
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[code]
	if !ok {
		return []domain.Participant{}
	}
	return room.Snapshot()
}

// RoomOf reports the room the connection is currently in.
func (r *Registry) RoomOf(id domain.ConnID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.room == "" {
		return "", false
	}
	return e.room, true
}

// broadcast marshals once and fans out under the registry lock; TrySend
// never blocks so holding the lock keeps the per-room event order intact.
func (r *Registry) broadcast(room *core.Room, v any, except domain.ConnID) {
	f, err := encode(v)
	if err != nil {
		return
	}
	if dropped := room.Broadcast(f, except); dropped > 0 {
		log.Warn().Str("module", "app.registry").Str("room", room.Code()).
			Int("dropped", dropped).Msg("slow members dropped a broadcast")
	}
}

func encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("encode frame")
		return nil, err
	}
	return core.Frame(b), nil
}
