package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/hudl-live/huddle/internal/core"
	"github.com/hudl-live/huddle/internal/domain"
	"github.com/hudl-live/huddle/internal/protocol"
)

// recConn records every frame enqueued to it.
type recConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (c *recConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *recConn) Close() {}

// types returns the event type of every recorded frame, in order.
func (c *recConn) types() []protocol.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Type, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, protocol.Peek(f))
	}
	return out
}

func (c *recConn) frame(i int) core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i]
}

func (c *recConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func decode[T any](t *testing.T, f core.Frame) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(f, &v); err != nil {
		t.Fatalf("decode frame %s: %v", f, err)
	}
	return v
}

func connect(r *Registry, id string) *recConn {
	c := &recConn{}
	r.Connect(domain.ConnID(id), c)
	return c
}

func ids(list []domain.Participant) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, string(p.ID))
	}
	return out
}

func sameIDs(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestJoinNormalizesCodeAndName(t *testing.T) {
	r := NewRegistry()
	connect(r, "x")

	me, before, err := r.Join("x", "  ab12cd ", "  Ada  ")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if me.ID != "x" || me.Name != "Ada" {
		t.Fatalf("unexpected identity: %+v", me)
	}
	if len(before) != 0 {
		t.Fatalf("first joiner must see an empty room, got %v", before)
	}
	if room, ok := r.RoomOf("x"); !ok || room != "AB12CD" {
		t.Fatalf("expected membership in AB12CD, got %q ok=%v", room, ok)
	}
}

func TestJoinRejectsEmptyCode(t *testing.T) {
	r := NewRegistry()
	connect(r, "x")

	for _, raw := range []string{"", "   ", "\t\n"} {
		if _, _, err := r.Join("x", raw, "Ada"); !errors.Is(err, domain.ErrInvalidRoom) {
			t.Fatalf("code %q: expected ErrInvalidRoom, got %v", raw, err)
		}
	}
	if _, ok := r.RoomOf("x"); ok {
		t.Fatalf("failed join must not place the connection in a room")
	}
}

func TestJoinEventOrderForExistingMembers(t *testing.T) {
	r := NewRegistry()
	cx := connect(r, "x")
	cy := connect(r, "y")

	if _, _, err := r.Join("x", "AB12CD", "X"); err != nil {
		t.Fatalf("join x: %v", err)
	}
	_, before, err := r.Join("y", "AB12CD", "Y")
	if err != nil {
		t.Fatalf("join y: %v", err)
	}

	if !sameIDs(ids(before), []string{"x"}) {
		t.Fatalf("y's pre-join snapshot: expected [x], got %v", ids(before))
	}

	// x: own participants snapshot, then user-joined(y), then refreshed snapshot.
	want := []protocol.Type{protocol.TypeParticipants, protocol.TypeUserJoined, protocol.TypeParticipants}
	got := cx.types()
	if !sameTypes(got, want) {
		t.Fatalf("x's event order: expected %v, got %v", want, got)
	}
	uj := decode[protocol.UserJoined](t, cx.frame(1))
	if uj.User.ID != "y" || uj.User.Name != "Y" {
		t.Fatalf("user-joined carries wrong identity: %+v", uj.User)
	}
	snap := decode[protocol.Participants](t, cx.frame(2))
	if !sameIDs(ids(snap.Participants), []string{"x", "y"}) {
		t.Fatalf("snapshot after join: expected [x y], got %v", ids(snap.Participants))
	}

	// The joiner itself never receives its own user-joined.
	for _, typ := range cy.types() {
		if typ == protocol.TypeUserJoined {
			t.Fatalf("joiner received its own user-joined")
		}
	}
}

func TestJoinSwapsRoomsAtomically(t *testing.T) {
	r := NewRegistry()
	connect(r, "x")
	ca := connect(r, "a")

	if _, _, err := r.Join("a", "ROOMA1", "A"); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if _, _, err := r.Join("x", "ROOMA1", "X"); err != nil {
		t.Fatalf("join x: %v", err)
	}
	if _, _, err := r.Join("x", "ROOMB2", "X"); err != nil {
		t.Fatalf("swap x: %v", err)
	}

	if !sameIDs(ids(r.Participants("ROOMA1")), []string{"a"}) {
		t.Fatalf("old room still lists the swapped member: %v", ids(r.Participants("ROOMA1")))
	}
	if !sameIDs(ids(r.Participants("ROOMB2")), []string{"x"}) {
		t.Fatalf("new room missing the swapped member: %v", ids(r.Participants("ROOMB2")))
	}

	// a observed the departure: user-left then a refreshed snapshot.
	got := ca.types()
	tail := got[len(got)-2:]
	if tail[0] != protocol.TypeUserLeft || tail[1] != protocol.TypeParticipants {
		t.Fatalf("expected trailing [user-left participants], got %v", got)
	}
	ul := decode[protocol.UserLeft](t, ca.frame(len(got)-2))
	if ul.ID != "x" {
		t.Fatalf("user-left for wrong member: %q", ul.ID)
	}
}

func TestRejoinSameRoomKeepsPosition(t *testing.T) {
	r := NewRegistry()
	connect(r, "x")
	connect(r, "y")

	mustJoin(t, r, "x", "AB12CD", "X")
	mustJoin(t, r, "y", "AB12CD", "Y")
	mustJoin(t, r, "x", "AB12CD", "Xena")

	got := r.Participants("AB12CD")
	if !sameIDs(ids(got), []string{"x", "y"}) {
		t.Fatalf("re-join reordered the room: %v", ids(got))
	}
	if got[0].Name != "Xena" {
		t.Fatalf("re-join did not refresh the name: %+v", got[0])
	}
}

func TestLeaveIdempotentAndEmptyRoomCollected(t *testing.T) {
	r := NewRegistry()
	connect(r, "x")
	mustJoin(t, r, "x", "ZZ9999", "X")

	r.Leave("x")
	r.Leave("x")

	if _, ok := r.RoomOf("x"); ok {
		t.Fatalf("connection still reported in a room after leave")
	}
	if got := r.Participants("ZZ9999"); len(got) != 0 {
		t.Fatalf("collected room still has members: %v", got)
	}

	// A later join of the same code starts from scratch.
	_, before, err := r.Join("x", "ZZ9999", "X")
	if err != nil {
		t.Fatalf("re-join: %v", err)
	}
	if len(before) != 0 {
		t.Fatalf("fresh room must be empty, got %v", ids(before))
	}
}

func TestDisconnectIsImplicitLeave(t *testing.T) {
	r := NewRegistry()
	cx := connect(r, "x")
	connect(r, "y")

	mustJoin(t, r, "x", "AB12CD", "X")
	mustJoin(t, r, "y", "AB12CD", "Y")

	seen := cx.count()
	r.Disconnect("y")
	r.Disconnect("y")

	if !sameIDs(ids(r.Participants("AB12CD")), []string{"x"}) {
		t.Fatalf("disconnected member still present: %v", ids(r.Participants("AB12CD")))
	}

	got := cx.types()[seen:]
	want := []protocol.Type{protocol.TypeUserLeft, protocol.TypeParticipants}
	if !sameTypes(got, want) {
		t.Fatalf("expected exactly one departure sequence %v, got %v", want, got)
	}
}

func TestParticipantsUnknownRoomIsEmptyNotNil(t *testing.T) {
	r := NewRegistry()
	got := r.Participants("NOPE42")
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil snapshot, got %#v", got)
	}
}

func mustJoin(t *testing.T, r *Registry, id, code, name string) {
	t.Helper()
	if _, _, err := r.Join(domain.ConnID(id), code, name); err != nil {
		t.Fatalf("join %s into %s: %v", id, code, err)
	}
}

func sameTypes(a, b []protocol.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
