package mesh

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/hudl-live/huddle/internal/domain"
)

// waitFor polls until cond holds; the peer inbox runs on its own
// goroutine so observations are inherently asynchronous.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func participants(ids ...domain.ConnID) []domain.Participant {
	out := make([]domain.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Participant{ID: id, Name: string(id)})
	}
	return out
}

type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func newFakeTrack(id string, kind webrtc.RTPCodecType) *fakeTrack {
	return &fakeTrack{id: id, kind: kind}
}

func (t *fakeTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (t *fakeTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (t *fakeTrack) ID() string                            { return t.id }
func (t *fakeTrack) RID() string                           { return "" }
func (t *fakeTrack) StreamID() string                      { return "fake" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType             { return t.kind }

type fakeSender struct {
	mu       sync.Mutex
	track    webrtc.TrackLocal
	replaced int
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	s.replaced++
	return nil
}

func (s *fakeSender) replaceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaced
}

// fakeSession is an in-memory MediaSession for exercising negotiation
// without a media stack.
type fakeSession struct {
	mu         sync.Mutex
	offers     int
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	senders    []*fakeSender
	candidates []webrtc.ICECandidateInit
	closed     bool

	failAnswerApply bool // make SetRemoteDescription reject answers
}

func (s *fakeSession) CreateOffer() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0 offer %d", s.offers),
	}, nil
}

func (s *fakeSession) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (s *fakeSession) SetLocalDescription(sd webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = &sd
	return nil
}

func (s *fakeSession) SetRemoteDescription(sd webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAnswerApply && sd.Type == webrtc.SDPTypeAnswer {
		return errors.New("rejected answer")
	}
	s.remote = &sd
	return nil
}

func (s *fakeSession) LocalDescription() *webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *fakeSession) AddICECandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, c)
	return nil
}

func (s *fakeSession) AddTrack(t webrtc.TrackLocal) (Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snd := &fakeSender{track: t}
	s.senders = append(s.senders, snd)
	return snd, nil
}

func (s *fakeSession) Senders() []Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sender, 0, len(s.senders))
	for _, snd := range s.senders {
		out = append(out, snd)
	}
	return out
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) remoteSDP() *webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

func (s *fakeSession) appliedCandidates() []webrtc.ICECandidateInit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(s.candidates))
	copy(out, s.candidates)
	return out
}

func (s *fakeSession) senderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.senders)
}

func (s *fakeSession) sender(i int) *fakeSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.senders[i]
}

type sentSignal struct {
	kind string // "offer", "answer", "candidate"
	to   domain.ConnID
	sdp  webrtc.SessionDescription
	cand webrtc.ICECandidateInit
}

// fakeSignaler records outbound signaling instead of sending it.
type fakeSignaler struct {
	mu   sync.Mutex
	sent []sentSignal
}

func (f *fakeSignaler) SendOffer(to domain.ConnID, sdp webrtc.SessionDescription) error {
	f.record(sentSignal{kind: "offer", to: to, sdp: sdp})
	return nil
}

func (f *fakeSignaler) SendAnswer(to domain.ConnID, sdp webrtc.SessionDescription) error {
	f.record(sentSignal{kind: "answer", to: to, sdp: sdp})
	return nil
}

func (f *fakeSignaler) SendCandidate(to domain.ConnID, c webrtc.ICECandidateInit) error {
	f.record(sentSignal{kind: "candidate", to: to, cand: c})
	return nil
}

func (f *fakeSignaler) record(s sentSignal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
}

func (f *fakeSignaler) all() []sentSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentSignal, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSignaler) countOf(kind string) int {
	n := 0
	for _, s := range f.all() {
		if s.kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeSignaler) firstOf(kind string) (sentSignal, bool) {
	for _, s := range f.all() {
		if s.kind == kind {
			return s, true
		}
	}
	return sentSignal{}, false
}

// fakeFactory hands out fakeSessions and keeps them (and their event
// hooks) in creation order so tests can poke at them.
type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	events   []SessionEvents
}

func (f *fakeFactory) make(ev SessionEvents) (MediaSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{}
	f.sessions = append(f.sessions, s)
	f.events = append(f.events, ev)
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func (f *fakeFactory) hooks(i int) SessionEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[i]
}
