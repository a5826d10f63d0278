package mesh

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hudl-live/huddle/internal/domain"
)

// State is the negotiation phase of one peer pair.
type State int

const (
	StateIdle State = iota
	StateStable
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStable:
		return "stable"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type eventKind int

const (
	evNegotiate eventKind = iota
	evRemoteOffer
	evRemoteAnswer
	evRemoteICE
	evAddTrack
	evReplaceVideo
)

type event struct {
	kind      eventKind
	sdp       webrtc.SessionDescription
	candidate webrtc.ICECandidateInit
	track     webrtc.TrackLocal
}

// Peer runs the perfect-negotiation state machine for one remote
// participant. All signaling events for the pair funnel through a single
// inbox goroutine, so handling is serialized per peer while different
// peers proceed fully independently.
//
// Politeness is fixed for the pair's lifetime: the side whose own
// connection identifier sorts lexicographically smaller is polite. Both
// ends compute this identically without communicating.
type Peer struct {
	id     domain.ConnID
	polite bool

	sess     MediaSession
	signaler Signaler
	logger   zerolog.Logger

	events    chan event
	done      chan struct{}
	closeOnce sync.Once

	// Negotiation flags and buffers, owned by the inbox goroutine. The
	// mutex only makes state observable from outside.
	mu          sync.Mutex
	state       State
	makingOffer bool
	ignoreOffer bool
	haveRemote  bool
	pending     []webrtc.ICECandidateInit
	videoSender Sender
}

// Polite reports the deterministic politeness assignment for a pair.
// Identifiers are opaque strings; the comparison must stay lexicographic.
func Polite(self, peer domain.ConnID) bool {
	return string(self) < string(peer)
}

func NewPeer(self, peer domain.ConnID, sess MediaSession, signaler Signaler) *Peer {
	p := &Peer{
		id:       peer,
		polite:   Polite(self, peer),
		sess:     sess,
		signaler: signaler,
		logger:   log.With().Str("module", "mesh.peer").Str("peer", string(peer)).Logger(),
		events:   make(chan event, 32),
		done:     make(chan struct{}),
		state:    StateStable,
	}
	go p.loop()
	return p
}

func (p *Peer) ID() domain.ConnID { return p.id }

func (p *Peer) IsPolite() bool { return p.polite }

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Negotiate signals local negotiation need (a track was added or the
// session wants a fresh exchange).
func (p *Peer) Negotiate() { p.dispatch(event{kind: evNegotiate}) }

func (p *Peer) HandleOffer(sdp webrtc.SessionDescription) {
	p.dispatch(event{kind: evRemoteOffer, sdp: sdp})
}

func (p *Peer) HandleAnswer(sdp webrtc.SessionDescription) {
	p.dispatch(event{kind: evRemoteAnswer, sdp: sdp})
}

func (p *Peer) HandleCandidate(c webrtc.ICECandidateInit) {
	p.dispatch(event{kind: evRemoteICE, candidate: c})
}

// AddTrack attaches a local track unless a sender of the same kind is
// already present; duplicate senders would corrupt the media session.
func (p *Peer) AddTrack(t webrtc.TrackLocal) {
	p.dispatch(event{kind: evAddTrack, track: t})
}

// ReplaceVideoTrack swaps the source of the active outbound video sender
// in place, leaving audio and the signaling state untouched. A nil track
// stops outbound video. No-op when no video sender exists.
func (p *Peer) ReplaceVideoTrack(t webrtc.TrackLocal) {
	p.dispatch(event{kind: evReplaceVideo, track: t})
}

// Close tears the pair down and releases the media session. Idempotent.
func (p *Peer) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *Peer) dispatch(ev event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

func (p *Peer) loop() {
	for {
		select {
		case <-p.done:
			p.mu.Lock()
			p.state = StateClosed
			p.pending = nil
			p.mu.Unlock()
			_ = p.sess.Close()
			p.logger.Debug().Msg("peer closed")
			return
		case ev := <-p.events:
			p.handle(ev)
		}
	}
}

func (p *Peer) handle(ev event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.kind {
	case evNegotiate:
		p.handleNegotiate()
	case evRemoteOffer:
		p.handleRemoteOffer(ev.sdp)
	case evRemoteAnswer:
		p.handleRemoteAnswer(ev.sdp)
	case evRemoteICE:
		p.handleRemoteCandidate(ev.candidate)
	case evAddTrack:
		p.handleAddTrack(ev.track)
	case evReplaceVideo:
		p.handleReplaceVideo(ev.track)
	}
}

func (p *Peer) handleNegotiate() {
	if p.state != StateStable {
		// An exchange is already in flight; a later negotiation-need
		// trigger retries once it settles.
		return
	}
	p.makingOffer = true
	defer func() { p.makingOffer = false }()

	offer, err := p.sess.CreateOffer()
	if err != nil {
		p.logger.Warn().Err(err).Msg("create offer")
		return
	}
	if err := p.sess.SetLocalDescription(offer); err != nil {
		p.logger.Warn().Err(err).Msg("set local offer")
		return
	}
	p.state = StateHaveLocalOffer
	if sd := p.sess.LocalDescription(); sd != nil {
		if err := p.signaler.SendOffer(p.id, *sd); err != nil {
			p.logger.Warn().Err(err).Msg("send offer")
		}
	}
}

func (p *Peer) handleRemoteOffer(sdp webrtc.SessionDescription) {
	collision := p.makingOffer || (p.state != StateStable && p.state != StateIdle)

	p.ignoreOffer = !p.polite && collision
	if p.ignoreOffer {
		// Expected glare outcome, not an error: our own offer proceeds
		// and the polite peer yields.
		p.logger.Debug().Msg("ignoring colliding offer")
		return
	}

	// The polite side accepts unconditionally, discarding its own
	// in-flight offer if it had one.
	if err := p.sess.SetRemoteDescription(sdp); err != nil {
		p.logger.Warn().Err(err).Msg("apply remote offer")
		return
	}
	p.state = StateHaveRemoteOffer
	p.haveRemote = true
	p.flushCandidates()

	answer, err := p.sess.CreateAnswer()
	if err != nil {
		p.logger.Warn().Err(err).Msg("create answer")
		return
	}
	if err := p.sess.SetLocalDescription(answer); err != nil {
		p.logger.Warn().Err(err).Msg("set local answer")
		return
	}
	p.state = StateStable
	if sd := p.sess.LocalDescription(); sd != nil {
		if err := p.signaler.SendAnswer(p.id, *sd); err != nil {
			p.logger.Warn().Err(err).Msg("send answer")
		}
	}
}

func (p *Peer) handleRemoteAnswer(sdp webrtc.SessionDescription) {
	if p.state != StateHaveLocalOffer {
		p.logger.Debug().Str("state", p.state.String()).Msg("stale answer dropped")
		return
	}
	if err := p.sess.SetRemoteDescription(sdp); err != nil {
		// Non-fatal: drop back to stable so a future negotiation-need
		// event can retry the exchange.
		p.logger.Warn().Err(err).Msg("apply remote answer")
		p.state = StateStable
		return
	}
	p.state = StateStable
	p.haveRemote = true
	p.ignoreOffer = false
	p.flushCandidates()
}

func (p *Peer) handleRemoteCandidate(c webrtc.ICECandidateInit) {
	if p.ignoreOffer {
		// Candidates of an intentionally ignored offer belong to the
		// stale exchange; drop them with it.
		return
	}
	if !p.haveRemote {
		p.pending = append(p.pending, c)
		return
	}
	if err := p.sess.AddICECandidate(c); err != nil {
		p.logger.Warn().Err(err).Msg("add ice candidate")
	}
}

// flushCandidates applies buffered candidates in receipt order right
// after a remote description lands.
func (p *Peer) flushCandidates() {
	for _, c := range p.pending {
		if err := p.sess.AddICECandidate(c); err != nil {
			p.logger.Warn().Err(err).Msg("flush ice candidate")
		}
	}
	p.pending = nil
}

func (p *Peer) handleAddTrack(t webrtc.TrackLocal) {
	if t == nil {
		return
	}
	if t.Kind() == webrtc.RTPCodecTypeVideo && p.videoSender != nil {
		// A video slot already exists (possibly with its track stopped);
		// reuse it rather than registering a duplicate sender.
		if p.videoSender.Track() == nil {
			if err := p.videoSender.ReplaceTrack(t); err != nil {
				p.logger.Warn().Err(err).Msg("reuse video sender")
			}
		}
		return
	}
	for _, s := range p.sess.Senders() {
		if s.Track() != nil && s.Track().Kind() == t.Kind() {
			return // already attached, adding again would duplicate the sender
		}
	}
	sender, err := p.sess.AddTrack(t)
	if err != nil {
		p.logger.Warn().Err(err).Str("kind", t.Kind().String()).Msg("add track")
		return
	}
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		p.videoSender = sender
	}
}

func (p *Peer) handleReplaceVideo(t webrtc.TrackLocal) {
	// The remembered sender survives a swap to nil (video stopped), so a
	// later substitution can still find its slot.
	if p.videoSender == nil {
		// No video slot yet: a camera-less participant starting a share
		// publishes the track as a fresh sender.
		if t == nil {
			return
		}
		sender, err := p.sess.AddTrack(t)
		if err != nil {
			p.logger.Warn().Err(err).Msg("publish video track")
			return
		}
		p.videoSender = sender
		return
	}
	if err := p.videoSender.ReplaceTrack(t); err != nil {
		p.logger.Warn().Err(err).Msg("replace video track")
	}
}
