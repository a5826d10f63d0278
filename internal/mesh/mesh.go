package mesh

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hudl-live/huddle/internal/domain"
)

var ErrAlreadySharing = errors.New("screen share already active")

// TrackHandler receives inbound remote media, keyed by the sending peer.
type TrackHandler func(peer domain.ConnID, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

// Mesh owns the set of per-peer media sessions for one room: it creates
// a session when a participant becomes known, tears it down on
// participant-left, attaches local tracks and performs the in-place
// video substitution for screen share.
type Mesh struct {
	self     domain.ConnID
	signaler Signaler
	factory  SessionFactory
	onTrack  TrackHandler
	logger   zerolog.Logger

	mu     sync.Mutex
	peers  map[domain.ConnID]*Peer
	audio  webrtc.TrackLocal
	camera webrtc.TrackLocal
	share  webrtc.TrackLocal

	done      chan struct{}
	closeOnce sync.Once
}

func New(self domain.ConnID, signaler Signaler, factory SessionFactory, onTrack TrackHandler) *Mesh {
	return &Mesh{
		self:     self,
		signaler: signaler,
		factory:  factory,
		onTrack:  onTrack,
		logger:   log.With().Str("module", "mesh").Str("self", string(self)).Logger(),
		peers:    make(map[domain.ConnID]*Peer),
		done:     make(chan struct{}),
	}
}

func (m *Mesh) Self() domain.ConnID { return m.self }

// EnsurePeer guarantees a session exists for the given participant.
// Idempotent: re-ensuring an existing peer is a no-op. Ensuring oneself
// or an empty identifier is also a no-op.
func (m *Mesh) EnsurePeer(id domain.ConnID) error {
	if id == "" || id == m.self {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[id]; ok {
		return nil
	}

	sess, err := m.factory(SessionEvents{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			if err := m.signaler.SendCandidate(id, c); err != nil {
				m.logger.Warn().Err(err).Str("peer", string(id)).Msg("send candidate")
			}
		},
		OnTrack: func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			if m.onTrack != nil {
				m.onTrack(id, track, receiver)
			}
		},
		OnNegotiationNeeded: func() { m.negotiatePeer(id) },
		OnFailure:           func() { m.handleSessionFailure(id) },
	})
	if err != nil {
		return err
	}

	p := NewPeer(m.self, id, sess, m.signaler)
	m.peers[id] = p
	m.logger.Info().Str("peer", string(id)).Bool("polite", p.IsPolite()).Msg("peer session created")

	// Local media may have landed before this peer existed; attach
	// whatever we currently publish.
	if m.audio != nil {
		p.AddTrack(m.audio)
	}
	if v := m.outboundVideo(); v != nil {
		p.AddTrack(v)
	}
	return nil
}

// outboundVideo is the video source we currently publish: the screen
// share when one is active, otherwise the camera. Callers hold m.mu.
func (m *Mesh) outboundVideo() webrtc.TrackLocal {
	if m.share != nil {
		return m.share
	}
	return m.camera
}

// RemovePeer destroys the participant's session: closes the media
// session, releases buffered negotiation state and drops it from the
// mesh. Safe to call mid-negotiation and safe to repeat.
func (m *Mesh) RemovePeer(id domain.ConnID) {
	m.mu.Lock()
	p, ok := m.peers[id]
	delete(m.peers, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	p.Close()
	m.logger.Info().Str("peer", string(id)).Msg("peer session removed")
}

// SyncParticipants ensures a session for every listed participant.
// Removal is driven by user-left events, not by snapshot diffs.
func (m *Mesh) SyncParticipants(list []domain.Participant) {
	for _, p := range list {
		if err := m.EnsurePeer(p.ID); err != nil {
			m.logger.Warn().Err(err).Str("peer", string(p.ID)).Msg("ensure peer")
		}
	}
}

// HandleOffer routes a remote offer. The session is ensured first: an
// offer can legitimately arrive before any membership event for the
// sender has been processed.
func (m *Mesh) HandleOffer(from domain.ConnID, sdp webrtc.SessionDescription) {
	if err := m.EnsurePeer(from); err != nil {
		m.logger.Warn().Err(err).Str("peer", string(from)).Msg("ensure peer for offer")
		return
	}
	if p := m.peer(from); p != nil {
		p.HandleOffer(sdp)
	}
}

// HandleAnswer routes a remote answer; answers for unknown peers are
// stale and dropped.
func (m *Mesh) HandleAnswer(from domain.ConnID, sdp webrtc.SessionDescription) {
	if p := m.peer(from); p != nil {
		p.HandleAnswer(sdp)
	}
}

// HandleCandidate routes a remote ICE candidate.
func (m *Mesh) HandleCandidate(from domain.ConnID, c webrtc.ICECandidateInit) {
	if p := m.peer(from); p != nil {
		p.HandleCandidate(c)
	}
}

// AttachTracks publishes local media to every existing session, exactly
// once per track kind. Media acquisition races signaling connect, so
// this commonly runs after sessions are already established.
func (m *Mesh) AttachTracks(tracks ...webrtc.TrackLocal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tracks {
		if t == nil {
			continue
		}
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			m.audio = t
		case webrtc.RTPCodecTypeVideo:
			m.camera = t
			if m.share != nil {
				// Share active: remember the camera for the revert but
				// keep publishing the share.
				continue
			}
		}
		for _, p := range m.peers {
			p.AddTrack(t)
		}
	}
}

// StartScreenShare substitutes the outbound video source on every
// session in place. No new sessions, no renegotiation, audio untouched.
// When ended is non-nil, the share auto-reverts once it fires (e.g. the
// user revokes capture via OS chrome).
func (m *Mesh) StartScreenShare(track webrtc.TrackLocal, ended <-chan struct{}) error {
	if track == nil {
		return errors.New("nil share track")
	}
	m.mu.Lock()
	if m.share != nil {
		m.mu.Unlock()
		return ErrAlreadySharing
	}
	m.share = track
	peers := m.peerList()
	m.mu.Unlock()

	for _, p := range peers {
		p.ReplaceVideoTrack(track)
	}
	m.logger.Info().Msg("screen share started")

	if ended != nil {
		go func() {
			select {
			case <-ended:
				m.StopScreenShare()
			case <-m.done:
			}
		}()
	}
	return nil
}

// StopScreenShare reverts every session to the camera track, or to no
// video when none exists. Idempotent.
func (m *Mesh) StopScreenShare() {
	m.mu.Lock()
	if m.share == nil {
		m.mu.Unlock()
		return
	}
	m.share = nil
	cam := m.camera
	peers := m.peerList()
	m.mu.Unlock()

	for _, p := range peers {
		p.ReplaceVideoTrack(cam)
	}
	m.logger.Info().Msg("screen share stopped")
}

// Sharing reports whether a screen share is currently active.
func (m *Mesh) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.share != nil
}

// Peers returns the identifiers of all live sessions.
func (m *Mesh) Peers() []domain.ConnID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ConnID, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}

// Close tears down every session. The mesh is not reusable afterwards.
func (m *Mesh) Close() {
	m.closeOnce.Do(func() { close(m.done) })
	m.mu.Lock()
	peers := m.peerList()
	m.peers = make(map[domain.ConnID]*Peer)
	m.mu.Unlock()
	for _, p := range peers {
		p.Close()
	}
}

func (m *Mesh) peer(id domain.ConnID) *Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peers[id]
}

// peerList snapshots current peers; callers hold m.mu.
func (m *Mesh) peerList() []*Peer {
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

func (m *Mesh) negotiatePeer(id domain.ConnID) {
	if p := m.peer(id); p != nil {
		p.Negotiate()
	}
}

// handleSessionFailure treats a terminal media failure like peer-left
// for cleanup purposes. It does not affect room membership; that is
// owned by the server registry.
func (m *Mesh) handleSessionFailure(id domain.ConnID) {
	m.logger.Warn().Str("peer", string(id)).Msg("media session failed, tearing down")
	m.RemovePeer(id)
}
