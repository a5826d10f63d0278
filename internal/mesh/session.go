// Package mesh is the client half of the system: one media session per
// remote participant, a perfect-negotiation state machine per session and
// the topology bookkeeping that keeps the full mesh consistent with room
// membership.
package mesh

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hudl-live/huddle/internal/domain"
)

// Signaler sends signaling envelopes toward a single peer through the
// coordination service.
type Signaler interface {
	SendOffer(to domain.ConnID, sdp webrtc.SessionDescription) error
	SendAnswer(to domain.ConnID, sdp webrtc.SessionDescription) error
	SendCandidate(to domain.ConnID, c webrtc.ICECandidateInit) error
}

// Sender is one outbound track slot on a media session.
type Sender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(webrtc.TrackLocal) error
}

// MediaSession abstracts the underlying peer connection so the
// negotiation state machine can be exercised without a media stack.
type MediaSession interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) (Sender, error)
	Senders() []Sender
	Close() error
}

// SessionEvents are the callbacks a MediaSession implementation fires
// into the mesh. Any of them may be nil.
type SessionEvents struct {
	OnICECandidate      func(webrtc.ICECandidateInit)
	OnTrack             func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	OnNegotiationNeeded func()
	// OnFailure fires when the session reaches a terminal failed or
	// closed state; the mesh tears the peer down in response.
	OnFailure func()
}

// SessionFactory builds one MediaSession per remote participant.
type SessionFactory func(ev SessionEvents) (MediaSession, error)

// DefaultRTCConfiguration gathers ICE candidates via a public STUN
// service; there is no further NAT traversal logic.
func DefaultRTCConfiguration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// NewPionFactory returns a SessionFactory backed by pion peer
// connections with the given configuration.
func NewPionFactory(cfg webrtc.Configuration) SessionFactory {
	return func(ev SessionEvents) (MediaSession, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}

		pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
			if cand != nil && ev.OnICECandidate != nil {
				ev.OnICECandidate(cand.ToJSON())
			}
		})
		pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			if ev.OnTrack != nil {
				ev.OnTrack(track, receiver)
			}
		})
		pc.OnNegotiationNeeded(func() {
			if ev.OnNegotiationNeeded != nil {
				ev.OnNegotiationNeeded()
			}
		})
		pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
			log.Debug().Str("module", "mesh.session").Str("state", s.String()).Msg("connection state")
			if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
				if ev.OnFailure != nil {
					ev.OnFailure()
				}
			}
		})

		return &pionSession{pc: pc}, nil
	}
}

type pionSession struct {
	pc *webrtc.PeerConnection
}

func (s *pionSession) CreateOffer() (webrtc.SessionDescription, error) {
	return s.pc.CreateOffer(nil)
}

func (s *pionSession) CreateAnswer() (webrtc.SessionDescription, error) {
	return s.pc.CreateAnswer(nil)
}

func (s *pionSession) SetLocalDescription(sd webrtc.SessionDescription) error {
	return s.pc.SetLocalDescription(sd)
}

// SetRemoteDescription applies the remote description. When an offer
// lands while our own offer is pending (the polite side yielding), the
// stale local offer is rolled back first.
func (s *pionSession) SetRemoteDescription(sd webrtc.SessionDescription) error {
	if sd.Type == webrtc.SDPTypeOffer && s.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
		if err := s.pc.SetLocalDescription(rollback); err != nil {
			return err
		}
	}
	return s.pc.SetRemoteDescription(sd)
}

func (s *pionSession) LocalDescription() *webrtc.SessionDescription {
	return s.pc.LocalDescription()
}

func (s *pionSession) AddICECandidate(c webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(c)
}

func (s *pionSession) AddTrack(t webrtc.TrackLocal) (Sender, error) {
	rtpSender, err := s.pc.AddTrack(t)
	if err != nil {
		return nil, err
	}
	return pionSender{rtpSender}, nil
}

func (s *pionSession) Senders() []Sender {
	rtpSenders := s.pc.GetSenders()
	out := make([]Sender, 0, len(rtpSenders))
	for _, rs := range rtpSenders {
		out = append(out, pionSender{rs})
	}
	return out
}

func (s *pionSession) Close() error {
	return s.pc.Close()
}

type pionSender struct {
	s *webrtc.RTPSender
}

func (p pionSender) Track() webrtc.TrackLocal { return p.s.Track() }

func (p pionSender) ReplaceTrack(t webrtc.TrackLocal) error { return p.s.ReplaceTrack(t) }
