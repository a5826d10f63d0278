package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hudl-live/huddle/internal/domain"
	"github.com/hudl-live/huddle/internal/protocol"
)

const (
	clientWriteWait  = 10 * time.Second
	clientPongWait   = 60 * time.Second
	clientPingPeriod = clientPongWait * 9 / 10
	clientReadLimit  = 64 * 1024
)

// Client is the signaling channel toward the coordination service. It
// implements Signaler for the mesh and dispatches inbound room and
// signaling events into it.
type Client struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	ackCh chan protocol.JoinAck

	mu      sync.Mutex
	mesh    *Mesh
	pending [][]byte

	// Optional callbacks for the embedding application.
	OnParticipants func([]domain.Participant)
	OnUserJoined   func(domain.Participant)
	OnUserLeft     func(domain.ConnID)
	OnChat         func(domain.ChatMessage)
}

// Dial connects to the signaling endpoint (ws:// or wss:// URL).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}
	conn.SetReadLimit(clientReadLimit)
	return &Client{
		conn:   conn,
		logger: log.With().Str("module", "mesh.client").Logger(),
		ackCh:  make(chan protocol.JoinAck, 1),
	}, nil
}

// Attach binds a mesh so inbound events flow into it. Typically called
// right after Join, once the server-assigned identity is known. Events
// that arrived in between (an eager offer from a peer reacting to our
// user-joined) were buffered and are replayed here in receipt order.
func (c *Client) Attach(m *Mesh) {
	c.mu.Lock()
	c.mesh = m
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, data := range pending {
		c.dispatch(data)
	}
}

// meshOrBuffer returns the attached mesh, or buffers the frame for the
// Attach replay and returns nil.
func (c *Client) meshOrBuffer(data []byte) *Mesh {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mesh == nil {
		c.pending = append(c.pending, data)
		return nil
	}
	return c.mesh
}

// Run reads and dispatches events until the context is canceled or the
// transport drops. It owns the connection and closes it on exit.
func (c *Client) Run(ctx context.Context) error {
	go c.pingLoop(ctx)
	defer c.conn.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(clientPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(clientPongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("signaling read: %w", err)
		}
		c.dispatch(data)
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(clientPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Unblock the read loop.
			_ = c.conn.Close()
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Join enters a room and waits for the server ack. The returned ack
// carries the server-assigned identity and the participants already
// present, in insertion order.
func (c *Client) Join(ctx context.Context, roomCode, name string) (*protocol.JoinAck, error) {
	if err := c.writeJSON(protocol.Join{Type: protocol.TypeJoin, RoomCode: roomCode, Name: name}); err != nil {
		return nil, err
	}
	select {
	case ack := <-c.ackCh:
		if !ack.OK {
			return nil, errors.New(ack.Error)
		}
		return &ack, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendChat submits a chat line; whitespace-only text is dropped by the
// server without error.
func (c *Client) SendChat(roomCode, text string) error {
	return c.writeJSON(protocol.ChatSend{Type: protocol.TypeChatSend, RoomCode: roomCode, Message: text})
}

// SendOffer implements Signaler.
func (c *Client) SendOffer(to domain.ConnID, sdp webrtc.SessionDescription) error {
	return c.sendSDP(protocol.TypeOffer, to, sdp)
}

// SendAnswer implements Signaler.
func (c *Client) SendAnswer(to domain.ConnID, sdp webrtc.SessionDescription) error {
	return c.sendSDP(protocol.TypeAnswer, to, sdp)
}

// SendCandidate implements Signaler.
func (c *Client) SendCandidate(to domain.ConnID, cand webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(cand)
	if err != nil {
		return err
	}
	return c.writeJSON(protocol.Signal{Type: protocol.TypeICE, To: to, Candidate: raw})
}

func (c *Client) sendSDP(kind protocol.Type, to domain.ConnID, sdp webrtc.SessionDescription) error {
	raw, err := json.Marshal(sdp)
	if err != nil {
		return err
	}
	return c.writeJSON(protocol.Signal{Type: kind, To: to, SDP: raw})
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *Client) dispatch(data []byte) {
	switch t := protocol.Peek(data); t {
	case protocol.TypeJoined:
		var ack protocol.JoinAck
		if err := json.Unmarshal(data, &ack); err != nil {
			c.logger.Warn().Err(err).Msg("bad join ack")
			return
		}
		select {
		case c.ackCh <- ack:
		default:
		}

	case protocol.TypeParticipants:
		m := c.meshOrBuffer(data)
		if m == nil {
			return
		}
		var p protocol.Participants
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		m.SyncParticipants(p.Participants)
		if c.OnParticipants != nil {
			c.OnParticipants(p.Participants)
		}

	case protocol.TypeUserJoined:
		m := c.meshOrBuffer(data)
		if m == nil {
			return
		}
		var p protocol.UserJoined
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		if err := m.EnsurePeer(p.User.ID); err != nil {
			c.logger.Warn().Err(err).Str("peer", string(p.User.ID)).Msg("ensure peer")
		}
		if c.OnUserJoined != nil {
			c.OnUserJoined(p.User)
		}

	case protocol.TypeUserLeft:
		m := c.meshOrBuffer(data)
		if m == nil {
			return
		}
		var p protocol.UserLeft
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		m.RemovePeer(p.ID)
		if c.OnUserLeft != nil {
			c.OnUserLeft(p.ID)
		}

	case protocol.TypeOffer, protocol.TypeAnswer:
		m := c.meshOrBuffer(data)
		if m == nil {
			return
		}
		var s protocol.Signal
		if err := json.Unmarshal(data, &s); err != nil {
			return
		}
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(s.SDP, &sdp); err != nil {
			c.logger.Warn().Err(err).Msg("bad session description")
			return
		}
		if t == protocol.TypeOffer {
			m.HandleOffer(s.From, sdp)
		} else {
			m.HandleAnswer(s.From, sdp)
		}

	case protocol.TypeICE:
		m := c.meshOrBuffer(data)
		if m == nil {
			return
		}
		var s protocol.Signal
		if err := json.Unmarshal(data, &s); err != nil {
			return
		}
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(s.Candidate, &cand); err != nil {
			c.logger.Warn().Err(err).Msg("bad ice candidate")
			return
		}
		m.HandleCandidate(s.From, cand)

	case protocol.TypeChatMessage:
		var msg protocol.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if c.OnChat != nil {
			c.OnChat(msg.ChatMessage)
		}

	default:
		c.logger.Debug().Str("type", string(t)).Msg("unhandled event")
	}
}
