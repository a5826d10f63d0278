package signalws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hudl-live/huddle/internal/app"
	"github.com/hudl-live/huddle/internal/config"
	"github.com/hudl-live/huddle/internal/domain"
	"github.com/hudl-live/huddle/internal/protocol"
)

const sendBuffer = 32

// Join and chat are user-initiated and cheap to spam; relay traffic is
// bounded by the peers' own negotiation pace and stays unthrottled.
const (
	joinLimit   = 5
	chatLimit   = 20
	limitWindow = 10 * time.Second
)

type Controller struct {
	Registry *app.Registry
	Cfg      *config.Config

	joins *rateLimiter
	chats *rateLimiter
}

func NewController(reg *app.Registry, cfg *config.Config) *Controller {
	return &Controller{
		Registry: reg,
		Cfg:      cfg,
		joins:    newRateLimiter(joinLimit, limitWindow),
		chats:    newRateLimiter(chatLimit, limitWindow),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until the
// transport drops. The connection identifier is assigned here, at
// transport-session start, and is never taken from the client.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("ws upgrade")
		return
	}

	sid := domain.ConnID(uuid.NewString())
	log.Info().Str("module", "signalws").Str("sid", string(sid)).
		Str("ct", c.GetString("client_token")).Msg("new signaling connection")

	conn := newWSConn(ws, sendBuffer)
	ctl.Registry.Connect(sid, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}

func (ctl *Controller) writePump(ctx context.Context, cancel context.CancelFunc, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signalws").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sid domain.ConnID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signalws").Str("sid", string(sid)).Msg("readPump closing")
		// Transport loss is the implicit leave; Disconnect is idempotent
		// so racing terminal errors process it exactly once.
		ctl.Registry.Disconnect(sid)
		ctl.joins.Forget(sid)
		ctl.chats.Forget(sid)
		c.Close()
		cancel()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.dispatch(sid, c, data)
		}
	}
}

func (ctl *Controller) dispatch(sid domain.ConnID, c *wsConn, data []byte) {
	switch t := protocol.Peek(data); t {
	case protocol.TypeJoin:
		if !ctl.joins.Allow(sid) {
			log.Warn().Str("module", "signalws").Str("sid", string(sid)).Msg("join throttled")
			return
		}
		ctl.handleJoin(sid, c, data)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICE:
		ctl.handleSignalRelay(sid, t, data)
	case protocol.TypeChatSend:
		if !ctl.chats.Allow(sid) {
			log.Warn().Str("module", "signalws").Str("sid", string(sid)).Msg("chat throttled")
			return
		}
		ctl.handleChat(sid, data)
	default:
		log.Warn().Str("module", "signalws").Str("type", string(t)).Msg("unknown signal")
	}
}

func (ctl *Controller) handleJoin(sid domain.ConnID, c *wsConn, data []byte) {
	var p protocol.Join
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("bad join payload")
		return
	}

	me, before, err := ctl.Registry.Join(sid, p.RoomCode, p.Name)
	if err != nil {
		ctl.sendJSON(c, protocol.JoinAck{
			Type:         protocol.TypeJoined,
			OK:           false,
			Error:        "Missing roomCode",
			Participants: []domain.Participant{},
		})
		return
	}
	ctl.sendJSON(c, protocol.JoinAck{
		Type:         protocol.TypeJoined,
		OK:           true,
		Me:           &me,
		Participants: before,
	})
}

func (ctl *Controller) handleSignalRelay(sid domain.ConnID, kind protocol.Type, data []byte) {
	var p protocol.Signal
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("bad signal payload")
		return
	}
	if p.To == "" {
		return
	}
	ctl.Registry.Relay(sid, kind, p.To, p.Payload())
}

func (ctl *Controller) handleChat(sid domain.ConnID, data []byte) {
	var p protocol.ChatSend
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("bad chat payload")
		return
	}
	ctl.Registry.SendChat(sid, p.RoomCode, p.Message)
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
