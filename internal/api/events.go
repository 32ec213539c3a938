package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/danmuck/earlink/internal/engine"
	"github.com/danmuck/earlink/internal/params"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	eventWriteWait = 2 * time.Second
	eventPongWait  = 30 * time.Second
	eventPingEvery = eventPongWait * 9 / 10
)

// EventMessage is one frame of the /events feed. Config changes for known
// config ids also carry the config name and decoded value.
type EventMessage struct {
	Kind   engine.EventKind `json:"kind"`
	Device string           `json:"device"`
	Data   engine.Event     `json:"data"`
	Config string           `json:"config,omitempty"`
	Value  any              `json:"value,omitempty"`
}

func (s *Server) eventMessage(ev engine.Event) EventMessage {
	msg := EventMessage{Kind: ev.Kind(), Device: ev.Device(), Data: ev}
	change, ok := ev.(engine.ConfigChanged)
	if !ok {
		return msg
	}
	entry, ok := params.ByID(change.ConfigID)
	if !ok {
		return msg
	}
	msg.Config = entry.Name
	value, err := entry.DecodeRaw(change.Value)
	if err != nil {
		s.log.Debug().Err(err).Str("device", change.DeviceID).Str("config", entry.Name).Msg("api: config change not decoded")
		return msg
	}
	msg.Value = value
	return msg
}

func (s *Server) upgrader() websocket.Upgrader {
	origins := normalizeOrigins(s.cfg.CORSOrigins)
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
}

func (s *Server) serveEvents(c *gin.Context) {
	up := s.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("api: websocket upgrade failed")
		return
	}
	sub := s.engine.Subscribe(s.cfg.EventBuffer)
	remote := c.Request.RemoteAddr
	s.log.Info().Str("remote", remote).Msg("api: event stream opened")

	// The read side only handles control frames and notices the close.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Str("remote", remote).Msg("api: event stream read")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingEvery)
	defer func() {
		ping.Stop()
		sub.Close()
		_ = conn.Close()
		s.log.Info().Str("remote", remote).Msg("api: event stream closed")
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"),
					time.Now().Add(eventWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(s.eventMessage(ev)); err != nil {
				s.log.Debug().Err(err).Str("remote", remote).Msg("api: event write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				return
			}
		}
	}
}
