package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chathub/models"
	"chathub/protocol"
)

const maxFrameSize = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsTransport struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) WriteEvent(ev protocol.Event) error {
	frame, err := protocol.EncodeEvent(ev)
	if err != nil {
		return err
	}
	t.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.ws.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) ping() error {
	t.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.ws.WriteMessage(websocket.PingMessage, nil)
}

func (t *wsTransport) Close() error {
	t.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.ws.Close()
}

// handleWebSocket authenticates with ?token= before upgrading, then runs the
// same intent loop as the line server over JSON frames.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, err := s.auth.CurrentUser(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		return
	}

	writeTimeout := s.config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	pongWait := s.config.ReadTimeout
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}

	t := &wsTransport{ws: ws, writeTimeout: writeTimeout}
	c := s.newConn("ws", t, r.RemoteAddr)
	c.setIdentity(id)

	ticker := time.NewTicker(pongWait * 9 / 10)
	defer ticker.Stop()
	s.startWriter(c, ticker.C, t.ping)
	defer s.teardown(c)

	c.log.Info().Msg("websocket connected")

	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		in, err := protocol.DecodeIntent(frame)
		if err != nil {
			c.Send(protocol.NewError("", models.CodeInvalidRequest, err.Error()))
			continue
		}

		if !s.handleIntent(c, in) {
			return
		}
	}
}
