package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"valetudo-home/internal/domain"
	"valetudo-home/internal/infra/valetudo"
)

type wsCommand struct {
	Action string `json:"action"`
	Volume int    `json:"volume"`
	Speed  int    `json:"speed"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

type wsMessage struct {
	Type       string          `json:"type"`
	Action     string          `json:"action,omitempty"`
	Result     valetudo.Result `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(msg wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) writeRaw(mt int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(mt, data)
}

// handleWS streams robot status snapshots and accepts commands on the same
// connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.wsMu.Lock()
	if s.stopped {
		s.wsMu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "server is shutting down"})
		return
	}
	s.wsGroup.Add(2)
	s.wsMu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		s.wsGroup.Done()
		s.wsGroup.Done()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{conn: conn}

	go func() {
		defer s.wsGroup.Done()
		s.streamStatus(ctx, c)
	}()

	go func() {
		defer s.wsGroup.Done()
		defer cancel()
		s.readCommands(ctx, c)
	}()
}

func (s *Server) streamStatus(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	for {
		if err := c.write(s.statusMessage(ctx)); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			_ = c.conn.Close()
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) statusMessage(ctx context.Context) wsMessage {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := s.dispatcher.Execute(ctx, domain.Command{Action: domain.ActionStatus})
	msg := wsMessage{Type: "status", Result: res}
	if err != nil {
		msg.Error = err.Error()
		msg.StatusCode, _ = valetudo.StatusCode(err)
	}
	return msg
}

func (s *Server) readCommands(ctx context.Context, c *wsConn) {
	defer c.conn.Close()

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("closing websocket", "error", err)
			return
		}

		if string(data) == "ping" {
			if err := c.writeRaw(mt, []byte("pong")); err != nil {
				return
			}
			continue
		}

		var in wsCommand
		if err := json.Unmarshal(data, &in); err != nil {
			_ = c.write(wsMessage{Type: "result", Error: "invalid command: " + err.Error()})
			continue
		}

		if err := c.write(s.commandMessage(ctx, in)); err != nil {
			return
		}
	}
}

func (s *Server) commandMessage(ctx context.Context, in wsCommand) wsMessage {
	msg := wsMessage{Type: "result", Action: in.Action}

	action, err := domain.ParseAction(in.Action)
	if err != nil {
		msg.Error = err.Error()
		return msg
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := s.dispatcher.Execute(ctx, domain.Command{
		Action: action,
		Volume: in.Volume,
		Speed:  in.Speed,
		X:      in.X,
		Y:      in.Y,
	})
	msg.Result = res
	if err != nil {
		msg.Error = err.Error()
		msg.StatusCode, _ = valetudo.StatusCode(err)
	}
	return msg
}
