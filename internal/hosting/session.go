package hosting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// Pings must come faster than the pong deadline expires.
	pingPeriod = (pongWait * 9) / 10
)

// outbound is the frame shape for messages sent into a room.
type outbound struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
}

// wsSession implements Session over a websocket connection.
type wsSession struct {
	conn   *websocket.Conn
	slug   string
	logger *slog.Logger

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func dialSession(ctx context.Context, url string, header http.Header, slug string, logger *slog.Logger) (Session, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing room %s (status %d): %w", slug, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing room %s: %w", slug, err)
	}

	s := &wsSession{
		conn:   conn,
		slug:   slug,
		logger: logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

func (s *wsSession) Events() <-chan Event {
	return s.events
}

// readLoop decodes frames into Events until the connection dies, then closes
// the events channel so consumers see the disconnect.
func (s *wsSession) readLoop() {
	defer close(s.events)

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("room connection lost", "room", s.slug, "error", err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("dropping malformed room event", "room", s.slug, "error", err)
			continue
		}
		if ev.Room == "" {
			ev.Room = s.slug
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *wsSession) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSession) SendMessage(ctx context.Context, text string) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(outbound{Action: "message", Text: text}); err != nil {
		return fmt.Errorf("sending message to room %s: %w", s.slug, err)
	}
	return nil
}

func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}
