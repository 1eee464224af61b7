package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// WebsocketDialer connects to the gateway's feed endpoint.
type WebsocketDialer struct {
	// URL is the feed endpoint, e.g. ws://host:8081/ws.
	URL   string
	Token string
	// PongWait bounds how long the session may stay silent before it is
	// considered timed out.
	PongWait time.Duration
	Dialer   *websocket.Dialer
	Logger   *zap.Logger
}

// Dial opens a session. Inbound events are passed to sink from the
// session's read goroutine.
func (d *WebsocketDialer) Dial(ctx context.Context, sink func(events.Event)) (Session, error) {
	endpoint, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial feed: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pongWait := d.PongWait
	if pongWait <= 0 {
		pongWait = 2 * DefaultHeartbeatInterval
	}
	session := &wsSession{conn: conn, done: make(chan error, 1), pongWait: pongWait, logger: logger}
	go session.readLoop(sink)
	return session, nil
}

type wsSession struct {
	conn      *websocket.Conn
	done      chan error
	pongWait  time.Duration
	logger    *zap.Logger
	closeOnce sync.Once
}

func (s *wsSession) Done() <-chan error { return s.done }

func (s *wsSession) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

func (s *wsSession) readLoop(sink func(events.Event)) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.done <- err
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))

		var event events.Event
		if err := json.Unmarshal(message, &event); err != nil {
			s.logger.Warn("dropping undecodable feed message", zap.Error(err))
			continue
		}
		sink(event)
	}
}
