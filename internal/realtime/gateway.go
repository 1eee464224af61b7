package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/auth"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/observability"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64

	maxRelayDelay = time.Minute
)

// Authenticator resolves a bearer token into the caller's principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
}

// Subscriber is the subset of the redis client the gateway listens with.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Gateway relays change feed events to authenticated websocket clients.
// It runs on a plain net/http server because the upgrade needs to hijack
// the connection.
type Gateway struct {
	auth     Authenticator
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *observability.Metrics

	mu      sync.RWMutex
	clients map[*gatewayClient]struct{}
	closed  bool
}

type gatewayClient struct {
	actor domain.Actor
	conn  *websocket.Conn
	send  chan []byte
	once  sync.Once
}

// NewGateway builds a gateway. Origins are not checked; the token is the
// only credential.
func NewGateway(authenticator Authenticator, logger *zap.Logger, metrics *observability.Metrics) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		auth: authenticator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		metrics: metrics,
		clients: make(map[*gatewayClient]struct{}),
	}
}

// ServeHTTP authenticates the caller from the token query parameter or the
// Authorization header and upgrades the connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
			token = header[7:]
		}
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	principal, err := g.auth.Authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &gatewayClient{actor: principal.Actor, conn: conn, send: make(chan []byte, sendBuffer)}
	if !g.register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}
	g.logger.Debug("feed client connected",
		zap.String("actor_id", client.actor.ID),
		zap.String("role", string(client.actor.Role)))

	go g.writePump(client)
	go g.readPump(client)
}

func (g *Gateway) register(c *gatewayClient) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.clients[c] = struct{}{}
	g.metrics.GatewayClientConnected(1)
	return true
}

func (g *Gateway) unregister(c *gatewayClient) {
	g.mu.Lock()
	if _, ok := g.clients[c]; ok {
		delete(g.clients, c)
		g.metrics.GatewayClientConnected(-1)
	}
	g.mu.Unlock()
	c.once.Do(func() { close(c.send) })
}

// ClientCount returns the number of connected clients.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Broadcast delivers the event to every client allowed to see it and
// returns how many were reached. Clients whose buffer is full are dropped.
func (g *Gateway) Broadcast(event events.Event) int {
	payload, err := json.Marshal(event)
	if err != nil {
		g.logger.Error("encode feed event", zap.Error(err))
		return 0
	}

	var slow []*gatewayClient
	delivered := 0
	g.mu.RLock()
	for c := range g.clients {
		if !CanReceive(c.actor, event) {
			continue
		}
		select {
		case c.send <- payload:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range slow {
		g.logger.Warn("dropping slow feed client", zap.String("actor_id", c.actor.ID))
		g.unregister(c)
	}
	g.metrics.RecordRelayedEvent(string(event.EntityType))
	return delivered
}

// CanReceive decides whether actor is in the audience of event. Admins see
// everything. Ticket events reach the owning student and caseworkers of a
// targeted department. Message events reach their listed recipients, or
// all staff when none are listed.
func CanReceive(actor domain.Actor, event events.Event) bool {
	if actor.IsAdmin() {
		return true
	}
	switch event.EntityType {
	case events.EntityTicket:
		if actor.Role == domain.RoleStudent {
			return event.OwnerID != "" && event.OwnerID == actor.ID
		}
		if actor.IsCaseworker() {
			home := actor.HomeDepartment()
			if home == "" {
				return false
			}
			for _, dept := range event.Departments {
				if dept == home {
					return true
				}
			}
		}
		return false
	case events.EntityMessage:
		if len(event.Recipients) == 0 {
			return actor.IsCaseworker()
		}
		for _, id := range event.Recipients {
			if id == actor.ID {
				return true
			}
		}
		return false
	}
	return false
}

// Relay keeps Run alive until ctx is cancelled. Failed subscriptions are
// retried with exponential backoff starting at baseDelay and capped at
// maxRelayDelay; the backoff resets once a subscription succeeds.
func (g *Gateway) Relay(ctx context.Context, sub Subscriber, channel string, baseDelay time.Duration) {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	attempt := 0
	for {
		subscribed, err := g.run(ctx, sub, channel)
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			attempt = 0
		}
		attempt++
		delay := baseDelay * time.Duration(1<<min(attempt-1, 5))
		if delay > maxRelayDelay {
			delay = maxRelayDelay
		}
		g.logger.Warn("feed relay interrupted, resubscribing",
			zap.String("channel", channel),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Run relays events from the redis channel until ctx is cancelled or the
// subscription fails.
func (g *Gateway) Run(ctx context.Context, sub Subscriber, channel string) error {
	_, err := g.run(ctx, sub, channel)
	return err
}

func (g *Gateway) run(ctx context.Context, sub Subscriber, channel string) (bool, error) {
	pubsub := sub.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return false, err
	}
	g.logger.Info("feed relay subscribed", zap.String("channel", channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-messages:
			if !ok {
				return true, errors.New("feed subscription closed")
			}
			var event events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				g.logger.Warn("dropping undecodable feed payload", zap.Error(err))
				continue
			}
			g.Broadcast(event)
		}
	}
}

// Shutdown disconnects every client and refuses new ones.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	g.closed = true
	clients := make([]*gatewayClient, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		g.unregister(c)
	}
}

func (g *Gateway) readPump(c *gatewayClient) {
	defer func() {
		g.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Clients never send payloads; reading only services control frames.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("feed client read failed", zap.String("actor_id", c.actor.ID), zap.Error(err))
			}
			return
		}
	}
}

func (g *Gateway) writePump(c *gatewayClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
