package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/auth"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
	apperrors "github.com/dwusrc/dwu-src-web-application-sub001/pkg/util/errorutil"
)

type staticAuth map[string]domain.Actor

func (a staticAuth) Authenticate(_ context.Context, token string) (*auth.Principal, error) {
	actor, ok := a[token]
	if !ok {
		return nil, apperrors.NewUnauthorized("invalid token")
	}
	return &auth.Principal{Actor: actor}, nil
}

func deptPtr(id string) *string { return &id }

var (
	studentActor = domain.Actor{ID: "stu-1", Role: domain.RoleStudent}
	ictActor     = domain.Actor{ID: "src-ict-1", Role: domain.RoleSRC, DepartmentID: deptPtr("dept-ict")}
	welfareActor = domain.Actor{ID: "src-wel-1", Role: domain.RoleSRC, DepartmentID: deptPtr("dept-welfare")}
	adminActor   = domain.Actor{ID: "adm-1", Role: domain.RoleAdmin}
)

func TestCanReceive(t *testing.T) {
	ticket := events.Event{
		EntityType:  events.EntityTicket,
		OwnerID:     "stu-1",
		Departments: []string{"dept-ict"},
	}
	assert.True(t, CanReceive(adminActor, ticket))
	assert.True(t, CanReceive(studentActor, ticket))
	assert.True(t, CanReceive(ictActor, ticket))
	assert.False(t, CanReceive(welfareActor, ticket))
	assert.False(t, CanReceive(domain.Actor{ID: "stu-2", Role: domain.RoleStudent}, ticket))
	assert.False(t, CanReceive(domain.Actor{ID: "src-x", Role: domain.RoleSRC}, ticket))

	broadcastMsg := events.Event{EntityType: events.EntityMessage}
	assert.True(t, CanReceive(ictActor, broadcastMsg))
	assert.False(t, CanReceive(studentActor, broadcastMsg))

	directMsg := events.Event{EntityType: events.EntityMessage, Recipients: []string{"stu-1"}}
	assert.True(t, CanReceive(studentActor, directMsg))
	assert.False(t, CanReceive(ictActor, directMsg))
}

func startGateway(t *testing.T) (*Gateway, string) {
	t.Helper()
	gateway := NewGateway(staticAuth{
		"student": studentActor,
		"ict":     ictActor,
		"welfare": welfareActor,
	}, nil, nil)
	server := httptest.NewServer(gateway)
	t.Cleanup(func() {
		gateway.Shutdown()
		server.Close()
	})
	return gateway, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialGateway(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGatewayRelaysToAudience(t *testing.T) {
	gateway, url := startGateway(t)
	student := dialGateway(t, url, "student")
	dialGateway(t, url, "welfare")

	require.Eventually(t, func() bool { return gateway.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	event := events.Event{
		ID:          "ev-1",
		EntityType:  events.EntityTicket,
		EntityID:    "ticket-1",
		ChangeKind:  events.ChangeTicketClaimed,
		ActorID:     "src-ict-1",
		OwnerID:     "stu-1",
		Departments: []string{"dept-ict"},
	}
	assert.Equal(t, 1, gateway.Broadcast(event))

	require.NoError(t, student.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := student.ReadMessage()
	require.NoError(t, err)

	var got events.Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "ev-1", got.ID)
	assert.Equal(t, events.ChangeTicketClaimed, got.ChangeKind)
}

func TestGatewayRejectsBadToken(t *testing.T) {
	gateway, url := startGateway(t)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=nope", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, gateway.ClientCount())
}

func TestGatewayAcceptsBearerHeader(t *testing.T) {
	gateway, url := startGateway(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer ict")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return gateway.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
}

type countingSubscriber struct {
	client *redis.Client
	calls  atomic.Int32
}

func (s *countingSubscriber) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	s.calls.Add(1)
	return s.client.Subscribe(ctx, channels...)
}

func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGatewayRunFailsWithoutRedis(t *testing.T) {
	gateway := NewGateway(staticAuth{}, nil, nil)
	err := gateway.Run(context.Background(), unreachableRedis(t), "src:changes")
	assert.Error(t, err)
}

func TestGatewayRelayKeepsRetrying(t *testing.T) {
	gateway := NewGateway(staticAuth{}, nil, nil)
	sub := &countingSubscriber{client: unreachableRedis(t)}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	start := time.Now()
	go func() {
		gateway.Relay(ctx, sub, "src:changes", 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	assert.GreaterOrEqual(t, sub.calls.Load(), int32(3))
}
