package realtime

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/observability"
)

// ConnState is a state of the subscription lifecycle.
type ConnState string

const (
	StateIdle         ConnState = "IDLE"
	StateConnecting   ConnState = "CONNECTING"
	StateSubscribed   ConnState = "SUBSCRIBED"
	StateChannelError ConnState = "CHANNEL_ERROR"
	StateClosed       ConnState = "CLOSED"
	StateTimedOut     ConnState = "TIMED_OUT"
	StateDisconnected ConnState = "DISCONNECTED"
	StateDisposed     ConnState = "DISPOSED"
)

const (
	DefaultBaseDelay         = 2 * time.Second
	DefaultMaxRetries        = 5
	DefaultHeartbeatInterval = 30 * time.Second
)

var (
	// ErrTimedOut ends a session whose heartbeat went unanswered.
	ErrTimedOut = errors.New("realtime: heartbeat timed out")
	// ErrDisposed is returned by operations on a closed manager.
	ErrDisposed = errors.New("realtime: manager disposed")
)

// Session is one live subscription.
type Session interface {
	// Done yields the reason the session ended, then is never written again.
	Done() <-chan error
	// Ping checks the session is still alive.
	Ping() error
	Close() error
}

// Dialer opens sessions that deliver events to sink.
type Dialer interface {
	Dial(ctx context.Context, sink func(events.Event)) (Session, error)
}

// ManagerConfig tunes reconnection.
type ManagerConfig struct {
	BaseDelay         time.Duration
	MaxRetries        int
	HeartbeatInterval time.Duration
	Scheduler         Scheduler
	Logger            *zap.Logger
	Metrics           *observability.Metrics
	// OnStateChange runs with the manager locked and must not call back into it.
	OnStateChange func(ConnState)
	// OnReconnect runs after every successful connection except the first,
	// so the caller can re-fetch state missed while disconnected.
	OnReconnect func()
}

// Manager keeps one subscription alive, retrying failed connections with
// exponential backoff until MaxRetries consecutive failures. After that it
// stays DISCONNECTED until Retry is called.
type Manager struct {
	dialer Dialer
	sink   func(events.Event)
	cfg    ManagerConfig
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          ConnState
	attempt        int
	generation     uint64
	connectedOnce  bool
	session        Session
	retryTimer     Timer
	heartbeatTimer Timer
}

// NewManager builds an idle manager.
func NewManager(dialer Dialer, sink func(events.Event), cfg ManagerConfig) *Manager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = SystemScheduler()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dialer: dialer,
		sink:   sink,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the number of consecutive failures since the last
// successful connection.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Start opens the first connection.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	if m.state != StateIdle {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	m.connect()
	return nil
}

// Retry reconnects with a fresh attempt budget. It is a no-op while
// connecting or subscribed.
func (m *Manager) Retry() error {
	m.mu.Lock()
	switch m.state {
	case StateDisposed:
		m.mu.Unlock()
		return ErrDisposed
	case StateConnecting, StateSubscribed:
		m.mu.Unlock()
		return nil
	}
	stopTimer(&m.retryTimer)
	m.attempt = 0
	m.mu.Unlock()
	m.connect()
	return nil
}

// Close tears the subscription down and cancels every pending timer. The
// manager never reconnects afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return
	}
	m.generation++
	stopTimer(&m.retryTimer)
	stopTimer(&m.heartbeatTimer)
	session := m.session
	m.session = nil
	m.setStateLocked(StateDisposed)
	m.mu.Unlock()

	m.cancel()
	if session != nil {
		_ = session.Close()
	}
}

func (m *Manager) connect() {
	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return
	}
	m.generation++
	gen := m.generation
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	session, err := m.dialer.Dial(m.ctx, m.sink)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if session != nil {
			_ = session.Close()
		}
		return
	}
	if err != nil {
		m.cfg.Logger.Warn("realtime connect failed", zap.Int("attempt", m.attempt+1), zap.Error(err))
		stale := m.failLocked(classify(err))
		m.mu.Unlock()
		closeSession(stale)
		return
	}
	m.session = session
	m.attempt = 0
	reconnected := m.connectedOnce
	m.connectedOnce = true
	m.setStateLocked(StateSubscribed)
	m.scheduleHeartbeatLocked(gen)
	m.mu.Unlock()

	go m.watch(gen, session)
	if reconnected && m.cfg.OnReconnect != nil {
		m.cfg.OnReconnect()
	}
}

func (m *Manager) watch(gen uint64, session Session) {
	err := <-session.Done()
	m.mu.Lock()
	if gen != m.generation || m.state != StateSubscribed {
		m.mu.Unlock()
		return
	}
	m.cfg.Logger.Info("realtime session ended", zap.Error(err))
	stale := m.failLocked(classify(err))
	m.mu.Unlock()
	closeSession(stale)
}

func (m *Manager) scheduleHeartbeatLocked(gen uint64) {
	m.heartbeatTimer = m.cfg.Scheduler.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.heartbeat(gen)
	})
}

func (m *Manager) heartbeat(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != StateSubscribed || m.session == nil {
		m.mu.Unlock()
		return
	}
	session := m.session
	m.mu.Unlock()

	err := session.Ping()

	m.mu.Lock()
	if gen != m.generation || m.state != StateSubscribed {
		m.mu.Unlock()
		return
	}
	if err == nil {
		m.scheduleHeartbeatLocked(gen)
		m.mu.Unlock()
		return
	}
	m.cfg.Logger.Warn("realtime heartbeat failed", zap.Error(err))
	stale := m.failLocked(StateTimedOut)
	m.mu.Unlock()
	closeSession(stale)
}

// failLocked moves into a failure state and schedules the next attempt, or
// gives up once the retry budget is spent. It returns the session the
// caller must close after unlocking.
func (m *Manager) failLocked(state ConnState) Session {
	m.generation++
	gen := m.generation
	stopTimer(&m.heartbeatTimer)
	stale := m.session
	m.session = nil
	m.setStateLocked(state)

	if m.attempt >= m.cfg.MaxRetries {
		m.cfg.Logger.Warn("realtime retries exhausted", zap.Int("attempts", m.attempt))
		m.setStateLocked(StateDisconnected)
		return stale
	}
	m.attempt++
	delay := m.cfg.BaseDelay * time.Duration(1<<(m.attempt-1))
	m.cfg.Metrics.RecordReconnect()
	m.retryTimer = m.cfg.Scheduler.AfterFunc(delay, func() {
		m.mu.Lock()
		current := gen == m.generation && m.state != StateDisposed
		m.mu.Unlock()
		if current {
			m.connect()
		}
	})
	return stale
}

func (m *Manager) setStateLocked(state ConnState) {
	m.state = state
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(state)
	}
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func closeSession(session Session) {
	if session != nil {
		_ = session.Close()
	}
}

func classify(err error) ConnState {
	if err == nil {
		return StateClosed
	}
	if errors.Is(err, ErrTimedOut) || errors.Is(err, context.DeadlineExceeded) {
		return StateTimedOut
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StateTimedOut
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return StateClosed
	}
	return StateChannelError
}
