package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/the-vow/backend/internal/protocol"
)

const (
	defaultHeartbeatInterval = 10 * time.Second
	defaultReconnectBase     = time.Second
	defaultReconnectMax      = 30 * time.Second

	writeWait = 10 * time.Second
)

// ErrNotConnected is returned by Send when there is no open transport.
var ErrNotConnected = errors.New("realtime agent is not connected")

// State is the agent's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config configures an Agent. Zero durations take their defaults.
type Config struct {
	// URL is the realtime endpoint, e.g. ws://localhost:8080/api/realtime.
	URL       string
	SessionID string
	Code      string

	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// OnReconnect, if set, is called each time a reconnect is scheduled.
	OnReconnect func(attempt int, delay time.Duration)
}

// link is one live transport and the goroutines that serve it.
type link struct {
	conn    *websocket.Conn
	done    chan struct{}
	once    sync.Once
	writeMu sync.Mutex
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

func (l *link) write(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

type subscriber struct {
	id int
	fn func(protocol.Message)
}

// Agent maintains one realtime connection for a session.
type Agent struct {
	cfg     Config
	backoff *backoff.ExponentialBackOff

	mu            sync.Mutex
	state         State
	link          *link
	timer         *time.Timer
	closed        bool
	everConnected bool
	attempts      int
	runCtx        context.Context
	cancelRun     context.CancelFunc

	subMu   sync.RWMutex
	subs    []subscriber
	nextSub int
}

// New creates an Agent. It does not connect until Connect is called.
func New(cfg Config) *Agent {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Agent{
		cfg:     cfg,
		backoff: newBackoff(cfg.ReconnectBase, cfg.ReconnectMax),
		state:   StateDisconnected,
	}
}

// State returns the current connection state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Connect dials the endpoint. On failure a reconnect is scheduled and the dial
// error is returned. Calling Connect while connected is a no-op.
func (a *Agent) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateConnected || a.state == StateConnecting {
		a.mu.Unlock()
		return nil
	}
	if a.closed || a.runCtx == nil {
		a.runCtx, a.cancelRun = context.WithCancel(context.Background())
	}
	a.closed = false
	a.state = StateConnecting
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()

	return a.dial(ctx)
}

func (a *Agent) endpoint() (string, error) {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("session", a.cfg.SessionID)
	q.Set("code", a.cfg.Code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *Agent) dial(ctx context.Context) error {
	endpoint, err := a.endpoint()
	if err != nil {
		a.mu.Lock()
		a.state = StateDisconnected
		a.mu.Unlock()
		return err
	}

	conn, _, err := a.cfg.Dialer.DialContext(ctx, endpoint, nil)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrNotConnected
	}
	if err != nil {
		a.scheduleReconnectLocked()
		a.mu.Unlock()
		return fmt.Errorf("dial realtime: %w", err)
	}

	l := &link{conn: conn, done: make(chan struct{})}
	prev := a.link
	a.link = l
	a.state = StateConnected
	a.attempts = 0
	a.backoff.Reset()
	resync := a.everConnected
	a.everConnected = true
	a.mu.Unlock()

	// The agent owns one transport at a time.
	if prev != nil {
		prev.close()
	}

	log.Info().Str("session_id", a.cfg.SessionID).Bool("resync", resync).Msg("Realtime connected")

	go a.readLoop(l)
	go a.heartbeat(l)

	if resync {
		if err := a.Send(protocol.New(protocol.SnapshotRequestPayload{})); err != nil {
			log.Warn().Err(err).Msg("Failed to request snapshot after reconnect")
		}
	}
	return nil
}

// scheduleReconnectLocked arms one reconnect timer with the next backoff delay.
func (a *Agent) scheduleReconnectLocked() {
	if a.closed || a.timer != nil {
		return
	}
	delay := a.backoff.NextBackOff()
	a.attempts++
	attempt := a.attempts
	a.state = StateReconnecting

	log.Warn().Str("session_id", a.cfg.SessionID).Int("attempt", attempt).Dur("delay", delay).Msg("Realtime reconnect scheduled")
	if a.cfg.OnReconnect != nil {
		go a.cfg.OnReconnect(attempt, delay)
	}

	ctx := a.runCtx
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		a.mu.Lock()
		// A manual Connect or Disconnect may have replaced or cancelled this timer.
		if a.timer != t {
			a.mu.Unlock()
			return
		}
		a.timer = nil
		if a.closed || a.state != StateReconnecting {
			a.mu.Unlock()
			return
		}
		a.state = StateConnecting
		a.mu.Unlock()

		if err := a.dial(ctx); err != nil {
			log.Debug().Err(err).Msg("Realtime reconnect failed")
		}
	})
	a.timer = t
}

func (a *Agent) readLoop(l *link) {
	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			break
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			log.Debug().Err(err).Msg("Ignoring invalid realtime frame")
			continue
		}
		a.publish(msg)
	}

	a.mu.Lock()
	current := a.link == l
	if current {
		a.link = nil
		a.scheduleReconnectLocked()
		if a.closed {
			a.state = StateDisconnected
		}
	}
	a.mu.Unlock()

	l.close()
	if current {
		log.Warn().Str("session_id", a.cfg.SessionID).Msg("Realtime connection lost")
	}
}

func (a *Agent) heartbeat(l *link) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			data, err := protocol.Encode(protocol.New(protocol.HeartbeatPayload{Timestamp: float64(time.Now().UnixMilli())}))
			if err != nil {
				continue
			}
			if err := l.write(data); err != nil {
				log.Debug().Err(err).Msg("Heartbeat write failed")
			}
		}
	}
}

// Send writes msg on the open transport. It returns ErrNotConnected, and drops
// the message, when there is none.
func (a *Agent) Send(msg protocol.Message) error {
	a.mu.Lock()
	l := a.link
	connected := a.state == StateConnected
	a.mu.Unlock()

	if l == nil || !connected {
		return ErrNotConnected
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return l.write(data)
}

// Subscribe registers fn for every valid inbound message, snapshots included.
// Handlers run synchronously on the read goroutine. The returned func unsubscribes.
func (a *Agent) Subscribe(fn func(protocol.Message)) (unsubscribe func()) {
	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs = append(a.subs, subscriber{id: id, fn: fn})
	a.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.subMu.Lock()
			defer a.subMu.Unlock()
			for i, s := range a.subs {
				if s.id == id {
					a.subs = append(a.subs[:i:i], a.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (a *Agent) publish(msg protocol.Message) {
	a.subMu.RLock()
	subs := make([]subscriber, len(a.subs))
	copy(subs, a.subs)
	a.subMu.RUnlock()

	for _, s := range subs {
		s.fn(msg)
	}
}

// Disconnect closes the transport and cancels any pending reconnect.
func (a *Agent) Disconnect() {
	a.mu.Lock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.cancelRun != nil {
		a.cancelRun()
	}
	l := a.link
	a.link = nil
	a.state = StateDisconnected
	a.mu.Unlock()

	if l != nil {
		l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.close()
	}
	log.Info().Str("session_id", a.cfg.SessionID).Msg("Realtime disconnected")
}
