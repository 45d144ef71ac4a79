package ws

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/the-vow/backend/internal/protocol"
)

// sendBufferSize is the number of outbound frames a client may have queued.
const sendBufferSize = 256

// Client represents a WebSocket client connection.
type Client struct {
	id        string
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	lastSeen  atomic.Int64
	mu        sync.Mutex
	closed    bool
}

// NewClient creates a new WebSocket client with a fresh connection ID.
func NewClient(conn *websocket.Conn, sessionID string) *Client {
	c := &Client{
		id:        uuid.NewString(),
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, sendBufferSize),
	}
	c.Touch(time.Now())
	return c
}

// Send queues a message to be sent to the client. It reports whether the
// message was queued; a closed client drops it silently.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		// Buffer full, close the client
		clientsEvicted.Inc()
		c.closeLocked()
		return false
	}
}

// Close closes the client's send queue. The write pump then ends the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ID returns the connection ID.
func (c *Client) ID() string {
	return c.id
}

// SessionID returns the session ID associated with this client.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Touch records that the peer showed signs of life at t.
func (c *Client) Touch(t time.Time) {
	c.lastSeen.Store(t.UnixNano())
}

// LastSeen returns when the peer last showed signs of life.
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Hub manages the WebSocket clients of one session and owns its writer.
type Hub struct {
	sessionID string
	clients   map[*Client]bool
	worker    *sessionWorker
	mu        sync.RWMutex
}

// NewHub creates a new Hub for the given session and starts its worker.
func NewHub(sessionID string) *Hub {
	return newHubAfter(sessionID, nil)
}

// newHubAfter creates a Hub whose worker starts once after is closed.
func newHubAfter(sessionID string, after <-chan struct{}) *Hub {
	return &Hub{
		sessionID: sessionID,
		clients:   make(map[*Client]bool),
		worker:    newSessionWorkerAfter(sessionID, mailboxSize, after),
	}
}

// SessionID returns the session ID for this hub.
func (h *Hub) SessionID() string {
	return h.sessionID
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub and returns how many remain.
func (h *Hub) Unregister(client *Client) int {
	h.mu.Lock()
	delete(h.clients, client)
	remaining := len(h.clients)
	h.mu.Unlock()

	client.Close()
	return remaining
}

// Broadcast sends data to every client except exclude, which may be nil.
// It returns how many clients accepted the frame.
func (h *Hub) Broadcast(data []byte, exclude *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		if client == exclude {
			continue
		}
		if client.Send(data) {
			delivered++
		}
	}
	return delivered
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Submit queues job on the session's writer.
func (h *Hub) Submit(job func()) error {
	return h.worker.Submit(job)
}

// Close closes all client connections and stops the hub's worker.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
	h.worker.Stop()
}

// HubManager manages the hubs of all sessions that have live connections.
// A session whose last client left keeps its retired worker in draining until
// the worker's queue is empty, and a new hub for that session waits on it.
type HubManager struct {
	hubs     map[string]*Hub
	draining map[string]*sessionWorker
	mu       sync.RWMutex
}

// NewHubManager creates a new HubManager.
func NewHubManager() *HubManager {
	return &HubManager{
		hubs:     make(map[string]*Hub),
		draining: make(map[string]*sessionWorker),
	}
}

// Register adds client to the session's hub, creating the hub on first use.
func (m *HubManager) Register(sessionID string, client *Client) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, ok := m.hubs[sessionID]
	if !ok {
		var after <-chan struct{}
		if prev, ok := m.draining[sessionID]; ok {
			after = prev.Done()
			delete(m.draining, sessionID)
		}
		hub = newHubAfter(sessionID, after)
		m.hubs[sessionID] = hub
		activeSessions.Inc()
	}
	hub.Register(client)
	return hub
}

// Unregister removes client from its session. The last client out deletes
// the hub and retires the session's worker.
func (m *HubManager) Unregister(sessionID string, client *Client) {
	m.mu.Lock()
	hub, ok := m.hubs[sessionID]
	if !ok {
		m.mu.Unlock()
		client.Close()
		return
	}
	empty := hub.Unregister(client) == 0
	if empty {
		delete(m.hubs, sessionID)
		m.draining[sessionID] = hub.worker
		activeSessions.Dec()
	}
	m.mu.Unlock()

	// Queued jobs may still broadcast, which takes m.mu, so stop outside the lock.
	if empty {
		hub.worker.Stop()
		go m.forgetWhenDrained(sessionID, hub.worker)
	}
}

// forgetWhenDrained drops w from draining once its queue is empty, unless a
// new hub already picked it up.
func (m *HubManager) forgetWhenDrained(sessionID string, w *sessionWorker) {
	<-w.Done()
	m.mu.Lock()
	if m.draining[sessionID] == w {
		delete(m.draining, sessionID)
	}
	m.mu.Unlock()
}

// Broadcast encodes msg once and sends it to every client of the session
// except exclude. Sessions without a hub are ignored.
func (m *HubManager) Broadcast(sessionID string, msg protocol.Message, exclude *Client) error {
	hub := m.Get(sessionID)
	if hub == nil {
		return nil
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	hub.Broadcast(data, exclude)
	messagesBroadcast.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

// Submit queues job on the session's writer. It fails with ErrWorkerStopped
// when the session has no live hub.
func (m *HubManager) Submit(sessionID string, job func()) error {
	hub := m.Get(sessionID)
	if hub == nil {
		return ErrWorkerStopped
	}
	return hub.Submit(job)
}

// Get returns the hub for the session, or nil if not found.
func (m *HubManager) Get(sessionID string) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[sessionID]
}

// SessionCount returns the number of sessions with at least one client.
func (m *HubManager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hubs)
}

// Close closes all hubs and stops their workers. Queued jobs keep running;
// use Shutdown to wait for them.
func (m *HubManager) Close() {
	m.stopAll()
}

// Shutdown closes all hubs and waits until every session worker, including
// retired ones still draining, has finished its queue or ctx is done.
func (m *HubManager) Shutdown(ctx context.Context) error {
	for _, w := range m.stopAll() {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for session %s writer: %w", w.sessionID, ctx.Err())
		}
	}
	return nil
}

func (m *HubManager) stopAll() []*sessionWorker {
	m.mu.Lock()
	hubs := make([]*Hub, 0, len(m.hubs))
	workers := make([]*sessionWorker, 0, len(m.hubs)+len(m.draining))
	for _, hub := range m.hubs {
		hubs = append(hubs, hub)
		workers = append(workers, hub.worker)
	}
	for _, w := range m.draining {
		workers = append(workers, w)
	}
	m.hubs = make(map[string]*Hub)
	activeSessions.Sub(float64(len(hubs)))
	m.mu.Unlock()

	for _, hub := range hubs {
		hub.Close()
	}
	return workers
}
