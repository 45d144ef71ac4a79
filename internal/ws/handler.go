package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/the-vow/backend/internal/buffer"
	"github.com/the-vow/backend/internal/model"
	"github.com/the-vow/backend/internal/protocol"
	"github.com/the-vow/backend/internal/vow"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer. Canvas contributions carry a data URL.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandlerConfig tunes liveness supervision, throttling and store access.
type HandlerConfig struct {
	// HeartbeatInterval is how often the server probes each connection.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long a connection may stay silent. Must exceed HeartbeatInterval.
	HeartbeatTimeout time.Duration
	// StrokeInterval is the minimum spacing between accepted strokes per connection.
	StrokeInterval time.Duration
	// StoreTimeout bounds each message's store work.
	StoreTimeout time.Duration
	// MaxWriteAttempts bounds compare-and-swap retries on a version conflict.
	MaxWriteAttempts int
}

// DefaultHandlerConfig returns the production defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		HeartbeatInterval: 15 * time.Second,
		HeartbeatTimeout:  20 * time.Second,
		StrokeInterval:    100 * time.Millisecond,
		StoreTimeout:      5 * time.Second,
		MaxWriteAttempts:  3,
	}
}

// Handler accepts realtime connections and routes their messages.
type Handler struct {
	hubManager *HubManager
	store      Store
	throttle   *StrokeThrottle
	cfg        HandlerConfig
	now        func() time.Time
}

// NewHandler creates a new WebSocket handler. Zero fields in cfg take their defaults.
func NewHandler(hubManager *HubManager, store Store, cfg HandlerConfig) *Handler {
	def := DefaultHandlerConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.StrokeInterval <= 0 {
		cfg.StrokeInterval = def.StrokeInterval
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.MaxWriteAttempts <= 0 {
		cfg.MaxWriteAttempts = def.MaxWriteAttempts
	}
	return &Handler{
		hubManager: hubManager,
		store:      store,
		throttle:   NewStrokeThrottle(cfg.StrokeInterval),
		cfg:        cfg,
		now:        time.Now,
	}
}

// HubManager returns the registry the handler broadcasts through.
func (h *Handler) HubManager() *HubManager {
	return h.hubManager
}

// ServeHTTP reads the session and code query parameters and handles the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := h.HandleConnection(w, r, q.Get("session"), q.Get("code")); err != nil {
		log.Error().Err(err).Msg("Realtime connection failed")
	}
}

// HandleConnection authorizes the handshake, upgrades to WebSocket and starts
// the pumps. A refused handshake gets its TCP connection closed with no response.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, sessionID, code string) error {
	if reason, err := h.authorize(r.Context(), sessionID, code); reason != "" {
		handshakeRejections.WithLabelValues(reason).Inc()
		event := log.Warn()
		if err != nil {
			event = log.Error().Err(err)
		}
		event.Str("session_id", sessionID).Str("reason", reason).Msg("Realtime handshake rejected")
		rejectHandshake(w)
		return nil
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, sessionID)
	client.Touch(h.now())
	h.hubManager.Register(sessionID, client)
	connectionsOpen.Inc()

	log.Info().Str("session_id", sessionID).Str("conn_id", client.ID()).Msg("Realtime client connected")

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// authorize returns a non-empty reason when the handshake must be refused.
// Store failures refuse the handshake as well.
func (h *Handler) authorize(ctx context.Context, sessionID, code string) (string, error) {
	if sessionID == "" || code == "" {
		return "missing_params", nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()

	session, err := h.store.FindSession(ctx, sessionID)
	if errors.Is(err, model.ErrSessionNotFound) {
		return "not_found", nil
	}
	if err != nil {
		return "store_error", err
	}
	if !session.MatchesCode(code) {
		return "code_mismatch", nil
	}
	if session.Expired(h.now()) {
		return "expired", nil
	}
	return "", nil
}

// rejectHandshake destroys the underlying connection without writing anything.
func rejectHandshake(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}

// closeClient releases everything a connection holds. It runs once, when the read pump exits.
func (h *Handler) closeClient(client *Client) {
	h.hubManager.Unregister(client.SessionID(), client)
	h.throttle.Forget(client.ID())
	client.Conn().Close()
	connectionsOpen.Dec()

	log.Info().Str("session_id", client.SessionID()).Str("conn_id", client.ID()).Msg("Realtime client disconnected")
}

// readPump pumps messages from the WebSocket connection to the session.
func (h *Handler) readPump(client *Client) {
	defer h.closeClient(client)

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetPongHandler(func(string) error {
		client.Touch(h.now())
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn_id", client.ID()).Msg("WebSocket read error")
			}
			break
		}

		h.dispatch(client, message)
	}
}

// writePump pumps messages to the WebSocket connection and supervises liveness.
// A connection silent for longer than the heartbeat timeout is dropped without a close frame.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Send each message in a separate WebSocket frame
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Process any queued messages, sending each in its own frame
			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queuedMsg, ok := <-client.SendChan()
				if !ok {
					return
				}
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queuedMsg); err != nil {
					return
				}
			}
		case <-ticker.C:
			if silent := h.now().Sub(client.LastSeen()); silent > h.cfg.HeartbeatTimeout {
				heartbeatTimeouts.Inc()
				log.Warn().
					Str("session_id", client.SessionID()).
					Str("conn_id", client.ID()).
					Dur("silent_for", silent).
					Msg("Heartbeat timeout, terminating connection")
				return
			}
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch validates one inbound frame. Heartbeats and throttling are handled
// here; everything else is queued on the session's writer in arrival order.
func (h *Handler) dispatch(client *Client, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		messagesDropped.WithLabelValues(dropReason(err)).Inc()
		log.Warn().Err(err).Str("conn_id", client.ID()).Msg("Dropping invalid message")
		return
	}
	messagesReceived.WithLabelValues(string(msg.Type)).Inc()

	if !protocol.IsClientType(msg.Type) {
		messagesDropped.WithLabelValues("server_only").Inc()
		log.Warn().Str("conn_id", client.ID()).Str("type", string(msg.Type)).Msg("Dropping server-only message")
		return
	}

	switch msg.Payload.(type) {
	case protocol.HeartbeatPayload:
		client.Touch(h.now())
		return
	case protocol.StrokePayload:
		if !h.throttle.Allow(client.ID(), h.now()) {
			messagesDropped.WithLabelValues("throttled").Inc()
			log.Warn().Str("conn_id", client.ID()).Msg("Stroke throttled")
			return
		}
	}

	log.Debug().Str("conn_id", client.ID()).Str("type", string(msg.Type)).Msg("Realtime message received")

	err = h.hubManager.Submit(client.SessionID(), func() {
		h.apply(client, msg)
	})
	if err != nil {
		messagesDropped.WithLabelValues("worker_stopped").Inc()
		log.Warn().Err(err).Str("session_id", client.SessionID()).Msg("Session writer unavailable")
	}
}

// apply performs a message's store work and fans it out. It runs on the session's writer.
// On any store failure the message is neither applied nor broadcast.
func (h *Handler) apply(client *Client, msg protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StoreTimeout)
	defer cancel()

	sessionID := client.SessionID()

	var err error
	switch p := msg.Payload.(type) {
	case protocol.SnapshotRequestPayload:
		if err := h.sendSnapshot(ctx, client); err != nil {
			h.storeFailed("snapshot", sessionID, err)
		}
		return
	case protocol.VowContributionPayload:
		err = h.applyContribution(ctx, sessionID, p)
	case protocol.ModuleCompletePayload:
		err = h.applyModuleComplete(ctx, sessionID, p)
	case protocol.StrokePayload:
		err = h.mutateState(ctx, sessionID, func(s *model.RealtimeState) {
			ring := buffer.NewRingFrom(model.MaxStrokes, s.Strokes)
			ring.Push(p.Stroke())
			s.Strokes = ring.Items()
		})
	case protocol.CanvasClearPayload:
		err = h.mutateState(ctx, sessionID, func(s *model.RealtimeState) {
			s.Strokes = []model.Stroke{}
		})
	case protocol.MemoryReorderPayload:
		err = h.mutateState(ctx, sessionID, func(s *model.RealtimeState) {
			s.MemoryItems = p.MemoryItems()
		})
	}
	if err != nil {
		h.storeFailed(string(msg.Type), sessionID, err)
		return
	}

	if err := h.hubManager.Broadcast(sessionID, msg, nil); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to broadcast message")
	}
}

func (h *Handler) storeFailed(op, sessionID string, err error) {
	storeErrors.WithLabelValues(op).Inc()
	log.Error().Err(err).Str("session_id", sessionID).Str("op", op).Msg("Store operation failed")
}

// mutateState applies mutate to the session's cached state and writes it back
// with version+1. A lost compare-and-swap reloads and retries.
func (h *Handler) mutateState(ctx context.Context, sessionID string, mutate func(*model.RealtimeState)) error {
	return h.casState(ctx, sessionID, mutate, h.store.UpdateRealtimeState)
}

// casState is mutateState with the conditional write supplied by the caller.
func (h *Handler) casState(
	ctx context.Context,
	sessionID string,
	mutate func(*model.RealtimeState),
	write func(ctx context.Context, next *model.RealtimeState, expectedVersion int64) error,
) error {
	for attempt := 1; ; attempt++ {
		current, err := h.store.FindOrCreateRealtimeState(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load realtime state: %w", err)
		}

		next := current.Clone()
		mutate(next)
		next.Version = current.Version + 1

		err = write(ctx, next, current.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, model.ErrVersionConflict) || attempt >= h.cfg.MaxWriteAttempts {
			return fmt.Errorf("update realtime state: %w", err)
		}
		log.Debug().Str("session_id", sessionID).Int("attempt", attempt).Msg("Realtime state version conflict, retrying")
	}
}

// loadThread returns the session's aggregate, or a fresh one when none is stored.
func (h *Handler) loadThread(ctx context.Context, sessionID string) (*model.VowThread, error) {
	thread, err := h.store.FindVowThread(ctx, sessionID)
	if errors.Is(err, model.ErrVowThreadNotFound) {
		return model.NewVowThread(sessionID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load vow thread: %w", err)
	}
	return thread, nil
}

// applyContribution merges into the realtime cache and into the aggregate,
// storing both in one write so a failure leaves neither changed.
func (h *Handler) applyContribution(ctx context.Context, sessionID string, p protocol.VowContributionPayload) error {
	thread, err := h.loadThread(ctx, sessionID)
	if err != nil {
		return err
	}
	thread.Data = vow.Merge(thread.Data, p.Data)

	err = h.casState(ctx, sessionID,
		func(s *model.RealtimeState) {
			s.Payload = vow.Merge(s.Payload, p.Data)
		},
		func(ctx context.Context, next *model.RealtimeState, expectedVersion int64) error {
			return h.store.UpdateRealtimeStateWithVowThread(ctx, next, expectedVersion, thread)
		},
	)
	if err != nil {
		return err
	}

	log.Info().Str("session_id", sessionID).Str("module", string(p.Module)).Msg("Vow contribution merged")
	return nil
}

// applyModuleComplete records the module once. Duplicates leave the store untouched.
func (h *Handler) applyModuleComplete(ctx context.Context, sessionID string, p protocol.ModuleCompletePayload) error {
	thread, err := h.loadThread(ctx, sessionID)
	if err != nil {
		return err
	}
	if !vow.CompleteModule(thread, p.Module, time.UnixMilli(int64(p.CompletedAt))) {
		return nil
	}
	if err := h.store.UpsertVowThread(ctx, thread); err != nil {
		return fmt.Errorf("upsert vow thread: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("module", string(p.Module)).
		Int("completed", len(thread.ModulesCompleted)).
		Bool("vow_complete", vow.Completed(thread)).
		Msg("Module complete")
	return nil
}

// sendSnapshot sends the session's current state to client alone.
func (h *Handler) sendSnapshot(ctx context.Context, client *Client) error {
	sessionID := client.SessionID()

	state, err := h.store.FindOrCreateRealtimeState(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load realtime state: %w", err)
	}
	thread, err := h.store.FindVowThread(ctx, sessionID)
	if err != nil && !errors.Is(err, model.ErrVowThreadNotFound) {
		return fmt.Errorf("load vow thread: %w", err)
	}

	snap := BuildSnapshot(state, thread)
	data, err := protocol.Encode(protocol.New(snap))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	client.Send(data)

	log.Info().Str("session_id", sessionID).Str("conn_id", client.ID()).Int64("version", state.Version).Msg("Snapshot sent")
	return nil
}

// BuildSnapshot assembles a snapshot from the cached state and the aggregate,
// which may be nil. The aggregate's data wins when it exists.
func BuildSnapshot(state *model.RealtimeState, thread *model.VowThread) protocol.SnapshotPayload {
	snap := protocol.SnapshotPayload{
		Version:     state.Version,
		SessionID:   state.SessionID,
		VowThread:   state.Payload.Clone(),
		Strokes:     append([]model.Stroke{}, state.Strokes...),
		MemoryItems: append([]model.MemoryItem{}, state.MemoryItems...),
	}
	if thread != nil {
		snap.VowThread = thread.Data.Clone()
		snap.ModulesCompleted = append([]model.ModuleID{}, thread.ModulesCompleted...)
		if thread.CompletedAt != nil {
			ms := thread.CompletedAt.UnixMilli()
			snap.CompletedAt = &ms
		}
	}
	return snap
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		return "malformed"
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown_type"
	default:
		return "invalid_payload"
	}
}
