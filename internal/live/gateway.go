package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"vidloop-live/internal/models"
	"vidloop-live/internal/observability/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Store exposes the datastore operations the gateway requires.
type Store interface {
	GetUser(id string) (models.User, bool)
	CanBroadcast(userID string) bool
	SetUserLive(id string, live bool) error
}

// GatewayConfig configures a live session Gateway.
type GatewayConfig struct {
	Store  Store
	Queue  Queue
	Ledger *Ledger
	Logger *slog.Logger
	// HeartbeatInterval controls how often the gateway sends WebSocket ping
	// frames to connected clients. A zero value disables heartbeats.
	HeartbeatInterval time.Duration
}

// Gateway coordinates live sessions over WebSocket connections: room
// lifecycle, presence, chat and gift fan-out, and WebRTC signal relay. Durable
// side effects are forwarded to the configured queue.
type Gateway struct {
	store    Store
	queue    Queue
	registry *Registry
	presence *presence
	ledger   *Ledger
	logger   *slog.Logger

	heartbeatInterval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewGateway initialises a gateway using the provided configuration.
func NewGateway(cfg GatewayConfig) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewLedger(nil, nil)
	}
	return &Gateway{
		store:             cfg.Store,
		queue:             cfg.Queue,
		registry:          NewRegistry(cfg.Store, logger),
		presence:          newPresence(),
		ledger:            ledger,
		logger:            logger,
		heartbeatInterval: cfg.HeartbeatInterval,
		clients:           make(map[*client]struct{}),
	}
}

// Registry exposes the session registry for read-side consumers such as the
// lives directory endpoint.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// HandleConnection upgrades the HTTP request to a WebSocket connection.
// Clients identify themselves with a join-chat frame after connecting.
// The connection outlives the handler; teardown is driven by the read loop
// observing a closed socket, not by the request context.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, 16),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()

	go c.writeLoop()
	if g.heartbeatInterval > 0 {
		go c.heartbeatLoop(ctx, g.heartbeatInterval)
	}
	go c.readLoop(ctx)
}

// broadcastAll delivers a payload to every connected client, live or not.
// Session announcements use this so idle feeds learn about new rooms.
func (g *Gateway) broadcastAll(payload []byte) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for c := range g.clients {
		c.enqueue(payload)
	}
}

func (g *Gateway) publish(ctx context.Context, event Event) {
	if g.queue == nil {
		return
	}
	if err := g.queue.Publish(ctx, event); err != nil && g.logger != nil {
		g.logger.Warn("failed to publish live event", "error", err)
	}
}

func (g *Gateway) dropClient(c *client) {
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()
}

type client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	closed  sync.Once
	cancel  context.CancelFunc
}

type inboundMessage struct {
	Type    string          `json:"type"`
	UserID  string          `json:"userId"`
	Title   string          `json:"title"`
	LiveID  string          `json:"liveId"`
	Text    string          `json:"text"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// enqueue delivers a frame without blocking. Slow consumers lose frames
// instead of stalling the room. The send channel is never closed, so racing a
// frame against teardown is safe; frames queued after close are simply never
// written.
func (c *client) enqueue(payload []byte) {
	select {
	case <-c.done:
	case c.send <- payload:
	default:
	}
}

func (c *client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop() {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func (c *client) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(interval)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) readLoop(ctx context.Context) {
	defer c.close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.sendError("invalid payload")
			continue
		}
		switch msg.Type {
		case "join-chat":
			c.handleJoinChat(msg)
		case "start-live":
			c.handleStartLive(msg)
		case "join-live":
			c.handleJoinLive(msg)
		case "end-live":
			c.handleEndLive(msg)
		case "live-comment":
			c.handleComment(msg)
		case "live-like":
			c.handleLike(msg)
		case "send-gift":
			c.handleGift(msg)
		case "offer", "answer", "ice-candidate":
			c.handleSignal(msg)
		default:
			c.sendError("unknown command")
		}
	}
}

func (c *client) handleJoinChat(msg inboundMessage) {
	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		c.sendError("userId required")
		return
	}
	user, ok := c.gateway.store.GetUser(userID)
	if !ok {
		c.sendError("user not found")
		return
	}
	c.gateway.presence.Bind(c, user)
	c.enqueue(marshalFrame(map[string]any{"type": "ack"}))
}

func (c *client) handleStartLive(msg inboundMessage) {
	user, ok := c.gateway.presence.UserFor(c)
	if !ok {
		c.sendError("join chat first")
		return
	}
	session, err := c.gateway.registry.Start(c, user, strings.TrimSpace(msg.Title))
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.gateway.presence.Attach(c, session.ID())
	if c.isClosed() {
		// The socket dropped while the room was being created; the
		// disconnect sweep may have run before the membership existed.
		c.gateway.presence.Detach(c, session.ID())
		c.endSession(session.ID(), user.ID, true)
		return
	}

	announcement := marshalFrame(map[string]any{
		"type":   "live-started",
		"liveId": session.ID(),
		"user":   user.Summary(),
		"title":  session.Snapshot().Title,
	})
	c.gateway.broadcastAll(announcement)
	c.enqueue(marshalFrame(map[string]any{"type": "live-ready", "liveId": session.ID()}))

	view := session.Snapshot()
	c.gateway.publish(context.Background(), Event{
		Type: EventTypeSessionStarted,
		Session: &SessionEvent{
			SessionID:     session.ID(),
			BroadcasterID: user.ID,
			Title:         view.Title,
			At:            view.StartedAt,
		},
		OccurredAt: time.Now().UTC(),
	})
	metrics.Default().SessionStarted()
}

func (c *client) handleJoinLive(msg inboundMessage) {
	user, ok := c.gateway.presence.UserFor(c)
	if !ok {
		c.sendError("join chat first")
		return
	}
	session, ok := c.gateway.registry.Get(msg.LiveID)
	if !ok {
		c.sendError(ErrSessionNotFound.Error())
		return
	}

	// Presence is indexed before the room mutation so a racing disconnect
	// always finds the membership when it drains.
	c.gateway.presence.Attach(c, session.ID())

	session.mu.Lock()
	if session.ended {
		session.mu.Unlock()
		c.gateway.presence.Detach(c, session.ID())
		c.sendError(ErrSessionNotFound.Error())
		return
	}
	if user.ID != session.broadcaster.ID {
		session.viewers[c] = struct{}{}
	}
	count := len(session.viewers)
	countFrame := marshalFrame(map[string]any{
		"type":   "viewer-count",
		"liveId": session.id,
		"count":  count,
	})
	session.broadcastLocked(countFrame)
	info := marshalFrame(map[string]any{
		"type":     "live-info",
		"live":     session.view(),
		"comments": append([]CommentRecord(nil), session.comments...),
	})
	session.mu.Unlock()

	c.enqueue(info)
	if c.isClosed() {
		// The disconnect sweep may have run before the viewer entry
		// existed; undo the join so the count settles.
		c.leaveSession(session)
		return
	}
	metrics.Default().ViewerJoined()
}

func (c *client) handleEndLive(msg inboundMessage) {
	user, ok := c.gateway.presence.UserFor(c)
	if !ok {
		c.sendError("join chat first")
		return
	}
	c.endSession(msg.LiveID, user.ID, false)
}

// endSession runs the owner-only teardown flow. When force is set the
// ownership check is skipped; that path serves broadcaster disconnects.
func (c *client) endSession(sessionID, requesterID string, force bool) {
	session, ok := c.gateway.registry.Get(sessionID)
	if !ok {
		if !force {
			c.sendError(ErrSessionNotFound.Error())
		}
		return
	}
	if force {
		requesterID = session.BroadcasterID()
	}
	if _, err := c.gateway.registry.End(sessionID, requesterID); err != nil {
		if !force {
			c.sendError(err.Error())
		}
		return
	}

	farewell := marshalFrame(map[string]any{"type": "live-ended", "liveId": session.ID()})
	session.mu.Lock()
	view := session.view()
	session.broadcastLocked(farewell)
	for viewer := range session.viewers {
		c.gateway.presence.Detach(viewer, session.id)
	}
	session.viewers = make(map[*client]struct{})
	session.mu.Unlock()
	c.gateway.presence.Detach(c, session.ID())

	c.gateway.publish(context.Background(), Event{
		Type: EventTypeSessionEnded,
		Session: &SessionEvent{
			SessionID:     session.ID(),
			BroadcasterID: session.BroadcasterID(),
			Title:         view.Title,
			Viewers:       view.Viewers,
			Likes:         view.Likes,
			Diamonds:      view.Diamonds,
			At:            time.Now().UTC(),
		},
		OccurredAt: time.Now().UTC(),
	})
	metrics.Default().SessionEnded()
}

func (c *client) handleComment(msg inboundMessage) {
	user, ok := c.gateway.presence.UserFor(c)
	if !ok {
		c.sendError("join chat first")
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		c.sendError("comment cannot be empty")
		return
	}
	if len([]rune(text)) > 500 {
		c.sendError("comment exceeds 500 characters")
		return
	}
	session, ok := c.gateway.registry.Get(msg.LiveID)
	if !ok {
		c.sendError(ErrSessionNotFound.Error())
		return
	}

	comment := CommentRecord{
		ID:        uuid.NewString(),
		SessionID: session.ID(),
		UserID:    user.ID,
		Username:  user.Username,
		Avatar:    user.AvatarURL,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	frame := marshalFrame(map[string]any{"type": "new-comment", "comment": comment})

	session.mu.Lock()
	if session.ended {
		session.mu.Unlock()
		c.sendError(ErrSessionNotFound.Error())
		return
	}
	session.comments = append(session.comments, comment)
	if len(session.comments) > commentLogLimit {
		session.comments = session.comments[len(session.comments)-commentLogLimit:]
	}
	session.broadcastLocked(frame)
	session.mu.Unlock()

	c.gateway.publish(context.Background(), Event{
		Type:       EventTypeComment,
		Comment:    &comment,
		OccurredAt: comment.CreatedAt,
	})
	metrics.Default().ObserveLiveEvent("comment")
}

func (c *client) handleLike(msg inboundMessage) {
	user, ok := c.gateway.presence.UserFor(c)
	if !ok {
		c.sendError("join chat first")
		return
	}
	session, ok := c.gateway.registry.Get(msg.LiveID)
	if !ok {
		c.sendError(ErrSessionNotFound.Error())
		return
	}

	session.mu.Lock()
	if session.ended {
		session.mu.Unlock()
		c.sendError(ErrSessionNotFound.Error())
		return
	}
	session.likes++
	frame := marshalFrame(map[string]any{
		"type":     "like-animation",
		"liveId":   session.id,
		"userId":   user.ID,
		"username": user.Username,
		"likes":    session.likes,
	})
	session.broadcastLocked(frame)
	session.mu.Unlock()

	metrics.Default().ObserveLiveEvent("like")
}

func (c *client) handleGift(msg inboundMessage) {
	user, ok := c.gateway.presence.UserFor(c)
	if !ok {
		c.sendError("join chat first")
		return
	}
	session, ok := c.gateway.registry.Get(msg.LiveID)
	if !ok {
		c.sendError(ErrSessionNotFound.Error())
		return
	}
	record, err := c.deliverGift(session, user, msg.Kind)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	c.gateway.publish(context.Background(), Event{
		Type:       EventTypeGift,
		Gift:       &record,
		OccurredAt: record.CreatedAt,
	})
	metrics.Default().ObserveGift(record.Kind, record.Price)
}

// deliverGift settles the transfer and fans the gift out to the room. The
// ended check and the transfer share the session lock, so a gift racing
// teardown is rejected before any balance moves instead of crediting a dead
// room.
func (c *client) deliverGift(session *Session, sender models.User, kind string) (models.GiftRecord, error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.ended {
		return models.GiftRecord{}, ErrSessionNotFound
	}
	record, err := c.gateway.ledger.Send(sender, session, kind)
	if err != nil {
		return models.GiftRecord{}, err
	}
	session.diamonds += record.Diamonds
	session.gifts = append(session.gifts, record)
	if len(session.gifts) > giftLogLimit {
		session.gifts = session.gifts[len(session.gifts)-giftLogLimit:]
	}
	session.broadcastLocked(marshalFrame(map[string]any{"type": "gift-received", "gift": record}))
	return record, nil
}

func (c *client) handleDisconnect() {
	sessionIDs := c.gateway.presence.Drain(c)
	for _, sessionID := range sessionIDs {
		session, ok := c.gateway.registry.Get(sessionID)
		if !ok {
			continue
		}
		if c.isBroadcasterOf(session) {
			c.endSession(sessionID, session.BroadcasterID(), true)
			continue
		}
		c.leaveSession(session)
	}
	c.gateway.dropClient(c)
}

// leaveSession removes the connection from the room's viewer set and lets the
// remaining members observe the settled count.
func (c *client) leaveSession(session *Session) {
	c.gateway.presence.Detach(c, session.id)
	session.mu.Lock()
	if _, present := session.viewers[c]; !present {
		session.mu.Unlock()
		return
	}
	delete(session.viewers, c)
	frame := marshalFrame(map[string]any{
		"type":   "viewer-count",
		"liveId": session.id,
		"count":  len(session.viewers),
	})
	session.broadcastLocked(frame)
	session.mu.Unlock()
	metrics.Default().ViewerLeft()
}

func (c *client) isBroadcasterOf(session *Session) bool {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.conn == c
}

func (c *client) sendError(message string) {
	c.enqueue(marshalFrame(map[string]any{"type": "error", "error": message}))
}

func (c *client) close() {
	c.closed.Do(func() {
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.handleDisconnect()
	})
}

func marshalFrame(frame map[string]any) []byte {
	payload, err := json.Marshal(frame)
	if err != nil {
		payload, _ = json.Marshal(map[string]string{"type": "error", "error": "internal error"})
	}
	return payload
}
