package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"teamchat-backend/internal/database"
	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/middleware"
	"teamchat-backend/pkg/constants"
	"teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
	"teamchat-backend/pkg/response"
)

// Inbound frame types
const (
	FrameTypeTyping     = "typing"
	FrameTypeStopTyping = "stop_typing"
	FrameTypeHeartbeat  = "heartbeat"
)

// presencePattern matches presence changes of every user
var presencePattern = domain.SubjectUsers + ".*.presence"

// PresenceService handles frames sent by connected clients
type PresenceService interface {
	CheckChannelAccess(ctx context.Context, userID, channelID uuid.UUID) error
	SetTyping(ctx context.Context, channelID, userID uuid.UUID) error
	StopTyping(ctx context.Context, channelID, userID uuid.UUID) error
	RecordHeartbeat(ctx context.Context, userID uuid.UUID) error
}

// Frame is a client to server message
type Frame struct {
	Type string `json:"type"`
}

// EventStream relays channel events and organization presence changes from
// Redis pub/sub to WebSocket clients. One pattern subscription is held per
// channel with at least one client, plus one shared presence subscription.
type EventStream struct {
	redis    *database.RedisClient
	presence PresenceService
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	// Registered clients per channel, owned by run
	channels            map[uuid.UUID]map[*streamClient]bool
	subscriptionCancels map[uuid.UUID]context.CancelFunc

	mu          sync.RWMutex
	connections int

	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan *streamMessage
	done       <-chan struct{}

	maxConnections int
	semaphore      chan struct{}
}

type streamClient struct {
	stream    *EventStream
	conn      *websocket.Conn
	send      chan []byte
	userID    uuid.UUID
	orgID     uuid.UUID
	channelID uuid.UUID
	ctx       context.Context
	cancel    context.CancelFunc

	// typing is owned by readPump
	typing bool
}

// streamMessage targets either one channel or, for presence, one organization
type streamMessage struct {
	channelID uuid.UUID
	orgID     uuid.UUID
	eventType string
	payload   []byte
}

// NewEventStream creates the stream and starts its hub and presence
// subscription. Both stop when ctx is cancelled.
func NewEventStream(ctx context.Context, redisClient *database.RedisClient, presence PresenceService, m *metrics.Metrics, allowedOrigins []string, maxConnections int) *EventStream {
	if maxConnections <= 0 {
		maxConnections = 1000
	}
	origins := lo.SliceToMap(allowedOrigins, func(o string) (string, struct{}) { return o, struct{}{} })

	s := &EventStream{
		redis:    redisClient,
		presence: presence,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return false
				}
				_, ok := origins[origin]
				return ok
			},
		},
		channels:            make(map[uuid.UUID]map[*streamClient]bool),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		register:            make(chan *streamClient),
		unregister:          make(chan *streamClient),
		broadcast:           make(chan *streamMessage, 256),
		done:                ctx.Done(),
		maxConnections:      maxConnections,
		semaphore:           make(chan struct{}, maxConnections),
	}

	go s.run(ctx)
	go s.subscribe(ctx, uuid.Nil, presencePattern)

	return s
}

// Connections returns the number of open client connections
func (s *EventStream) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connections
}

func (s *EventStream) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for channelID, cancel := range s.subscriptionCancels {
				cancel()
				delete(s.subscriptionCancels, channelID)
			}
			return

		case client := <-s.register:
			if s.channels[client.channelID] == nil {
				s.channels[client.channelID] = make(map[*streamClient]bool)

				subCtx, cancel := context.WithCancel(ctx)
				s.subscriptionCancels[client.channelID] = cancel
				go s.subscribe(subCtx, client.channelID, domain.ChannelSubjectPattern(client.channelID))
			}
			s.channels[client.channelID][client] = true
			s.addConnections(1)

		case client := <-s.unregister:
			s.drop(client)

		case message := <-s.broadcast:
			if message.channelID != uuid.Nil {
				for client := range s.channels[message.channelID] {
					s.deliver(client, message)
				}
				continue
			}
			for _, clients := range s.channels {
				for client := range clients {
					if client.orgID == message.orgID {
						s.deliver(client, message)
					}
				}
			}
		}
	}
}

// deliver queues a frame, dropping clients that cannot keep up
func (s *EventStream) deliver(client *streamClient, message *streamMessage) {
	select {
	case client.send <- message.payload:
		s.metrics.RecordWebSocketMessage(message.eventType, "out")
	default:
		s.metrics.RecordWebSocketError("slow_consumer")
		s.drop(client)
	}
}

func (s *EventStream) drop(client *streamClient) {
	clients, ok := s.channels[client.channelID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}

	delete(clients, client)
	close(client.send)
	client.cancel()
	s.addConnections(-1)

	if len(clients) == 0 {
		if cancel, ok := s.subscriptionCancels[client.channelID]; ok {
			cancel()
			delete(s.subscriptionCancels, client.channelID)
		}
		delete(s.channels, client.channelID)
	}
}

func (s *EventStream) addConnections(delta int) {
	s.mu.Lock()
	s.connections += delta
	s.mu.Unlock()
	s.metrics.AddWebSocketConnections(delta)
}

// subscribe forwards messages matching pattern to the hub. A nil channelID
// marks the presence subscription, whose messages are routed by organization.
func (s *EventStream) subscribe(ctx context.Context, channelID uuid.UUID, pattern string) {
	pubsub := s.redis.SafePSubscribe(ctx, pattern)
	if pubsub == nil {
		logger.Warn("Event subscription skipped, Redis is degraded",
			zap.String("pattern", pattern))
		return
	}
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("Failed to subscribe to event pattern",
			zap.String("pattern", pattern),
			zap.Error(err))
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var envelope struct {
				Type           string    `json:"type"`
				OrganizationID uuid.UUID `json:"organization_id"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				logger.Warn("Failed to decode event",
					zap.String("subject", msg.Channel),
					zap.Error(err))
				continue
			}

			message := &streamMessage{
				channelID: channelID,
				eventType: envelope.Type,
				payload:   []byte(msg.Payload),
			}
			if channelID == uuid.Nil {
				if envelope.OrganizationID == uuid.Nil {
					continue
				}
				message.orgID = envelope.OrganizationID
			}

			select {
			case s.broadcast <- message:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ServeWS upgrades a request to a channel event stream
// GET /v1/ws?channel_id=<uuid>
func (s *EventStream) ServeWS(c *gin.Context) {
	select {
	case s.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", s.maxConnections))
		s.metrics.RecordWebSocketError("capacity")
		response.FromError(c, errors.ServiceUnavailableError("Server at capacity, please try again later"))
		return
	}
	upgraded := false
	defer func() {
		if !upgraded {
			<-s.semaphore
		}
	}()

	if s.redis.IsDegraded() {
		response.FromError(c, errors.ServiceUnavailableError("Event stream is temporarily unavailable"))
		return
	}

	channelID, err := uuid.Parse(c.Query("channel_id"))
	if err != nil {
		response.ValidationError(c, "channel_id must be a valid UUID")
		return
	}

	userID, ok := c.Get(middleware.ContextUserID)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	orgID, _ := c.Get(middleware.ContextOrganizationID)
	uid, _ := userID.(uuid.UUID)
	oid, _ := orgID.(uuid.UUID)

	if err := s.presence.CheckChannelAccess(c.Request.Context(), uid, channelID); err != nil {
		response.FromError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.metrics.RecordWebSocketError("upgrade")
		logger.Warn("WebSocket upgrade failed",
			zap.String("channel_id", channelID.String()),
			zap.String("user_id", uid.String()),
			zap.Error(err))
		return
	}
	upgraded = true

	ctx, cancel := context.WithCancel(context.Background())
	client := &streamClient{
		stream:    s,
		conn:      conn,
		send:      make(chan []byte, 256),
		userID:    uid,
		orgID:     oid,
		channelID: channelID,
		ctx:       ctx,
		cancel:    cancel,
	}

	select {
	case s.register <- client:
	case <-s.done:
		cancel()
		conn.Close()
		<-s.semaphore
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *streamClient) readPump() {
	defer func() {
		// A client that disconnects mid-typing should not linger in the typing map
		if c.typing {
			if err := c.stream.presence.StopTyping(context.Background(), c.channelID, c.userID); err != nil {
				logger.Debug("Failed to clear typing on disconnect", zap.Error(err))
			}
		}
		select {
		case c.stream.unregister <- c:
		case <-c.stream.done:
		}
		c.conn.Close()
		<-c.stream.semaphore
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("channel_id", c.channelID.String()),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.stream.metrics.RecordWebSocketError("invalid_frame")
			logger.Warn("Invalid frame from WebSocket",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}
		c.stream.metrics.RecordWebSocketMessage(frame.Type, "in")

		if err := c.handleFrame(frame); err != nil {
			logger.Warn("Failed to handle WebSocket frame",
				zap.String("type", frame.Type),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
		}
	}
}

func (c *streamClient) handleFrame(frame Frame) error {
	switch frame.Type {
	case FrameTypeTyping:
		if err := c.stream.presence.SetTyping(c.ctx, c.channelID, c.userID); err != nil {
			return err
		}
		c.typing = true
		return nil
	case FrameTypeStopTyping:
		c.typing = false
		return c.stream.presence.StopTyping(c.ctx, c.channelID, c.userID)
	case FrameTypeHeartbeat:
		return c.stream.presence.RecordHeartbeat(c.ctx, c.userID)
	default:
		c.stream.metrics.RecordWebSocketError("unknown_frame")
		return nil
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
