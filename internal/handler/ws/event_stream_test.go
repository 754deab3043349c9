package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat-backend/internal/database"
	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/events"
	"teamchat-backend/internal/middleware"
	apperrors "teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/metrics"
)

const testOrigin = "http://localhost:3000"

// stubPresence records the frames forwarded by the stream
type stubPresence struct {
	mu      sync.Mutex
	allowed map[uuid.UUID]bool
	calls   []string
}

func (s *stubPresence) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubPresence) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubPresence) CheckChannelAccess(ctx context.Context, userID, channelID uuid.UUID) error {
	if !s.allowed[channelID] {
		return apperrors.AccessDeniedError("You do not have access to this channel")
	}
	return nil
}

func (s *stubPresence) SetTyping(ctx context.Context, channelID, userID uuid.UUID) error {
	s.record("typing")
	return nil
}

func (s *stubPresence) StopTyping(ctx context.Context, channelID, userID uuid.UUID) error {
	s.record("stop_typing")
	return nil
}

func (s *stubPresence) RecordHeartbeat(ctx context.Context, userID uuid.UUID) error {
	s.record("heartbeat")
	return nil
}

type streamFixture struct {
	mr        *miniredis.Miniredis
	stream    *EventStream
	presence  *stubPresence
	publisher *events.RedisPublisher
	server    *httptest.Server
	org       uuid.UUID
	channelID uuid.UUID
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := database.NewRedisClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))

	f := &streamFixture{
		mr:        mr,
		presence:  &stubPresence{allowed: map[uuid.UUID]bool{}},
		publisher: events.NewRedisPublisher(client),
		org:       uuid.New(),
		channelID: uuid.New(),
	}
	f.presence.allowed[f.channelID] = true

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.stream = NewEventStream(ctx, client, f.presence, metrics.NewMetrics("test"), []string{testOrigin}, 10)

	router := gin.New()
	router.GET("/v1/ws", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, uuid.MustParse(c.Query("user")))
		c.Set(middleware.ContextOrganizationID, f.org)
		c.Next()
	}, f.stream.ServeWS)

	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)

	// Wait for the shared presence subscription
	require.Eventually(t, func() bool { return mr.PubSubNumPat() >= 1 }, 2*time.Second, 10*time.Millisecond)
	return f
}

func (f *streamFixture) dial(t *testing.T, channelID uuid.UUID) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") +
		"/v1/ws?channel_id=" + channelID.String() + "&user=" + uuid.NewString()
	header := http.Header{}
	header.Set("Origin", testOrigin)
	return websocket.DefaultDialer.Dial(url, header)
}

func (f *streamFixture) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := f.dial(t, f.channelID)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Presence plus the channel pattern
	require.Eventually(t, func() bool { return f.mr.PubSubNumPat() >= 2 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event map[string]any
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestEventStream_RelaysChannelEvents(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.connect(t)

	// Events of other channels are not relayed
	require.NoError(t, f.publisher.Publish(context.Background(), domain.NewUserTyping(uuid.New(), uuid.New(), time.Now())))

	typist := uuid.New()
	require.NoError(t, f.publisher.Publish(context.Background(), domain.NewUserTyping(f.channelID, typist, time.Now())))

	event := readEvent(t, conn)
	assert.Equal(t, string(domain.EventUserTyping), event["type"])
	assert.Equal(t, typist.String(), event["user_id"])
}

func TestEventStream_RelaysPresenceWithinOrganization(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.connect(t)

	outsider := &domain.User{UserID: uuid.New(), OrganizationID: uuid.New()}
	colleague := &domain.User{UserID: uuid.New(), OrganizationID: f.org}

	ctx := context.Background()
	require.NoError(t, f.publisher.Publish(ctx, domain.NewPresenceUpdated(outsider, domain.PresenceOnline, time.Now(), time.Now())))
	require.NoError(t, f.publisher.Publish(ctx, domain.NewPresenceUpdated(colleague, domain.PresenceAway, time.Now(), time.Now())))

	event := readEvent(t, conn)
	assert.Equal(t, string(domain.EventUserPresenceUpdated), event["type"])
	assert.Equal(t, colleague.UserID.String(), event["user_id"])
	assert.Equal(t, string(domain.PresenceAway), event["status"])
}

func TestEventStream_ForwardsInboundFrames(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.connect(t)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameTypeTyping}))
	require.NoError(t, conn.WriteJSON(Frame{Type: FrameTypeHeartbeat}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(Frame{Type: FrameTypeStopTyping}))

	require.Eventually(t, func() bool { return len(f.presence.Calls()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"typing", "heartbeat", "stop_typing"}, f.presence.Calls())
}

func TestEventStream_DisconnectReleasesSubscription(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.connect(t)
	require.Eventually(t, func() bool { return f.stream.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameTypeTyping}))
	require.Eventually(t, func() bool { return len(f.presence.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return f.stream.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.mr.PubSubNumPat() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"typing", "stop_typing"}, f.presence.Calls())
}

func TestEventStream_DisconnectWithoutTypingLeavesTypingAlone(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.connect(t)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameTypeHeartbeat}))
	require.Eventually(t, func() bool { return len(f.presence.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return f.stream.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"heartbeat"}, f.presence.Calls())
}

func TestEventStream_RejectsBeforeUpgrade(t *testing.T) {
	f := newStreamFixture(t)

	t.Run("no channel access", func(t *testing.T) {
		_, resp, err := f.dial(t, uuid.New())
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("foreign origin", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(f.server.URL, "http") +
			"/v1/ws?channel_id=" + f.channelID.String() + "&user=" + uuid.NewString()
		header := http.Header{}
		header.Set("Origin", "http://evil.example")
		_, resp, err := websocket.DefaultDialer.Dial(url, header)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
