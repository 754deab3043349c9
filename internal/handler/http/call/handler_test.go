package call

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/events"
	"teamchat-backend/internal/middleware"
	"teamchat-backend/internal/repository/memory"
	"teamchat-backend/internal/scheduler"
	"teamchat-backend/internal/service/access"
	"teamchat-backend/internal/service/call"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type testServer struct {
	router   *gin.Engine
	users    *memory.UserRepository
	channels *memory.ChannelRepository
	org      uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := memory.NewUserRepository()
	channels := memory.NewChannelRepository(users)
	sched := scheduler.NewTimerScheduler(time.Second)
	svc := call.NewService(memory.NewCallRepository(), channels, access.NewPolicy(channels, users),
		sched, events.NewMemoryPublisher(), call.DefaultConfig())

	// Cancelling stops every pending ring timer
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx, svc.HandleTimeoutToken)
	t.Cleanup(cancel)

	router := gin.New()
	v1 := router.Group("/v1")
	v1.Use(func(c *gin.Context) {
		if id, err := uuid.Parse(c.GetHeader("X-Test-User")); err == nil {
			c.Set(middleware.ContextUserID, id)
		}
		c.Next()
	})
	NewHandler(svc).RegisterRoutes(v1)

	return &testServer{router: router, users: users, channels: channels, org: uuid.New()}
}

func (s *testServer) addUser() uuid.UUID {
	id := uuid.New()
	s.users.Add(&domain.User{UserID: id, OrganizationID: s.org, Username: id.String()[:8], Status: domain.PresenceOnline})
	return id
}

func (s *testServer) addChannel(typ domain.ChannelType, members ...uuid.UUID) uuid.UUID {
	id := uuid.New()
	s.channels.Add(&domain.Channel{ChannelID: id, OrganizationID: s.org, Name: "general", Type: typ})
	for i, m := range members {
		role := domain.MemberRoleMember
		if i == 0 {
			role = domain.MemberRoleAdmin
		}
		s.channels.AddMember(id, m, role)
	}
	return id
}

func (s *testServer) do(t *testing.T, method, path string, userID uuid.UUID, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set("X-Test-User", userID.String())
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func (s *testServer) initiate(t *testing.T, channelID, userID uuid.UUID) domain.Call {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/v1/calls", userID, gin.H{
		"channel_id": channelID.String(),
		"call_type":  "video",
	})
	require.Equal(t, http.StatusCreated, code)
	var created domain.Call
	require.NoError(t, json.Unmarshal(env.Data, &created))
	return created
}

func TestInitiateAndJoinCall(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.addUser(), s.addUser()
	channelID := s.addChannel(domain.ChannelTypePrivate, alice, bob)

	created := s.initiate(t, channelID, alice)
	assert.Equal(t, domain.CallStatusRinging, created.Status)
	assert.Len(t, created.Participants, 2)

	code, env := s.do(t, http.MethodPost, "/v1/calls/"+created.CallID.String()+"/join", bob, nil)
	require.Equal(t, http.StatusOK, code)
	var joined domain.Call
	require.NoError(t, json.Unmarshal(env.Data, &joined))
	assert.Equal(t, domain.CallStatusActive, joined.Status)

	code, env = s.do(t, http.MethodGet, "/v1/channels/"+channelID.String()+"/call", alice, nil)
	require.Equal(t, http.StatusOK, code)
	var active domain.Call
	require.NoError(t, json.Unmarshal(env.Data, &active))
	assert.Equal(t, created.CallID, active.CallID)

	code, _ = s.do(t, http.MethodPost, "/v1/calls/"+created.CallID.String()+"/end", alice, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestInitiateCall_Errors(t *testing.T) {
	s := newTestServer(t)
	alice, outsider := s.addUser(), s.addUser()
	channelID := s.addChannel(domain.ChannelTypePrivate, alice)

	tests := []struct {
		name     string
		userID   uuid.UUID
		body     gin.H
		wantCode int
		wantErr  string
	}{
		{"bad call type", alice, gin.H{"channel_id": channelID.String(), "call_type": "fax"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing channel", alice, gin.H{"call_type": "audio"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad participant", alice, gin.H{"channel_id": channelID.String(), "call_type": "audio", "participant_ids": []string{"nope"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown channel", alice, gin.H{"channel_id": uuid.NewString(), "call_type": "audio"}, http.StatusNotFound, "CHANNEL_NOT_FOUND"},
		{"not a member", outsider, gin.H{"channel_id": channelID.String(), "call_type": "audio"}, http.StatusForbidden, "ACCESS_DENIED"},
		{"unauthenticated", uuid.Nil, gin.H{"channel_id": channelID.String(), "call_type": "audio"}, http.StatusUnauthorized, "UNAUTHORIZED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, http.MethodPost, "/v1/calls", tt.userID, tt.body)
			assert.Equal(t, tt.wantCode, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantErr, env.Error.Code)
		})
	}
}

func TestInitiateCall_DuplicateIsConflict(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.addUser(), s.addUser()
	channelID := s.addChannel(domain.ChannelTypePrivate, alice, bob)
	s.initiate(t, channelID, alice)

	code, env := s.do(t, http.MethodPost, "/v1/calls", bob, gin.H{
		"channel_id": channelID.String(),
		"call_type":  "audio",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "DUPLICATE_ACTIVE_CALL", env.Error.Code)
}

func TestCallRoutes_InvalidCallID(t *testing.T) {
	s := newTestServer(t)
	alice := s.addUser()

	code, env := s.do(t, http.MethodPost, "/v1/calls/not-a-uuid/join", alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, env = s.do(t, http.MethodGet, "/v1/calls/"+uuid.NewString(), alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "CALL_NOT_FOUND", env.Error.Code)
}

func TestScreenShareRoutes(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.addUser(), s.addUser()
	channelID := s.addChannel(domain.ChannelTypePrivate, alice, bob)
	created := s.initiate(t, channelID, alice)
	path := "/v1/calls/" + created.CallID.String() + "/screen-share"

	code, env := s.do(t, http.MethodPost, path, bob, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NOT_A_PARTICIPANT", env.Error.Code)

	code, env = s.do(t, http.MethodPost, path, alice, nil)
	require.Equal(t, http.StatusOK, code)
	var share domain.ScreenShare
	require.NoError(t, json.Unmarshal(env.Data, &share))
	assert.True(t, share.Enabled)
	assert.Equal(t, alice, share.SharedBy)

	code, _ = s.do(t, http.MethodDelete, path, alice, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestGetCallHistory(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.addUser(), s.addUser()
	channelID := s.addChannel(domain.ChannelTypePrivate, alice, bob)
	created := s.initiate(t, channelID, alice)

	code, _ := s.do(t, http.MethodPost, "/v1/calls/"+created.CallID.String()+"/reject", bob, nil)
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodGet, "/v1/calls?limit=10", bob, nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Calls []domain.Call `json:"calls"`
		Limit int           `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Calls, 1)
	assert.Equal(t, created.CallID, page.Calls[0].CallID)
	assert.Equal(t, 10, page.Limit)
}
