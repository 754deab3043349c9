package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat-backend/internal/database"
	"teamchat-backend/internal/domain"
)

type failingPublisher struct{ err error }

func (p *failingPublisher) Publish(ctx context.Context, event domain.Event) error { return p.err }
func (p *failingPublisher) Close() error                                          { return nil }

func testCall() *domain.Call {
	return &domain.Call{
		CallID:      uuid.New(),
		ChannelID:   uuid.New(),
		InitiatorID: uuid.New(),
		CallType:    domain.CallTypeAudio,
		Status:      domain.CallStatusRinging,
		Metadata:    map[string]any{},
		CreatedAt:   time.Now().UTC(),
	}
}

func TestMultiPublisher_DeliversToAllSinksDespiteFailure(t *testing.T) {
	mem := NewMemoryPublisher()
	boom := errors.New("sink down")
	multi := NewMultiPublisher().
		Add("broken", &failingPublisher{err: boom}).
		Add("memory", mem)

	err := multi.Publish(context.Background(), domain.NewCallInitiated(testCall(), time.Now()))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []domain.EventType{domain.EventCallInitiated}, mem.Types())
}

func TestNewFromSinks_Validation(t *testing.T) {
	_, err := NewFromSinks([]string{"kafka"}, nil, NATSConfig{})
	assert.Error(t, err)

	_, err = NewFromSinks([]string{SinkRedis}, nil, NATSConfig{})
	assert.Error(t, err)

	multi, err := NewFromSinks(nil, nil, NATSConfig{})
	require.NoError(t, err)
	assert.Equal(t, 1, multi.Len())
	assert.NoError(t, multi.Publish(context.Background(), domain.NewCallInitiated(testCall(), time.Now())))
}

func TestRedisPublisher_PublishesOnSubject(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	call := testCall()
	subject := domain.ChannelSubject(call.ChannelID, domain.EventCallInitiated)

	sub := client.PSubscribe(ctx, domain.ChannelSubjectPattern(call.ChannelID))
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(database.NewRedisClient(client))
	require.NoError(t, pub.Publish(ctx, domain.NewCallInitiated(call, time.Now())))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, subject, msg.Channel)

		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
		assert.Equal(t, string(domain.EventCallInitiated), payload["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}
