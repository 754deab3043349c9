package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewPresenceUpdated_SeparatesEventTimeFromLastSeen(t *testing.T) {
	user := &User{UserID: uuid.New(), OrganizationID: uuid.New()}
	lastSeen := time.Date(2026, 1, 1, 11, 49, 0, 0, time.UTC)
	at := lastSeen.Add(11 * time.Minute)

	event := NewPresenceUpdated(user, PresenceOffline, lastSeen, at)

	assert.Equal(t, EventUserPresenceUpdated, event.Type())
	assert.Equal(t, at, event.Timestamp())
	assert.Equal(t, lastSeen, event.LastSeenAt)
	assert.Equal(t, "chat.users."+user.UserID.String()+".presence", event.Subject())
}

func TestEventSubjects(t *testing.T) {
	channelID := uuid.New()
	call := &Call{CallID: uuid.New(), ChannelID: channelID}
	now := time.Now()

	assert.Equal(t, "chat.channels."+channelID.String()+".call.initiated", NewCallInitiated(call, now).Subject())
	assert.Equal(t, "chat.channels."+channelID.String()+".user.typing", NewUserTyping(channelID, uuid.New(), now).Subject())
	assert.Equal(t, "chat.channels."+channelID.String()+".*", ChannelSubjectPattern(channelID))
}
