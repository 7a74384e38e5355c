package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/logger"
)

func TestRouter_JoinAndLeave(t *testing.T) {
	r := NewRouter(newRecorder(), logger.Discard())

	assert.True(t, r.Join("c1", "chat1"))
	assert.False(t, r.Join("c1", "chat1"))
	assert.True(t, r.Join("c2", "chat1"))
	assert.True(t, r.Join("c1", "chat2"))

	assert.Equal(t, []string{"c1", "c2"}, r.MembersOf("chat1"))
	assert.Equal(t, []string{"chat1", "chat2"}, r.roomsOf("c1"))
	assert.True(t, r.IsMember("c2", "chat1"))

	assert.True(t, r.Leave("c2", "chat1"))
	assert.False(t, r.Leave("c2", "chat1"))
	assert.False(t, r.Leave("c9", "chat9"))
	assert.False(t, r.IsMember("c2", "chat1"))
	assert.Equal(t, []string{"c1"}, r.MembersOf("chat1"))
}

func TestRouter_LeaveAllRemovesEveryMembership(t *testing.T) {
	r := NewRouter(newRecorder(), logger.Discard())
	r.Join("c1", "chat2")
	r.Join("c1", "chat1")
	r.Join("c2", "chat1")

	assert.Equal(t, []string{"chat1", "chat2"}, r.LeaveAll("c1"))
	assert.Empty(t, r.roomsOf("c1"))
	assert.Equal(t, []string{"c2"}, r.MembersOf("chat1"))
	assert.Empty(t, r.MembersOf("chat2"))

	assert.Empty(t, r.LeaveAll("c1"))
}

func TestRouter_BroadcastExcludesSender(t *testing.T) {
	out := newRecorder()
	r := NewRouter(out, logger.Discard())
	r.Join("c1", "chat1")
	r.Join("c2", "chat1")
	r.Join("c3", "chat1")
	r.Join("c4", "chat2")

	n := r.Broadcast("chat1", EventUserTyping, TypingEvent{UserID: "u1", ChatID: "chat1"}, "c1")
	assert.Equal(t, 2, n)

	assert.Empty(t, out.received("c1"))
	assert.Empty(t, out.received("c4"))
	for _, connID := range []string{"c2", "c3"} {
		got := out.received(connID)
		require.Len(t, got, 1)
		assert.Equal(t, EventUserTyping, got[0].Event)
		assert.Equal(t, TypingEvent{UserID: "u1", ChatID: "chat1"}, decodeData[TypingEvent](t, got[0]))
	}
}

func TestRouter_BroadcastToSoleMemberReachesNobody(t *testing.T) {
	out := newRecorder()
	r := NewRouter(out, logger.Discard())
	r.Join("c1", "chat1")

	assert.Zero(t, r.Broadcast("chat1", EventUserTyping, TypingEvent{UserID: "u1", ChatID: "chat1"}, "c1"))
	assert.Empty(t, out.received("c1"))
}

func TestRouter_BroadcastCountsOnlyAcceptedFrames(t *testing.T) {
	out := newRecorder()
	out.refuse["c3"] = true
	r := NewRouter(out, logger.Discard())
	r.Join("c2", "chat1")
	r.Join("c3", "chat1")

	assert.Equal(t, 1, r.Broadcast("chat1", EventChatRead, ChatReadEvent{ChatID: "chat1", UserID: "u1"}, ""))
}

func TestRouter_BroadcastUnencodablePayload(t *testing.T) {
	out := newRecorder()
	r := NewRouter(out, logger.Discard())
	r.Join("c2", "chat1")

	assert.Zero(t, r.Broadcast("chat1", EventUserTyping, make(chan int), ""))
	assert.Empty(t, out.received("c2"))
}

func TestRouter_SendIgnoresMembership(t *testing.T) {
	out := newRecorder()
	out.refuse["c3"] = true
	r := NewRouter(out, logger.Discard())

	assert.Equal(t, 2, r.Send([]string{"c1", "c2", "c3"}, "chat_created", map[string]string{"chatId": "chat9"}))
	assert.Equal(t, []string{"chat_created"}, out.events("c1"))
	assert.Zero(t, r.Send(nil, "chat_created", nil))
	assert.Zero(t, r.Send([]string{"c1"}, "chat_created", make(chan int)))
}
