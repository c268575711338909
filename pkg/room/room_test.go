package room

import (
	"encoding/json"
	"testing"

	"pagesync/pkg/protocol"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesEveryClientInWorkspace(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := NewClient("a", nil, 4)
	b := NewClient("b", nil, 4)
	other := NewClient("other", nil, 4)

	assert.True(t, h.Join("ws", a))
	assert.False(t, h.Join("ws", a), "joining twice is a no-op")
	h.Join("ws", b)
	h.Join("ws-2", other)

	n := h.BroadcastNewEvent("ws", "p1", json.RawMessage(`{"op":1}`), "a")
	assert.Equal(t, 2, n)

	for _, c := range []*Client{a, b} {
		require.Len(t, c.Send, 1)
		var frame protocol.NewEvent
		require.NoError(t, json.Unmarshal(<-c.Send, &frame))
		assert.Equal(t, protocol.TypeNewEvent, frame.Type)
		assert.Equal(t, "ws", frame.WorkspaceID)
		assert.Equal(t, "p1", frame.PageID)
		assert.Equal(t, "a", frame.ConnectionID, "origin is tagged, echo is not suppressed")
		assert.JSONEq(t, `{"op":1}`, string(frame.Event))
	}
	assert.Empty(t, other.Send)
}

func TestSlowClientIsDroppedWithoutBlockingOthers(t *testing.T) {
	h := NewHub(zerolog.Nop())
	slow := NewClient("slow", nil, 1)
	fast := NewClient("fast", nil, 8)
	h.Join("ws", slow)
	h.Join("ws", fast)

	assert.Equal(t, 2, h.Broadcast("ws", []byte(`1`)))
	assert.Equal(t, 1, h.Broadcast("ws", []byte(`2`)))

	assert.Equal(t, []string{"fast"}, h.Clients("ws"))
	assert.Len(t, fast.Send, 2)

	// slow's queue is closed after its buffered message
	<-slow.Send
	_, ok := <-slow.Send
	assert.False(t, ok)
	assert.False(t, slow.Enqueue([]byte(`3`)))
}

func TestLeaveDetachesFromAllRooms(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := NewClient("c", nil, 4)
	h.Join("ws-1", c)
	h.Join("ws-2", c)
	assert.Equal(t, []string{"ws-1", "ws-2"}, c.Workspaces())

	h.Leave(c)
	h.Leave(c)

	assert.Empty(t, h.Clients("ws-1"))
	assert.Empty(t, h.Clients("ws-2"))
	assert.False(t, h.Join("ws-3", c), "closed clients cannot join")
	assert.Equal(t, 0, h.Broadcast("missing", []byte(`x`)))
}
