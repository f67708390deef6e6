package conversation_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/wadesk/internal/conversation"
	"github.com/memohai/wadesk/internal/message/event"
	"github.com/memohai/wadesk/internal/store"
	"github.com/memohai/wadesk/internal/store/storetest"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

const id = "971501234567@s.whatsapp.net"

func TestInboxLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	svc := conversation.NewService(nil, storetest.NewSQLite(t), rec)
	at := time.Unix(1700000000, 0)

	c, err := svc.TouchInbound(ctx, id, "Kerry", at)
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "971501234567", c.Phone())

	c, err = svc.TouchOutbound(ctx, id, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount)
	assert.True(t, c.LastMessageAt.Equal(at.Add(time.Minute)))

	c, err = svc.MarkRead(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, c.UnreadCount)
	require.Len(t, rec.events, 1)
	assert.Equal(t, event.EventTypeChatRead, rec.events[0].Type)

	_, err = svc.Hide(ctx, id)
	require.NoError(t, err)
	list, err := svc.List(ctx, conversation.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = svc.List(ctx, conversation.ListFilter{IncludeHidden: true})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	c, err = svc.TouchInbound(ctx, id, "", at.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, c.Visible, "new inbound traffic unhides")
	assert.Equal(t, "Kerry", c.DisplayName)

	c, err = svc.Archive(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, c.ArchivedAt)
	list, err = svc.List(ctx, conversation.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	c, err = svc.Unarchive(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, c.ArchivedAt)

	require.NoError(t, svc.Delete(ctx, id))
	_, err = svc.Get(ctx, id)
	require.ErrorIs(t, err, conversation.ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, id), conversation.ErrNotFound)

	c, err = svc.TouchInbound(ctx, id, "Kerry", at.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount, "deleted conversations start over")
}

func TestAssignment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := storetest.NewSQLite(t)
	svc := conversation.NewService(nil, db, nil)

	for _, agentID := range []string{"a1", "a2"} {
		_, err := db.CreateAgent(ctx, &store.Agent{ID: agentID, Username: agentID, Active: true})
		require.NoError(t, err)
	}
	_, err := svc.TouchInbound(ctx, id, "", time.Now())
	require.NoError(t, err)

	ok, err := svc.AssignIfUnassigned(ctx, id, "a1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.AssignIfUnassigned(ctx, id, "a2")
	require.NoError(t, err)
	assert.False(t, ok)

	mine, err := svc.List(ctx, conversation.ListFilter{AssignedAgentID: "a1"})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	open, err := svc.List(ctx, conversation.ListFilter{Unassigned: true})
	require.NoError(t, err)
	assert.Empty(t, open)

	c, err := svc.Assign(ctx, id, "a2")
	require.NoError(t, err)
	assert.Equal(t, "a2", c.AssignedAgentID)

	c, err = svc.Assign(ctx, id, "")
	require.NoError(t, err)
	assert.False(t, c.Assigned())
	assert.Nil(t, c.AssignedAt)

	_, err = svc.Assign(ctx, "missing@s.whatsapp.net", "a1")
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestConversationJSON(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(conversation.Conversation{ID: id, UnreadCount: 2, Visible: true})
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "971501234567", out["phone"])
	assert.Nil(t, out["assigned_agent_id"])
	assert.Equal(t, false, out["archived"])
	assert.EqualValues(t, 2, out["unread_count"])
}
