package assignment_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/wadesk/internal/agents"
	"github.com/memohai/wadesk/internal/assignment"
	"github.com/memohai/wadesk/internal/conversation"
	"github.com/memohai/wadesk/internal/settings"
	"github.com/memohai/wadesk/internal/store"
	"github.com/memohai/wadesk/internal/store/sqlite"
	"github.com/memohai/wadesk/internal/store/storetest"
)

type fixture struct {
	db            *sqlite.DB
	engine        *assignment.Engine
	conversations *conversation.Service
	settings      *settings.Service
	agentIDs      []string
}

func newFixture(t *testing.T, agentCount int) *fixture {
	t.Helper()
	ctx := context.Background()
	db := storetest.NewSQLite(t)
	f := &fixture{
		db:            db,
		conversations: conversation.NewService(nil, db, nil),
		settings:      settings.NewService(nil, db, true),
	}
	for i := 0; i < agentCount; i++ {
		id := fmt.Sprintf("agent-%d", i)
		_, err := db.CreateAgent(ctx, &store.Agent{ID: id, Username: id, Active: true})
		require.NoError(t, err)
		f.agentIDs = append(f.agentIDs, id)
	}
	f.engine = assignment.NewEngine(nil, f.settings, agents.NewService(nil, db), f.conversations, assignment.NewCursor(db), nil)
	return f
}

func (f *fixture) newConversation(t *testing.T, id string) {
	t.Helper()
	_, err := f.conversations.TouchInbound(context.Background(), id, "", time.Now())
	require.NoError(t, err)
}

func TestRoundRobinOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 3)

	var got []string
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("%d@s.whatsapp.net", 9715000000+i)
		f.newConversation(t, id)
		agentID, assigned, err := f.engine.Assign(ctx, id)
		require.NoError(t, err)
		require.True(t, assigned)
		got = append(got, agentID)
	}
	want := []string{f.agentIDs[0], f.agentIDs[1], f.agentIDs[2], f.agentIDs[0], f.agentIDs[1], f.agentIDs[2]}
	assert.Equal(t, want, got)
}

func TestConcurrentAssignmentIsFair(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 3)

	const n = 30
	for i := 0; i < n; i++ {
		f.newConversation(t, fmt.Sprintf("c%d@s.whatsapp.net", i))
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, assigned, err := f.engine.Assign(ctx, fmt.Sprintf("c%d@s.whatsapp.net", i))
			assert.NoError(t, err)
			assert.True(t, assigned)
		}(i)
	}
	wg.Wait()

	counts := map[string]int{}
	for _, agentID := range f.agentIDs {
		mine, err := f.conversations.List(ctx, conversation.ListFilter{AssignedAgentID: agentID})
		require.NoError(t, err)
		counts[agentID] = len(mine)
	}
	for _, agentID := range f.agentIDs {
		assert.Equal(t, n/3, counts[agentID], "agent %s", agentID)
	}
}

func TestAssignNoops(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 2)
		f.newConversation(t, "a@s.whatsapp.net")
		off := false
		_, err := f.settings.Upsert(ctx, settings.UpsertRequest{AutoAssign: &off})
		require.NoError(t, err)

		agentID, assigned, err := f.engine.Assign(ctx, "a@s.whatsapp.net")
		require.NoError(t, err)
		assert.False(t, assigned)
		assert.Empty(t, agentID)
	})

	t.Run("no agents", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 0)
		f.newConversation(t, "b@s.whatsapp.net")
		_, assigned, err := f.engine.Assign(ctx, "b@s.whatsapp.net")
		require.NoError(t, err)
		assert.False(t, assigned)
	})

	t.Run("already assigned", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 2)
		f.newConversation(t, "c@s.whatsapp.net")
		_, err := f.conversations.Assign(ctx, "c@s.whatsapp.net", f.agentIDs[1])
		require.NoError(t, err)

		agentID, assigned, err := f.engine.Assign(ctx, "c@s.whatsapp.net")
		require.NoError(t, err)
		assert.False(t, assigned)
		assert.Equal(t, f.agentIDs[1], agentID)

		idx, err := f.db.AdvanceCursor(ctx, assignment.CursorKey, 2)
		require.NoError(t, err)
		assert.Equal(t, 0, idx, "a no-op must not advance the rotation")
	})
}

type fixedCursor int

func (c fixedCursor) AdvanceCursor(context.Context, string, int) (int, error) {
	return int(c), nil
}

func TestCursorWrapsStaleIndex(t *testing.T) {
	t.Parallel()
	idx, err := assignment.NewCursor(fixedCursor(4)).Next(context.Background(), "k", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = assignment.NewCursor(fixedCursor(0)).Next(context.Background(), "k", 0)
	require.Error(t, err)
}
