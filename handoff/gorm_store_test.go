package handoff

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/relayflow/types"
)

func setupTestStore(t *testing.T) *GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	store, err := NewGormStore(db, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestGormStore_CreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	h := &Handoff{
		ID: "h1", BotID: "bot", Status: StatusPending,
		UserID: "u1", UserThreadID: "ut1", UserChannel: "web",
		Tags: StringSet{"billing"},
	}
	require.NoError(t, store.CreateHandoff(ctx, h))

	got, err := store.GetHandoff(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "ut1", got.UserThreadID)
	assert.True(t, got.Tags.Has("billing"))
}

func TestGormStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetHandoff(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestGormStore_TransitionHandoff(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusPending, UserThreadID: "ut1",
	}))

	agentID := "agent-a"
	agentThread := "at1"
	updated, err := store.TransitionHandoff(ctx, "h1", StatusPending, StatusAssigned, func(u *Handoff) {
		now := time.Now()
		u.AgentID = &agentID
		u.AgentThreadID = &agentThread
		u.AssignedAt = &now
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, updated.Status)
	require.NotNil(t, updated.AgentID)
	assert.Equal(t, "agent-a", *updated.AgentID)

	got, err := store.GetHandoff(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, got.Status)
	require.NotNil(t, got.AgentThreadID)
	assert.Equal(t, "at1", *got.AgentThreadID)
}

func TestGormStore_TransitionConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusAssigned, UserThreadID: "ut1",
	}))

	// The stored status no longer matches the expected one.
	_, err := store.TransitionHandoff(ctx, "h1", StatusPending, StatusResolved, nil)
	require.Error(t, err)
	assert.True(t, types.IsConflict(err))

	// Unknown id is reported as not-found, not a conflict.
	_, err = store.TransitionHandoff(ctx, "missing", StatusPending, StatusResolved, nil)
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestGormStore_ListHandoffs_Filtering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agentID := "agent-a"
	seed := []*Handoff{
		{ID: "h1", BotID: "bot1", Status: StatusPending, UserThreadID: "t1", Tags: StringSet{"vip"}},
		{ID: "h2", BotID: "bot1", Status: StatusAssigned, UserThreadID: "t2", AgentID: &agentID},
		{ID: "h3", BotID: "bot2", Status: StatusResolved, UserThreadID: "t3"},
	}
	for _, h := range seed {
		require.NoError(t, store.CreateHandoff(ctx, h))
	}

	out, err := store.ListHandoffs(ctx, HandoffFilter{BotID: "bot1"})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = store.ListHandoffs(ctx, HandoffFilter{Statuses: []Status{StatusPending, StatusAssigned}})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = store.ListHandoffs(ctx, HandoffFilter{AgentID: "agent-a"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "h2", out[0].ID)

	out, err = store.ListHandoffs(ctx, HandoffFilter{Tags: []string{"vip"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "h1", out[0].ID)
}

func TestGormStore_ListHandoffs_OrderByWhitelist(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusPending, UserThreadID: "t1",
	}))

	// A hostile order_by falls back to created_at instead of reaching SQL.
	out, err := store.ListHandoffs(ctx, HandoffFilter{
		ListQuery: ListQuery{OrderBy: "1; DROP TABLE handoffs--"},
	})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestGormStore_ActiveAndAssigned(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agentID := "agent-a"
	at := "at1"
	require.NoError(t, store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusAssigned, UserThreadID: "t1",
		AgentID: &agentID, AgentThreadID: &at,
	}))
	require.NoError(t, store.CreateHandoff(ctx, &Handoff{
		ID: "h2", BotID: "bot", Status: StatusPending, UserThreadID: "t2",
	}))
	require.NoError(t, store.CreateHandoff(ctx, &Handoff{
		ID: "h3", BotID: "bot", Status: StatusResolved, UserThreadID: "t3",
	}))

	active, err := store.ListActiveHandoffs(ctx, "bot")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	assigned, err := store.ListAssignedTo(ctx, "bot", "agent-a")
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, "h1", assigned[0].ID)

	count, err := store.CountAssigned(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGormStore_CommentsAndAssignments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusAssigned, UserThreadID: "t1",
	}))

	require.NoError(t, store.AppendComment(ctx, &Comment{
		ID: "c1", HandoffID: "h1", AgentID: "agent-a", Content: "escalated", CreatedAt: time.Now(),
	}))

	h, err := store.GetHandoff(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, h.Comments, 1)
	assert.Equal(t, "escalated", h.Comments[0].Content)

	from := "agent-a"
	require.NoError(t, store.AppendAssignment(ctx, &AssignmentRecord{
		HandoffID: "h1", ToAgentID: "agent-a", Action: ActionAssigned, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.AppendAssignment(ctx, &AssignmentRecord{
		HandoffID: "h1", FromAgentID: &from, ToAgentID: "agent-b", Action: ActionReassigned, CreatedAt: time.Now().Add(time.Second),
	}))

	recs, err := store.ListAssignments(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ActionAssigned, recs[0].Action)
	assert.Equal(t, ActionReassigned, recs[1].Action)
}

func TestGormStore_Agents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	until := time.Now().Add(time.Hour)
	require.NoError(t, store.UpsertAgent(ctx, &Agent{
		ID: "a1", Strategy: "local", Identifier: "one",
		DisplayName: "One", Role: RoleAgent, Online: true, OnlineUntil: &until,
	}))
	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.UpsertAgent(ctx, &Agent{
		ID: "a2", Strategy: "local", Identifier: "two",
		DisplayName: "Two", Role: RoleAgent, Online: true, OnlineUntil: &past,
	}))

	online, err := store.ListOnlineAgents(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, online, 1, "expired session counts as offline")
	assert.Equal(t, "a1", online[0].ID)

	require.NoError(t, store.SetAgentOnline(ctx, "a1", false, nil))
	online, err = store.ListOnlineAgents(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, online)

	err = store.SetAgentOnline(ctx, "missing", true, &until)
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestGormStore_Messages(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, text := range []string{"one", "two", "three"} {
		require.NoError(t, store.AppendMessage(ctx, &Message{
			ID: text, BotID: "bot", ThreadID: "t1",
			Direction: "incoming", Type: "text", Payload: text,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	msgs, err := store.ListMessages(ctx, "bot", "t1", ListQuery{
		Limit: 2, Direction: SortDesc, OrderBy: "created_at",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Payload)
	assert.Equal(t, "two", msgs[1].Payload)

	other, err := store.ListMessages(ctx, "bot", "other", ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, other)
}
