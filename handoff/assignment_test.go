package handoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/relayflow/config"
	"github.com/BaSui01/relayflow/types"
)

// =============================================================================
// Creation
// =============================================================================

func TestCreateHandoff(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	h, err := env.svc.CreateHandoff(ctx, CreateHandoffRequest{
		BotID:        "bot",
		UserID:       "user-1",
		UserThreadID: "ut1",
		UserChannel:  "web",
		Tags:         StringSet{"billing"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, h.Status)
	assert.NotEmpty(t, h.ID)
	requireInvariant(t, h)

	// Cached by user thread immediately.
	id, ok := env.cache.Get("bot", "ut1")
	require.True(t, ok)
	assert.Equal(t, h.ID, id)

	// The user hears about the transfer.
	texts := env.pipeline.ofType(types.EventText)
	require.Len(t, texts, 1)
	assert.Equal(t, "ut1", texts[0].ThreadID)
	assert.Equal(t, types.DirectionOutgoing, texts[0].Direction)

	assert.Contains(t, env.realtime.kinds(), DeltaCreated)
}

func TestCreateHandoff_MissingFields(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.CreateHandoff(context.Background(), CreateHandoffRequest{BotID: "bot"})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestCreateHandoff_NotifyDisabled(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.AssignmentConfig) {
		cfg.NotifyOnTransfer = false
	})

	_, err := env.svc.CreateHandoff(context.Background(), CreateHandoffRequest{
		BotID: "bot", UserThreadID: "ut1",
	})
	require.NoError(t, err)
	assert.Empty(t, env.pipeline.ofType(types.EventText))
}

// =============================================================================
// Timeout
// =============================================================================

func TestCheckTimeout_ClosesPending(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusPending, UserThreadID: "ut1", UserChannel: "web",
	}))
	env.cache.Put(ctx, "bot", "ut1", "h1")

	env.svc.checkTimeout(ctx, "h1")

	h, err := env.store.GetHandoff(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, h.Status)
	requireInvariant(t, h)

	// The user got an explanation before the hand-back.
	require.NotEmpty(t, env.pipeline.ofType(types.EventText))
	transfers := env.pipeline.ofType(types.EventTransfer)
	require.Len(t, transfers, 1)
	payload := transfers[0].Payload.(types.TransferPayload)
	assert.Equal(t, string(ExitTimedOut), payload.ExitReason)

	_, ok := env.cache.Get("bot", "ut1")
	assert.False(t, ok)
}

func TestCheckTimeout_AssignedIsLeftAlone(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	h := env.seedAssigned(t, "h1", "agent-a", "at1")

	// The timer fires after an operator already picked the handoff up: the
	// deferred check must re-read the status and do nothing.
	env.svc.checkTimeout(ctx, h.ID)

	after, err := env.store.GetHandoff(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, after.Status)
	assert.Empty(t, env.pipeline.ofType(types.EventTransfer))
}

func TestTransitionConflict_GuardsTimeoutRace(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusPending, UserThreadID: "ut1",
	}))

	// Assignment wins between the timeout's status re-read and its write:
	// the conditional transition must fail with a conflict, not force-close.
	agentThread := "at1"
	agentID := "agent-a"
	_, err := env.store.TransitionHandoff(ctx, "h1", StatusPending, StatusAssigned, func(u *Handoff) {
		u.AgentID = &agentID
		u.AgentThreadID = &agentThread
	})
	require.NoError(t, err)

	_, err = env.store.TransitionHandoff(ctx, "h1", StatusPending, StatusResolved, nil)
	require.Error(t, err)
	assert.True(t, types.IsConflict(err))
}

// =============================================================================
// Assignment
// =============================================================================

func TestAutoAssign_PicksLeastLoaded(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.seedAgent(t, "agent-a", true)
	env.seedAgent(t, "agent-b", true)
	// agent-a already carries two conversations.
	env.seedAssigned(t, "busy-1", "agent-a", "bt1")
	env.seedAssigned(t, "busy-2", "agent-a", "bt2")

	require.NoError(t, env.store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusPending,
		UserThreadID: "ut1", UserChannel: "web",
	}))
	env.cache.Put(ctx, "bot", "ut1", "h1")

	require.NoError(t, env.svc.AutoAssign(ctx, "h1"))

	h, err := env.store.GetHandoff(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, h.Status)
	require.NotNil(t, h.AgentID)
	assert.Equal(t, "agent-b", *h.AgentID)
	requireInvariant(t, h)
	assert.NotNil(t, h.AssignedAt)

	// Both threads now route to the handoff.
	id, ok := env.cache.Get("bot", "ut1")
	require.True(t, ok)
	assert.Equal(t, "h1", id)
	id, ok = env.cache.Get("bot", *h.AgentThreadID)
	require.True(t, ok)
	assert.Equal(t, "h1", id)

	// Audit trail records the initial assignment.
	recs, err := env.store.ListAssignments(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ActionAssigned, recs[0].Action)
	assert.Nil(t, recs[0].FromAgentID)
	assert.Equal(t, "agent-b", recs[0].ToAgentID)

	// The user learns who they are talking to.
	texts := env.pipeline.ofType(types.EventText)
	require.NotEmpty(t, texts)
	last := texts[len(texts)-1]
	assert.Contains(t, last.Payload.(types.TextPayload).Text, "Operator agent-b")
}

func TestAutoAssign_SkipsNonPending(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	h := env.seedAssigned(t, "h1", "agent-a", "at1")

	require.NoError(t, env.svc.AutoAssign(ctx, h.ID))

	after, err := env.store.GetHandoff(ctx, h.ID)
	require.NoError(t, err)
	require.NotNil(t, after.AgentID)
	assert.Equal(t, "agent-a", *after.AgentID)
}

func TestAutoAssign_NoAgentsClosesToBot(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// An offline operator does not count.
	a := env.seedAgent(t, "agent-a", true)
	a.Online = false
	require.NoError(t, env.store.UpsertAgent(ctx, a))

	require.NoError(t, env.store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusPending,
		UserThreadID: "ut1", UserChannel: "web",
	}))
	env.cache.Put(ctx, "bot", "ut1", "h1")

	require.NoError(t, env.svc.AutoAssign(ctx, "h1"))

	h, err := env.store.GetHandoff(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, h.Status)
	requireInvariant(t, h)

	// Silence is a defect: the user is told nobody is available.
	require.NotEmpty(t, env.pipeline.ofType(types.EventText))
	transfers := env.pipeline.ofType(types.EventTransfer)
	require.Len(t, transfers, 1)
	assert.Equal(t, string(ExitNoAgents),
		transfers[0].Payload.(types.TransferPayload).ExitReason)
}

func TestAssignHandoff_Manual(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedAgent(t, "agent-a", true)
	require.NoError(t, env.store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusPending,
		UserThreadID: "ut1", UserChannel: "web",
	}))

	h, err := env.svc.AssignHandoff(ctx, "h1", "agent-a")
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, h.Status)
	require.NotNil(t, h.AgentID)
	assert.Equal(t, "agent-a", *h.AgentID)
}

func TestAssignHandoff_TerminalRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedAgent(t, "agent-a", true)
	require.NoError(t, env.store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusResolved, UserThreadID: "ut1",
	}))

	_, err := env.svc.AssignHandoff(ctx, "h1", "agent-a")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestAssign_CopiesBoundedHistory(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.AssignmentConfig) {
		cfg.HistoryLimit = 2
	})
	ctx := context.Background()
	env.seedAgent(t, "agent-a", true)

	base := time.Now().Add(-time.Hour)
	for i, text := range []string{"first", "second", "third"} {
		require.NoError(t, env.store.AppendMessage(ctx, &Message{
			ID: text, BotID: "bot", ThreadID: "ut1",
			Direction: string(types.DirectionIncoming), Type: string(types.EventText),
			Payload: text, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	require.NoError(t, env.store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusPending,
		UserThreadID: "ut1", UserChannel: "web",
	}))
	_, err := env.svc.AssignHandoff(ctx, "h1", "agent-a")
	require.NoError(t, err)

	h, err := env.store.GetHandoff(ctx, "h1")
	require.NoError(t, err)

	// Only the two most recent messages are copied, oldest first.
	var copied []string
	for _, ev := range env.pipeline.all() {
		if ev.ThreadID == *h.AgentThreadID && ev.Type == types.EventText {
			copied = append(copied, ev.Payload.(types.TextPayload).Text)
		}
	}
	assert.Equal(t, []string{"second", "third"}, copied)
}

// =============================================================================
// Reassignment
// =============================================================================

func TestReassignAll(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.seedAgent(t, "agent-x", true)
	env.seedAgent(t, "agent-y", true)
	h1 := env.seedAssigned(t, "h1", "agent-x", "xt1")
	h2 := env.seedAssigned(t, "h2", "agent-x", "xt2")
	h3 := env.seedAssigned(t, "h3", "agent-x", "xt3")

	report, err := env.svc.ReassignAll(ctx, "bot", "agent-x")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Reassigned+report.Errors)
	assert.Equal(t, 3, report.Reassigned)

	// Nothing references agent-x anymore.
	for _, id := range []string{h1.ID, h2.ID, h3.ID} {
		h, err := env.store.GetHandoff(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusAssigned, h.Status)
		require.NotNil(t, h.AgentID)
		assert.Equal(t, "agent-y", *h.AgentID)
		requireInvariant(t, h)

		// User thread keeps routing to the same handoff; the old operator
		// thread no longer does.
		cached, ok := env.cache.Get("bot", h.UserThreadID)
		require.True(t, ok)
		assert.Equal(t, id, cached)
	}
	for _, old := range []string{"xt1", "xt2", "xt3"} {
		_, ok := env.cache.Get("bot", old)
		assert.False(t, ok, "old agent thread %s should be evicted", old)
	}

	left, err := env.store.ListAssignedTo(ctx, "bot", "agent-x")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestReassignAll_NoTargetClosesToBot(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.seedAgent(t, "agent-x", true)
	h := env.seedAssigned(t, "h1", "agent-x", "xt1")

	report, err := env.svc.ReassignAll(ctx, "bot", "agent-x")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reassigned)

	after, err := env.store.GetHandoff(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, after.Status)
	requireInvariant(t, after)

	transfers := env.pipeline.ofType(types.EventTransfer)
	require.Len(t, transfers, 1)
	assert.Equal(t, string(ExitNoAgents),
		transfers[0].Payload.(types.TransferPayload).ExitReason)
}

func TestReassignHandoff_Manual(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.seedAgent(t, "agent-a", true)
	env.seedAgent(t, "agent-b", true)
	h := env.seedAssigned(t, "h1", "agent-a", "at1")

	moved, err := env.svc.ReassignHandoff(ctx, h.ID, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, moved.Status)
	require.NotNil(t, moved.AgentID)
	assert.Equal(t, "agent-b", *moved.AgentID)
	require.NotNil(t, moved.AgentThreadID)
	assert.NotEqual(t, "at1", *moved.AgentThreadID, "reassignment opens a fresh operator thread")

	recs, err := env.store.ListAssignments(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ActionReassigned, recs[0].Action)
	require.NotNil(t, recs[0].FromAgentID)
	assert.Equal(t, "agent-a", *recs[0].FromAgentID)
	assert.Equal(t, "agent-b", recs[0].ToAgentID)
}

func TestReassignHandoff_PendingRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedAgent(t, "agent-b", true)
	require.NoError(t, env.store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusPending, UserThreadID: "ut1",
	}))

	_, err := env.svc.ReassignHandoff(ctx, "h1", "agent-b")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestSelectAgent_DeterministicTieBreak(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.seedAgent(t, "agent-b", true)
	env.seedAgent(t, "agent-a", true)

	// Equal load: the lexically smallest id wins, every time.
	for i := 0; i < 3; i++ {
		agent, err := env.svc.selectAgent(ctx, "")
		require.NoError(t, err)
		require.NotNil(t, agent)
		assert.Equal(t, "agent-a", agent.ID)
	}

	// Excluding the winner falls through to the next candidate.
	agent, err := env.svc.selectAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, "agent-b", agent.ID)
}
