package handoff

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/relayflow/config"
	"github.com/BaSui01/relayflow/types"
)

// =============================================================================
// Test fixtures
// =============================================================================

type fakePipeline struct {
	mu     sync.Mutex
	events []*types.Event
}

func (p *fakePipeline) Send(ctx context.Context, ev *types.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePipeline) all() []*types.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*types.Event(nil), p.events...)
}

func (p *fakePipeline) ofType(t types.EventType) []*types.Event {
	var out []*types.Event
	for _, ev := range p.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeThreads struct {
	mu   sync.Mutex
	next int
}

func (f *fakeThreads) CreateAgentThread(ctx context.Context, botID, agentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return fmt.Sprintf("agent-thread-%d", f.next), nil
}

type fakeDialogs struct {
	mu      sync.Mutex
	cleared []string
}

func (f *fakeDialogs) ClearSession(ctx context.Context, botID, userThreadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, botID+"/"+userThreadID)
	return nil
}

type fakeRealtime struct {
	mu     sync.Mutex
	deltas []*Delta
}

func (f *fakeRealtime) PublishDelta(ctx context.Context, d *Delta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = append(f.deltas, d)
}

func (f *fakeRealtime) kinds() []DeltaKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]DeltaKind, 0, len(f.deltas))
	for _, d := range f.deltas {
		out = append(out, d.Kind)
	}
	return out
}

type testEnv struct {
	store    *MemoryStore
	cache    *ThreadCache
	pipeline *fakePipeline
	threads  *fakeThreads
	dialogs  *fakeDialogs
	realtime *fakeRealtime
	svc      *Service
}

func newTestEnv(t *testing.T, mutate func(*config.AssignmentConfig)) *testEnv {
	t.Helper()

	cfg := config.DefaultAssignmentConfig()
	cfg.AssignDelay = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		store:    NewMemoryStore(),
		cache:    NewThreadCache(100, time.Hour, nil, zap.NewNop()),
		pipeline: &fakePipeline{},
		threads:  &fakeThreads{},
		dialogs:  &fakeDialogs{},
		realtime: &fakeRealtime{},
	}
	env.svc = NewService(ServiceDeps{
		Store:    env.store,
		Cache:    env.cache,
		Pipeline: env.pipeline,
		Threads:  env.threads,
		Dialogs:  env.dialogs,
		Realtime: env.realtime,
		Config:   cfg,
		Messages: config.DefaultMessages(),
		Logger:   zap.NewNop(),
	})
	return env
}

func (e *testEnv) seedAgent(t *testing.T, id string, online bool) *Agent {
	t.Helper()
	until := time.Now().Add(time.Hour)
	a := &Agent{
		ID:          id,
		Strategy:    "local",
		Identifier:  id,
		DisplayName: "Operator " + id,
		Role:        RoleAgent,
		Online:      online,
		OnlineUntil: &until,
	}
	require.NoError(t, e.store.UpsertAgent(context.Background(), a))
	return a
}

func (e *testEnv) seedAssigned(t *testing.T, id, agentID, agentThread string) *Handoff {
	t.Helper()
	now := time.Now()
	h := &Handoff{
		ID: id, BotID: "bot", Status: StatusAssigned,
		UserID: "user-" + id, UserThreadID: "user-thread-" + id, UserChannel: "web",
		AgentID: &agentID, AgentThreadID: &agentThread, AssignedAt: &now,
	}
	require.NoError(t, e.store.CreateHandoff(context.Background(), h))
	e.cache.Put(context.Background(), h.BotID, h.UserThreadID, h.ID)
	e.cache.Put(context.Background(), h.BotID, agentThread, h.ID)
	return h
}

// requireInvariant asserts AgentThreadID is non-nil exactly when the status
// is assigned.
func requireInvariant(t *testing.T, h *Handoff) {
	t.Helper()
	if h.Status == StatusAssigned {
		require.NotNil(t, h.AgentThreadID, "assigned handoff must carry an agent thread")
	} else {
		require.Nil(t, h.AgentThreadID, "non-assigned handoff must not carry an agent thread")
	}
}

// =============================================================================
// Resolution
// =============================================================================

func TestResolveHandoff(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	h := env.seedAssigned(t, "h1", "agent-a", "at1")

	resolved, err := env.svc.ResolveHandoff(ctx, h.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
	requireInvariant(t, resolved)
	// The operator linkage survives for reporting; only the thread is cleared.
	require.NotNil(t, resolved.AgentID)
	assert.Equal(t, "agent-a", *resolved.AgentID)

	// Both cache entries evicted.
	_, ok := env.cache.Get("bot", h.UserThreadID)
	assert.False(t, ok)
	_, ok = env.cache.Get("bot", "at1")
	assert.False(t, ok)

	// The user is notified, then the synthetic transfer event hands the
	// conversation back to the bot.
	transfers := env.pipeline.ofType(types.EventTransfer)
	require.Len(t, transfers, 1)
	assert.Equal(t, types.DirectionIncoming, transfers[0].Direction)
	assert.Equal(t, h.UserThreadID, transfers[0].ThreadID)
	payload, ok := transfers[0].Payload.(types.TransferPayload)
	require.True(t, ok)
	assert.Equal(t, string(ExitResolved), payload.ExitReason)

	texts := env.pipeline.ofType(types.EventText)
	require.NotEmpty(t, texts)

	assert.Contains(t, env.realtime.kinds(), DeltaResolved)
}

func TestResolveHandoff_PendingIsIllegal(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusPending, UserThreadID: "ut1",
	}))

	_, err := env.svc.ResolveHandoff(ctx, "h1")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestRejectHandoff_Pending(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusPending, UserThreadID: "ut1", UserChannel: "web",
	}))
	env.cache.Put(ctx, "bot", "ut1", "h1")

	rejected, err := env.svc.RejectHandoff(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	requireInvariant(t, rejected)

	_, ok := env.cache.Get("bot", "ut1")
	assert.False(t, ok)
}

func TestRejectHandoff_TerminalIsIllegal(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusResolved, UserThreadID: "ut1",
	}))

	_, err := env.svc.RejectHandoff(ctx, "h1")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestResolveHandoff_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.ResolveHandoff(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestCloseAndReturnToBot(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	h := env.seedAssigned(t, "h1", "agent-a", "at1")

	require.NoError(t, env.svc.CloseAndReturnToBot(ctx, h, ExitNoAgents))

	updated, err := env.store.GetHandoff(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, updated.Status)
	// Forced close wipes the operator linkage entirely.
	assert.Nil(t, updated.AgentID)
	requireInvariant(t, updated)

	// Dialog session cleared so the bot resumes from a clean slate.
	assert.Contains(t, env.dialogs.cleared, "bot/"+h.UserThreadID)

	transfers := env.pipeline.ofType(types.EventTransfer)
	require.Len(t, transfers, 1)
	payload := transfers[0].Payload.(types.TransferPayload)
	assert.Equal(t, string(ExitNoAgents), payload.ExitReason)
}

// =============================================================================
// Comments, tags, operators
// =============================================================================

func TestCreateComment(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedAssigned(t, "h1", "agent-a", "at1")

	c, err := env.svc.CreateComment(ctx, "h1", "agent-a", "needs follow-up")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)

	h, err := env.store.GetHandoff(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, h.Comments, 1)
	assert.Equal(t, "needs follow-up", h.Comments[0].Content)
}

func TestCreateComment_EmptyContent(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.CreateComment(context.Background(), "h1", "agent-a", "")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestUpdateTags_EditableAtAnyStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.store.CreateHandoff(ctx, &Handoff{
		ID: "h1", BotID: "bot", Status: StatusResolved, UserThreadID: "ut1",
	}))

	updated, err := env.svc.UpdateTags(ctx, "h1", []string{"billing", "vip"})
	require.NoError(t, err)
	assert.True(t, updated.Tags.Has("billing"))
	assert.True(t, updated.Tags.Has("vip"))
}

func TestSetAgentOnline_SlidingSession(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.AssignmentConfig) {
		cfg.SessionTimeout = 10 * time.Minute
	})
	ctx := context.Background()
	env.seedAgent(t, "agent-a", false)

	a, err := env.svc.SetAgentOnline(ctx, "agent-a", true)
	require.NoError(t, err)
	require.NotNil(t, a.OnlineUntil)
	assert.True(t, a.IsOnline(time.Now()))
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *a.OnlineUntil, time.Minute)

	// A session in the past counts as offline even with the flag still set.
	assert.False(t, a.IsOnline(time.Now().Add(11*time.Minute)))

	a, err = env.svc.SetAgentOnline(ctx, "agent-a", false)
	require.NoError(t, err)
	assert.False(t, a.IsOnline(time.Now()))
}

func TestRegisterAgent_DerivesStableID(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	a := &Agent{Strategy: "oauth", Identifier: "ops@example.com", DisplayName: "Dana"}
	require.NoError(t, env.svc.RegisterAgent(ctx, a))
	assert.Equal(t, AgentID("oauth", "ops@example.com"), a.ID)
	assert.Equal(t, RoleAgent, a.Role)

	// Registering the same identity again maps to the same key.
	b := &Agent{Strategy: "oauth", Identifier: "ops@example.com", DisplayName: "Dana D."}
	require.NoError(t, env.svc.RegisterAgent(ctx, b))
	assert.Equal(t, a.ID, b.ID)

	agents, err := env.svc.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

// =============================================================================
// Warm-up
// =============================================================================

func TestServiceWarmup_RebuildsCache(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	h := env.seedAssigned(t, "h1", "agent-a", "at1")

	// Simulate a cold restart: fresh cache over the same store.
	env.cache = NewThreadCache(100, time.Hour, nil, zap.NewNop())
	env.svc.cache = env.cache

	require.NoError(t, env.svc.Warmup(ctx))

	id, ok := env.cache.Get("bot", h.UserThreadID)
	require.True(t, ok)
	assert.Equal(t, h.ID, id)
	id, ok = env.cache.Get("bot", "at1")
	require.True(t, ok)
	assert.Equal(t, h.ID, id)
}
