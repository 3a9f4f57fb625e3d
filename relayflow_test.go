package relayflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/relayflow/handoff"
	"github.com/BaSui01/relayflow/types"
)

// collectPipeline records every outbound event.
type collectPipeline struct {
	mu     sync.Mutex
	events []*types.Event
}

func (p *collectPipeline) Send(ctx context.Context, ev *types.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *collectPipeline) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestNew_RequiresPipeline(t *testing.T) {
	svc, err := New()
	require.Error(t, err)
	assert.Nil(t, svc)
}

func TestNew_SingleProcessDefaults(t *testing.T) {
	pipe := &collectPipeline{}
	svc, err := New(WithPipeline(pipe))
	require.NoError(t, err)
	require.NotNil(t, svc)

	ctx := context.Background()
	h, err := svc.CreateHandoff(ctx, handoff.CreateHandoffRequest{
		BotID:        "bot-1",
		UserThreadID: "thread-1",
	})
	require.NoError(t, err)
	assert.Equal(t, handoff.StatusPending, h.Status)
	// NotifyOnTransfer is on by default, so the user got a transfer notice.
	assert.Equal(t, 1, pipe.count())

	// Manual assignment works against the default in-memory store with
	// locally minted operator threads.
	require.NoError(t, svc.RegisterAgent(ctx, &handoff.Agent{
		Strategy:    "local",
		Identifier:  "op@example.com",
		DisplayName: "Operator",
	}))
	agentID := handoff.AgentID("local", "op@example.com")
	_, err = svc.SetAgentOnline(ctx, agentID, true)
	require.NoError(t, err)

	assigned, err := svc.AssignHandoff(ctx, h.ID, agentID)
	require.NoError(t, err)
	assert.Equal(t, handoff.StatusAssigned, assigned.Status)
	require.NotNil(t, assigned.AgentThreadID)
	assert.NotEmpty(t, *assigned.AgentThreadID)
}

func TestNew_CustomStore(t *testing.T) {
	pipe := &collectPipeline{}
	store := handoff.NewMemoryStore()
	svc, err := New(WithPipeline(pipe), WithStore(store))
	require.NoError(t, err)

	ctx := context.Background()
	h, err := svc.CreateHandoff(ctx, handoff.CreateHandoffRequest{
		BotID:        "bot-1",
		UserThreadID: "thread-9",
	})
	require.NoError(t, err)

	// The handoff landed in the caller-supplied store.
	got, err := store.GetHandoff(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "thread-9", got.UserThreadID)
}
