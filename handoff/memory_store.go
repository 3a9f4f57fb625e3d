package handoff

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/relayflow/types"
)

// MemoryStore is an in-memory implementation of Store. Suitable for tests
// and single-process development runs; data does not survive a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	handoffs    map[string]*Handoff
	comments    map[string][]*Comment
	assignments map[string][]*AssignmentRecord
	agents      map[string]*Agent
	messages    map[string][]*Message // key: botID + "/" + threadID
	nextRecID   uint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		handoffs:    make(map[string]*Handoff),
		comments:    make(map[string][]*Comment),
		assignments: make(map[string][]*AssignmentRecord),
		agents:      make(map[string]*Agent),
		messages:    make(map[string][]*Message),
	}
}

func threadKey(botID, threadID string) string {
	return botID + "/" + threadID
}

func copyHandoff(h *Handoff) *Handoff {
	cp := *h
	cp.Tags = append(StringSet(nil), h.Tags...)
	if h.AgentID != nil {
		v := *h.AgentID
		cp.AgentID = &v
	}
	if h.AgentThreadID != nil {
		v := *h.AgentThreadID
		cp.AgentThreadID = &v
	}
	return &cp
}

// =============================================================================
// Handoffs
// =============================================================================

func (s *MemoryStore) CreateHandoff(ctx context.Context, h *Handoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handoffs[h.ID]; exists {
		return fmt.Errorf("handoff already exists: %s", h.ID)
	}
	now := time.Now()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	s.handoffs[h.ID] = copyHandoff(h)
	return nil
}

func (s *MemoryStore) GetHandoff(ctx context.Context, id string) (*Handoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.handoffs[id]
	if !ok {
		return nil, types.NewError(types.ErrHandoffNotFound, "handoff not found: "+id)
	}
	out := copyHandoff(h)
	for _, c := range s.comments[id] {
		out.Comments = append(out.Comments, *c)
	}
	return out, nil
}

func (s *MemoryStore) SaveHandoff(ctx context.Context, h *Handoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handoffs[h.ID]; !ok {
		return types.NewError(types.ErrHandoffNotFound, "handoff not found: "+h.ID)
	}
	h.UpdatedAt = time.Now()
	s.handoffs[h.ID] = copyHandoff(h)
	return nil
}

func (s *MemoryStore) TransitionHandoff(ctx context.Context, id string, from, to Status, apply func(*Handoff)) (*Handoff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handoffs[id]
	if !ok {
		return nil, types.NewError(types.ErrHandoffNotFound, "handoff not found: "+id)
	}
	if h.Status != from {
		return nil, types.NewError(types.ErrConflict,
			fmt.Sprintf("handoff %s is no longer %s", id, from))
	}

	cp := copyHandoff(h)
	cp.Status = to
	if apply != nil {
		apply(cp)
		cp.Status = to
	}
	cp.UpdatedAt = time.Now()
	s.handoffs[id] = cp
	return copyHandoff(cp), nil
}

func (s *MemoryStore) ListHandoffs(ctx context.Context, filter HandoffFilter) ([]*Handoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Handoff, 0)
	for _, h := range s.handoffs {
		if !matchesHandoffFilter(h, filter) {
			continue
		}
		out = append(out, copyHandoff(h))
	}
	sortHandoffs(out, filter.ListQuery)
	return paginate(out, filter.ListQuery), nil
}

func matchesHandoffFilter(h *Handoff, filter HandoffFilter) bool {
	if filter.BotID != "" && h.BotID != filter.BotID {
		return false
	}
	if filter.AgentID != "" && (h.AgentID == nil || *h.AgentID != filter.AgentID) {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, st := range filter.Statuses {
			if h.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Tags) > 0 {
		found := false
		for _, tag := range filter.Tags {
			if h.Tags.Has(tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortHandoffs(hs []*Handoff, q ListQuery) {
	sort.Slice(hs, func(i, j int) bool {
		var less bool
		switch q.OrderBy {
		case "updated_at":
			less = hs[i].UpdatedAt.Before(hs[j].UpdatedAt)
		case "status":
			less = hs[i].Status < hs[j].Status
		case "id":
			less = hs[i].ID < hs[j].ID
		default:
			less = hs[i].CreatedAt.Before(hs[j].CreatedAt)
		}
		if q.Direction == SortDesc {
			return !less
		}
		return less
	})
}

func paginate[T any](items []T, q ListQuery) []T {
	if q.Offset > 0 {
		if q.Offset >= len(items) {
			return []T{}
		}
		items = items[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(items) {
		items = items[:q.Limit]
	}
	return items
}

func (s *MemoryStore) ListActiveHandoffs(ctx context.Context, botID string) ([]*Handoff, error) {
	return s.ListHandoffs(ctx, HandoffFilter{
		BotID:    botID,
		Statuses: []Status{StatusPending, StatusAssigned},
	})
}

func (s *MemoryStore) ListAssignedTo(ctx context.Context, botID, agentID string) ([]*Handoff, error) {
	return s.ListHandoffs(ctx, HandoffFilter{
		BotID:    botID,
		AgentID:  agentID,
		Statuses: []Status{StatusAssigned},
	})
}

func (s *MemoryStore) CountAssigned(ctx context.Context, agentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, h := range s.handoffs {
		if h.Status == StatusAssigned && h.AgentID != nil && *h.AgentID == agentID {
			count++
		}
	}
	return count, nil
}

// =============================================================================
// Comments and assignment history
// =============================================================================

func (s *MemoryStore) AppendComment(ctx context.Context, c *Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handoffs[c.HandoffID]; !ok {
		return types.NewError(types.ErrHandoffNotFound, "handoff not found: "+c.HandoffID)
	}
	cp := *c
	s.comments[c.HandoffID] = append(s.comments[c.HandoffID], &cp)
	return nil
}

func (s *MemoryStore) AppendAssignment(ctx context.Context, rec *AssignmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRecID++
	cp := *rec
	cp.ID = s.nextRecID
	s.assignments[rec.HandoffID] = append(s.assignments[rec.HandoffID], &cp)
	return nil
}

func (s *MemoryStore) ListAssignments(ctx context.Context, handoffID string) ([]*AssignmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*AssignmentRecord, 0, len(s.assignments[handoffID]))
	for _, rec := range s.assignments[handoffID] {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// =============================================================================
// Agents
// =============================================================================

func (s *MemoryStore) UpsertAgent(ctx context.Context, a *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	s.agents[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound, "agent not found: "+id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListOnlineAgents(ctx context.Context, now time.Time) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Agent, 0)
	for _, a := range s.agents {
		if a.IsOnline(now) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SetAgentOnline(ctx context.Context, id string, online bool, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return types.NewError(types.ErrAgentNotFound, "agent not found: "+id)
	}
	a.Online = online
	a.OnlineUntil = until
	a.UpdatedAt = time.Now()
	return nil
}

// =============================================================================
// Message log
// =============================================================================

func (s *MemoryStore) AppendMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	key := threadKey(m.BotID, m.ThreadID)
	s.messages[key] = append(s.messages[key], &cp)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, botID, threadID string, q ListQuery) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[threadKey(botID, threadID)]
	out := make([]*Message, 0, len(stored))
	for _, m := range stored {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		less := out[i].CreatedAt.Before(out[j].CreatedAt)
		if q.Direction == SortDesc {
			return !less
		}
		return less
	})
	return paginate(out, q), nil
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
