package handoff

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/relayflow/config"
	"github.com/BaSui01/relayflow/types"
)

// ServiceDeps wires the engine's collaborators. Everything is constructed
// at startup and passed in explicitly; the engine holds no global state.
type ServiceDeps struct {
	Store    Store
	Cache    *ThreadCache
	Pipeline Pipeline
	Threads  ThreadFactory
	Dialogs  DialogStore
	Realtime Realtime
	Metrics  EngineMetrics
	Config   config.AssignmentConfig
	Messages config.MessagesConfig
	Logger   *zap.Logger
}

// Service orchestrates the handoff lifecycle: creation, assignment,
// resolution, and the hand-back to the bot. Lifecycle methods live here;
// operator selection and reassignment live in assignment.go on the same
// type.
type Service struct {
	store    Store
	cache    *ThreadCache
	pipeline Pipeline
	threads  ThreadFactory
	dialogs  DialogStore
	realtime Realtime
	metrics  EngineMetrics
	notifier *Notifier
	cfg      config.AssignmentConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewService constructs the orchestration service.
func NewService(d ServiceDeps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    d.Store,
		cache:    d.Cache,
		pipeline: d.Pipeline,
		threads:  d.Threads,
		dialogs:  d.Dialogs,
		realtime: d.Realtime,
		metrics:  d.Metrics,
		notifier: NewNotifier(d.Messages, d.Pipeline, logger),
		cfg:      d.Config,
		logger:   logger.With(zap.String("component", "handoff_service")),
		now:      time.Now,
	}
}

// =============================================================================
// Startup
// =============================================================================

// Warmup rebuilds the thread cache from the store so the middleware is
// fully functional after a cold start or rolling restart.
func (s *Service) Warmup(ctx context.Context) error {
	_, err := s.cache.Warmup(ctx, s.store)
	return err
}

// StartReconciler periodically re-runs warm-up to repair any replica drift
// left behind by partially failed broadcasts. Stops when ctx is cancelled.
func (s *Service) StartReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.cache.Warmup(ctx, s.store); err != nil {
					s.logger.Warn("cache reconciliation failed", zap.Error(err))
				}
			}
		}
	}()
}

// =============================================================================
// Lookup
// =============================================================================

// GetHandoff loads a handoff by id.
func (s *Service) GetHandoff(ctx context.Context, id string) (*Handoff, error) {
	return s.store.GetHandoff(ctx, id)
}

// ListHandoffs lists handoffs with filtering and pagination.
func (s *Service) ListHandoffs(ctx context.Context, filter HandoffFilter) ([]*Handoff, error) {
	return s.store.ListHandoffs(ctx, filter)
}

// ListMessages returns the message log for a thread.
func (s *Service) ListMessages(ctx context.Context, botID, threadID string, q ListQuery) ([]*Message, error) {
	return s.store.ListMessages(ctx, botID, threadID, q)
}

// ListAssignments returns the assignment audit trail for a handoff.
func (s *Service) ListAssignments(ctx context.Context, handoffID string) ([]*AssignmentRecord, error) {
	return s.store.ListAssignments(ctx, handoffID)
}

// =============================================================================
// Resolution
// =============================================================================

// ResolveHandoff closes a handoff as handled and returns control to the
// bot. The transition is validated, persisted, both cache entries are
// evicted, the user is notified, and a synthetic transfer event is emitted.
func (s *Service) ResolveHandoff(ctx context.Context, id string) (*Handoff, error) {
	return s.finishHandoff(ctx, id, StatusResolved, ExitResolved, DeltaResolved)
}

// RejectHandoff closes a handoff as declined. A pending handoff may be
// rejected without ever having been assigned.
func (s *Service) RejectHandoff(ctx context.Context, id string) (*Handoff, error) {
	return s.finishHandoff(ctx, id, StatusRejected, ExitRejected, DeltaRejected)
}

func (s *Service) finishHandoff(ctx context.Context, id string, to Status, reason ExitReason, kind DeltaKind) (*Handoff, error) {
	h, err := s.store.GetHandoff(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(h.Status, to); err != nil {
		return nil, err
	}

	from := h.Status
	oldAgentThread := h.AgentThreadID

	updated, err := s.store.TransitionHandoff(ctx, id, from, to, func(u *Handoff) {
		now := s.now()
		u.ResolvedAt = &now
		u.AgentThreadID = nil
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition(from, to)

	s.cache.Delete(ctx, updated.BotID, updated.UserThreadID)
	if oldAgentThread != nil {
		s.cache.Delete(ctx, updated.BotID, *oldAgentThread)
	}

	s.notifier.NotifyUser(ctx, updated, string(reason), nil)
	s.transferToBot(ctx, updated, reason)
	s.publishDelta(ctx, kind, updated, "")

	s.logger.Info("handoff finished",
		zap.String("handoff_id", id),
		zap.String("status", string(to)),
		zap.String("exit_reason", string(reason)),
	)
	return updated, nil
}

// CloseAndReturnToBot force-resolves a handoff outside the administrative
// state machine: timeout and no-operators paths land here. It clears the
// operator linkage, evicts both cache entries, wipes the user's dialog
// session and emits the transfer event carrying the exit reason.
func (s *Service) CloseAndReturnToBot(ctx context.Context, h *Handoff, reason ExitReason) error {
	oldAgentThread := h.AgentThreadID

	updated, err := s.store.TransitionHandoff(ctx, h.ID, h.Status, StatusResolved, func(u *Handoff) {
		now := s.now()
		u.ResolvedAt = &now
		u.AgentID = nil
		u.AgentThreadID = nil
	})
	if err != nil {
		return err
	}
	s.recordTransition(h.Status, StatusResolved)

	s.cache.Delete(ctx, updated.BotID, updated.UserThreadID)
	if oldAgentThread != nil {
		s.cache.Delete(ctx, updated.BotID, *oldAgentThread)
	}

	if s.dialogs != nil {
		if err := s.dialogs.ClearSession(ctx, updated.BotID, updated.UserThreadID); err != nil {
			s.logger.Warn("failed to clear dialog session",
				zap.String("handoff_id", updated.ID), zap.Error(err))
		}
	}

	s.transferToBot(ctx, updated, reason)
	s.publishDelta(ctx, DeltaResolved, updated, "")

	s.logger.Info("handoff closed, control returned to bot",
		zap.String("handoff_id", updated.ID),
		zap.String("exit_reason", string(reason)),
	)
	return nil
}

// transferToBot emits the synthetic incoming event on the user thread that
// hands the conversation back to bot logic.
func (s *Service) transferToBot(ctx context.Context, h *Handoff, reason ExitReason) {
	ev := &types.Event{
		BotID:     h.BotID,
		ThreadID:  h.UserThreadID,
		Channel:   h.UserChannel,
		Direction: types.DirectionIncoming,
		Type:      types.EventTransfer,
		Payload:   types.TransferPayload{ExitReason: string(reason)},
		CreatedAt: s.now(),
	}
	if err := s.pipeline.Send(ctx, ev); err != nil {
		s.logger.Error("failed to emit transfer event",
			zap.String("handoff_id", h.ID),
			zap.String("exit_reason", string(reason)),
			zap.Error(err),
		)
	}
}

// =============================================================================
// Comments and tags
// =============================================================================

// CreateComment appends an operator annotation.
func (s *Service) CreateComment(ctx context.Context, handoffID, agentID, content string) (*Comment, error) {
	if content == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "comment content is empty")
	}
	c := &Comment{
		ID:        uuid.New().String(),
		HandoffID: handoffID,
		AgentID:   agentID,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.store.AppendComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateTags replaces the handoff's label set. Tags stay editable at any
// status, including terminal ones.
func (s *Service) UpdateTags(ctx context.Context, handoffID string, tags []string) (*Handoff, error) {
	h, err := s.store.GetHandoff(ctx, handoffID)
	if err != nil {
		return nil, err
	}
	h.Tags = StringSet(tags)
	if err := s.store.SaveHandoff(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// =============================================================================
// Operators
// =============================================================================

// RegisterAgent upserts an operator profile, deriving the stable id from
// auth strategy and account identifier.
func (s *Service) RegisterAgent(ctx context.Context, a *Agent) error {
	if a.ID == "" {
		a.ID = AgentID(a.Strategy, a.Identifier)
	}
	if a.Role == "" {
		a.Role = RoleAgent
	}
	return s.store.UpsertAgent(ctx, a)
}

// SetAgentOnline toggles an operator's availability. Going online opens a
// sliding session; going offline triggers bulk reassignment of the
// operator's conversations by the caller.
func (s *Service) SetAgentOnline(ctx context.Context, agentID string, online bool) (*Agent, error) {
	var until *time.Time
	if online {
		t := s.now().Add(s.cfg.SessionTimeout)
		until = &t
	}
	if err := s.store.SetAgentOnline(ctx, agentID, online, until); err != nil {
		return nil, err
	}
	return s.store.GetAgent(ctx, agentID)
}

// RefreshAgentSession extends the sliding online expiry; invoked on every
// operator message.
func (s *Service) RefreshAgentSession(ctx context.Context, agentID string) {
	t := s.now().Add(s.cfg.SessionTimeout)
	if err := s.store.SetAgentOnline(ctx, agentID, true, &t); err != nil {
		s.logger.Warn("failed to refresh agent session",
			zap.String("agent_id", agentID), zap.Error(err))
	}
}

// ListAgents returns all registered operators.
func (s *Service) ListAgents(ctx context.Context) ([]*Agent, error) {
	return s.store.ListAgents(ctx)
}

// =============================================================================
// Internal helpers
// =============================================================================

func (s *Service) publishDelta(ctx context.Context, kind DeltaKind, h *Handoff, preview string) {
	if s.realtime == nil {
		return
	}
	s.realtime.PublishDelta(ctx, &Delta{
		Kind:    kind,
		Handoff: h,
		Preview: preview,
		At:      s.now(),
	})
}

func (s *Service) recordTransition(from, to Status) {
	if s.metrics != nil {
		s.metrics.RecordTransition(string(from), string(to))
	}
}

func (s *Service) recordAssignment(action AssignmentAction, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAssignment(string(action), outcome)
	}
}
