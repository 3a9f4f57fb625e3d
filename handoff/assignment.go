package handoff

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/relayflow/types"
)

// reassignConcurrency bounds the parallelism of bulk reassignment so an
// operator with hundreds of conversations does not stampede the store.
const reassignConcurrency = 8

// CreateHandoffRequest carries the identity of the end-user thread being
// transferred. TimeoutSeconds, when positive, schedules a deferred close of
// the handoff if no operator has picked it up by then.
type CreateHandoffRequest struct {
	BotID          string    `json:"bot_id"`
	UserID         string    `json:"user_id"`
	UserThreadID   string    `json:"user_thread_id"`
	UserChannel    string    `json:"user_channel"`
	UserLanguage   string    `json:"user_language,omitempty"`
	Tags           StringSet `json:"tags,omitempty"`
	TimeoutSeconds int       `json:"timeout_seconds,omitempty"`
}

// ReassignReport summarizes a bulk reassignment sweep.
type ReassignReport struct {
	Reassigned int `json:"reassigned"`
	Errors     int `json:"errors"`
}

// =============================================================================
// Creation
// =============================================================================

// CreateHandoff persists a new pending handoff, caches the user thread,
// notifies the user that a transfer started, and schedules the optional
// auto-assignment attempt and timeout check.
func (s *Service) CreateHandoff(ctx context.Context, req CreateHandoffRequest) (*Handoff, error) {
	if req.BotID == "" || req.UserThreadID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "bot_id and user_thread_id are required")
	}

	h := &Handoff{
		ID:           uuid.New().String(),
		BotID:        req.BotID,
		Status:       StatusPending,
		UserID:       req.UserID,
		UserThreadID: req.UserThreadID,
		UserChannel:  req.UserChannel,
		UserLanguage: req.UserLanguage,
		Tags:         req.Tags,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateHandoff(ctx, h); err != nil {
		return nil, err
	}

	s.cache.Put(ctx, h.BotID, h.UserThreadID, h.ID)

	if s.cfg.NotifyOnTransfer {
		s.notifier.NotifyUser(ctx, h, msgTransfer, nil)
	}
	s.publishDelta(ctx, DeltaCreated, h, "")

	// The assignment attempt is deliberately deferred a short beat so the
	// pending row is visible to any concurrent reader before selection runs.
	if s.cfg.AutoAssign {
		s.scheduleAutoAssign(h.ID)
	}
	if req.TimeoutSeconds > 0 {
		s.scheduleTimeout(h.ID, time.Duration(req.TimeoutSeconds)*time.Second)
	}

	s.logger.Info("handoff created",
		zap.String("handoff_id", h.ID),
		zap.String("bot_id", h.BotID),
		zap.String("user_thread_id", h.UserThreadID),
		zap.Int("timeout_seconds", req.TimeoutSeconds),
	)
	return h, nil
}

func (s *Service) scheduleAutoAssign(handoffID string) {
	time.AfterFunc(s.cfg.AssignDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.AutoAssign(ctx, handoffID); err != nil {
			s.logger.Warn("auto-assignment failed",
				zap.String("handoff_id", handoffID), zap.Error(err))
		}
	})
}

// scheduleTimeout arms the deferred no-pickup check. The timer is never
// cancelled; its action re-reads the status and only acts when the handoff
// is still pending.
func (s *Service) scheduleTimeout(handoffID string, after time.Duration) {
	time.AfterFunc(after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.checkTimeout(ctx, handoffID)
	})
}

func (s *Service) checkTimeout(ctx context.Context, handoffID string) {
	h, err := s.store.GetHandoff(ctx, handoffID)
	if err != nil {
		s.logger.Warn("timeout check: handoff lookup failed",
			zap.String("handoff_id", handoffID), zap.Error(err))
		return
	}
	if h.Status != StatusPending {
		return
	}

	s.notifier.NotifyUser(ctx, h, string(ExitTimedOut), nil)

	// The conditional transition inside CloseAndReturnToBot is the real
	// guard: if an operator grabbed the handoff between the re-read and
	// this write, the close loses the race and is dropped.
	if err := s.CloseAndReturnToBot(ctx, h, ExitTimedOut); err != nil {
		if types.IsConflict(err) {
			s.logger.Info("timeout close lost race to assignment",
				zap.String("handoff_id", handoffID))
			return
		}
		s.logger.Error("timeout close failed",
			zap.String("handoff_id", handoffID), zap.Error(err))
	}
}

// =============================================================================
// Assignment
// =============================================================================

// AutoAssign picks the least-loaded online operator for a pending handoff.
// When nobody is available the user is told so and control returns to the
// bot with the no_agents exit reason.
func (s *Service) AutoAssign(ctx context.Context, handoffID string) error {
	h, err := s.store.GetHandoff(ctx, handoffID)
	if err != nil {
		return err
	}
	if h.Status != StatusPending {
		return nil
	}

	agent, err := s.selectAgent(ctx, "")
	if err != nil {
		return err
	}
	if agent == nil {
		s.recordAssignment(ActionAssigned, "no_agents")
		s.notifier.NotifyUser(ctx, h, string(ExitNoAgents), nil)
		return s.CloseAndReturnToBot(ctx, h, ExitNoAgents)
	}

	return s.assignTo(ctx, h, agent, ActionAssigned, nil)
}

// AssignHandoff assigns a pending handoff to a specific operator.
func (s *Service) AssignHandoff(ctx context.Context, handoffID, agentID string) (*Handoff, error) {
	h, err := s.store.GetHandoff(ctx, handoffID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(h.Status, StatusAssigned); err != nil {
		return nil, err
	}
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := s.assignTo(ctx, h, agent, ActionAssigned, nil); err != nil {
		return nil, err
	}
	return s.store.GetHandoff(ctx, handoffID)
}

// selectAgent returns the online operator with the fewest active
// conversations, excluding the given operator id. Ties break on the
// lexically smallest id so selection is deterministic. A nil result with a
// nil error means nobody is available.
func (s *Service) selectAgent(ctx context.Context, exclude string) (*Agent, error) {
	agents, err := s.store.ListOnlineAgents(ctx, s.now())
	if err != nil {
		return nil, err
	}

	candidates := agents[:0]
	for _, a := range agents {
		if a.ID != exclude {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID < candidates[j].ID
	})

	var best *Agent
	var bestLoad int64
	for _, a := range candidates {
		load, err := s.store.CountAssigned(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if best == nil || load < bestLoad {
			best = a
			bestLoad = load
		}
	}
	return best, nil
}

// assignTo performs the shared assignment sequence: open the operator
// thread, flip pending to assigned under the status guard, cache both
// threads, record the audit entry, copy recent history into the operator
// thread and notify the user.
func (s *Service) assignTo(ctx context.Context, h *Handoff, agent *Agent, action AssignmentAction, fromAgentID *string) error {
	agentThreadID, err := s.threads.CreateAgentThread(ctx, h.BotID, agent.ID)
	if err != nil {
		s.recordAssignment(action, "error")
		return err
	}

	updated, err := s.store.TransitionHandoff(ctx, h.ID, StatusPending, StatusAssigned, func(u *Handoff) {
		now := s.now()
		u.AgentID = &agent.ID
		u.AgentThreadID = &agentThreadID
		u.AssignedAt = &now
	})
	if err != nil {
		s.recordAssignment(action, "conflict")
		return err
	}
	s.recordTransition(StatusPending, StatusAssigned)
	s.recordAssignment(action, "ok")

	s.cache.Put(ctx, updated.BotID, updated.UserThreadID, updated.ID)
	s.cache.Put(ctx, updated.BotID, agentThreadID, updated.ID)

	rec := &AssignmentRecord{
		HandoffID:   updated.ID,
		FromAgentID: fromAgentID,
		ToAgentID:   agent.ID,
		Action:      action,
		CreatedAt:   s.now(),
	}
	if err := s.store.AppendAssignment(ctx, rec); err != nil {
		s.logger.Warn("failed to record assignment history",
			zap.String("handoff_id", updated.ID), zap.Error(err))
	}

	s.copyHistory(ctx, updated, agentThreadID)

	switch action {
	case ActionReassigned:
		if s.cfg.NotifyOnReassign {
			s.notifier.NotifyUser(ctx, updated, msgReassign, map[string]any{
				"AgentName": agent.DisplayName,
			})
		}
		s.publishDelta(ctx, DeltaReassigned, updated, "")
	default:
		s.notifier.NotifyUser(ctx, updated, msgAssigned, map[string]any{
			"AgentName": agent.DisplayName,
		})
		s.publishDelta(ctx, DeltaAssigned, updated, "")
	}

	s.logger.Info("handoff assigned",
		zap.String("handoff_id", updated.ID),
		zap.String("agent_id", agent.ID),
		zap.String("agent_thread_id", agentThreadID),
		zap.String("action", string(action)),
	)
	return nil
}

// copyHistory pipes the most recent user-thread messages into the freshly
// opened operator thread, oldest first, so the operator has context before
// the first live message arrives. Failures are logged and skipped; history
// is a courtesy, not a dependency.
func (s *Service) copyHistory(ctx context.Context, h *Handoff, agentThreadID string) {
	if s.cfg.HistoryLimit <= 0 {
		return
	}

	msgs, err := s.store.ListMessages(ctx, h.BotID, h.UserThreadID, ListQuery{
		Limit:     s.cfg.HistoryLimit,
		OrderBy:   "created_at",
		Direction: SortDesc,
	})
	if err != nil {
		s.logger.Warn("failed to load history for copy",
			zap.String("handoff_id", h.ID), zap.Error(err))
		return
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		ev := &types.Event{
			BotID:     h.BotID,
			ThreadID:  agentThreadID,
			Channel:   h.UserChannel,
			Direction: types.DirectionOutgoing,
			Type:      types.EventType(m.Type),
			Payload:   types.TextPayload{Text: m.Payload},
			Author:    m.AuthorID,
			CreatedAt: m.CreatedAt,
		}
		if err := s.pipeline.Send(ctx, ev); err != nil {
			s.logger.Warn("failed to copy history message",
				zap.String("handoff_id", h.ID), zap.Error(err))
		}
	}
}

// =============================================================================
// Reassignment
// =============================================================================

// ReassignAll moves every conversation assigned to an operator elsewhere,
// typically when the operator goes offline. Items are processed with
// bounded parallelism; one failure never aborts the sweep.
func (s *Service) ReassignAll(ctx context.Context, botID, agentID string) (*ReassignReport, error) {
	assigned, err := s.store.ListAssignedTo(ctx, botID, agentID)
	if err != nil {
		return nil, err
	}

	var reassigned, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reassignConcurrency)

	for _, h := range assigned {
		h := h
		g.Go(func() error {
			if err := s.AttemptReassignment(gctx, h, agentID); err != nil {
				failed.Add(1)
				s.logger.Warn("reassignment failed",
					zap.String("handoff_id", h.ID),
					zap.String("from_agent_id", agentID),
					zap.Error(err),
				)
				return nil
			}
			reassigned.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report := &ReassignReport{
		Reassigned: int(reassigned.Load()),
		Errors:     int(failed.Load()),
	}
	s.logger.Info("bulk reassignment finished",
		zap.String("agent_id", agentID),
		zap.Int("reassigned", report.Reassigned),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

// AttemptReassignment moves one assigned handoff away from its current
// operator. When no other operator is online, the user is notified and the
// handoff is closed back to the bot rather than left orphaned.
func (s *Service) AttemptReassignment(ctx context.Context, h *Handoff, excludeAgentID string) error {
	target, err := s.selectAgent(ctx, excludeAgentID)
	if err != nil {
		return err
	}
	if target == nil {
		s.recordAssignment(ActionReassigned, "no_agents")
		s.notifier.NotifyUser(ctx, h, string(ExitNoAgents), nil)
		return s.CloseAndReturnToBot(ctx, h, ExitNoAgents)
	}
	return s.reassignTo(ctx, h, target)
}

// ReassignHandoff moves an assigned handoff to a specific operator, the
// manual supervisor path.
func (s *Service) ReassignHandoff(ctx context.Context, handoffID, targetAgentID string) (*Handoff, error) {
	h, err := s.store.GetHandoff(ctx, handoffID)
	if err != nil {
		return nil, err
	}
	if h.Status != StatusAssigned {
		return nil, types.NewTransitionError(string(h.Status), string(StatusAssigned))
	}
	target, err := s.store.GetAgent(ctx, targetAgentID)
	if err != nil {
		return nil, err
	}
	if err := s.reassignTo(ctx, h, target); err != nil {
		return nil, err
	}
	return s.store.GetHandoff(ctx, handoffID)
}

// reassignTo detaches the current operator and re-runs assignment toward
// the target. The handoff briefly revisits pending between the two guarded
// writes; the user-thread cache entry stays valid throughout, only the old
// operator thread is evicted.
func (s *Service) reassignTo(ctx context.Context, h *Handoff, target *Agent) error {
	fromAgentID := h.AgentID
	oldAgentThread := h.AgentThreadID

	detached, err := s.store.TransitionHandoff(ctx, h.ID, StatusAssigned, StatusPending, func(u *Handoff) {
		u.AgentID = nil
		u.AgentThreadID = nil
		u.AssignedAt = nil
	})
	if err != nil {
		s.recordAssignment(ActionReassigned, "conflict")
		return err
	}
	s.recordTransition(StatusAssigned, StatusPending)

	if oldAgentThread != nil {
		s.cache.Delete(ctx, detached.BotID, *oldAgentThread)
	}

	return s.assignTo(ctx, detached, target, ActionReassigned, fromAgentID)
}
