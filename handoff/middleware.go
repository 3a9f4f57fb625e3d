package handoff

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/relayflow/types"
)

// Routing decisions recorded to metrics.
const (
	routePassThrough   = "pass_through"
	routeUserToAgent   = "user_to_agent"
	routeAgentToUser   = "agent_to_user"
	routePendingHold   = "pending_hold"
	routeStaleEviction = "stale_eviction"
)

// NextFunc resumes the ordinary bot pipeline for events the engine does not
// own.
type NextFunc func(ctx context.Context) error

// Middleware is the routing entry point invoked for every inbound
// conversational event. On a cache hit it pipes the message to the opposite
// thread of the active handoff; on a miss it hands the event back to normal
// bot processing untouched.
type Middleware struct {
	svc        *Service
	normalizer MediaNormalizer
	logger     *zap.Logger
}

// NewMiddleware builds the routing middleware over the lifecycle service.
// The normalizer is optional; without it attachments pass through verbatim.
func NewMiddleware(svc *Service, normalizer MediaNormalizer) *Middleware {
	return &Middleware{
		svc:        svc,
		normalizer: normalizer,
		logger:     svc.logger.With(zap.String("component", "routing_middleware")),
	}
}

// Handle routes one inbound event. The engine is authoritative once a
// message belongs to an active handoff: such events are consumed here and
// next is not called. Everything else falls through to next unchanged.
func (m *Middleware) Handle(ctx context.Context, ev *types.Event, next NextFunc) error {
	if ev.Direction != types.DirectionIncoming || !ev.IsConversational() {
		return next(ctx)
	}

	handoffID, ok := m.svc.cache.Get(ev.BotID, ev.ThreadID)
	if !ok {
		m.recordRouting(routePassThrough)
		return next(ctx)
	}

	h, err := m.svc.store.GetHandoff(ctx, handoffID)
	if err != nil {
		// Cache/store divergence. Never block on it: drop the stale entry
		// and let the event flow through the ordinary pipeline.
		if types.IsNotFound(err) {
			m.svc.cache.Delete(ctx, ev.BotID, ev.ThreadID)
			m.recordRouting(routeStaleEviction)
			return next(ctx)
		}
		m.logger.Error("handoff lookup failed, passing event through",
			zap.String("handoff_id", handoffID), zap.Error(err))
		m.recordRouting(routePassThrough)
		return next(ctx)
	}
	if h.Status.IsTerminal() {
		m.svc.cache.Delete(ctx, ev.BotID, ev.ThreadID)
		m.recordRouting(routeStaleEviction)
		return next(ctx)
	}

	switch {
	case ev.ThreadID == h.UserThreadID:
		m.handleFromUser(ctx, h, ev)
	case h.AgentThreadID != nil && ev.ThreadID == *h.AgentThreadID:
		m.handleFromAgent(ctx, h, ev)
	default:
		// Entry points at a handoff that no longer references this thread.
		m.svc.cache.Delete(ctx, ev.BotID, ev.ThreadID)
		m.recordRouting(routeStaleEviction)
		return next(ctx)
	}

	// Consumed: the handoff owns this thread, nothing further runs.
	return nil
}

// handleFromUser pipes a user message into the operator thread when one is
// attached. While the handoff is still pending the message is held: only a
// preview delta goes out so observers see it without an operator surface
// receiving it.
func (m *Middleware) handleFromUser(ctx context.Context, h *Handoff, ev *types.Event) {
	ev.Payload = m.normalizePayload(ctx, ev)
	preview := previewOf(ev)

	m.appendMessage(ctx, h, ev, h.UserID)

	if h.Status != StatusAssigned || h.AgentThreadID == nil {
		m.recordRouting(routePendingHold)
		m.svc.publishDelta(ctx, DeltaPreview, h, preview)
		return
	}

	forward := &types.Event{
		BotID:     h.BotID,
		ThreadID:  *h.AgentThreadID,
		Channel:   h.UserChannel,
		Direction: types.DirectionOutgoing,
		Type:      ev.Type,
		Payload:   ev.Payload,
		CreatedAt: m.svc.now(),
	}
	if err := m.svc.pipeline.Send(ctx, forward); err != nil {
		m.logger.Error("failed to pipe user message to operator",
			zap.String("handoff_id", h.ID), zap.Error(err))
	}

	m.recordRouting(routeUserToAgent)
	m.svc.publishDelta(ctx, DeltaMessage, h, preview)
}

// handleFromAgent pipes an operator message into the user thread, tagged
// with the operator's display name, and slides the operator's online
// session forward.
func (m *Middleware) handleFromAgent(ctx context.Context, h *Handoff, ev *types.Event) {
	agentID := ""
	author := ""
	if h.AgentID != nil {
		agentID = *h.AgentID
		if agent, err := m.svc.store.GetAgent(ctx, agentID); err == nil {
			author = agent.DisplayName
		}
	}

	m.appendMessage(ctx, h, ev, agentID)

	forward := &types.Event{
		BotID:     h.BotID,
		ThreadID:  h.UserThreadID,
		Channel:   h.UserChannel,
		Direction: types.DirectionOutgoing,
		Type:      ev.Type,
		Payload:   ev.Payload,
		Author:    author,
		CreatedAt: m.svc.now(),
	}
	if err := m.svc.pipeline.Send(ctx, forward); err != nil {
		m.logger.Error("failed to pipe operator message to user",
			zap.String("handoff_id", h.ID), zap.Error(err))
	}

	if agentID != "" {
		m.svc.RefreshAgentSession(ctx, agentID)
	}

	m.recordRouting(routeAgentToUser)
	m.svc.publishDelta(ctx, DeltaMessage, h, previewOf(ev))
}

// normalizePayload rewrites attachment payloads into the canonical URL/Title
// shape. Any failure degrades to the original payload; a message is never
// dropped over media handling.
func (m *Middleware) normalizePayload(ctx context.Context, ev *types.Event) types.EventPayload {
	if m.normalizer == nil {
		return ev.Payload
	}

	normalize := func(att types.Attachment) types.Attachment {
		out, err := m.normalizer.Normalize(ctx, att)
		if err != nil {
			m.logger.Warn("attachment normalization failed, passing original through",
				zap.String("url", att.URL), zap.Error(err))
			return att
		}
		return out
	}

	switch p := ev.Payload.(type) {
	case types.ImagePayload:
		p.Attachment = normalize(p.Attachment)
		return p
	case types.FilePayload:
		p.Attachment = normalize(p.Attachment)
		return p
	case types.VideoPayload:
		p.Attachment = normalize(p.Attachment)
		return p
	case types.VoicePayload:
		p.Attachment = normalize(p.Attachment)
		return p
	default:
		return ev.Payload
	}
}

// appendMessage records the piped event in the per-thread message log.
// Logging failures are non-fatal; the log powers history copy and listing,
// not routing.
func (m *Middleware) appendMessage(ctx context.Context, h *Handoff, ev *types.Event, authorID string) {
	msg := &Message{
		ID:        uuid.New().String(),
		BotID:     ev.BotID,
		ThreadID:  ev.ThreadID,
		AuthorID:  authorID,
		Direction: string(ev.Direction),
		Type:      string(ev.Type),
		Payload:   previewOf(ev),
		CreatedAt: m.svc.now(),
	}
	if err := m.svc.store.AppendMessage(ctx, msg); err != nil {
		m.logger.Warn("failed to append message log entry",
			zap.String("handoff_id", h.ID), zap.Error(err))
	}
}

// previewOf derives the short human-readable form of an event shown in
// admin listings and realtime deltas.
func previewOf(ev *types.Event) string {
	switch p := ev.Payload.(type) {
	case types.TextPayload:
		return p.Text
	case types.ImagePayload:
		return attachmentPreview(p.Attachment, "[image]")
	case types.FilePayload:
		return attachmentPreview(p.Attachment, "[file]")
	case types.VideoPayload:
		return attachmentPreview(p.Attachment, "[video]")
	case types.VoicePayload:
		return attachmentPreview(p.Attachment, "[voice]")
	default:
		return ev.Preview
	}
}

func attachmentPreview(att types.Attachment, fallback string) string {
	if att.Title != "" {
		return att.Title
	}
	if att.URL != "" {
		return att.URL
	}
	return fallback
}

func (m *Middleware) recordRouting(decision string) {
	if m.svc.metrics != nil {
		m.svc.metrics.RecordRouting(decision)
	}
}
