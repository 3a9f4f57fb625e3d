package handoff

import (
	"context"
	"time"

	"github.com/BaSui01/relayflow/types"
)

// Pipeline is the message-pipeline collaborator. The engine never initiates
// inbound events; it only produces outbound pipes and the synthetic
// "return to bot" transfer event through Send.
type Pipeline interface {
	Send(ctx context.Context, ev *types.Event) error
}

// ThreadFactory creates the private operator-facing conversation thread
// opened on assignment.
type ThreadFactory interface {
	CreateAgentThread(ctx context.Context, botID, agentID string) (string, error)
}

// DialogStore clears the end user's dialog session so the bot resumes from
// a clean slate after a forced close.
type DialogStore interface {
	ClearSession(ctx context.Context, botID, userThreadID string) error
}

// DeltaKind labels a realtime update pushed to administrative clients.
type DeltaKind string

const (
	DeltaCreated    DeltaKind = "created"
	DeltaAssigned   DeltaKind = "assigned"
	DeltaReassigned DeltaKind = "reassigned"
	DeltaResolved   DeltaKind = "resolved"
	DeltaRejected   DeltaKind = "rejected"
	DeltaMessage    DeltaKind = "message"
	DeltaPreview    DeltaKind = "preview"
)

// Delta is a handoff state change fanned out to connected admin clients
// and the optional outbound webhook.
type Delta struct {
	Kind    DeltaKind `json:"kind"`
	Handoff *Handoff  `json:"handoff"`
	Preview string    `json:"preview,omitempty"`
	At      time.Time `json:"at"`
}

// Realtime is the fan-out sink for handoff deltas. Implementations must be
// non-blocking from the caller's perspective; delivery is best-effort.
type Realtime interface {
	PublishDelta(ctx context.Context, d *Delta)
}

// MediaNormalizer rewrites channel-specific attachment payloads into the
// canonical URL/Title shape before forwarding. Failures degrade to passing
// the original attachment through.
type MediaNormalizer interface {
	Normalize(ctx context.Context, att types.Attachment) (types.Attachment, error)
}

// EngineMetrics receives counters from the routing and assignment paths.
type EngineMetrics interface {
	RecordRouting(decision string)
	RecordTransition(from, to string)
	RecordAssignment(action, outcome string)
}
