package handoff

import (
	"context"
	"time"
)

// SortDirection orders list results.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ListQuery carries the pagination knobs shared by every listing operation.
type ListQuery struct {
	Limit     int           `json:"limit,omitempty"`
	Offset    int           `json:"offset,omitempty"`
	OrderBy   string        `json:"order_by,omitempty"`
	Direction SortDirection `json:"direction,omitempty"`
}

// HandoffFilter selects handoffs for listing.
type HandoffFilter struct {
	BotID    string   `json:"bot_id,omitempty"`
	Statuses []Status `json:"statuses,omitempty"`
	AgentID  string   `json:"agent_id,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	ListQuery
}

// Store is the durable source of truth for handoffs, operators, comments,
// assignment history and the per-thread message log. The cache is always
// re-derivable from it.
//
// Store performs no lifecycle validation; callers run ValidateTransition
// before status-changing writes. TransitionHandoff is the only guarded
// write: it applies atomically only when the current status matches,
// so two racing assignment attempts cannot both succeed.
type Store interface {
	CreateHandoff(ctx context.Context, h *Handoff) error
	GetHandoff(ctx context.Context, id string) (*Handoff, error)
	SaveHandoff(ctx context.Context, h *Handoff) error
	// TransitionHandoff moves a handoff from one status to another and
	// applies extra mutations, but only if the stored status still equals
	// from. Returns a CONFLICT error otherwise.
	TransitionHandoff(ctx context.Context, id string, from, to Status, apply func(*Handoff)) (*Handoff, error)
	ListHandoffs(ctx context.Context, filter HandoffFilter) ([]*Handoff, error)
	// ListActiveHandoffs returns every non-terminal handoff, used by cache
	// warm-up. Empty botID selects all bots.
	ListActiveHandoffs(ctx context.Context, botID string) ([]*Handoff, error)
	// ListAssignedTo returns the handoffs currently assigned to an operator.
	ListAssignedTo(ctx context.Context, botID, agentID string) ([]*Handoff, error)
	// CountAssigned returns an operator's active load, the balancing input.
	CountAssigned(ctx context.Context, agentID string) (int64, error)

	AppendComment(ctx context.Context, c *Comment) error
	AppendAssignment(ctx context.Context, rec *AssignmentRecord) error
	ListAssignments(ctx context.Context, handoffID string) ([]*AssignmentRecord, error)

	UpsertAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	ListOnlineAgents(ctx context.Context, now time.Time) ([]*Agent, error)
	SetAgentOnline(ctx context.Context, id string, online bool, until *time.Time) error

	AppendMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, botID, threadID string, q ListQuery) ([]*Message, error)

	Ping(ctx context.Context) error
	Close() error
}
