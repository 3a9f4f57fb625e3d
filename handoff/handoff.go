package handoff

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Status represents the lifecycle state of a handoff.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAssigned Status = "assigned"
	StatusResolved Status = "resolved"
	StatusRejected Status = "rejected"
)

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusRejected
}

// ExitReason tags the synthetic "return to bot" event so bot logic can
// branch on why the handoff ended.
type ExitReason string

const (
	ExitResolved ExitReason = "resolved"
	ExitRejected ExitReason = "rejected"
	ExitTimedOut ExitReason = "timed_out"
	ExitNoAgents ExitReason = "no_agents"
	ExitError    ExitReason = "error"
)

// Role is the permission level of an operator.
type Role string

const (
	RoleAgent      Role = "agent"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// AssignmentAction distinguishes initial assignment from reassignment in the
// audit trail.
type AssignmentAction string

const (
	ActionAssigned   AssignmentAction = "assigned"
	ActionReassigned AssignmentAction = "reassigned"
)

// Handoff is the unit of work being routed: one live conversation transfer
// between the bot and a human operator.
//
// Invariant: AgentThreadID is non-nil exactly when Status == assigned.
// Invariant: resolved and rejected are terminal.
type Handoff struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	BotID  string `gorm:"size:64;index:idx_handoffs_bot_status" json:"bot_id"`
	Status Status `gorm:"size:16;index:idx_handoffs_bot_status" json:"status"`

	// End-user thread identity. Set at creation, immutable.
	UserID       string `gorm:"size:64" json:"user_id"`
	UserThreadID string `gorm:"size:64;index" json:"user_thread_id"`
	UserChannel  string `gorm:"size:32" json:"user_channel"`
	UserLanguage string `gorm:"size:8" json:"user_language,omitempty"`

	// Operator linkage. Nil until assignment, cleared when control returns
	// to the bot.
	AgentID       *string `gorm:"size:64;index" json:"agent_id,omitempty"`
	AgentThreadID *string `gorm:"size:64;index" json:"agent_thread_id,omitempty"`

	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	Tags     StringSet `gorm:"type:text;serializer:json" json:"tags,omitempty"`
	Comments []Comment `gorm:"foreignKey:HandoffID" json:"comments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StringSet is a small mutable label set persisted as JSON.
type StringSet []string

// Has reports membership.
func (s StringSet) Has(v string) bool {
	for _, t := range s {
		if t == v {
			return true
		}
	}
	return false
}

// Add returns the set with v included.
func (s StringSet) Add(v string) StringSet {
	if s.Has(v) {
		return s
	}
	return append(s, v)
}

// Remove returns the set without v.
func (s StringSet) Remove(v string) StringSet {
	out := s[:0]
	for _, t := range s {
		if t != v {
			out = append(out, t)
		}
	}
	return out
}

// Comment is an append-only operator annotation on a handoff.
type Comment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	HandoffID string    `gorm:"size:36;index" json:"handoff_id"`
	AgentID   string    `gorm:"size:64" json:"agent_id"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AssignmentRecord is the immutable audit entry appended on every assignment
// change. FromAgentID nil denotes an initial or system-triggered assignment.
type AssignmentRecord struct {
	ID          uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	HandoffID   string           `gorm:"size:36;index" json:"handoff_id"`
	FromAgentID *string          `gorm:"size:64" json:"from_agent_id,omitempty"`
	ToAgentID   string           `gorm:"size:64" json:"to_agent_id"`
	Action      AssignmentAction `gorm:"size:16" json:"action"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Agent is a human operator. The ID is derived from the authentication
// strategy plus account identifier so the same person maps to a stable key
// across sessions.
type Agent struct {
	ID         string `gorm:"primaryKey;size:64" json:"id"`
	Strategy   string `gorm:"size:32" json:"strategy"`
	Identifier string `gorm:"size:128" json:"identifier"`

	DisplayName string `gorm:"size:128" json:"display_name"`
	AvatarURL   string `gorm:"size:512" json:"avatar_url,omitempty"`
	Role        Role   `gorm:"size:16" json:"role"`

	// Online is a sliding session: it only counts while OnlineUntil is in
	// the future. Refreshed on every operator message.
	Online      bool       `json:"online"`
	OnlineUntil *time.Time `json:"online_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOnline reports whether the operator session is live at the given time.
func (a *Agent) IsOnline(now time.Time) bool {
	return a.Online && a.OnlineUntil != nil && a.OnlineUntil.After(now)
}

// CanSupervise reports whether the role may act on other operators'
// conversations.
func (a *Agent) CanSupervise() bool {
	return a.Role == RoleSupervisor || a.Role == RoleAdmin
}

// AgentID derives the stable operator key from auth strategy and account
// identifier.
func AgentID(strategy, identifier string) string {
	sum := sha256.Sum256([]byte(strategy + ":" + identifier))
	return hex.EncodeToString(sum[:16])
}

// Message is one entry in the per-thread message log. The middleware appends
// every piped conversational event here; the log powers the bounded history
// copy on assignment and the read-only thread listing.
type Message struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	BotID     string    `gorm:"size:64;index:idx_messages_thread" json:"bot_id"`
	ThreadID  string    `gorm:"size:64;index:idx_messages_thread" json:"thread_id"`
	AuthorID  string    `gorm:"size:64" json:"author_id,omitempty"`
	Direction string    `gorm:"size:16" json:"direction"`
	Type      string    `gorm:"size:16" json:"type"`
	Payload   string    `gorm:"type:text" json:"payload,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
