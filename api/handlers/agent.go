package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/relayflow/handoff"
	"github.com/BaSui01/relayflow/types"
)

// =============================================================================
// Operator Management Handler
// =============================================================================

// AgentHandler exposes operator registration and presence over the admin API.
type AgentHandler struct {
	svc    *handoff.Service
	logger *zap.Logger
}

// RegisterAgentRequest registers or updates an operator profile.
type RegisterAgentRequest struct {
	Strategy    string `json:"strategy"`
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role,omitempty"`
}

// PresenceRequest toggles an operator's availability.
type PresenceRequest struct {
	Online bool `json:"online"`
	// BotID scopes the offline reassignment sweep. Empty sweeps all bots.
	BotID string `json:"bot_id,omitempty"`
}

// PresenceResponse reports the updated operator plus the reassignment sweep
// triggered by going offline.
type PresenceResponse struct {
	Agent    *handoff.Agent          `json:"agent"`
	Reassign *handoff.ReassignReport `json:"reassign,omitempty"`
}

// NewAgentHandler creates the operator handler.
func NewAgentHandler(svc *handoff.Service, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{svc: svc, logger: logger}
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// HandleListAgents lists all registered operators
// @Summary List operators
// @Tags agent
// @Produce json
// @Success 200 {object} Response{data=[]handoff.Agent} "Operator list"
// @Router /v1/agents [get]
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.svc.ListAgents(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, agents)
}

// HandleRegister registers or updates an operator
// @Summary Register operator
// @Tags agent
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=handoff.Agent} "Registered operator"
// @Router /v1/agents [post]
func (h *AgentHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Strategy == "" || req.Identifier == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"strategy and identifier are required", h.logger)
		return
	}

	a := &handoff.Agent{
		Strategy:    req.Strategy,
		Identifier:  req.Identifier,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Role:        handoff.Role(req.Role),
	}
	if err := h.svc.RegisterAgent(r.Context(), a); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, a)
}

// HandlePresence toggles operator availability. Going offline triggers the
// bulk reassignment of the operator's active conversations.
// @Summary Set operator presence
// @Tags agent
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=PresenceResponse} "Updated presence"
// @Router /v1/agents/{id}/presence [put]
func (h *AgentHandler) HandlePresence(w http.ResponseWriter, r *http.Request) {
	var req PresenceRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	agentID := extractAgentID(r)

	agent, err := h.svc.SetAgentOnline(r.Context(), agentID, req.Online)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	resp := PresenceResponse{Agent: agent}
	if !req.Online {
		report, err := h.svc.ReassignAll(r.Context(), req.BotID, agentID)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		resp.Reassign = report
	}
	WriteSuccess(w, resp)
}

// extractAgentID pulls the operator id from the request path.
func extractAgentID(r *http.Request) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}
