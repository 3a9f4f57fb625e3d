package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/relayflow/handoff"
	"github.com/BaSui01/relayflow/types"
)

// =============================================================================
// Handoff Lifecycle Handler
// =============================================================================

// HandoffHandler exposes the handoff lifecycle over the admin API.
type HandoffHandler struct {
	svc    *handoff.Service
	logger *zap.Logger
}

// AssignRequest selects the target operator for manual assignment.
type AssignRequest struct {
	AgentID string `json:"agent_id"`
}

// TagsRequest replaces the handoff's label set.
type TagsRequest struct {
	Tags []string `json:"tags"`
}

// CommentRequest appends an operator annotation.
type CommentRequest struct {
	AgentID string `json:"agent_id"`
	Content string `json:"content"`
}

// NewHandoffHandler creates the handoff handler.
func NewHandoffHandler(svc *handoff.Service, logger *zap.Logger) *HandoffHandler {
	return &HandoffHandler{svc: svc, logger: logger}
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// HandleList lists handoffs with filters
// @Summary List handoffs
// @Tags handoff
// @Produce json
// @Success 200 {object} Response{data=[]handoff.Handoff} "Handoff list"
// @Router /v1/handoffs [get]
func (h *HandoffHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := handoff.HandoffFilter{
		BotID:   q.Get("bot_id"),
		AgentID: q.Get("agent_id"),
	}
	for _, s := range splitCSV(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, handoff.Status(s))
	}
	filter.Tags = splitCSV(q.Get("tags"))
	filter.Limit = queryInt(q.Get("limit"), 50)
	filter.Offset = queryInt(q.Get("offset"), 0)
	filter.OrderBy = q.Get("order_by")
	filter.Direction = handoff.SortDirection(q.Get("direction"))

	items, err := h.svc.ListHandoffs(r.Context(), filter)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, items)
}

// HandleCreate creates a new pending handoff
// @Summary Create handoff
// @Tags handoff
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=handoff.Handoff} "Created handoff"
// @Router /v1/handoffs [post]
func (h *HandoffHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req handoff.CreateHandoffRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	created, err := h.svc.CreateHandoff(r.Context(), req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, created)
}

// HandleGet returns one handoff by id
// @Summary Get handoff
// @Tags handoff
// @Produce json
// @Success 200 {object} Response{data=handoff.Handoff} "Handoff"
// @Router /v1/handoffs/{id} [get]
func (h *HandoffHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetHandoff(r.Context(), extractHandoffID(r))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, item)
}

// HandleAssign assigns a pending handoff to an operator
// @Summary Assign handoff
// @Tags handoff
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=handoff.Handoff} "Assigned handoff"
// @Router /v1/handoffs/{id}/assign [post]
func (h *HandoffHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.AgentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent_id is required", h.logger)
		return
	}

	item, err := h.svc.AssignHandoff(r.Context(), extractHandoffID(r), req.AgentID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, item)
}

// HandleReassign moves an assigned handoff to another operator
// @Summary Reassign handoff
// @Tags handoff
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=handoff.Handoff} "Reassigned handoff"
// @Router /v1/handoffs/{id}/reassign [post]
func (h *HandoffHandler) HandleReassign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.AgentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent_id is required", h.logger)
		return
	}

	item, err := h.svc.ReassignHandoff(r.Context(), extractHandoffID(r), req.AgentID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, item)
}

// HandleResolve closes a handoff as handled
// @Summary Resolve handoff
// @Tags handoff
// @Produce json
// @Success 200 {object} Response{data=handoff.Handoff} "Resolved handoff"
// @Router /v1/handoffs/{id}/resolve [post]
func (h *HandoffHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.ResolveHandoff(r.Context(), extractHandoffID(r))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, item)
}

// HandleReject closes a handoff as declined
// @Summary Reject handoff
// @Tags handoff
// @Produce json
// @Success 200 {object} Response{data=handoff.Handoff} "Rejected handoff"
// @Router /v1/handoffs/{id}/reject [post]
func (h *HandoffHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.RejectHandoff(r.Context(), extractHandoffID(r))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, item)
}

// HandleUpdateTags replaces the handoff's tags
// @Summary Update handoff tags
// @Tags handoff
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=handoff.Handoff} "Updated handoff"
// @Router /v1/handoffs/{id}/tags [put]
func (h *HandoffHandler) HandleUpdateTags(w http.ResponseWriter, r *http.Request) {
	var req TagsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	item, err := h.svc.UpdateTags(r.Context(), extractHandoffID(r), req.Tags)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, item)
}

// HandleCreateComment appends an operator comment
// @Summary Comment on handoff
// @Tags handoff
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=handoff.Comment} "Created comment"
// @Router /v1/handoffs/{id}/comments [post]
func (h *HandoffHandler) HandleCreateComment(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	c, err := h.svc.CreateComment(r.Context(), extractHandoffID(r), req.AgentID, req.Content)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, c)
}

// HandleListAssignments returns the assignment audit trail
// @Summary List handoff assignments
// @Tags handoff
// @Produce json
// @Success 200 {object} Response{data=[]handoff.AssignmentRecord} "Assignment history"
// @Router /v1/handoffs/{id}/assignments [get]
func (h *HandoffHandler) HandleListAssignments(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.ListAssignments(r.Context(), extractHandoffID(r))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, recs)
}

// =============================================================================
// Helpers
// =============================================================================

// extractHandoffID pulls the handoff id from the request path.
// Supports both /v1/handoffs/{id} (PathValue) and prefix trimming.
func extractHandoffID(r *http.Request) string {
	// Try Go 1.22+ PathValue first
	if id := r.PathValue("id"); id != "" {
		return id
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/handoffs/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
