package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/relayflow/handoff"
	"github.com/BaSui01/relayflow/types"
)

// =============================================================================
// Thread Message Log Handler
// =============================================================================

// MessageHandler exposes the read-only per-thread message log.
type MessageHandler struct {
	svc    *handoff.Service
	logger *zap.Logger
}

// NewMessageHandler creates the message log handler.
func NewMessageHandler(svc *handoff.Service, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, logger: logger}
}

// HandleListMessages lists the messages logged for a thread
// @Summary List thread messages
// @Tags message
// @Produce json
// @Success 200 {object} Response{data=[]handoff.Message} "Message log"
// @Router /v1/messages [get]
func (h *MessageHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	botID := q.Get("bot_id")
	threadID := q.Get("thread_id")
	if botID == "" || threadID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"bot_id and thread_id are required", h.logger)
		return
	}

	msgs, err := h.svc.ListMessages(r.Context(), botID, threadID, handoff.ListQuery{
		Limit:     queryInt(q.Get("limit"), 50),
		Offset:    queryInt(q.Get("offset"), 0),
		OrderBy:   "created_at",
		Direction: handoff.SortDirection(q.Get("direction")),
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, msgs)
}
