package handoff

import (
	"bytes"
	"context"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/relayflow/config"
	"github.com/BaSui01/relayflow/types"
)

// Notification template keys. Exit reasons double as keys so every close
// path has an explanatory message: silence toward the user is a defect.
const (
	msgTransfer = "transfer"
	msgAssigned = "assigned"
	msgReassign = "reassign"
)

// Notifier renders language-keyed templated messages and sends them into
// the user's thread. Rendering failures degrade: the raw template text is
// sent rather than nothing.
type Notifier struct {
	messages config.MessagesConfig
	pipeline Pipeline
	logger   *zap.Logger
}

// NewNotifier builds a notifier over the given template table.
func NewNotifier(messages config.MessagesConfig, pipeline Pipeline, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		messages: messages,
		pipeline: pipeline,
		logger:   logger.With(zap.String("component", "notifier")),
	}
}

// NotifyUser renders the template for the handoff's user language and pipes
// it into the user thread. Errors are logged and swallowed; notification
// failure never aborts a lifecycle operation.
func (n *Notifier) NotifyUser(ctx context.Context, h *Handoff, key string, args map[string]any) {
	text, ok := n.render(h.UserLanguage, key, args)
	if !ok {
		return
	}

	ev := &types.Event{
		BotID:     h.BotID,
		ThreadID:  h.UserThreadID,
		Channel:   h.UserChannel,
		Direction: types.DirectionOutgoing,
		Type:      types.EventText,
		Payload:   types.TextPayload{Text: text},
		CreatedAt: time.Now(),
	}
	if err := n.pipeline.Send(ctx, ev); err != nil {
		n.logger.Warn("failed to send user notification",
			zap.String("handoff_id", h.ID),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func (n *Notifier) render(lang, key string, args map[string]any) (string, bool) {
	if lang == "" {
		lang = "en"
	}
	raw, ok := n.messages.Message(lang, key)
	if !ok {
		n.logger.Debug("no notification template configured", zap.String("key", key))
		return "", false
	}

	tpl, err := template.New(key).Parse(raw)
	if err != nil {
		n.logger.Warn("notification template parse failed",
			zap.String("key", key), zap.Error(err))
		return raw, true
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, args); err != nil {
		n.logger.Warn("notification template render failed",
			zap.String("key", key), zap.Error(err))
		return raw, true
	}
	return buf.String(), true
}
