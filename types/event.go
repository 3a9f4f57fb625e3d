package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Direction indicates where an event travels relative to the pipeline.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// EventType identifies the payload kind carried by an event.
type EventType string

const (
	EventText     EventType = "text"
	EventImage    EventType = "image"
	EventFile     EventType = "file"
	EventVideo    EventType = "video"
	EventVoice    EventType = "voice"
	EventTransfer EventType = "transfer"
	EventCustom   EventType = "custom"
)

// conversationalTypes are the payload kinds the routing middleware pipes
// between threads. Everything else falls through to normal bot processing.
var conversationalTypes = map[EventType]bool{
	EventText:  true,
	EventImage: true,
	EventFile:  true,
	EventVideo: true,
	EventVoice: true,
}

// Event is a single message-pipeline event. The engine consumes incoming
// events and produces outgoing events through the same pipeline.
type Event struct {
	BotID     string    `json:"bot_id"`
	ThreadID  string    `json:"thread_id"`
	Channel   string    `json:"channel,omitempty"`
	Direction Direction `json:"direction"`
	Type      EventType `json:"type"`
	Payload   EventPayload
	// Author is the display name attached to forwarded operator messages so
	// the user sees who is speaking. Empty for bot and user events.
	Author    string    `json:"author,omitempty"`
	Preview   string    `json:"preview,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// IsConversational reports whether the event carries a payload kind the
// routing middleware handles.
func (e *Event) IsConversational() bool {
	return conversationalTypes[e.Type]
}

// EventPayload is the tagged union over message payload kinds. Concrete
// payloads are dispatched with a type switch, never by string-keyed lookup.
type EventPayload interface {
	Kind() EventType
}

// Attachment is the canonical media shape piped between threads. Every
// channel-specific form is normalized to URL+Title before forwarding so the
// receiving side can render uniformly.
type Attachment struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	MimeType string `json:"mime,omitempty"`
	Storage  string `json:"storage,omitempty"`
}

// TextPayload carries plain text, optionally with markdown enabled.
type TextPayload struct {
	Text     string `json:"text"`
	Markdown bool   `json:"markdown,omitempty"`
}

func (TextPayload) Kind() EventType { return EventText }

// ImagePayload carries an image attachment.
type ImagePayload struct {
	Attachment
}

func (ImagePayload) Kind() EventType { return EventImage }

// FilePayload carries an arbitrary file attachment.
type FilePayload struct {
	Attachment
}

func (FilePayload) Kind() EventType { return EventFile }

// VideoPayload carries a video attachment.
type VideoPayload struct {
	Attachment
}

func (VideoPayload) Kind() EventType { return EventVideo }

// VoicePayload carries a voice recording attachment.
type VoicePayload struct {
	Attachment
}

func (VoicePayload) Kind() EventType { return EventVoice }

// TransferPayload is the synthetic "return to bot" payload. ExitReason tells
// the bot logic why the handoff ended so it can branch.
type TransferPayload struct {
	ExitReason string `json:"exit_reason"`
}

func (TransferPayload) Kind() EventType { return EventTransfer }

// CustomPayload preserves unknown payloads untouched.
type CustomPayload struct {
	Raw json.RawMessage `json:"raw"`
}

func (CustomPayload) Kind() EventType { return EventCustom }

// eventJSON is the wire form of Event with the payload flattened to raw JSON.
type eventJSON struct {
	BotID     string          `json:"bot_id"`
	ThreadID  string          `json:"thread_id"`
	Channel   string          `json:"channel,omitempty"`
	Direction Direction       `json:"direction"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Author    string          `json:"author,omitempty"`
	Preview   string          `json:"preview,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Type, err)
		}
		raw = data
	}
	return json.Marshal(eventJSON{
		BotID:     e.BotID,
		ThreadID:  e.ThreadID,
		Channel:   e.Channel,
		Direction: e.Direction,
		Type:      e.Type,
		Payload:   raw,
		Author:    e.Author,
		Preview:   e.Preview,
		CreatedAt: e.CreatedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire eventJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := DecodePayload(wire.Type, wire.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		BotID:     wire.BotID,
		ThreadID:  wire.ThreadID,
		Channel:   wire.Channel,
		Direction: wire.Direction,
		Type:      wire.Type,
		Payload:   payload,
		Author:    wire.Author,
		Preview:   wire.Preview,
		CreatedAt: wire.CreatedAt,
	}
	return nil
}

// DecodePayload decodes raw payload JSON into its concrete union member.
// Unknown types decode to CustomPayload so nothing is dropped.
func DecodePayload(t EventType, raw json.RawMessage) (EventPayload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch t {
	case EventText:
		var p TextPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventImage:
		var p ImagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventFile:
		var p FilePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventVideo:
		var p VideoPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventVoice:
		var p VoicePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventTransfer:
		var p TransferPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return CustomPayload{Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}
