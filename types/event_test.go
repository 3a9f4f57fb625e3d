package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_RoundTrip(t *testing.T) {
	ev := Event{
		BotID:     "bot",
		ThreadID:  "t1",
		Channel:   "web",
		Direction: DirectionIncoming,
		Type:      EventText,
		Payload:   TextPayload{Text: "hello", Markdown: true},
		Author:    "Alice",
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, ev.ThreadID, got.ThreadID)
	assert.Equal(t, ev.Author, got.Author)
	p, ok := got.Payload.(TextPayload)
	require.True(t, ok, "payload must decode to its concrete type")
	assert.Equal(t, "hello", p.Text)
	assert.True(t, p.Markdown)
}

func TestEvent_AttachmentPayloads(t *testing.T) {
	data := []byte(`{
		"bot_id": "bot",
		"thread_id": "t1",
		"direction": "incoming",
		"type": "image",
		"payload": {"url": "https://x/a.png", "title": "pic", "mime": "image/png"}
	}`)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))

	p, ok := ev.Payload.(ImagePayload)
	require.True(t, ok)
	assert.Equal(t, "https://x/a.png", p.URL)
	assert.Equal(t, "image/png", p.MimeType)
}

func TestEvent_TransferPayload(t *testing.T) {
	ev := Event{
		BotID: "bot", ThreadID: "t1",
		Direction: DirectionIncoming,
		Type:      EventTransfer,
		Payload:   TransferPayload{ExitReason: "timed_out"},
	}
	assert.False(t, ev.IsConversational(), "transfer events bypass the router")

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "timed_out", got.Payload.(TransferPayload).ExitReason)
}

func TestDecodePayload_UnknownTypeIsPreserved(t *testing.T) {
	raw := json.RawMessage(`{"location": {"lat": 1.5, "lng": 2.5}}`)

	p, err := DecodePayload("location", raw)
	require.NoError(t, err)

	custom, ok := p.(CustomPayload)
	require.True(t, ok, "unknown payload kinds must not be dropped")
	assert.JSONEq(t, string(raw), string(custom.Raw))
}

func TestDecodePayload_EmptyPayload(t *testing.T) {
	p, err := DecodePayload(EventText, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestDecodePayload_MalformedJSON(t *testing.T) {
	_, err := DecodePayload(EventText, json.RawMessage(`{`))
	assert.Error(t, err)
}

func TestIsConversational(t *testing.T) {
	for _, typ := range []EventType{EventText, EventImage, EventFile, EventVideo, EventVoice} {
		ev := Event{Type: typ}
		assert.True(t, ev.IsConversational(), string(typ))
	}
	for _, typ := range []EventType{EventTransfer, EventCustom} {
		ev := Event{Type: typ}
		assert.False(t, ev.IsConversational(), string(typ))
	}
}
