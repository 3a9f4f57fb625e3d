package realtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/relayflow/config"
)

type recordingWebhookMetrics struct {
	mu       sync.Mutex
	statuses []string
}

func (m *recordingWebhookMetrics) RecordWebhook(status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func (m *recordingWebhookMetrics) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statuses...)
}

func TestNewWebhookSink_DisabledWithoutURL(t *testing.T) {
	sink := NewWebhookSink(config.WebhookConfig{}, nil, zap.NewNop())
	assert.Nil(t, sink)
}

func TestWebhookSink_Delivers(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer srv.Close()

	metrics := &recordingWebhookMetrics{}
	sink := NewWebhookSink(config.WebhookConfig{
		URL: srv.URL, Timeout: time.Second, RateLimit: 100,
	}, metrics, zap.NewNop())
	require.NotNil(t, sink)

	sink.Deliver(context.Background(), []byte(`{"kind":"created"}`))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.JSONEq(t, `{"kind":"created"}`, bodies[0])
	mu.Unlock()

	require.Eventually(t, func() bool {
		return len(metrics.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "200", metrics.all()[0])
}

func TestWebhookSink_RateLimitDrops(t *testing.T) {
	var calls int64
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer srv.Close()

	// Burst of one, effectively zero refill during the test window.
	sink := NewWebhookSink(config.WebhookConfig{
		URL: srv.URL, Timeout: time.Second, RateLimit: 0.001,
	}, nil, zap.NewNop())
	require.NotNil(t, sink)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		sink.Deliver(ctx, []byte(`{}`))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Give the dropped deliveries a moment to prove they never fire.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.EqualValues(t, 1, calls, "deliveries past the limit are dropped, not queued")
	mu.Unlock()
}

func TestWebhookSink_RecordsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	metrics := &recordingWebhookMetrics{}
	sink := NewWebhookSink(config.WebhookConfig{
		URL: srv.URL, Timeout: time.Second, RateLimit: 100,
	}, metrics, zap.NewNop())
	require.NotNil(t, sink)

	sink.Deliver(context.Background(), []byte(`{}`))

	require.Eventually(t, func() bool {
		return len(metrics.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "502", metrics.all()[0])
}
