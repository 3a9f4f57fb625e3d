package realtime

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/relayflow/config"
)

// WebhookMetrics receives delivery observations.
type WebhookMetrics interface {
	RecordWebhook(status string, duration time.Duration)
}

// WebhookSink POSTs delta payloads to a configured URL. Deliveries are
// rate-limited and asynchronous; a sink outage never slows the engine.
type WebhookSink struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	metrics WebhookMetrics
	logger  *zap.Logger
}

// NewWebhookSink builds the sink, or returns nil when no URL is configured.
func NewWebhookSink(cfg config.WebhookConfig, metrics WebhookMetrics, logger *zap.Logger) *WebhookSink {
	if cfg.URL == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookSink{
		url:     cfg.URL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		metrics: metrics,
		logger:  logger.With(zap.String("component", "webhook_sink")),
	}
}

// Deliver posts the payload asynchronously. Deliveries exceeding the rate
// limit are dropped, not queued: deltas age badly.
func (s *WebhookSink) Deliver(ctx context.Context, payload []byte) {
	if !s.limiter.Allow() {
		s.logger.Debug("webhook delivery dropped by rate limit")
		return
	}

	body := append([]byte(nil), payload...)
	go func() {
		start := time.Now()
		status, err := s.post(body)
		if s.metrics != nil {
			s.metrics.RecordWebhook(status, time.Since(start))
		}
		if err != nil {
			s.logger.Warn("webhook delivery failed",
				zap.String("url", s.url), zap.Error(err))
		}
	}()
}

func (s *WebhookSink) post(body []byte) (string, error) {
	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "error", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "error", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return strconv.Itoa(resp.StatusCode), fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return strconv.Itoa(resp.StatusCode), nil
}
