// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 路由指标
	routingDecisions *prometheus.CounterVec

	// 生命周期指标
	transitions *prometheus.CounterVec
	assignments *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 实时推送指标
	deltasPublished  *prometheus.CounterVec
	webhookDuration  *prometheus.HistogramVec
	websocketClients prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayflow",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relayflow",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		routingDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayflow",
				Subsystem: "routing",
				Name:      "decisions_total",
				Help:      "Routing middleware decisions by outcome",
			},
			[]string{"decision"},
		),
		transitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayflow",
				Subsystem: "handoff",
				Name:      "transitions_total",
				Help:      "Handoff status transitions",
			},
			[]string{"from", "to"},
		),
		assignments: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayflow",
				Subsystem: "handoff",
				Name:      "assignments_total",
				Help:      "Assignment attempts by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		cacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayflow",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Cache hits by cache type",
			},
			[]string{"type"},
		),
		cacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayflow",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Cache misses by cache type",
			},
			[]string{"type"},
		),
		deltasPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayflow",
				Subsystem: "realtime",
				Name:      "deltas_total",
				Help:      "Realtime deltas published by kind",
			},
			[]string{"kind"},
		),
		webhookDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relayflow",
				Subsystem: "realtime",
				Name:      "webhook_duration_seconds",
				Help:      "Outbound webhook delivery duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		websocketClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "relayflow",
				Subsystem: "realtime",
				Name:      "websocket_clients",
				Help:      "Connected admin websocket clients",
			},
		),
		logger: logger,
	}
}

// =============================================================================
// 🔧 记录方法
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRouting 记录路由决策
func (c *Collector) RecordRouting(decision string) {
	c.routingDecisions.WithLabelValues(decision).Inc()
}

// RecordTransition 记录状态转换
func (c *Collector) RecordTransition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
}

// RecordAssignment 记录分配结果
func (c *Collector) RecordAssignment(action, outcome string) {
	c.assignments.WithLabelValues(action, outcome).Inc()
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDelta 记录实时推送
func (c *Collector) RecordDelta(kind string) {
	c.deltasPublished.WithLabelValues(kind).Inc()
}

// RecordWebhook 记录 Webhook 投递
func (c *Collector) RecordWebhook(status string, duration time.Duration) {
	c.webhookDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetWebsocketClients 设置当前 WebSocket 连接数
func (c *Collector) SetWebsocketClients(n int) {
	c.websocketClients.Set(float64(n))
}
