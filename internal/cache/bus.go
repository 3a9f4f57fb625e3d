// Package cache provides internal cache broadcast infrastructure.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 广播总线
// =============================================================================
// 线程缓存的跨进程复制通道：任意进程上的 put/delete 通过 Pub/Sub
// 传播到集群内所有对等进程。投递是尽力而为的——丢失一条消息只意味着
// 下次路由查询多走一次存储层，绝不会导致错误路由。
// =============================================================================

// Config Redis 总线配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 广播频道名
	Channel string `yaml:"channel" json:"channel"`
}

// DefaultConfig 返回默认总线配置
func DefaultConfig() Config {
	return Config{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		PoolSize: 10,
		Channel:  "relayflow:cache",
	}
}

// RedisBus 基于 Redis Pub/Sub 的广播总线
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	mu       sync.Mutex
	handlers []func(data []byte)
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	closed   bool
}

// NewRedisBus 创建广播总线并启动订阅循环
func NewRedisBus(config Config, logger *zap.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	// 验证连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	b := &RedisBus{
		client:  client,
		channel: config.Channel,
		logger:  logger.With(zap.String("component", "redis_bus")),
	}
	b.start()

	b.logger.Info("redis broadcast bus connected",
		zap.String("addr", config.Addr),
		zap.String("channel", config.Channel),
	)
	return b, nil
}

// Publish 向频道发布一条消息
func (b *RedisBus) Publish(ctx context.Context, data []byte) error {
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe 注册消息处理器（可多次调用）
func (b *RedisBus) Subscribe(handler func(data []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// start 启动订阅接收循环
func (b *RedisBus) start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.pubsub = b.client.Subscribe(ctx, b.channel)
	// 等待订阅确认，避免在订阅生效前发布的消息丢失
	_, _ = b.pubsub.Receive(ctx)

	go func() {
		ch := b.pubsub.Channel()
		for msg := range ch {
			b.dispatch([]byte(msg.Payload))
		}
	}()
}

// dispatch 分发消息到所有处理器
func (b *RedisBus) dispatch(data []byte) {
	b.mu.Lock()
	handlers := make([]func([]byte), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("cache mutation handler panicked",
						zap.Any("panic", r))
				}
			}()
			h(data)
		}()
	}
}

// Ping 健康检查
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close 关闭总线
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	if b.cancel != nil {
		b.cancel()
	}
	if b.pubsub != nil {
		_ = b.pubsub.Close()
	}
	return b.client.Close()
}
