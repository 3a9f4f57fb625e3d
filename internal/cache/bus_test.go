package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 RedisBus 测试
// =============================================================================

func setupTestBus(t *testing.T) (*miniredis.Miniredis, *RedisBus) {
	// 创建 miniredis 实例
	mr, err := miniredis.Run()
	require.NoError(t, err)

	config := DefaultConfig()
	config.Addr = mr.Addr()

	bus, err := NewRedisBus(config, zap.NewNop())
	require.NoError(t, err)

	return mr, bus
}

func TestNewRedisBus(t *testing.T) {
	mr, bus := setupTestBus(t)
	defer mr.Close()
	defer bus.Close()

	assert.NotNil(t, bus)
	assert.NoError(t, bus.Ping(context.Background()))
}

func TestNewRedisBus_ConnectionFailure(t *testing.T) {
	config := DefaultConfig()
	config.Addr = "127.0.0.1:1" // 无法连接的地址

	bus, err := NewRedisBus(config, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, bus)
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	mr, bus := setupTestBus(t)
	defer mr.Close()
	defer bus.Close()

	var mu sync.Mutex
	var received [][]byte
	bus.Subscribe(func(data []byte) {
		mu.Lock()
		received = append(received, data)
		mu.Unlock()
	})

	// 发布消息后应回环投递到本进程的订阅者
	err := bus.Publish(context.Background(), []byte(`{"op":"put"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, `{"op":"put"}`, string(received[0]))
	mu.Unlock()
}

func TestRedisBus_MultipleHandlers(t *testing.T) {
	mr, bus := setupTestBus(t)
	defer mr.Close()
	defer bus.Close()

	var mu sync.Mutex
	counts := make(map[string]int)
	bus.Subscribe(func(data []byte) {
		mu.Lock()
		counts["a"]++
		mu.Unlock()
	})
	bus.Subscribe(func(data []byte) {
		mu.Lock()
		counts["b"]++
		mu.Unlock()
	})

	require.NoError(t, bus.Publish(context.Background(), []byte("x")))

	// 每个处理器都应收到同一条消息
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["a"] == 1 && counts["b"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisBus_HandlerPanicIsContained(t *testing.T) {
	mr, bus := setupTestBus(t)
	defer mr.Close()
	defer bus.Close()

	var mu sync.Mutex
	delivered := false
	bus.Subscribe(func(data []byte) {
		panic("boom")
	})
	bus.Subscribe(func(data []byte) {
		mu.Lock()
		delivered = true
		mu.Unlock()
	})

	require.NoError(t, bus.Publish(context.Background(), []byte("x")))

	// panic 不应影响其它处理器
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisBus_CloseIdempotent(t *testing.T) {
	mr, bus := setupTestBus(t)
	defer mr.Close()

	require.NoError(t, bus.Close())
	// 重复关闭应为空操作
	assert.NoError(t, bus.Close())
}
