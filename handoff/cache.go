package handoff

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Broadcaster propagates opaque cache mutations to every peer process in
// the cluster. Implementations must deliver best-effort: a lost message
// only costs a store round-trip on the next lookup, never a misroute.
type Broadcaster interface {
	Publish(ctx context.Context, data []byte) error
	Subscribe(handler func(data []byte))
	Close() error
}

// CacheMetrics receives hit/miss observations from the thread cache.
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// cacheMutation is the wire form of a replicated cache change.
type cacheMutation struct {
	Op        string `json:"op"` // put | del
	BotID     string `json:"bot_id"`
	ThreadID  string `json:"thread_id"`
	HandoffID string `json:"handoff_id,omitempty"`
	Origin    string `json:"origin"`
}

const (
	mutationPut    = "put"
	mutationDelete = "del"

	cacheKind = "handoff_thread"
)

// ThreadCache maps (botID, threadID) to the handoff currently owning that
// thread. It is a bounded LRU with an absolute per-entry TTL, replicated
// across processes through the Broadcaster. It is never a correctness
// source: every entry is re-derivable from the Store via Warmup.
type ThreadCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*cacheNode
	head     *cacheNode // most recently used
	tail     *cacheNode // least recently used

	origin  string // ignore our own broadcasts
	bus     Broadcaster
	metrics CacheMetrics
	logger  *zap.Logger
}

type cacheNode struct {
	key       string
	handoffID string
	expiresAt time.Time
	prev      *cacheNode
	next      *cacheNode
}

// NewThreadCache builds the cache and, when a broadcaster is supplied,
// subscribes to peer mutations.
func NewThreadCache(capacity int, ttl time.Duration, bus Broadcaster, logger *zap.Logger) *ThreadCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ThreadCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*cacheNode),
		origin:   uuid.New().String(),
		bus:      bus,
		logger:   logger.With(zap.String("component", "thread_cache")),
	}
	if bus != nil {
		bus.Subscribe(c.applyRemote)
	}
	return c
}

// WithMetrics attaches a hit/miss recorder.
func (c *ThreadCache) WithMetrics(m CacheMetrics) *ThreadCache {
	c.metrics = m
	return c
}

func cacheKey(botID, threadID string) string {
	return botID + "/" + threadID
}

// Get returns the handoff id owning the thread, if cached and fresh.
func (c *ThreadCache) Get(botID, threadID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[cacheKey(botID, threadID)]
	if !ok {
		c.recordMiss()
		return "", false
	}
	if time.Now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.items, node.key)
		c.recordMiss()
		return "", false
	}
	c.moveToHead(node)
	c.recordHit()
	return node.handoffID, true
}

// Put stores the mapping locally and broadcasts it to peers. Broadcast
// failures are logged, never returned: routing falls back to the store.
func (c *ThreadCache) Put(ctx context.Context, botID, threadID, handoffID string) {
	c.setLocal(botID, threadID, handoffID)
	c.broadcast(ctx, cacheMutation{
		Op:        mutationPut,
		BotID:     botID,
		ThreadID:  threadID,
		HandoffID: handoffID,
		Origin:    c.origin,
	})
}

// Delete evicts the mapping locally and broadcasts the eviction.
func (c *ThreadCache) Delete(ctx context.Context, botID, threadID string) {
	c.deleteLocal(botID, threadID)
	c.broadcast(ctx, cacheMutation{
		Op:       mutationDelete,
		BotID:    botID,
		ThreadID: threadID,
		Origin:   c.origin,
	})
}

// Warmup rebuilds the local replica from the store: two entries per
// assigned handoff (user thread and operator thread), one per pending.
// It does not broadcast; every process warms itself on boot.
func (c *ThreadCache) Warmup(ctx context.Context, store Store) (int, error) {
	active, err := store.ListActiveHandoffs(ctx, "")
	if err != nil {
		return 0, err
	}

	count := 0
	for _, h := range active {
		c.setLocal(h.BotID, h.UserThreadID, h.ID)
		count++
		if h.AgentThreadID != nil {
			c.setLocal(h.BotID, *h.AgentThreadID, h.ID)
			count++
		}
	}

	c.logger.Info("thread cache warmed up",
		zap.Int("handoffs", len(active)),
		zap.Int("entries", count),
	)
	return count, nil
}

// Len returns the number of live entries.
func (c *ThreadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// =============================================================================
// Replication
// =============================================================================

func (c *ThreadCache) broadcast(ctx context.Context, m cacheMutation) {
	if c.bus == nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		c.logger.Error("failed to marshal cache mutation", zap.Error(err))
		return
	}
	if err := c.bus.Publish(ctx, data); err != nil {
		c.logger.Warn("cache broadcast failed",
			zap.String("op", m.Op),
			zap.String("thread_id", m.ThreadID),
			zap.Error(err),
		)
	}
}

// applyRemote replays a peer's mutation on the local replica. Re-putting an
// existing key is idempotent, so no cross-process ordering is needed.
func (c *ThreadCache) applyRemote(data []byte) {
	var m cacheMutation
	if err := json.Unmarshal(data, &m); err != nil {
		c.logger.Warn("ignoring malformed cache mutation", zap.Error(err))
		return
	}
	if m.Origin == c.origin {
		return
	}

	switch m.Op {
	case mutationPut:
		c.setLocal(m.BotID, m.ThreadID, m.HandoffID)
	case mutationDelete:
		c.deleteLocal(m.BotID, m.ThreadID)
	default:
		c.logger.Warn("ignoring unknown cache mutation op", zap.String("op", m.Op))
	}
}

// =============================================================================
// LRU internals (doubly linked list, O(1) operations)
// =============================================================================

func (c *ThreadCache) setLocal(botID, threadID, handoffID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(botID, threadID)
	if node, ok := c.items[key]; ok {
		node.handoffID = handoffID
		node.expiresAt = time.Now().Add(c.ttl)
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &cacheNode{
		key:       key,
		handoffID: handoffID,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.items[key] = node
	c.addToHead(node)
}

func (c *ThreadCache) deleteLocal(botID, threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[cacheKey(botID, threadID)]; ok {
		c.removeNode(node)
		delete(c.items, node.key)
	}
}

func (c *ThreadCache) addToHead(node *cacheNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *ThreadCache) removeNode(node *cacheNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *ThreadCache) moveToHead(node *cacheNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *ThreadCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	c.removeNode(c.tail)
}

func (c *ThreadCache) recordHit() {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(cacheKind)
	}
}

func (c *ThreadCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(cacheKind)
	}
}
