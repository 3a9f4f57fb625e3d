// Package relayflow provides a top-level convenience entry point for
// embedding the handoff engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/relayflow"
//
//	svc, err := relayflow.New(relayflow.WithPipeline(myPipeline))
//	svc, err := relayflow.New(
//		relayflow.WithPipeline(myPipeline),
//		relayflow.WithStore(myStore),
//	)
//
// Without further options the engine runs single-process: an in-memory
// store, a local thread cache with no cross-process replication, and
// default assignment settings. Production deployments should wire a
// persistent [handoff.Store] and a [handoff.Broadcaster] instead; see
// cmd/relayflow for the full assembly.
package relayflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/relayflow/config"
	"github.com/BaSui01/relayflow/handoff"
)

// Option configures the engine created by [New].
type Option func(*options)

type options struct {
	deps  handoff.ServiceDeps
	cache *handoff.ThreadCache
	bus   handoff.Broadcaster
}

// New creates a [handoff.Service] with minimal configuration.
// At minimum, a pipeline must be specified via [WithPipeline]; every
// notification and routed message leaves the engine through it.
func New(opts ...Option) (*handoff.Service, error) {
	o := &options{
		deps: handoff.ServiceDeps{
			Config:   config.DefaultAssignmentConfig(),
			Messages: config.DefaultMessages(),
		},
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.deps.Pipeline == nil {
		return nil, fmt.Errorf("relayflow: a pipeline is required, use WithPipeline")
	}
	if o.deps.Store == nil {
		o.deps.Store = handoff.NewMemoryStore()
	}
	if o.deps.Threads == nil {
		o.deps.Threads = localThreads{}
	}
	if o.cache == nil {
		cc := config.DefaultCacheConfig()
		o.cache = handoff.NewThreadCache(cc.MaxEntries, cc.TTL, o.bus, o.deps.Logger)
	}
	o.deps.Cache = o.cache

	return handoff.NewService(o.deps), nil
}

// localThreads mints operator thread ids locally, for single-process use
// where no external channel connector opens threads.
type localThreads struct{}

func (localThreads) CreateAgentThread(ctx context.Context, botID, agentID string) (string, error) {
	return uuid.New().String(), nil
}

// WithPipeline sets the message pipeline the engine routes through.
func WithPipeline(p handoff.Pipeline) Option {
	return func(o *options) { o.deps.Pipeline = p }
}

// WithStore sets a persistent store. Defaults to an in-memory store.
func WithStore(s handoff.Store) Option {
	return func(o *options) { o.deps.Store = s }
}

// WithCache sets a pre-built thread cache, replacing the local default.
func WithCache(c *handoff.ThreadCache) Option {
	return func(o *options) { o.cache = c }
}

// WithBroadcaster replicates cache mutations across processes. Ignored
// when [WithCache] supplies a cache of its own.
func WithBroadcaster(b handoff.Broadcaster) Option {
	return func(o *options) { o.bus = b }
}

// WithThreads sets the factory used to open operator-side threads.
func WithThreads(f handoff.ThreadFactory) Option {
	return func(o *options) { o.deps.Threads = f }
}

// WithDialogs sets the dialog store cleared when a thread returns to the bot.
func WithDialogs(d handoff.DialogStore) Option {
	return func(o *options) { o.deps.Dialogs = d }
}

// WithRealtime sets the delta sink for live status fan-out.
func WithRealtime(r handoff.Realtime) Option {
	return func(o *options) { o.deps.Realtime = r }
}

// WithMetrics sets the engine metrics recorder.
func WithMetrics(m handoff.EngineMetrics) Option {
	return func(o *options) { o.deps.Metrics = m }
}

// WithAssignment overrides the default assignment settings.
func WithAssignment(cfg config.AssignmentConfig) Option {
	return func(o *options) { o.deps.Config = cfg }
}

// WithMessages overrides the default user-facing notification templates.
func WithMessages(m config.MessagesConfig) Option {
	return func(o *options) { o.deps.Messages = m }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.deps.Logger = l }
}
