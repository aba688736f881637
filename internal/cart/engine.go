package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/cartsync/internal/cartline"
	"github.com/angelmondragon/cartsync/internal/events"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxInflight   int64 = 8
	defaultRemoteTimeout       = 15 * time.Second
)

// EngineParams wires the engine to its collaborators.
type EngineParams struct {
	Store   SnapshotStore
	Remote  RemoteCart
	Gate    TokenGate
	Bus     EventBus
	Metrics *metrics.CartMetrics
	Logger  *logger.Logger
	Config  config.EngineConfig
	// ID tags the HydrateRequest events this engine publishes so it can
	// ignore its own. Generated when empty.
	ID string
}

// Engine owns the in-memory cart. Local state changes synchronously; the
// matching Remote Cart Service calls run as background tasks owned by the
// engine and are rolled back or resynced when they fail.
type Engine struct {
	store   SnapshotStore
	remote  RemoteCart
	gate    TokenGate
	bus     EventBus
	metrics *metrics.CartMetrics
	logg    *logger.Logger
	id      string
	timeout time.Duration

	// mu guards lines, open and merged. pubMu keeps event publication in
	// mutation order; it is taken before mu is released.
	mu     sync.Mutex
	pubMu  sync.Mutex
	lines  []cartline.Line
	open   bool
	merged bool

	resyncs singleflight.Group
	sem     *semaphore.Weighted

	lifeMu      sync.RWMutex
	closed      bool
	tasks       sync.WaitGroup
	baseCtx     context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// NewEngine validates its collaborators and hydrates the cart from the
// snapshot store.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Store == nil {
		return nil, errors.New("snapshot store is required")
	}
	if params.Remote == nil {
		return nil, errors.New("remote cart is required")
	}
	if params.Gate == nil {
		return nil, errors.New("token gate is required")
	}
	if params.Bus == nil {
		return nil, errors.New("event bus is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	inflight := params.Config.MaxInflight
	if inflight <= 0 {
		inflight = defaultMaxInflight
	}
	timeout := params.Config.RemoteTimeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	id := params.ID
	if id == "" {
		id = "engine-" + uuid.NewString()[:8]
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:   params.Store,
		remote:  params.Remote,
		gate:    params.Gate,
		bus:     params.Bus,
		metrics: params.Metrics,
		logg:    logg,
		id:      id,
		timeout: timeout,
		sem:     semaphore.NewWeighted(inflight),
		baseCtx: baseCtx,
		cancel:  cancel,
	}
	e.lines = cartline.Clone(e.store.Load(baseCtx))
	e.unsubscribe = e.bus.Subscribe(e.onEvent)
	return e, nil
}

// ID is the origin tag carried by this engine's hydrate requests.
func (e *Engine) ID() string {
	return e.id
}

// Items returns a copy of the current lines in insertion order.
func (e *Engine) Items() []cartline.Line {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cartline.Clone(e.lines)
}

// Count is the sum of line quantities.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cartline.Count(e.lines)
}

// Total is the sum of price × qty over all lines.
func (e *Engine) Total() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cartline.Total(e.lines)
}

// IsOpen reports the cart panel hint. Adding an item opens it.
func (e *Engine) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

func (e *Engine) Open() {
	e.setOpen(func(bool) bool { return true })
}

func (e *Engine) Dismiss() {
	e.setOpen(func(bool) bool { return false })
}

// Toggle flips the panel hint and returns the new value.
func (e *Engine) Toggle() bool {
	return e.setOpen(func(open bool) bool { return !open })
}

func (e *Engine) setOpen(fn func(bool) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = fn(e.open)
	return e.open
}

// commit installs next as the cart and publishes evs. It must be called with
// mu held and returns with mu released. The publish lock is acquired before
// mu is dropped, so events leave in the same order as the mutations that
// produced them. Handlers may read the engine but must not mutate it
// synchronously.
func (e *Engine) commit(ctx context.Context, next []cartline.Line, persist bool, evs ...events.Event) {
	e.lines = next
	if persist {
		e.store.Save(ctx, next)
	}
	e.pubMu.Lock()
	e.mu.Unlock()
	defer e.pubMu.Unlock()
	for _, ev := range evs {
		e.bus.Publish(ctx, ev)
	}
}

func (e *Engine) onEvent(ctx context.Context, ev events.Event) {
	req, ok := ev.(events.HydrateRequest)
	if !ok || req.Origin == e.id {
		return
	}
	// Reload publishes; running it inline would re-enter the publish lock
	// when the request came from one of our own listeners.
	e.goTracked(ctx, "reload", func(taskCtx context.Context) {
		e.Reload(taskCtx)
	})
}

// Settle blocks until every background task started so far has finished or
// ctx is done.
func (e *Engine) Settle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting background work, cancels in-flight remote calls and
// waits for them. Cancelled calls are not rolled back; the next Sync
// reconciles with the server.
func (e *Engine) Close(ctx context.Context) error {
	e.lifeMu.Lock()
	if e.closed {
		e.lifeMu.Unlock()
		return nil
	}
	e.closed = true
	e.lifeMu.Unlock()

	e.unsubscribe()
	e.cancel()
	return e.Settle(ctx)
}
