package coordinator

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/duskswap/dusk/pkg/adapter"
	"github.com/duskswap/dusk/pkg/errlog"
	"github.com/duskswap/dusk/pkg/ledger"
	"github.com/duskswap/dusk/pkg/store"
)

type Config struct {
	// Signer is the resolver identity used for counter-withdrawals and
	// recovery cancels on the resolver's own legs.
	Signer common.Address

	// Workers is the size of the event-handler pool. Events for the same
	// order always land on the same worker.
	Workers int

	RecoveryInterval time.Duration
	RefreshInterval  time.Duration
	ConfirmTimeout   time.Duration
	FeedBuffer       int
	ShutdownTimeout  time.Duration
}

func (cfg *Config) defaults() {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = 30 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 2 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.FeedBuffer <= 0 {
		cfg.FeedBuffer = 256
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

// Coordinator consumes escrow events from every chain adapter, maintains the
// Order and CrossChainSwap records, propagates revealed secrets between
// chains and drives timeout recovery.
type Coordinator struct {
	cfg      Config
	logger   *zap.Logger
	adapters map[string]adapter.Adapter
	orderDB  store.OrderStore
	actions  store.ActionStore
	errs     *errlog.Log

	mu      sync.RWMutex
	running bool
	orders  map[string]*Order
	swaps   map[string]*CrossChainSwap

	tracker *checkpointTracker
	feed    chan Notification

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	workers []chan ledger.Event
	workWg  sync.WaitGroup
}

func New(cfg Config, adapters []adapter.Adapter, orderDB store.OrderStore, actions store.ActionStore, logger *zap.Logger) *Coordinator {
	cfg.defaults()

	adapterMap := make(map[string]adapter.Adapter, len(adapters))
	for _, ad := range adapters {
		adapterMap[ad.Config().Name] = ad
	}

	return &Coordinator{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "coordinator")),
		adapters: adapterMap,
		orderDB:  orderDB,
		actions:  actions,
		errs:     errlog.New(errlog.DefaultCapacity),
		orders:   map[string]*Order{},
		swaps:    map[string]*CrossChainSwap{},
		tracker:  newCheckpointTracker(orderDB),
		feed:     make(chan Notification, cfg.FeedBuffer),
	}
}

// Start spawns the event pipeline and the background loops. It is
// non-blocking.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already running")
	}
	c.running = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	// Worker pool. Each worker owns a FIFO queue, and an order is pinned to
	// one worker, so events for the same order never race while unrelated
	// orders proceed in parallel.
	c.workers = make([]chan ledger.Event, c.cfg.Workers)
	for i := range c.workers {
		queue := make(chan ledger.Event, 64)
		c.workers[i] = queue
		c.workWg.Add(1)
		go func() {
			defer c.workWg.Done()
			for ev := range queue {
				c.handleEvent(ctx, ev)
				c.tracker.Ack(ev.Chain, ev.BlockNumber)
			}
		}()
	}

	events := make(chan ledger.Event, 512)
	for _, ad := range c.adapters {
		ad := ad
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.subscribeLoop(ctx, ad, events)
		}()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.healthLoop(ctx, ad)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dispatch(ctx, events)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.recoveryLoop(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.refreshLoop(ctx)
	}()

	c.logger.Info("started", zap.Int("chains", len(c.adapters)), zap.Int("workers", c.cfg.Workers))
	return nil
}

// Stop shuts the coordinator down: subscriptions and loops are cancelled
// first so no new events are accepted, then in-flight handlers get a bounded
// drain before the pool is abandoned.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	for _, queue := range c.workers {
		close(queue)
	}

	done := make(chan struct{})
	go func() {
		c.workWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.cfg.ShutdownTimeout):
		c.logger.Warn("shutdown drain timed out")
	}
	c.logger.Info("stopped")
}

// subscribeLoop keeps one adapter subscription alive, resuming from the last
// persisted checkpoint with doubling backoff on failure.
func (c *Coordinator) subscribeLoop(ctx context.Context, ad adapter.Adapter, events chan<- ledger.Event) {
	chain := ad.Config().Name
	fallback := 5 * time.Second

	for {
		from, err := c.orderDB.Checkpoint(chain)
		if err != nil {
			c.logger.Error("load checkpoint", zap.String("chain", chain), zap.Error(err))
		}
		c.logger.Info("subscribing", zap.String("chain", chain), zap.Uint64("from", from))

		err = ad.Subscribe(ctx, from, events)
		if ctx.Err() != nil {
			return
		}
		c.errs.Warn(fmt.Sprintf("subscription dropped: %v", err), "", chain)
		c.logger.Warn("subscription dropped", zap.String("chain", chain), zap.Error(err))

		select {
		case <-time.After(fallback):
		case <-ctx.Done():
			return
		}
		if fallback < 5*time.Minute {
			fallback *= 2
		}
	}
}

// dispatch routes events to the worker pinned to their order.
func (c *Coordinator) dispatch(ctx context.Context, events <-chan ledger.Event) {
	for {
		select {
		case ev := <-events:
			c.tracker.Deliver(ev.Chain, ev.BlockNumber)
			select {
			case c.workers[c.workerIndex(ev.OrderID)] <- ev:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) workerIndex(orderID string) int {
	h := fnv.New32a()
	h.Write([]byte(orderID))
	return int(h.Sum32() % uint32(len(c.workers)))
}

// notify pushes onto the feed without ever blocking event processing. A slow
// feed consumer loses notifications, not the coordinator.
func (c *Coordinator) notify(n Notification) {
	select {
	case c.feed <- n:
	default:
		c.logger.Debug("feed full, dropping notification", zap.String("type", string(n.Type)), zap.String("order", n.OrderID))
	}
}

// Notifications is the push feed of escrow events, swap completions and
// auction updates.
func (c *Coordinator) Notifications() <-chan Notification {
	return c.feed
}

// ErrorLog exposes the bounded operational error buffer.
func (c *Coordinator) ErrorLog() *errlog.Log {
	return c.errs
}

func (c *Coordinator) sourceAdapter(swap *CrossChainSwap) (adapter.Adapter, bool) {
	ad, ok := c.adapters[swap.SourceChain]
	return ad, ok
}

func (c *Coordinator) destAdapter(swap *CrossChainSwap) (adapter.Adapter, bool) {
	ad, ok := c.adapters[swap.DestChain]
	return ad, ok
}
