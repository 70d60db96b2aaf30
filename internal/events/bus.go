// Package events fans live pool-account changes out to price subscribers.
// One ledger subscription is opened per tracked pool and shared by every
// local subscriber of the same mint; each account change triggers a secure
// price recomputation which is broadcast to all receivers.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/ledger"
	"solana-amm-client/internal/observability"
	"solana-amm-client/internal/storage"
)

const (
	// DefaultBufferSize is the per-receiver channel capacity. When a
	// receiver's buffer is full the oldest unread price is dropped so the
	// dispatcher never blocks on a slow consumer.
	DefaultBufferSize = 16

	// DefaultReconnectDelay is the initial backoff after a lost watch.
	DefaultReconnectDelay = 500 * time.Millisecond

	// DefaultMaxReconnectDelay caps the backoff.
	DefaultMaxReconnectDelay = 10 * time.Second

	// DefaultMaxReconnectAttempts bounds re-subscription attempts per lost
	// watch before the mint's feed moves to StateClosed.
	DefaultMaxReconnectAttempts = 5

	// priceTimeout bounds the secure price recomputation per notification.
	priceTimeout = 10 * time.Second

	// sampleTimeout bounds the best-effort history append per publication.
	sampleTimeout = 5 * time.Second
)

// State is the lifecycle of a mint's feed.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// AccountWatcher opens a live watch on one account. The returned channel is
// closed when the watch dies; the returned func stops the watch.
type AccountWatcher interface {
	Watch(ctx context.Context, pubkey string) (<-chan ledger.AccountUpdate, func(), error)
}

// StreamWatcher adapts a ledger.AccountStream to the AccountWatcher interface.
type StreamWatcher struct {
	Stream *ledger.AccountStream
}

func (w StreamWatcher) Watch(ctx context.Context, pubkey string) (<-chan ledger.AccountUpdate, func(), error) {
	sub, err := w.Stream.SubscribeAccount(ctx, pubkey)
	if err != nil {
		return nil, nil, err
	}
	return sub.C, sub.Unsubscribe, nil
}

// PoolSource resolves the pools backing a mint; satisfied by pool.Registry.
type PoolSource interface {
	FindTokenPools(ctx context.Context, mint string) ([]domain.Pool, domain.ScanStats, error)
}

// PriceSource recomputes prices on account changes; satisfied by
// pricing.Aggregator.
type PriceSource interface {
	GetSecurePrice(ctx context.Context, mint string) (*domain.Price, error)
}

// Receiver is one subscriber's handle. Prices arrive on C; C is closed on
// Unsubscribe, bus shutdown, or when the feed exhausts its reconnect budget.
type Receiver struct {
	C <-chan domain.Price

	bus  *Bus
	mint string
	id   int
	once sync.Once
}

// Unsubscribe removes this receiver and closes C. The last receiver for a
// mint tears down the mint's ledger subscriptions.
func (r *Receiver) Unsubscribe() {
	r.once.Do(func() {
		r.bus.unsubscribe(r.mint, r.id)
	})
}

// watched is one live account watch belonging to a feed.
type watched struct {
	pubkey string
	pool   string
	stop   func()
}

// feed is the shared per-mint state: one set of ledger watches, one dispatch
// loop, many receivers.
type feed struct {
	mint  string
	state State

	receivers map[int]chan domain.Price
	nextID    int

	watches map[string]*watched // keyed by watched pubkey

	updates chan ledger.AccountUpdate
	ctx     context.Context
	cancel  context.CancelFunc
}

// Bus multiplexes live price updates. All mutation of the feed table and of
// receiver sets happens under mu, so subscribe, unsubscribe and publish are
// linearizable per mint.
type Bus struct {
	watcher AccountWatcher
	pools   PoolSource
	prices  PriceSource
	samples storage.PriceSampleStore
	log     *zap.Logger

	bufferSize           int
	reconnectDelay       time.Duration
	maxReconnectDelay    time.Duration
	maxReconnectAttempts int

	mu     sync.Mutex
	feeds  map[string]*feed
	closed bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-receiver channel capacity.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithReconnectPolicy sets the backoff and attempt bound used when a ledger
// watch drops.
func WithReconnectPolicy(delay, maxDelay time.Duration, attempts int) BusOption {
	return func(b *Bus) {
		if delay > 0 {
			b.reconnectDelay = delay
		}
		if maxDelay > 0 {
			b.maxReconnectDelay = maxDelay
		}
		if attempts > 0 {
			b.maxReconnectAttempts = attempts
		}
	}
}

// WithSampleStore makes the bus append every published price to a history
// store, feeding candle aggregation.
func WithSampleStore(s storage.PriceSampleStore) BusOption {
	return func(b *Bus) { b.samples = s }
}

// NewBus creates a price event bus.
func NewBus(watcher AccountWatcher, pools PoolSource, prices PriceSource, log *zap.Logger, opts ...BusOption) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		watcher:              watcher,
		pools:                pools,
		prices:               prices,
		log:                  log,
		bufferSize:           DefaultBufferSize,
		reconnectDelay:       DefaultReconnectDelay,
		maxReconnectDelay:    DefaultMaxReconnectDelay,
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
		feeds:                make(map[string]*feed),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State reports the feed state for a mint. Mints with no feed are StateIdle.
func (b *Bus) State(mint string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.feeds[mint]
	if !ok {
		return StateIdle
	}
	return f.state
}

// Subscribe registers interest in a mint's price. The first subscriber
// resolves the mint's pools and opens one ledger watch per pool; later
// subscribers share the same watches. A feed that previously closed is
// restarted.
func (b *Bus) Subscribe(ctx context.Context, mint string) (*Receiver, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, domain.ErrBusClosed
	}

	f, ok := b.feeds[mint]
	if ok && f.state == StateClosed {
		delete(b.feeds, mint)
		ok = false
	}
	if ok {
		r := b.addReceiverLocked(f)
		b.mu.Unlock()
		return r, nil
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	f = &feed{
		mint:      mint,
		state:     StateConnecting,
		receivers: make(map[int]chan domain.Price),
		watches:   make(map[string]*watched),
		updates:   make(chan ledger.AccountUpdate, b.bufferSize),
		ctx:       feedCtx,
		cancel:    cancel,
	}
	b.feeds[mint] = f
	r := b.addReceiverLocked(f)
	b.mu.Unlock()

	if err := b.openFeed(ctx, f); err != nil {
		b.closeFeed(f)
		b.mu.Lock()
		if b.feeds[mint] == f {
			delete(b.feeds, mint)
		}
		b.mu.Unlock()
		return nil, err
	}

	go b.dispatch(f)
	return r, nil
}

// addReceiverLocked allocates a receiver channel. Caller holds mu.
func (b *Bus) addReceiverLocked(f *feed) *Receiver {
	ch := make(chan domain.Price, b.bufferSize)
	id := f.nextID
	f.nextID++
	f.receivers[id] = ch
	observability.ActiveSubscriptions.Inc()
	return &Receiver{C: ch, bus: b, mint: f.mint, id: id}
}

// openFeed resolves the mint's pools and opens one watch per pool. Each pool
// is tracked through the vault holding the mint's own reserve; any swap
// moves both vaults, so one side suffices to observe every trade.
func (b *Bus) openFeed(ctx context.Context, f *feed) error {
	pools, _, err := b.pools.FindTokenPools(ctx, f.mint)
	if err != nil {
		return fmt.Errorf("resolve pools for %s: %w", f.mint, err)
	}
	if len(pools) == 0 {
		return fmt.Errorf("%w: mint %s", domain.ErrNoLiquidity, f.mint)
	}

	for i := range pools {
		p := &pools[i]
		vault := p.TokenAVault
		if p.TokenBMint == f.mint {
			vault = p.TokenBVault
		}

		ch, stop, err := b.watcher.Watch(f.ctx, vault)
		if err != nil {
			b.stopWatches(f)
			return fmt.Errorf("watch vault %s: %w", vault, err)
		}

		w := &watched{pubkey: vault, pool: p.Address, stop: stop}
		b.mu.Lock()
		f.watches[vault] = w
		b.mu.Unlock()

		go b.forward(f, w, ch)
	}

	b.setState(f, StateStreaming)
	b.log.Info("price feed opened",
		zap.String("mint", f.mint),
		zap.Int("pools", len(pools)))
	return nil
}

// forward pumps one watch into the feed's merged update queue, re-opening
// the watch with backoff when the underlying stream dies.
func (b *Bus) forward(f *feed, w *watched, ch <-chan ledger.AccountUpdate) {
	for {
		select {
		case <-f.ctx.Done():
			return
		case update, ok := <-ch:
			if !ok {
				next, err := b.rewatch(f, w)
				if err != nil {
					b.log.Error("watch lost permanently",
						zap.String("mint", f.mint),
						zap.String("account", w.pubkey),
						zap.Error(err))
					b.closeFeed(f)
					return
				}
				ch = next
				continue
			}

			select {
			case f.updates <- update:
			default:
				// Merged queue full. Drop the oldest pending update;
				// consumers only need the latest reserve state.
				select {
				case <-f.updates:
					observability.UpdatesDropped.Inc()
				default:
				}
				select {
				case f.updates <- update:
				default:
				}
			}
		}
	}
}

// rewatch re-opens a dropped watch with exponential backoff, bounded by
// maxReconnectAttempts.
func (b *Bus) rewatch(f *feed, w *watched) (<-chan ledger.AccountUpdate, error) {
	b.setState(f, StateReconnecting)
	delay := b.reconnectDelay

	var lastErr error
	for attempt := 1; attempt <= b.maxReconnectAttempts; attempt++ {
		select {
		case <-f.ctx.Done():
			return nil, f.ctx.Err()
		case <-time.After(delay):
		}

		observability.StreamReconnects.Inc()
		ch, stop, err := b.watcher.Watch(f.ctx, w.pubkey)
		if err == nil {
			b.mu.Lock()
			w.stop = stop
			b.mu.Unlock()
			b.setState(f, StateStreaming)
			b.log.Info("watch restored",
				zap.String("mint", f.mint),
				zap.String("account", w.pubkey),
				zap.Int("attempt", attempt))
			return ch, nil
		}

		lastErr = err
		b.log.Warn("watch reconnect failed",
			zap.String("mint", f.mint),
			zap.String("account", w.pubkey),
			zap.Int("attempt", attempt),
			zap.Error(err))

		delay *= 2
		if delay > b.maxReconnectDelay {
			delay = b.maxReconnectDelay
		}
	}

	return nil, fmt.Errorf("%w: %d reconnect attempts exhausted: %v",
		domain.ErrBusClosed, b.maxReconnectAttempts, lastErr)
}

// dispatch consumes merged account updates, recomputes the secure price and
// broadcasts it. One dispatch loop runs per feed.
func (b *Bus) dispatch(f *feed) {
	for {
		select {
		case <-f.ctx.Done():
			return
		case update := <-f.updates:
			priceCtx, cancel := context.WithTimeout(f.ctx, priceTimeout)
			price, err := b.prices.GetSecurePrice(priceCtx, f.mint)
			cancel()
			if err != nil {
				b.log.Warn("price recomputation failed",
					zap.String("mint", f.mint),
					zap.Error(err))
				continue
			}
			b.publish(f, *price, update)
		}
	}
}

// publish delivers a price to every receiver of the feed and appends it to
// the history store. Delivery never blocks: a full receiver loses its oldest
// unread price.
func (b *Bus) publish(f *feed, price domain.Price, update ledger.AccountUpdate) {
	if b.samples != nil {
		b.appendSample(f, price, update)
	}

	b.mu.Lock()
	for _, ch := range f.receivers {
		select {
		case ch <- price:
		default:
			select {
			case <-ch:
				observability.UpdatesDropped.Inc()
			default:
			}
			select {
			case ch <- price:
			default:
			}
		}
	}
	b.mu.Unlock()

	observability.PriceUpdatesPublished.Inc()
}

// appendSample records the published price against the pool whose vault
// changed. Failures are logged, never surfaced; the live feed must not
// depend on storage health.
func (b *Bus) appendSample(f *feed, price domain.Price, update ledger.AccountUpdate) {
	b.mu.Lock()
	poolAddr := ""
	if w, ok := f.watches[update.Pubkey]; ok {
		poolAddr = w.pool
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()

	err := b.samples.Insert(ctx, &domain.PriceSample{
		Mint:      f.mint,
		Pool:      poolAddr,
		Price:     price.SolPrice,
		Liquidity: price.Liquidity,
		Slot:      update.Slot,
		Timestamp: price.Timestamp,
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		b.log.Warn("price sample append failed",
			zap.String("mint", f.mint),
			zap.Error(err))
	}
}

// setState updates a feed's state unless it already closed.
func (b *Bus) setState(f *feed, s State) {
	b.mu.Lock()
	if f.state != StateClosed {
		f.state = s
	}
	b.mu.Unlock()
}

// stopWatches stops every live ledger watch of a feed.
func (b *Bus) stopWatches(f *feed) {
	b.mu.Lock()
	watches := make([]*watched, 0, len(f.watches))
	for _, w := range f.watches {
		watches = append(watches, w)
	}
	f.watches = make(map[string]*watched)
	b.mu.Unlock()

	for _, w := range watches {
		w.stop()
	}
}

// closeFeed moves a feed to StateClosed, tears down its watches and closes
// every receiver channel so consumers observe the terminal failure.
func (b *Bus) closeFeed(f *feed) {
	b.mu.Lock()
	if f.state == StateClosed {
		b.mu.Unlock()
		return
	}
	f.state = StateClosed
	receivers := f.receivers
	f.receivers = make(map[int]chan domain.Price)
	b.mu.Unlock()

	f.cancel()
	b.stopWatches(f)

	for range receivers {
		observability.ActiveSubscriptions.Dec()
	}
	for _, ch := range receivers {
		close(ch)
	}
}

// unsubscribe removes one receiver; the last receiver tears the feed down.
func (b *Bus) unsubscribe(mint string, id int) {
	b.mu.Lock()
	f, ok := b.feeds[mint]
	if !ok {
		b.mu.Unlock()
		return
	}
	ch, ok := f.receivers[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(f.receivers, id)
	last := len(f.receivers) == 0 && f.state != StateClosed
	b.mu.Unlock()

	observability.ActiveSubscriptions.Dec()
	close(ch)

	if last {
		b.mu.Lock()
		delete(b.feeds, mint)
		b.mu.Unlock()
		f.cancel()
		b.stopWatches(f)
		b.log.Info("price feed torn down", zap.String("mint", mint))
	}
}

// Close shuts the bus down. Every feed closes and every receiver channel is
// closed; further Subscribe calls fail with ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	feeds := make([]*feed, 0, len(b.feeds))
	for _, f := range b.feeds {
		feeds = append(feeds, f)
	}
	b.feeds = make(map[string]*feed)
	b.mu.Unlock()

	for _, f := range feeds {
		b.closeFeed(f)
	}
}
