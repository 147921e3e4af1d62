package coordinator

import (
	"context"
	"sync"
	"time"

	"tokenflow/internal/cache"
	"tokenflow/internal/consensus"
	"tokenflow/internal/market"
	"tokenflow/logger"
)

// solFallbackWindow is how long an expired SOL price may still be served when
// every live source is down. The cache sweep keeps reference-price entries
// around so the whole window is reachable.
const solFallbackWindow = 30 * time.Minute

// Engine is the read path callers talk to. It answers from the cache when it
// can, refreshes ahead of expiry in the background, and only blocks a caller
// on a live fan-out when the cache has nothing servable.
type Engine struct {
	cache    *cache.Cache
	coord    *Coordinator
	resolver *consensus.Resolver
	log      *logger.Log

	refreshJobs chan market.ResourceKey
	workers     int

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type EngineOptions struct {
	Cache          *cache.Cache
	Coordinator    *Coordinator
	Resolver       *consensus.Resolver
	RefreshWorkers int
}

func NewEngine(opts EngineOptions) *Engine {
	if opts.RefreshWorkers <= 0 {
		opts.RefreshWorkers = 4
	}
	return &Engine{
		cache:       opts.Cache,
		coord:       opts.Coordinator,
		resolver:    opts.Resolver,
		log:         logger.GetLogger(),
		refreshJobs: make(chan market.ResourceKey, opts.RefreshWorkers*8),
		workers:     opts.RefreshWorkers,
	}
}

// Start launches the refresh worker pool and the periodic cache sweep. It is
// idempotent; the second call is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.refreshWorker(ctx)
	}
	e.wg.Add(1)
	go e.sweepLoop(ctx)

	e.log.WithComponent("engine").WithFields(logger.Fields{
		"refresh_workers": e.workers,
	}).Info("engine started")
}

// Stop cancels background work and waits for the workers to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	started := e.started
	e.started = false
	e.mu.Unlock()

	if !started {
		return
	}
	cancel()
	e.wg.Wait()
	e.log.WithComponent("engine").Info("engine stopped")
}

// GetOrFetch returns market data for a key, preferring the cache. A fresh hit
// involves zero provider calls. A stale-but-servable hit returns immediately
// and schedules one de-duplicated background refresh. A miss blocks on the
// live fan-out.
func (e *Engine) GetOrFetch(ctx context.Context, key market.ResourceKey, forceFresh bool) (market.TokenMarketData, error) {
	if forceFresh {
		e.cache.Invalidate(key)
		return e.fetchAndStore(ctx, key)
	}

	entry, state := e.cache.Get(key)
	switch state {
	case cache.StateFresh:
		logger.IncrementCacheHit()
		return entry.Data, nil

	case cache.StateStale:
		logger.IncrementCacheStale()
		e.scheduleRefresh(key)
		return entry.Data, nil

	default:
		logger.IncrementCacheMiss()
		return e.fetchAndStore(ctx, key)
	}
}

// SolPriceUSD resolves the SOL/USD reference price through the full fan-out.
// When every live source fails it falls back to an expired cache entry up to
// half an hour old before giving up.
func (e *Engine) SolPriceUSD(ctx context.Context) (float64, error) {
	key := market.NewResourceKey(market.CategoryReferencePrice, market.SolMint)

	data, err := e.GetOrFetch(ctx, key, false)
	if err == nil && data.PriceUSD > 0 {
		return data.PriceUSD, nil
	}

	entry, state := e.cache.Get(key)
	if state != cache.StateMissing && entry.Data.PriceUSD > 0 &&
		time.Since(entry.FetchedAt) < solFallbackWindow {
		e.log.WithComponent("engine").WithFields(logger.Fields{
			"age": time.Since(entry.FetchedAt).String(),
		}).Warn("serving stale SOL price, all live sources failed")
		return entry.Data.PriceUSD, nil
	}

	return 0, market.ErrNoData
}

// Balance returns the SOL balance of a wallet.
func (e *Engine) Balance(ctx context.Context, wallet string) (float64, error) {
	data, err := e.GetOrFetch(ctx, market.NewResourceKey(market.CategoryAccountBalance, wallet), false)
	if err != nil {
		return 0, err
	}
	return data.Balance, nil
}

// Supply returns the raw supply and decimals of a token mint.
func (e *Engine) Supply(ctx context.Context, mint string) (uint64, uint8, error) {
	data, err := e.GetOrFetch(ctx, market.NewResourceKey(market.CategoryTokenSupply, mint), false)
	if err != nil {
		return 0, 0, err
	}
	return data.Supply, data.Decimals, nil
}

// TokenPrice returns the consensus market data for a token mint.
func (e *Engine) TokenPrice(ctx context.Context, mint string) (market.TokenMarketData, error) {
	return e.GetOrFetch(ctx, market.NewResourceKey(market.CategoryTokenPrice, mint), false)
}

// policyFor maps categories to fan-out policies. Prices are cross-checked;
// chain facts like balances and supply have one authoritative source each, so
// the first good answer wins.
func policyFor(category market.Category) Policy {
	switch category {
	case market.CategoryTokenPrice, market.CategoryReferencePrice:
		return PolicyConsensus
	default:
		return PolicyFast
	}
}

func (e *Engine) fetchAndStore(ctx context.Context, key market.ResourceKey) (market.TokenMarketData, error) {
	results := e.coord.FetchLive(ctx, key, policyFor(key.Category))

	resolved, err := e.resolver.Resolve(results)
	if err != nil {
		return market.TokenMarketData{}, err
	}

	e.cache.Put(key, resolved.Data, resolved.Source)
	return resolved.Data, nil
}

// scheduleRefresh enqueues one background refresh for a stale key. The cache
// flag guarantees at most one in-flight refresh per key; a full queue drops
// the job and releases the flag so the next stale read can retry.
func (e *Engine) scheduleRefresh(key market.ResourceKey) {
	if !e.cache.TryMarkRefresh(key) {
		return
	}

	select {
	case e.refreshJobs <- key:
	default:
		e.cache.ClearRefresh(key)
		e.log.WithComponent("engine").WithFields(logger.Fields{
			"key": key.String(),
		}).Warn("refresh queue full, dropping refresh")
	}
}

func (e *Engine) refreshWorker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case key := <-e.refreshJobs:
			e.runRefresh(ctx, key)
		}
	}
}

func (e *Engine) runRefresh(ctx context.Context, key market.ResourceKey) {
	defer e.cache.ClearRefresh(key)
	logger.IncrementRefresh()

	refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	results := e.coord.FetchLive(refreshCtx, key, PolicyConsensus)
	resolved, err := e.resolver.Resolve(results)
	if err != nil {
		// Keep the stale entry; it is still inside its grace window and
		// better than nothing.
		e.log.WithComponent("engine").WithFields(logger.Fields{
			"key": key.String(),
		}).WithError(err).Debug("background refresh failed")
		return
	}

	e.cache.Put(key, resolved.Data, resolved.Source)
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cache.Sweep()
		}
	}
}
