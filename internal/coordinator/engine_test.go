package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tokenflow/internal/cache"
	"tokenflow/internal/consensus"
	"tokenflow/internal/health"
	"tokenflow/internal/market"
	"tokenflow/internal/provider"
)

type engineClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *engineClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *engineClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(clock *engineClock, providers ...provider.Provider) *Engine {
	store := cache.New(cache.Options{Now: clock.Now})
	coord := newTestCoordinator(providers...)
	return NewEngine(EngineOptions{
		Cache:          store,
		Coordinator:    coord,
		Resolver:       consensus.NewResolver(4),
		RefreshWorkers: 2,
	})
}

func TestGetOrFetchFreshHitMakesNoProviderCalls(t *testing.T) {
	clock := &engineClock{now: time.Now()}
	p := &fakeProvider{name: "a", priority: 10, categories: priceCategories(), price: 10}
	engine := newTestEngine(clock, p)

	key := market.NewResourceKey(market.CategoryTokenPrice, "mint")

	if _, err := engine.GetOrFetch(context.Background(), key, false); err != nil {
		t.Fatalf("cold fetch: %v", err)
	}
	if p.callCount() != 1 {
		t.Fatalf("expected 1 provider call after cold fetch, got %d", p.callCount())
	}

	for i := 0; i < 5; i++ {
		data, err := engine.GetOrFetch(context.Background(), key, false)
		if err != nil {
			t.Fatalf("fresh hit %d: %v", i, err)
		}
		if data.PriceUSD != 10 {
			t.Fatalf("unexpected price %v", data.PriceUSD)
		}
	}
	if p.callCount() != 1 {
		t.Fatalf("fresh hits must not call providers, got %d calls", p.callCount())
	}
}

func TestGetOrFetchColdAllFailuresReturnsNoData(t *testing.T) {
	clock := &engineClock{now: time.Now()}
	a := &fakeProvider{name: "a", priority: 10, categories: priceCategories(), fail: true}
	b := &fakeProvider{name: "b", priority: 8, categories: priceCategories(), fail: true}
	engine := newTestEngine(clock, a, b)

	_, err := engine.GetOrFetch(context.Background(), market.NewResourceKey(market.CategoryTokenPrice, "mint"), false)
	if !errors.Is(err, market.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestGetOrFetchStaleReturnsStaleAndRefreshesOnce(t *testing.T) {
	clock := &engineClock{now: time.Now()}
	p := &fakeProvider{name: "a", priority: 10, categories: priceCategories(), price: 10}
	engine := newTestEngine(clock, p)
	engine.Start(context.Background())
	defer engine.Stop()

	key := market.NewResourceKey(market.CategoryTokenPrice, "mint")
	if _, err := engine.GetOrFetch(context.Background(), key, false); err != nil {
		t.Fatalf("cold fetch: %v", err)
	}

	// Into the grace window: past ttl (1s) but inside ttl*staleBound (3s).
	clock.Advance(1500 * time.Millisecond)
	p.price = 20

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := engine.GetOrFetch(context.Background(), key, false)
			if err != nil {
				t.Errorf("stale read: %v", err)
				return
			}
			if data.PriceUSD != 10 {
				t.Errorf("stale read should serve the cached value, got %v", data.PriceUSD)
			}
		}()
	}
	wg.Wait()

	// One cold fetch plus at most one de-duplicated refresh.
	deadline := time.After(2 * time.Second)
	for p.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("background refresh never ran, calls=%d", p.callCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
	time.Sleep(100 * time.Millisecond)
	if got := p.callCount(); got != 2 {
		t.Fatalf("concurrent stale reads must trigger exactly one refresh, got %d calls", got)
	}
}

func TestGetOrFetchForceFreshBypassesCache(t *testing.T) {
	clock := &engineClock{now: time.Now()}
	p := &fakeProvider{name: "a", priority: 10, categories: priceCategories(), price: 10}
	engine := newTestEngine(clock, p)

	key := market.NewResourceKey(market.CategoryTokenPrice, "mint")
	if _, err := engine.GetOrFetch(context.Background(), key, false); err != nil {
		t.Fatalf("cold fetch: %v", err)
	}

	p.price = 42
	data, err := engine.GetOrFetch(context.Background(), key, true)
	if err != nil {
		t.Fatalf("force fresh: %v", err)
	}
	if data.PriceUSD != 42 {
		t.Fatalf("force fresh should bypass the cache, got %v", data.PriceUSD)
	}
	if p.callCount() != 2 {
		t.Fatalf("expected 2 provider calls, got %d", p.callCount())
	}
}

func TestSolPriceStaleFallback(t *testing.T) {
	clock := &engineClock{now: time.Now()}
	p := &fakeProvider{
		name:       "ref",
		priority:   10,
		categories: []market.Category{market.CategoryReferencePrice},
		price:      150,
	}
	engine := newTestEngine(clock, p)

	price, err := engine.SolPriceUSD(context.Background())
	if err != nil {
		t.Fatalf("live sol price: %v", err)
	}
	if price != 150 {
		t.Fatalf("unexpected sol price %v", price)
	}

	// All sources go down, the cached price expires past its grace window
	// but stays inside the fallback window.
	p.fail = true
	clock.Advance(10 * time.Minute)

	price, err = engine.SolPriceUSD(context.Background())
	if err != nil {
		t.Fatalf("expected stale fallback, got %v", err)
	}
	if price != 150 {
		t.Fatalf("fallback should serve the last known price, got %v", price)
	}
}

func TestSolPriceNoDataAfterFallbackWindow(t *testing.T) {
	clock := &engineClock{now: time.Now()}
	p := &fakeProvider{
		name:       "ref",
		priority:   10,
		categories: []market.Category{market.CategoryReferencePrice},
		fail:       true,
	}
	engine := newTestEngine(clock, p)

	_, err := engine.SolPriceUSD(context.Background())
	if !errors.Is(err, market.ErrNoData) {
		t.Fatalf("expected ErrNoData with no cached price, got %v", err)
	}
}

func TestEngineBalanceAndSupply(t *testing.T) {
	clock := &engineClock{now: time.Now()}
	chain := &chainProvider{}
	engine := newTestEngine(clock, chain)

	balance, err := engine.Balance(context.Background(), "wallet1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 2.5 {
		t.Fatalf("unexpected balance %v", balance)
	}

	supply, decimals, err := engine.Supply(context.Background(), "mint1")
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply != 1_000_000 || decimals != 6 {
		t.Fatalf("unexpected supply %d/%d", supply, decimals)
	}
}

// chainProvider fakes the RPC source for balance and supply categories.
type chainProvider struct{}

func (c *chainProvider) Name() string  { return "chain" }
func (c *chainProvider) Priority() int { return 9 }
func (c *chainProvider) Categories() []market.Category {
	return []market.Category{market.CategoryAccountBalance, market.CategoryTokenSupply}
}

func (c *chainProvider) Query(ctx context.Context, key market.ResourceKey, budget health.TimeoutBudget) market.QueryResult {
	data := market.TokenMarketData{}
	switch key.Category {
	case market.CategoryAccountBalance:
		data.Balance = 2.5
	case market.CategoryTokenSupply:
		data.Supply = 1_000_000
		data.Decimals = 6
	}
	return market.QueryResult{
		Key: key, Data: data, Source: "chain", Priority: 9,
		Latency: time.Millisecond, Success: true, Timestamp: time.Now(),
	}
}
