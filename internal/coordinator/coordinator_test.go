package coordinator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"tokenflow/internal/health"
	"tokenflow/internal/market"
	"tokenflow/internal/provider"
)

// fakeProvider is a scriptable provider for fan-out tests.
type fakeProvider struct {
	name       string
	priority   int
	categories []market.Category
	price      float64
	fail       bool
	delay      time.Duration
	calls      int64
}

func (f *fakeProvider) Name() string                  { return f.name }
func (f *fakeProvider) Priority() int                 { return f.priority }
func (f *fakeProvider) Categories() []market.Category { return f.categories }

func (f *fakeProvider) Query(ctx context.Context, key market.ResourceKey, budget health.TimeoutBudget) market.QueryResult {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return market.QueryResult{Key: key, Source: f.name, Priority: f.priority, Success: false, Timestamp: time.Now()}
		}
	}
	if f.fail {
		return market.QueryResult{Key: key, Source: f.name, Priority: f.priority, Latency: time.Millisecond, Success: false, Timestamp: time.Now()}
	}
	return market.QueryResult{
		Key:       key,
		Data:      market.TokenMarketData{PriceUSD: f.price, MarketCapUSD: f.price * 1000},
		Source:    f.name,
		Priority:  f.priority,
		Latency:   time.Millisecond,
		Success:   true,
		Timestamp: time.Now(),
	}
}

func (f *fakeProvider) callCount() int64 { return atomic.LoadInt64(&f.calls) }

func priceCategories() []market.Category {
	return []market.Category{market.CategoryTokenPrice}
}

func newTestCoordinator(providers ...provider.Provider) *Coordinator {
	return New(Options{
		Providers:         providers,
		Health:            health.NewMonitor(health.Options{}),
		RequestsPerSecond: 1000,
		BurstSize:         100,
		ConsensusWindow:   time.Second,
	})
}

func TestFetchLiveConsensusCollectsAll(t *testing.T) {
	a := &fakeProvider{name: "a", priority: 10, categories: priceCategories(), price: 10}
	b := &fakeProvider{name: "b", priority: 8, categories: priceCategories(), price: 10.2}
	c := &fakeProvider{name: "c", priority: 6, categories: priceCategories(), fail: true}

	coord := newTestCoordinator(a, b, c)
	key := market.NewResourceKey(market.CategoryTokenPrice, "mint")

	results := coord.FetchLive(context.Background(), key, PolicyConsensus)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	successes := 0
	for _, r := range results {
		if r.Success {
			successes++
		}
	}
	if successes != 2 {
		t.Fatalf("expected 2 successes, got %d", successes)
	}
}

func TestFetchLiveFastCancelsSlowProviders(t *testing.T) {
	fast := &fakeProvider{name: "fast", priority: 5, categories: priceCategories(), price: 10}
	slow := &fakeProvider{name: "slow", priority: 10, categories: priceCategories(), price: 11, delay: 2 * time.Second}

	coord := newTestCoordinator(fast, slow)
	key := market.NewResourceKey(market.CategoryTokenPrice, "mint")

	start := time.Now()
	results := coord.FetchLive(context.Background(), key, PolicyFast)
	if time.Since(start) > time.Second {
		t.Fatalf("fast path waited for the slow provider")
	}

	won := false
	for _, r := range results {
		if r.Success && r.Source == "fast" {
			won = true
		}
	}
	if !won {
		t.Fatalf("expected the fast provider to win, got %+v", results)
	}
}

func TestFetchLiveConsensusWindowBounds(t *testing.T) {
	stuck := &fakeProvider{name: "stuck", priority: 10, categories: priceCategories(), price: 10, delay: 10 * time.Second}
	quick := &fakeProvider{name: "quick", priority: 5, categories: priceCategories(), price: 10.1}

	coord := New(Options{
		Providers:         []provider.Provider{stuck, quick},
		Health:            health.NewMonitor(health.Options{}),
		RequestsPerSecond: 1000,
		BurstSize:         100,
		ConsensusWindow:   200 * time.Millisecond,
	})
	key := market.NewResourceKey(market.CategoryTokenPrice, "mint")

	start := time.Now()
	results := coord.FetchLive(context.Background(), key, PolicyConsensus)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("consensus window did not bound the wait: %v", elapsed)
	}
	if len(results) != 1 || results[0].Source != "quick" {
		t.Fatalf("expected only the quick result inside the window, got %+v", results)
	}
}

func TestFetchLiveNoProvidersForCategory(t *testing.T) {
	a := &fakeProvider{name: "a", priority: 10, categories: priceCategories(), price: 10}
	coord := newTestCoordinator(a)

	results := coord.FetchLive(context.Background(), market.NewResourceKey(market.CategoryTokenSupply, "mint"), PolicyConsensus)
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestFetchLiveRecordsHealth(t *testing.T) {
	mon := health.NewMonitor(health.Options{})
	a := &fakeProvider{name: "a", priority: 10, categories: priceCategories(), fail: true}
	b := &fakeProvider{name: "b", priority: 8, categories: priceCategories(), fail: true}

	coord := New(Options{
		Providers:         []provider.Provider{a, b},
		Health:            mon,
		RequestsPerSecond: 1000,
		BurstSize:         100,
		ConsensusWindow:   time.Second,
	})
	coord.FetchLive(context.Background(), market.NewResourceKey(market.CategoryTokenPrice, "mint"), PolicyConsensus)

	if rate := mon.SuccessRate(); rate != 0 {
		t.Fatalf("expected zero success rate after two failures, got %v", rate)
	}
}
