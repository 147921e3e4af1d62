package coordinator

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"tokenflow/internal/health"
	"tokenflow/internal/market"
	"tokenflow/internal/provider"
	"tokenflow/logger"
)

// Policy selects how the fan-out terminates.
type Policy int

const (
	// PolicyFast returns as soon as one provider answers with usable data
	// and cancels the rest.
	PolicyFast Policy = iota
	// PolicyConsensus waits for every provider, bounded by the consensus
	// window, so the resolver can cross-check the answers.
	PolicyConsensus
)

// Coordinator fans one query out to every provider serving the key's category.
// Each provider sits behind its own rate limiter, and every completed call
// feeds the health monitor regardless of outcome.
type Coordinator struct {
	providers []provider.Provider
	limiters  map[string]*rate.Limiter
	health    *health.Monitor
	window    time.Duration
	log       *logger.Log
}

type Options struct {
	Providers []provider.Provider
	Health    *health.Monitor

	// RequestsPerSecond and BurstSize bound each provider individually.
	RequestsPerSecond float64
	BurstSize         int

	// ConsensusWindow caps how long PolicyConsensus waits for stragglers.
	ConsensusWindow time.Duration
}

func New(opts Options) *Coordinator {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.BurstSize <= 0 {
		opts.BurstSize = 2
	}
	if opts.ConsensusWindow <= 0 {
		opts.ConsensusWindow = 2 * time.Second
	}

	limiters := make(map[string]*rate.Limiter, len(opts.Providers))
	for _, p := range opts.Providers {
		limiters[p.Name()] = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.BurstSize)
	}

	return &Coordinator{
		providers: opts.Providers,
		limiters:  limiters,
		health:    opts.Health,
		window:    opts.ConsensusWindow,
		log:       logger.GetLogger(),
	}
}

// Providers lists the providers able to serve a category.
func (c *Coordinator) Providers(category market.Category) []provider.Provider {
	return provider.ForCategory(c.providers, category)
}

// FetchLive queries every capable provider concurrently and returns the
// results that completed before the policy terminated the fan-out. Zero
// successes is an empty-but-valid outcome; the caller decides whether that
// is an error.
func (c *Coordinator) FetchLive(ctx context.Context, key market.ResourceKey, policy Policy) []market.QueryResult {
	candidates := provider.ForCategory(c.providers, key.Category)
	if len(candidates) == 0 {
		c.log.WithComponent("coordinator").WithFields(logger.Fields{
			"category": key.Category,
		}).Warn("no providers for category")
		return nil
	}

	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	budget := c.health.Budget()
	resultCh := make(chan market.QueryResult, len(candidates))
	for _, p := range candidates {
		go c.queryOne(fanCtx, p, key, budget, resultCh)
	}

	switch policy {
	case PolicyFast:
		return c.collectFast(fanCtx, cancel, resultCh, len(candidates))
	default:
		return c.collectAll(fanCtx, resultCh, len(candidates))
	}
}

func (c *Coordinator) queryOne(ctx context.Context, p provider.Provider, key market.ResourceKey, budget health.TimeoutBudget, out chan<- market.QueryResult) {
	start := time.Now()

	if limiter, ok := c.limiters[p.Name()]; ok {
		if err := limiter.Wait(ctx); err != nil {
			out <- market.QueryResult{
				Key:       key,
				Source:    p.Name(),
				Priority:  p.Priority(),
				Latency:   time.Since(start),
				Success:   false,
				Timestamp: time.Now(),
			}
			return
		}
	}

	res := p.Query(ctx, key, budget)

	c.health.Record(res.Success, res.Latency)
	logger.LogProviderCallEntry(
		c.log.WithComponent("coordinator"),
		p.Name(), string(key.Category), res.Success, res.Latency,
	)

	out <- res
}

// collectFast returns once one usable result arrives. Failures received before
// the winner stay in the slice so the resolver still sees them.
func (c *Coordinator) collectFast(ctx context.Context, cancel context.CancelFunc, resultCh <-chan market.QueryResult, expected int) []market.QueryResult {
	results := make([]market.QueryResult, 0, expected)
	for len(results) < expected {
		select {
		case res := <-resultCh:
			results = append(results, res)
			if res.Success && !res.Data.Empty() {
				cancel()
				return results
			}
		case <-ctx.Done():
			return results
		}
	}
	return results
}

// collectAll waits for every provider or the consensus window, whichever
// comes first.
func (c *Coordinator) collectAll(ctx context.Context, resultCh <-chan market.QueryResult, expected int) []market.QueryResult {
	deadline := time.NewTimer(c.window)
	defer deadline.Stop()

	results := make([]market.QueryResult, 0, expected)
	for len(results) < expected {
		select {
		case res := <-resultCh:
			results = append(results, res)
		case <-deadline.C:
			c.log.WithComponent("coordinator").WithFields(logger.Fields{
				"received": len(results),
				"expected": expected,
			}).Debug("consensus window closed before all providers answered")
			return results
		case <-ctx.Done():
			return results
		}
	}
	return results
}
