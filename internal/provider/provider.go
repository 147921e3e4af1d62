package provider

import (
	"context"

	"tokenflow/internal/health"
	"tokenflow/internal/market"
)

// Provider is the uniform adapter around one external data source. A provider
// knows its own endpoint shape and response parsing and nothing else: it never
// touches the cache or the health monitor, so health accounting stays with
// the coordinator.
//
// Query must not return through a panic or error for ordinary failure modes
// (timeout, HTTP error, malformed body). It reports Success=false instead,
// with the latency measured up to the point of failure.
type Provider interface {
	Name() string
	// Priority is a static trust ranking, higher is more trusted.
	Priority() int
	Categories() []market.Category
	Query(ctx context.Context, key market.ResourceKey, budget health.TimeoutBudget) market.QueryResult
}

// ForCategory filters a provider set down to the ones able to answer a
// category.
func ForCategory(providers []Provider, category market.Category) []Provider {
	selected := make([]Provider, 0, len(providers))
	for _, p := range providers {
		for _, c := range p.Categories() {
			if c == category {
				selected = append(selected, p)
				break
			}
		}
	}
	return selected
}
