package market

import (
	"fmt"
	"time"
)

// SolMint is the wrapped SOL mint address; reference price lookups resolve
// against it regardless of the key's identifier.
const SolMint = "So11111111111111111111111111111111111111112"

// Category classifies a queryable market fact. Each category carries its own
// cache freshness window and maps to the subset of providers able to answer it.
type Category string

const (
	CategoryTokenPrice     Category = "token_price"
	CategoryReferencePrice Category = "reference_price"
	CategoryTokenSupply    Category = "token_supply"
	CategoryAccountBalance Category = "account_balance"
	CategoryPairMetadata   Category = "pair_metadata"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryTokenPrice,
		CategoryReferencePrice,
		CategoryTokenSupply,
		CategoryAccountBalance,
		CategoryPairMetadata,
	}
}

// ResourceKey identifies one queryable fact: a category plus an on-chain
// identifier (token mint, wallet address or pair address). It is the cache
// and subscription key and must stay comparable.
type ResourceKey struct {
	Category   Category
	Identifier string
}

func NewResourceKey(category Category, identifier string) ResourceKey {
	return ResourceKey{Category: category, Identifier: identifier}
}

func (k ResourceKey) String() string {
	return fmt.Sprintf("%s:%s", k.Category, k.Identifier)
}

// TokenMarketData is the structured value payload resolved for a resource.
// Numeric reconciliation only applies to PriceUSD and MarketCapUSD; the
// remaining fields are filled from the highest-priority source that
// supplied them.
type TokenMarketData struct {
	PriceUSD          float64
	MarketCapUSD      float64
	Name              string
	Symbol            string
	LiquidityUSD      float64
	Volume24hUSD      float64
	PriceChange24hPct float64
	Supply            uint64
	Decimals          uint8
	Balance           float64
}

// Empty reports whether the payload carries no usable numeric data.
func (d TokenMarketData) Empty() bool {
	return d.PriceUSD <= 0 && d.MarketCapUSD <= 0 && d.Supply == 0 && d.Balance <= 0
}

// QueryResult is the outcome of one provider call, successful or not.
// Failed calls still carry the latency measured up to the failure point so
// the health monitor can account for them.
type QueryResult struct {
	Key       ResourceKey
	Data      TokenMarketData
	Source    string
	Priority  int
	Latency   time.Duration
	Success   bool
	Timestamp time.Time
}

// Resolved is a consensus-resolved value handed to callers, tagged with the
// source label ("consensus(3)" or a single provider name) and the moment it
// was fetched.
type Resolved struct {
	Key       ResourceKey
	Data      TokenMarketData
	Source    string
	FetchedAt time.Time
}
