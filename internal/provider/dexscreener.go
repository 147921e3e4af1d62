package provider

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"tokenflow/internal/health"
	"tokenflow/internal/market"
	"tokenflow/logger"
)

const defaultDexScreenerURL = "https://api.dexscreener.com/latest/dex/tokens"

// DexScreener answers token price and pair metadata queries from the public
// DexScreener pairs endpoint. When a token trades in several pools the pair
// with the deepest liquidity wins.
type DexScreener struct {
	name     string
	baseURL  string
	priority int
	client   *http.Client
	log      *logger.Log
}

func NewDexScreener(baseURL string, priority int, client *http.Client) *DexScreener {
	if baseURL == "" {
		baseURL = defaultDexScreenerURL
	}
	return &DexScreener{
		name:     "dexscreener",
		baseURL:  baseURL,
		priority: priority,
		client:   client,
		log:      logger.GetLogger(),
	}
}

func (p *DexScreener) Name() string  { return p.name }
func (p *DexScreener) Priority() int { return p.priority }
func (p *DexScreener) Categories() []market.Category {
	return []market.Category{market.CategoryTokenPrice, market.CategoryPairMetadata}
}

type dexPair struct {
	PriceUSD    string  `json:"priceUsd"`
	PriceNative string  `json:"priceNative"`
	FDV         float64 `json:"fdv"`
	PairAddress string  `json:"pairAddress"`
	BaseToken   struct {
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	} `json:"baseToken"`
	TotalSupply float64 `json:"totalSupply"`
	Liquidity   struct {
		USD  float64 `json:"usd"`
		Base float64 `json:"base"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
}

type dexResponse struct {
	Pairs []dexPair `json:"pairs"`
}

func (p *DexScreener) Query(ctx context.Context, key market.ResourceKey, budget health.TimeoutBudget) market.QueryResult {
	start := time.Now()

	var resp dexResponse
	url := p.baseURL + "/" + key.Identifier
	if err := getJSON(ctx, p.client, url, budget.Total, nil, &resp); err != nil {
		p.log.WithComponent("dexscreener_provider").WithFields(logger.Fields{
			"identifier": key.Identifier,
		}).WithError(err).Debug("query failed")
		return failedResult(key, p.name, p.priority, start)
	}

	// A 200 with no pairs means DexScreener does not know the token yet;
	// treat it like any other failure.
	if len(resp.Pairs) == 0 {
		return failedResult(key, p.name, p.priority, start)
	}

	pairs := resp.Pairs
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Liquidity.USD > pairs[j].Liquidity.USD
	})
	pair := pairs[0]

	price, _ := strconv.ParseFloat(pair.PriceUSD, 64)
	data := market.TokenMarketData{
		PriceUSD:          price,
		MarketCapUSD:      marketCap(pair, price),
		Name:              pair.BaseToken.Name,
		Symbol:            pair.BaseToken.Symbol,
		LiquidityUSD:      pair.Liquidity.USD,
		Volume24hUSD:      pair.Volume.H24,
		PriceChange24hPct: pair.PriceChange.H24,
	}
	if data.Empty() {
		return failedResult(key, p.name, p.priority, start)
	}

	return market.QueryResult{
		Key:       key,
		Data:      data,
		Source:    p.name,
		Priority:  p.priority,
		Latency:   time.Since(start),
		Success:   true,
		Timestamp: time.Now(),
	}
}

// marketCap prefers the reported FDV. Pairs missing it get supply times
// price, where supply falls back to a rough estimate from the base-token
// pool depth when the pair carries no totalSupply.
func marketCap(pair dexPair, price float64) float64 {
	if pair.FDV > 0 {
		return pair.FDV
	}
	supply := pair.TotalSupply
	if supply <= 0 && pair.Liquidity.Base > 0 {
		supply = pair.Liquidity.Base * 100
	}
	if supply <= 0 {
		return 0
	}
	return price * supply
}

// failedResult builds the uniform failure outcome every adapter returns for
// ordinary failure modes.
func failedResult(key market.ResourceKey, name string, priority int, start time.Time) market.QueryResult {
	return market.QueryResult{
		Key:       key,
		Source:    name,
		Priority:  priority,
		Latency:   time.Since(start),
		Success:   false,
		Timestamp: time.Now(),
	}
}
