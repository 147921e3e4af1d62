package provider

import (
	"context"
	"net/http"
	"time"

	"tokenflow/internal/health"
	"tokenflow/internal/market"
	"tokenflow/logger"
)

// pump.fun publishes the same token document on several hosts with different
// edge-cache behavior; racing them returns whichever answers first.
var defaultPumpFunURLs = []string{
	"https://api.pump.fun/v2/tokens",
	"https://pump.fun/api/v2/tokens",
	"https://pump.fun/api/v1/tokens",
}

// PumpFun answers token price queries for pump.fun launched tokens. All
// mirror endpoints are queried concurrently and the first parseable answer
// wins; the others are cancelled.
type PumpFun struct {
	name     string
	urls     []string
	priority int
	client   *http.Client
	log      *logger.Log
}

func NewPumpFun(baseURL string, priority int, client *http.Client) *PumpFun {
	urls := defaultPumpFunURLs
	if baseURL != "" {
		urls = append([]string{baseURL}, defaultPumpFunURLs[1:]...)
	}
	return &PumpFun{
		name:     "pumpfun",
		urls:     urls,
		priority: priority,
		client:   client,
		log:      logger.GetLogger(),
	}
}

func (p *PumpFun) Name() string  { return p.name }
func (p *PumpFun) Priority() int { return p.priority }
func (p *PumpFun) Categories() []market.Category {
	return []market.Category{market.CategoryTokenPrice}
}

type pumpFunToken struct {
	Name      string  `json:"name"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	MarketCap float64 `json:"marketCap"`
	Liquidity float64 `json:"liquidity"`
	Volume24h float64 `json:"volume24h"`
	Supply    uint64  `json:"supply"`
	Decimals  uint8   `json:"decimals"`
}

type pumpFunResponse struct {
	pumpFunToken
	Token *pumpFunToken `json:"token"`
}

func (r pumpFunResponse) unwrap() pumpFunToken {
	if r.Token != nil {
		return *r.Token
	}
	return r.pumpFunToken
}

func (p *PumpFun) Query(ctx context.Context, key market.ResourceKey, budget health.TimeoutBudget) market.QueryResult {
	start := time.Now()

	raceCtx, cancel := context.WithTimeout(ctx, budget.Total)
	defer cancel()

	type outcome struct {
		token pumpFunToken
		ok    bool
	}
	results := make(chan outcome, len(p.urls))
	for _, base := range p.urls {
		go func(url string) {
			var resp pumpFunResponse
			if err := getJSON(raceCtx, p.client, url+"/"+key.Identifier, budget.Total, nil, &resp); err != nil {
				results <- outcome{}
				return
			}
			results <- outcome{token: resp.unwrap(), ok: true}
		}(base)
	}

	for i := 0; i < len(p.urls); i++ {
		select {
		case <-raceCtx.Done():
			return failedResult(key, p.name, p.priority, start)
		case res := <-results:
			if !res.ok {
				continue
			}
			token := res.token
			mc := token.MarketCap
			if mc <= 0 && token.Price > 0 && token.Supply > 0 {
				divisor := 1.0
				for d := uint8(0); d < token.Decimals; d++ {
					divisor *= 10
				}
				mc = token.Price * (float64(token.Supply) / divisor)
			}
			data := market.TokenMarketData{
				PriceUSD:     token.Price,
				MarketCapUSD: mc,
				Name:         token.Name,
				Symbol:       token.Symbol,
				LiquidityUSD: token.Liquidity,
				Volume24hUSD: token.Volume24h,
				Supply:       token.Supply,
				Decimals:     token.Decimals,
			}
			if data.Empty() {
				continue
			}
			cancel()
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
	}

	return failedResult(key, p.name, p.priority, start)
}
