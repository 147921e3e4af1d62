package provider

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	bybit_connector "github.com/bybit-exchange/bybit.go.api"

	"tokenflow/internal/health"
	"tokenflow/internal/market"
	"tokenflow/logger"
)

// Bybit supplies the SOL/USDT reference price from the Bybit v5 market
// tickers endpoint through the official connector.
type Bybit struct {
	name     string
	symbol   string
	priority int
	client   *bybit_connector.Client
	log      *logger.Log
}

func NewBybit(symbol string, priority int) *Bybit {
	if symbol == "" {
		symbol = "SOLUSDT"
	}
	return &Bybit{
		name:     "bybit",
		symbol:   symbol,
		priority: priority,
		client:   bybit_connector.NewBybitHttpClient("", ""),
		log:      logger.GetLogger(),
	}
}

func (p *Bybit) Name() string  { return p.name }
func (p *Bybit) Priority() int { return p.priority }
func (p *Bybit) Categories() []market.Category {
	return []market.Category{market.CategoryReferencePrice}
}

type bybitTickerResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

func (p *Bybit) Query(ctx context.Context, key market.ResourceKey, budget health.TimeoutBudget) market.QueryResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, budget.Total)
	defer cancel()

	params := map[string]interface{}{"category": "spot", "symbol": p.symbol}
	resp, err := p.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil || resp == nil || resp.RetCode != 0 {
		if err != nil {
			p.log.WithComponent("bybit_provider").WithError(err).Debug("ticker query failed")
		}
		return failedResult(key, p.name, p.priority, start)
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return failedResult(key, p.name, p.priority, start)
	}
	var result bybitTickerResult
	if err := json.Unmarshal(raw, &result); err != nil || len(result.List) == 0 {
		return failedResult(key, p.name, p.priority, start)
	}

	price, err := strconv.ParseFloat(result.List[0].LastPrice, 64)
	if err != nil || price <= 0 {
		return failedResult(key, p.name, p.priority, start)
	}

	return market.QueryResult{
		Key:       key,
		Data:      market.TokenMarketData{PriceUSD: price, Symbol: "SOL"},
		Source:    p.name,
		Priority:  p.priority,
		Latency:   time.Since(start),
		Success:   true,
		Timestamp: time.Now(),
	}
}
