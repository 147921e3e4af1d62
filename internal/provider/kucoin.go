package provider

import (
	"context"
	"strconv"
	"time"

	api "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	spotmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/spot/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"

	"tokenflow/internal/health"
	"tokenflow/internal/market"
	"tokenflow/logger"
)

// Kucoin supplies the SOL/USDT reference price through the KuCoin universal
// SDK spot market API.
type Kucoin struct {
	name      string
	symbol    string
	priority  int
	marketAPI spotmarket.MarketAPI
	log       *logger.Log
}

func NewKucoin(baseURL, symbol string, priority int, pool PoolOptions) *Kucoin {
	if baseURL == "" {
		baseURL = "https://api.kucoin.com"
	}
	if symbol == "" {
		symbol = "SOL-USDT"
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(pool.MaxIdleConns).
		SetMaxIdleConnsPerHost(pool.MaxIdleConns).
		SetMaxConnsPerHost(pool.MaxConnsPerHost).
		SetIdleConnTimeout(pool.IdleConnTimeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithSpotEndpoint(baseURL).
		WithTransportOption(transportOpt).
		Build()

	client := api.NewClient(option)
	marketAPI := client.RestService().GetSpotService().GetMarketAPI()

	return &Kucoin{
		name:      "kucoin",
		symbol:    symbol,
		priority:  priority,
		marketAPI: marketAPI,
		log:       logger.GetLogger(),
	}
}

func (p *Kucoin) Name() string  { return p.name }
func (p *Kucoin) Priority() int { return p.priority }
func (p *Kucoin) Categories() []market.Category {
	return []market.Category{market.CategoryReferencePrice}
}

func (p *Kucoin) Query(ctx context.Context, key market.ResourceKey, budget health.TimeoutBudget) market.QueryResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, budget.Total)
	defer cancel()

	req := spotmarket.NewGetTickerReqBuilder().SetSymbol(p.symbol).Build()
	resp, err := p.marketAPI.GetTicker(req, ctx)
	if err != nil || resp == nil {
		if err != nil {
			p.log.WithComponent("kucoin_provider").WithError(err).Debug("ticker query failed")
		}
		return failedResult(key, p.name, p.priority, start)
	}

	price, err := strconv.ParseFloat(resp.Price, 64)
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
