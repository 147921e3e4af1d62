package provider

import (
	"context"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"tokenflow/internal/health"
	"tokenflow/internal/market"
	"tokenflow/logger"
)

// Binance supplies the SOL/USDT reference price through the official spot
// API client. Centralized exchange prices anchor the consensus when DEX
// sources disagree.
type Binance struct {
	name     string
	symbol   string
	priority int
	client   *binance.Client
	log      *logger.Log
}

func NewBinance(symbol string, priority int) *Binance {
	if symbol == "" {
		symbol = "SOLUSDT"
	}
	return &Binance{
		name:     "binance",
		symbol:   symbol,
		priority: priority,
		client:   binance.NewClient("", ""),
		log:      logger.GetLogger(),
	}
}

func (p *Binance) Name() string  { return p.name }
func (p *Binance) Priority() int { return p.priority }
func (p *Binance) Categories() []market.Category {
	return []market.Category{market.CategoryReferencePrice}
}

func (p *Binance) Query(ctx context.Context, key market.ResourceKey, budget health.TimeoutBudget) market.QueryResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, budget.Total)
	defer cancel()

	prices, err := p.client.NewListPricesService().Symbol(p.symbol).Do(ctx)
	if err != nil || len(prices) == 0 {
		if err != nil {
			p.log.WithComponent("binance_provider").WithError(err).Debug("ticker query failed")
		}
		return failedResult(key, p.name, p.priority, start)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
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
