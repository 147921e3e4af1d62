package provider

import (
	"context"
	"net/http"
	"time"

	"tokenflow/internal/health"
	"tokenflow/internal/market"
	"tokenflow/logger"
)

const defaultJupiterURL = "https://price.jup.ag/v4/price"

// Jupiter answers price queries from the Jupiter aggregator price API. It is
// usually the fastest source and therefore carries the highest trust ranking.
type Jupiter struct {
	name     string
	baseURL  string
	priority int
	apiKey   string
	client   *http.Client
	log      *logger.Log
}

func NewJupiter(baseURL string, priority int, apiKey string, client *http.Client) *Jupiter {
	if baseURL == "" {
		baseURL = defaultJupiterURL
	}
	return &Jupiter{
		name:     "jupiter",
		baseURL:  baseURL,
		priority: priority,
		apiKey:   apiKey,
		client:   client,
		log:      logger.GetLogger(),
	}
}

func (p *Jupiter) Name() string  { return p.name }
func (p *Jupiter) Priority() int { return p.priority }
func (p *Jupiter) Categories() []market.Category {
	return []market.Category{market.CategoryTokenPrice, market.CategoryReferencePrice}
}

type jupiterResponse struct {
	Data map[string]struct {
		Price       float64 `json:"price"`
		MintSymbol  string  `json:"mintSymbol"`
		VsTokenName string  `json:"vsToken"`
	} `json:"data"`
}

func (p *Jupiter) Query(ctx context.Context, key market.ResourceKey, budget health.TimeoutBudget) market.QueryResult {
	start := time.Now()

	identifier := key.Identifier
	if key.Category == market.CategoryReferencePrice {
		identifier = market.SolMint
	}

	var headers map[string]string
	if p.apiKey != "" {
		headers = map[string]string{"X-API-KEY": p.apiKey}
	}

	var resp jupiterResponse
	url := p.baseURL + "?ids=" + identifier
	if err := getJSON(ctx, p.client, url, budget.Total, headers, &resp); err != nil {
		p.log.WithComponent("jupiter_provider").WithFields(logger.Fields{
			"identifier": identifier,
		}).WithError(err).Debug("query failed")
		return failedResult(key, p.name, p.priority, start)
	}

	entry, ok := resp.Data[identifier]
	if !ok || entry.Price <= 0 {
		return failedResult(key, p.name, p.priority, start)
	}

	return market.QueryResult{
		Key: key,
		Data: market.TokenMarketData{
			PriceUSD: entry.Price,
			Symbol:   entry.MintSymbol,
		},
		Source:    p.name,
		Priority:  p.priority,
		Latency:   time.Since(start),
		Success:   true,
		Timestamp: time.Now(),
	}
}
