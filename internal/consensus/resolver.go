package consensus

import (
	"fmt"
	"sort"
	"time"

	"tokenflow/internal/market"
	"tokenflow/logger"
)

// Resolver turns a set of per-provider answers into one trusted value.
//
// With few sources majority voting is meaningless, so a static trust ranking
// decides. With at least trimMin sources the minimum and maximum are dropped
// and the remainder averaged, which damps a single stale or manipulated feed
// without a full statistical outlier model.
type Resolver struct {
	trimMin int
	log     *logger.Log
}

func NewResolver(trimMin int) *Resolver {
	if trimMin < 2 {
		trimMin = 4
	}
	return &Resolver{trimMin: trimMin, log: logger.GetLogger()}
}

// Resolve reconciles the numeric fields (price and market cap) across the
// successful results and fills the descriptive fields from the
// highest-priority source that supplied them. Failed results are discarded
// first; an empty remainder yields market.ErrNoData.
func (r *Resolver) Resolve(results []market.QueryResult) (market.Resolved, error) {
	valid := make([]market.QueryResult, 0, len(results))
	for _, res := range results {
		if res.Success && !res.Data.Empty() {
			valid = append(valid, res)
		}
	}

	if len(valid) == 0 {
		return market.Resolved{}, market.ErrNoData
	}

	// Highest priority first; descriptive fields and the few-source
	// tie-break both follow this order.
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Priority > valid[j].Priority
	})

	key := valid[0].Key
	resolved := market.Resolved{
		Key:       key,
		FetchedAt: time.Now(),
	}

	if len(valid) == 1 {
		resolved.Data = valid[0].Data
		resolved.Source = valid[0].Source
		return resolved, nil
	}

	if len(valid) < r.trimMin {
		resolved.Data = valid[0].Data
		resolved.Source = valid[0].Source
		r.fillDescriptive(&resolved.Data, valid)
		r.log.WithComponent("consensus").WithFields(logger.Fields{
			"key":     key.String(),
			"source":  resolved.Source,
			"sources": len(valid),
		}).Debug("resolved by priority")
		return resolved, nil
	}

	resolved.Data = valid[0].Data
	trimmedPrice, priceCount := trimmedMean(valid, func(d market.TokenMarketData) float64 { return d.PriceUSD })
	trimmedMC, _ := trimmedMean(valid, func(d market.TokenMarketData) float64 { return d.MarketCapUSD })
	if priceCount > 0 {
		resolved.Data.PriceUSD = trimmedPrice
	}
	if trimmedMC > 0 {
		resolved.Data.MarketCapUSD = trimmedMC
	}
	resolved.Source = fmt.Sprintf("consensus(%d)", priceCount)
	r.fillDescriptive(&resolved.Data, valid)

	r.log.WithComponent("consensus").WithFields(logger.Fields{
		"key":     key.String(),
		"sources": priceCount,
		"price":   resolved.Data.PriceUSD,
	}).Debug("resolved by trimmed mean")
	return resolved, nil
}

// fillDescriptive replaces empty non-numeric fields with values from the
// highest-priority source that has them, independent of the numeric winner.
func (r *Resolver) fillDescriptive(data *market.TokenMarketData, valid []market.QueryResult) {
	for _, res := range valid {
		if data.Name == "" && res.Data.Name != "" {
			data.Name = res.Data.Name
		}
		if data.Symbol == "" && res.Data.Symbol != "" {
			data.Symbol = res.Data.Symbol
		}
		if data.LiquidityUSD == 0 && res.Data.LiquidityUSD > 0 {
			data.LiquidityUSD = res.Data.LiquidityUSD
		}
		if data.Volume24hUSD == 0 && res.Data.Volume24hUSD > 0 {
			data.Volume24hUSD = res.Data.Volume24hUSD
		}
	}
}

// trimmedMean sorts the positive values of one numeric field, drops the
// minimum and maximum, and averages the rest. The returned count is the
// number of values contributing to the mean.
func trimmedMean(valid []market.QueryResult, field func(market.TokenMarketData) float64) (float64, int) {
	values := make([]float64, 0, len(valid))
	for _, res := range valid {
		if v := field(res.Data); v > 0 {
			values = append(values, v)
		}
	}
	if len(values) < 3 {
		if len(values) == 0 {
			return 0, 0
		}
		// Too few positive samples to trim; fall back to the mean.
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), len(values)
	}

	sort.Float64s(values)
	trimmed := values[1 : len(values)-1]
	sum := 0.0
	for _, v := range trimmed {
		sum += v
	}
	return sum / float64(len(trimmed)), len(trimmed)
}
