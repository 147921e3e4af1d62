package coordinator

import (
	"context"
	"time"

	"tokenflow/internal/market"
	"tokenflow/logger"
)

// Warmer keeps a configured set of hot tokens permanently cached by walking
// them through the engine on a ticker. Viral tokens ride the same loop but are
// forced fresh every pass since their prices move too fast for refresh-ahead.
type Warmer struct {
	engine   *Engine
	popular  []string
	viral    []string
	interval time.Duration
	log      *logger.Log
}

func NewWarmer(engine *Engine, popular, viral []string, interval time.Duration) *Warmer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Warmer{
		engine:   engine,
		popular:  popular,
		viral:    viral,
		interval: interval,
		log:      logger.GetLogger(),
	}
}

// Run blocks until the context ends, refreshing the configured tokens each
// tick. One slow token must not stall the rest, so each pass fans out.
func (w *Warmer) Run(ctx context.Context) {
	if len(w.popular) == 0 && len(w.viral) == 0 {
		return
	}

	w.log.WithComponent("warmer").WithFields(logger.Fields{
		"popular":  len(w.popular),
		"viral":    len(w.viral),
		"interval": w.interval.String(),
	}).Info("token warmer started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *Warmer) pass(ctx context.Context) {
	for _, mint := range w.popular {
		w.warmOne(ctx, mint, false)
	}
	for _, mint := range w.viral {
		w.warmOne(ctx, mint, true)
	}
}

func (w *Warmer) warmOne(ctx context.Context, mint string, force bool) {
	warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	key := market.NewResourceKey(market.CategoryTokenPrice, mint)
	if _, err := w.engine.GetOrFetch(warmCtx, key, force); err != nil {
		w.log.WithComponent("warmer").WithFields(logger.Fields{
			"mint": mint,
		}).WithError(err).Debug("warm pass failed")
	}
}
