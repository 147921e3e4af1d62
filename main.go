package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tokenflow/config"
	"tokenflow/internal/cache"
	"tokenflow/internal/consensus"
	"tokenflow/internal/coordinator"
	"tokenflow/internal/health"
	"tokenflow/internal/market"
	"tokenflow/internal/provider"
	"tokenflow/internal/status"
	"tokenflow/internal/stream"
	"tokenflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.Tokenflow.Name,
		"version":     cfg.Tokenflow.Version,
		"environment": env,
	}).Info("starting tokenflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch && config.IsProductionLike(env) {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	pool := provider.PoolOptions{
		MaxIdleConns:    cfg.Providers.Pool.MaxIdleConns,
		MaxConnsPerHost: cfg.Providers.Pool.MaxConnsPerHost,
		IdleConnTimeout: cfg.Providers.Pool.IdleConnTimeout.Std(),
	}
	providers := buildProviders(cfg, pool)
	if len(providers) == 0 {
		log.Error("no providers enabled, nothing to serve")
		os.Exit(1)
	}
	log.WithFields(logger.Fields{"providers": len(providers)}).Info("providers configured")

	monitor := health.NewMonitor(health.Options{
		WindowSize:     cfg.Health.WindowSize,
		InitialTimeout: cfg.Health.InitialTimeout.Std(),
		MinTimeout:     cfg.Health.MinTimeout.Std(),
		MaxTimeout:     cfg.Health.MaxTimeout.Std(),
	})

	store := cache.New(cache.Options{
		TTLs:       cacheTTLs(cfg),
		StaleBound: cfg.Cache.StaleBound,
	})

	coord := coordinator.New(coordinator.Options{
		Providers:         providers,
		Health:            monitor,
		RequestsPerSecond: float64(cfg.Providers.RateLimit.RequestsPerSecond),
		BurstSize:         cfg.Providers.RateLimit.BurstSize,
		ConsensusWindow:   cfg.Coordinator.ConsensusWindow.Std(),
	})

	engine := coordinator.NewEngine(coordinator.EngineOptions{
		Cache:          store,
		Coordinator:    coord,
		Resolver:       consensus.NewResolver(cfg.Coordinator.TrimMinSources),
		RefreshWorkers: cfg.Coordinator.RefreshWorkers,
	})
	engine.Start(ctx)

	var streamMgr *stream.Manager
	if cfg.Stream.Enabled {
		streamMgr = stream.NewManager(stream.Options{
			URL:           cfg.Stream.URL,
			MaxRetries:    cfg.Stream.MaxRetries,
			ReconnectMin:  cfg.Stream.ReconnectMin.Std(),
			ReconnectMax:  cfg.Stream.ReconnectMax.Std(),
			PingInterval:  cfg.Stream.PingInterval.Std(),
			MessageBuffer: cfg.Stream.MessageBuffer,
			Cache:         store,
		})
		streamMgr.Start(ctx)
	}

	if cfg.Monitor.Enabled {
		startMonitor(ctx, cfg, engine, streamMgr, log)
	}

	if cfg.Status.Enabled {
		statusSrv := status.NewServer(status.Options{
			Address:   cfg.Status.Address,
			AppName:   cfg.Tokenflow.Name,
			Version:   cfg.Tokenflow.Version,
			Monitor:   monitor,
			Cache:     store,
			Stream:    streamMgr,
			Providers: providers,
		})
		go func() {
			if err := statusSrv.Run(ctx); err != nil {
				log.WithError(err).Warn("status server exited")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if streamMgr != nil {
		log.Info("stopping stream manager")
		streamMgr.Stop()
	}

	log.Info("stopping engine")
	engine.Stop()

	log.Info("tokenflow stopped")
}

func buildProviders(cfg *config.Config, pool provider.PoolOptions) []provider.Provider {
	client := provider.NewHTTPClient(pool)
	p := cfg.Providers

	providers := make([]provider.Provider, 0, 7)
	if p.DexScreener.Enabled {
		providers = append(providers, provider.NewDexScreener(p.DexScreener.URL, p.DexScreener.Priority, client))
	}
	if p.Jupiter.Enabled {
		providers = append(providers, provider.NewJupiter(p.Jupiter.URL, p.Jupiter.Priority, p.Jupiter.APIKey, client))
	}
	if p.PumpFun.Enabled {
		providers = append(providers, provider.NewPumpFun(p.PumpFun.URL, p.PumpFun.Priority, client))
	}
	if p.Binance.Enabled {
		providers = append(providers, provider.NewBinance(p.Binance.Symbol, p.Binance.Priority))
	}
	if p.Kucoin.Enabled {
		providers = append(providers, provider.NewKucoin(p.Kucoin.URL, p.Kucoin.Symbol, p.Kucoin.Priority, pool))
	}
	if p.Bybit.Enabled {
		providers = append(providers, provider.NewBybit(p.Bybit.Symbol, p.Bybit.Priority))
	}
	if p.RPC.Enabled {
		providers = append(providers, provider.NewSolanaRPC(p.RPC.Endpoint, p.RPC.Priority, client))
	}
	return providers
}

func cacheTTLs(cfg *config.Config) map[market.Category]time.Duration {
	ttls := make(map[market.Category]time.Duration, len(cfg.Cache.TTL))
	for name, ttl := range cfg.Cache.TTL {
		ttls[market.Category(name)] = ttl.Std()
	}
	return ttls
}

// startMonitor keeps the configured token lists warm and, when the stream is
// up, logs live trades for them.
func startMonitor(ctx context.Context, cfg *config.Config, engine *coordinator.Engine, streamMgr *stream.Manager, log *logger.Log) {
	warmer := coordinator.NewWarmer(engine, cfg.Monitor.PopularTokens, cfg.Monitor.ViralTokens, cfg.Monitor.RefreshInterval.Std())
	go warmer.Run(ctx)

	if streamMgr == nil {
		return
	}
	for _, mint := range cfg.Monitor.ViralTokens {
		streamMgr.Subscribe(mint, func(key market.ResourceKey, data market.TokenMarketData) {
			log.WithComponent("monitor").WithFields(logger.Fields{
				"mint":       key.Identifier,
				"price_usd":  data.PriceUSD,
				"market_cap": data.MarketCapUSD,
			}).Info("live trade")
		})
	}
}
