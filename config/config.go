package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml values can be written as "800ms" or
// "1.5s" in the configuration file.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Tokenflow   TokenflowConfig   `yaml:"tokenflow"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Health      HealthConfig      `yaml:"health"`
	Cache       CacheConfig       `yaml:"cache"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Stream      StreamConfig      `yaml:"stream"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Status      StatusConfig      `yaml:"status"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type TokenflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Region     string `yaml:"region"`
	Namespace  string `yaml:"namespace"`
}

type HealthConfig struct {
	WindowSize     int      `yaml:"window_size"`
	InitialTimeout Duration `yaml:"initial_timeout"`
	MinTimeout     Duration `yaml:"min_timeout"`
	MaxTimeout     Duration `yaml:"max_timeout"`
}

type CacheConfig struct {
	TTL        map[string]Duration `yaml:"ttl"`
	StaleBound float64             `yaml:"stale_bound"`
}

type CoordinatorConfig struct {
	ConsensusWindow Duration `yaml:"consensus_window"`
	TrimMinSources  int      `yaml:"trim_min_sources"`
	RefreshWorkers  int      `yaml:"refresh_workers"`
}

type StreamConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	MaxRetries    int      `yaml:"max_retries"`
	ReconnectMin  Duration `yaml:"reconnect_min"`
	ReconnectMax  Duration `yaml:"reconnect_max"`
	PingInterval  Duration `yaml:"ping_interval"`
	MessageBuffer int      `yaml:"message_buffer"`
}

type ProvidersConfig struct {
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	DexScreener ProviderConfig   `yaml:"dexscreener"`
	Jupiter     ProviderConfig   `yaml:"jupiter"`
	PumpFun     ProviderConfig   `yaml:"pumpfun"`
	Binance     ProviderConfig   `yaml:"binance"`
	Kucoin      ProviderConfig   `yaml:"kucoin"`
	Bybit       ProviderConfig   `yaml:"bybit"`
	RPC         RPCConfig        `yaml:"rpc"`
	Pool        ConnectionConfig `yaml:"connection_pool"`
}

type ProviderConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Priority int    `yaml:"priority"`
	Symbol   string `yaml:"symbol"`
	APIKey   string `yaml:"api_key"`
}

type RPCConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Priority int    `yaml:"priority"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type ConnectionConfig struct {
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	MaxConnsPerHost int      `yaml:"max_conns_per_host"`
	IdleConnTimeout Duration `yaml:"idle_conn_timeout"`
}

type MonitorConfig struct {
	Enabled         bool     `yaml:"enabled"`
	PopularTokens   []string `yaml:"popular_tokens"`
	ViralTokens     []string `yaml:"viral_tokens"`
	RefreshInterval Duration `yaml:"refresh_interval"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override sensitive settings from environment variables if available
	if v := os.Getenv("RPC_ENDPOINT"); v != "" {
		config.Providers.RPC.Endpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("BIRDEYE_API_KEY"); v != "" {
		config.Providers.Jupiter.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("STREAM_URL"); v != "" {
		config.Stream.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.Metrics.Region = strings.TrimSpace(v)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Health: HealthConfig{
			WindowSize:     50,
			InitialTimeout: Duration(1500 * time.Millisecond),
			MinTimeout:     Duration(800 * time.Millisecond),
			MaxTimeout:     Duration(4 * time.Second),
		},
		Cache: CacheConfig{
			StaleBound: 3.0,
		},
		Coordinator: CoordinatorConfig{
			ConsensusWindow: Duration(2 * time.Second),
			TrimMinSources:  4,
			RefreshWorkers:  4,
		},
		Stream: StreamConfig{
			MaxRetries:    5,
			ReconnectMin:  Duration(2 * time.Second),
			ReconnectMax:  Duration(10 * time.Second),
			PingInterval:  Duration(20 * time.Second),
			MessageBuffer: 256,
		},
		Providers: ProvidersConfig{
			RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 2},
			Pool: ConnectionConfig{
				MaxIdleConns:    32,
				MaxConnsPerHost: 16,
				IdleConnTimeout: Duration(90 * time.Second),
			},
		},
		Monitor: MonitorConfig{
			RefreshInterval: Duration(5 * time.Second),
		},
		Status: StatusConfig{
			Address: ":8080",
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Tokenflow.Name == "" {
		return fmt.Errorf("tokenflow.name is required")
	}

	if cfg.Tokenflow.Version == "" {
		return fmt.Errorf("tokenflow.version is required")
	}

	if cfg.Health.WindowSize <= 0 {
		return fmt.Errorf("health.window_size must be greater than 0")
	}
	if cfg.Health.MinTimeout <= 0 || cfg.Health.MaxTimeout <= cfg.Health.MinTimeout {
		return fmt.Errorf("health timeouts must satisfy 0 < min_timeout < max_timeout")
	}
	if cfg.Health.InitialTimeout < cfg.Health.MinTimeout || cfg.Health.InitialTimeout > cfg.Health.MaxTimeout {
		return fmt.Errorf("health.initial_timeout must lie within [min_timeout, max_timeout]")
	}

	if cfg.Cache.StaleBound < 1.0 {
		return fmt.Errorf("cache.stale_bound must be at least 1.0")
	}

	if cfg.Coordinator.ConsensusWindow <= 0 {
		return fmt.Errorf("coordinator.consensus_window must be greater than 0")
	}
	if cfg.Coordinator.TrimMinSources < 2 {
		return fmt.Errorf("coordinator.trim_min_sources must be at least 2")
	}
	if cfg.Coordinator.RefreshWorkers <= 0 {
		return fmt.Errorf("coordinator.refresh_workers must be greater than 0")
	}

	if cfg.Stream.Enabled {
		if cfg.Stream.URL == "" {
			return fmt.Errorf("stream.url is required when the stream is enabled")
		}
		if cfg.Stream.MaxRetries <= 0 {
			return fmt.Errorf("stream.max_retries must be greater than 0")
		}
	}

	if cfg.Providers.RPC.Enabled && cfg.Providers.RPC.Endpoint == "" {
		return fmt.Errorf("providers.rpc.endpoint is required when the rpc provider is enabled")
	}

	return nil
}
