package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalYAML = `tokenflow:
  name: "TestApp"
  version: "1.0"
cache:
  ttl:
    token_price: 1s
    token_supply: 30s
providers:
  dexscreener:
    enabled: true
    priority: 8
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Tokenflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Tokenflow.Name)
	}
	if got := cfg.Cache.TTL["token_price"].Std(); got != time.Second {
		t.Errorf("unexpected token_price ttl: %v", got)
	}
	if cfg.Providers.DexScreener.Priority != 8 {
		t.Errorf("unexpected dexscreener priority: %d", cfg.Providers.DexScreener.Priority)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Health.WindowSize != 50 {
		t.Errorf("unexpected health window: %d", cfg.Health.WindowSize)
	}
	if cfg.Health.MinTimeout.Std() != 800*time.Millisecond {
		t.Errorf("unexpected min timeout: %v", cfg.Health.MinTimeout.Std())
	}
	if cfg.Health.MaxTimeout.Std() != 4*time.Second {
		t.Errorf("unexpected max timeout: %v", cfg.Health.MaxTimeout.Std())
	}
	if cfg.Cache.StaleBound != 3.0 {
		t.Errorf("unexpected stale bound: %v", cfg.Cache.StaleBound)
	}
	if cfg.Coordinator.TrimMinSources != 4 {
		t.Errorf("unexpected trim minimum: %d", cfg.Coordinator.TrimMinSources)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	path := writeTempConfig(t, "tokenflow:\n  version: \"1.0\"\n")
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for missing name")
	}
}

func TestLoadConfigStreamValidation(t *testing.T) {
	content := minimalYAML + `stream:
  enabled: true
`
	path := writeTempConfig(t, content)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for enabled stream without url")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RPC_ENDPOINT", "https://example-rpc.test")
	path := writeTempConfig(t, minimalYAML)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Providers.RPC.Endpoint != "https://example-rpc.test" {
		t.Errorf("rpc endpoint not overridden: %s", cfg.Providers.RPC.Endpoint)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	path := writeTempConfig(t, minimalYAML+"health:\n  initial_timeout: 1500ms\n")
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Health.InitialTimeout.Std() != 1500*time.Millisecond {
		t.Errorf("unexpected initial timeout: %v", cfg.Health.InitialTimeout.Std())
	}
}
