package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := &Config{
		Chains: []ChainConfig{
			{Name: "ethereum", Type: ChainTypeEVM, Endpoints: []string{"http://localhost:8545"}},
			{Name: "starknet", Type: ChainTypeStarknet, Endpoints: []string{"http://localhost:9545"}},
		},
	}
	cfg.SetDefaults()
	return cfg
}

// TestNewConfig tests creating a config with defaults
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	if cfg == nil {
		t.Fatal("NewConfig() returned nil")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected default log format 'json', got %q", cfg.Log.Format)
	}
	if cfg.Indexer.Workers != 8 {
		t.Errorf("Expected default workers 8, got %d", cfg.Indexer.Workers)
	}
	if cfg.RPC.BackoffBase != 500*time.Millisecond {
		t.Errorf("Expected default backoff base 500ms, got %v", cfg.RPC.BackoffBase)
	}
	if cfg.Broadcaster.QueueBackend != QueueBackendMemory {
		t.Errorf("Expected default queue backend memory, got %q", cfg.Broadcaster.QueueBackend)
	}
}

// TestChainDefaults tests that chains inherit shared settings
func TestChainDefaults(t *testing.T) {
	cfg := &Config{
		Indexer: IndexerConfig{BatchSize: 25},
		RPC:     RPCConfig{Timeout: 3 * time.Second},
		Chains:  []ChainConfig{{Name: "base", Endpoints: []string{"http://a"}}, {Name: "op", BatchSize: 5, Endpoints: []string{"http://b"}}},
	}
	cfg.SetDefaults()

	if cfg.Chains[0].Type != ChainTypeEVM {
		t.Errorf("expected evm default type, got %q", cfg.Chains[0].Type)
	}
	if cfg.Chains[0].BatchSize != 25 {
		t.Errorf("expected inherited batch size 25, got %d", cfg.Chains[0].BatchSize)
	}
	if cfg.Chains[1].BatchSize != 5 {
		t.Errorf("expected explicit batch size 5, got %d", cfg.Chains[1].BatchSize)
	}
	if cfg.Chains[0].RPCTimeout != 3*time.Second {
		t.Errorf("expected inherited timeout 3s, got %v", cfg.Chains[0].RPCTimeout)
	}
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
			errMsg:  "invalid log format",
		},
		{
			name:    "no chains",
			mutate:  func(c *Config) { c.Chains = nil },
			wantErr: true,
			errMsg:  "at least one chain",
		},
		{
			name:    "unknown chain type",
			mutate:  func(c *Config) { c.Chains[0].Type = "solana" },
			wantErr: true,
			errMsg:  "invalid chain type",
		},
		{
			name:    "duplicate chain",
			mutate:  func(c *Config) { c.Chains[1].Name = "ethereum" },
			wantErr: true,
			errMsg:  "duplicate chain name",
		},
		{
			name:    "chain without endpoints",
			mutate:  func(c *Config) { c.Chains[0].Endpoints = nil },
			wantErr: true,
			errMsg:  "no RPC endpoints",
		},
		{
			name:    "backoff max below base",
			mutate:  func(c *Config) { c.RPC.BackoffMax = time.Millisecond },
			wantErr: true,
			errMsg:  "backoff max",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Indexer.Workers = 0 },
			wantErr: true,
			errMsg:  "worker count",
		},
		{
			name:    "redis backend without address",
			mutate:  func(c *Config) { c.Broadcaster.QueueBackend = QueueBackendRedis },
			wantErr: true,
			errMsg:  "redis address",
		},
		{
			name:    "pebble backend without path",
			mutate:  func(c *Config) { c.Broadcaster.QueueBackend = QueueBackendPebble },
			wantErr: true,
			errMsg:  "storage path",
		},
		{
			name:    "auth without secret",
			mutate:  func(c *Config) { c.Broadcaster.Auth.Enabled = true },
			wantErr: true,
			errMsg:  "no secret",
		},
		{
			name:    "kafka without topic",
			mutate:  func(c *Config) { c.Kafka = KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}} },
			wantErr: true,
			errMsg:  "kafka topic",
		},
		{
			name:    "database without host",
			mutate:  func(c *Config) { c.Database.Enabled = true },
			wantErr: true,
			errMsg:  "database host",
		},
		{
			name:    "invalid api port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
			errMsg:  "invalid API port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

// TestLoadFromEnv tests loading configuration from environment variables
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("INDEXER_LOG_LEVEL", "debug")
	t.Setenv("INDEXER_LOG_FORMAT", "console")
	t.Setenv("INDEXER_WORKERS", "16")
	t.Setenv("INDEXER_RPC_TIMEOUT", "5s")
	t.Setenv("INDEXER_RPC_BACKOFF_BASE", "1s")
	t.Setenv("INDEXER_CHAIN_ETHEREUM_ENDPOINTS", "http://a:8545, http://b:8545")
	t.Setenv("INDEXER_QUEUE_BACKEND", "redis")
	t.Setenv("INDEXER_REDIS_ADDRESS", "localhost:6379")
	t.Setenv("INDEXER_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("INDEXER_KAFKA_TOPIC", "jobs")

	cfg := validConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Expected log format 'console', got %q", cfg.Log.Format)
	}
	if cfg.Indexer.Workers != 16 {
		t.Errorf("Expected workers 16, got %d", cfg.Indexer.Workers)
	}
	if cfg.RPC.Timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", cfg.RPC.Timeout)
	}
	if cfg.RPC.BackoffBase != time.Second {
		t.Errorf("Expected backoff base 1s, got %v", cfg.RPC.BackoffBase)
	}
	want := []string{"http://a:8545", "http://b:8545"}
	if !reflect.DeepEqual(cfg.Chains[0].Endpoints, want) {
		t.Errorf("Expected endpoints %v, got %v", want, cfg.Chains[0].Endpoints)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Topic != "jobs" {
		t.Errorf("unexpected kafka config: %+v", cfg.Kafka)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after env load error = %v", err)
	}
}

// TestLoadFromEnvInvalid tests invalid environment values
func TestLoadFromEnvInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"INDEXER_WORKERS", "many"},
		{"INDEXER_RPC_TIMEOUT", "soon"},
		{"INDEXER_API_PORT", "http"},
		{"INDEXER_DB_ENABLED", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := validConfig()
			if err := cfg.LoadFromEnv(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

// TestLoadFromFile tests loading configuration from a YAML file
func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log:
  level: warn
  format: console
indexer:
  workers: 4
  batch_size: 20
rpc:
  timeout: 10s
  backoff_base: 250ms
  backoff_max: 1m
chains:
  - name: ethereum
    type: evm
    endpoints:
      - http://node-1:8545
      - http://node-2:8545
    rate_limit: 10
  - name: starknet-mainnet
    type: starknet
    endpoints:
      - http://starknet:9545
broadcaster:
  queue_backend: memory
  auth:
    enabled: true
    secret: s3cret
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log level 'warn', got %q", cfg.Log.Level)
	}
	if len(cfg.Chains) != 2 {
		t.Fatalf("Expected 2 chains, got %d", len(cfg.Chains))
	}
	if cfg.Chains[0].BatchSize != 20 {
		t.Errorf("Expected chain batch size 20, got %d", cfg.Chains[0].BatchSize)
	}
	if cfg.Chains[1].Type != ChainTypeStarknet {
		t.Errorf("Expected starknet chain type, got %q", cfg.Chains[1].Type)
	}
	if cfg.RPC.BackoffMax != time.Minute {
		t.Errorf("Expected backoff max 1m, got %v", cfg.RPC.BackoffMax)
	}
	if ch, ok := cfg.Chain("starknet-mainnet"); !ok || ch.Endpoints[0] != "http://starknet:9545" {
		t.Errorf("Chain() lookup failed: %+v %v", ch, ok)
	}
	if !cfg.Broadcaster.Auth.Enabled || cfg.Broadcaster.Auth.Secret != "s3cret" {
		t.Errorf("unexpected auth config: %+v", cfg.Broadcaster.Auth)
	}
}

// TestLoadFromFileNotFound tests loading from a non-existent file
func TestLoadFromFileNotFound(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for non-existent file")
	}
}

// TestLoadFromFileInvalidYAML tests loading invalid YAML
func TestLoadFromFileInvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(configFile, []byte("chains: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFromFile(configFile); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

// TestLoadInvalidConfig tests that Load validates the result
func TestLoadInvalidConfig(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configFile); err == nil {
		t.Error("Expected validation error for config without chains")
	}
}

func TestEnvName(t *testing.T) {
	if got := envName("starknet-mainnet"); got != "STARKNET_MAINNET" {
		t.Errorf("envName() = %q", got)
	}
	if got := splitList(" a, ,b "); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("splitList() = %v", got)
	}
}
