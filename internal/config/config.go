package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/product-labo/Meta-sub005/internal/constants"
	"gopkg.in/yaml.v3"
)

// Chain types understood by the indexer
const (
	ChainTypeEVM      = "evm"
	ChainTypeStarknet = "starknet"
)

// Offline queue backends of the progress broadcaster
const (
	QueueBackendMemory = "memory"
	QueueBackendPebble = "pebble"
	QueueBackendRedis  = "redis"
)

// Config holds all configuration for the indexer
type Config struct {
	Log         LogConfig         `yaml:"log"`
	API         APIConfig         `yaml:"api"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	RPC         RPCConfig         `yaml:"rpc"`
	Chains      []ChainConfig     `yaml:"chains"`
	Decoder     DecoderConfig     `yaml:"decoder"`
	Broadcaster BroadcasterConfig `yaml:"broadcaster"`
	Storage     StorageConfig     `yaml:"storage"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// APIConfig holds HTTP server configuration
type APIConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	EnableCORS      bool          `yaml:"enable_cors"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	EnableRateLimit bool          `yaml:"enable_rate_limit"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// APIKeys maps accepted job API keys to a label; empty disables key checks
	APIKeys map[string]string `yaml:"api_keys,omitempty"`
	// DisableGraphQL turns off the GraphQL job endpoint
	DisableGraphQL bool `yaml:"disable_graphql"`
	// GraphQLPath is the GraphQL endpoint path under the API prefix
	GraphQLPath string `yaml:"graphql_path"`
}

// IndexerConfig holds job orchestration and worker settings
type IndexerConfig struct {
	// Workers is the number of jobs indexed concurrently
	Workers int `yaml:"workers"`
	// BatchSize is the default number of blocks per batch
	BatchSize int `yaml:"batch_size"`
	// QueueSize bounds the number of queued jobs held in memory
	QueueSize int `yaml:"queue_size"`
	// EventBuffer is the capacity of the orchestrator event channel
	EventBuffer int `yaml:"event_buffer"`
	// PublishTimeout bounds how long a progress or status event waits on a full channel
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	// MaxBackoffWait is how long a worker waits for a healthy endpoint before failing the job
	MaxBackoffWait time.Duration `yaml:"max_backoff_wait"`
}

// RPCConfig holds endpoint failover settings shared by all chains
type RPCConfig struct {
	// Timeout bounds a single RPC call
	Timeout time.Duration `yaml:"timeout"`
	// BackoffBase is the delay after the first failure of an endpoint
	BackoffBase time.Duration `yaml:"backoff_base"`
	// BackoffMax caps the delay of a failing endpoint
	BackoffMax time.Duration `yaml:"backoff_max"`
	// MaxAttempts is the number of endpoint attempts per call
	MaxAttempts int `yaml:"max_attempts"`
}

// ChainConfig defines one indexed chain and its candidate endpoints
type ChainConfig struct {
	// Name is the unique chain name used in jobs (e.g. "ethereum", "starknet-mainnet")
	Name string `yaml:"name"`
	// Type is "evm" or "starknet"
	Type string `yaml:"type"`
	// Endpoints are JSON-RPC URLs in failover order
	Endpoints []string `yaml:"endpoints"`
	// BatchSize overrides indexer.batch_size for this chain
	BatchSize int `yaml:"batch_size,omitempty"`
	// RPCTimeout overrides rpc.timeout for this chain
	RPCTimeout time.Duration `yaml:"rpc_timeout,omitempty"`
	// RateLimit is the allowed requests/sec per endpoint (0 = unlimited)
	RateLimit float64 `yaml:"rate_limit,omitempty"`
	// RateBurst is the limiter burst per endpoint
	RateBurst int `yaml:"rate_burst,omitempty"`
}

// DecoderConfig holds signature database settings
type DecoderConfig struct {
	// LookupEnabled turns on deferred external selector lookups
	LookupEnabled bool `yaml:"lookup_enabled"`
	// FourByteURL is the 4byte.directory signatures endpoint
	FourByteURL string `yaml:"fourbyte_url"`
	// SourcifyURL is the Sourcify signature lookup endpoint
	SourcifyURL string `yaml:"sourcify_url"`
	// LookupTimeout bounds one external lookup
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
	// UnknownRetryAfter is how long a negative lookup is remembered
	UnknownRetryAfter time.Duration `yaml:"unknown_retry_after"`
	// ResolverQueueSize is the capacity of the pending lookup channel
	ResolverQueueSize int `yaml:"resolver_queue_size"`
	// PersistCache stores resolved signatures in the key/value store
	PersistCache bool `yaml:"persist_cache"`
}

// BroadcasterConfig holds progress websocket settings
type BroadcasterConfig struct {
	// Path is the websocket endpoint path
	Path string `yaml:"path"`
	// MaxClients limits concurrent connections
	MaxClients int `yaml:"max_clients"`
	// SendBuffer is the per-client outbound buffer
	SendBuffer int `yaml:"send_buffer"`
	// Shards is the number of wallet shards of the hub
	Shards int `yaml:"shards"`
	// QueueBackend is "memory", "pebble" or "redis"
	QueueBackend string `yaml:"queue_backend"`
	// QueueRetention expires idle offline queues
	QueueRetention time.Duration `yaml:"queue_retention"`
	// Auth holds handshake authentication settings
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig holds websocket handshake token settings
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer,omitempty"`
}

// StorageConfig holds the embedded key/value store settings
type StorageConfig struct {
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"readonly"`
}

// DatabaseConfig holds the relational store settings
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DbName   string `yaml:"db_name"`
	SSLMode  string `yaml:"ssl_mode"`
	// AutoMigrate creates the engine's tables and indexes at startup
	AutoMigrate bool `yaml:"auto_migrate"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// KafkaConfig holds the job event mirror settings
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.AllowedOrigins == nil {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateBurst == 0 {
		c.API.RateBurst = constants.DefaultRateLimitBurst
	}
	if c.API.ShutdownTimeout == 0 {
		c.API.ShutdownTimeout = constants.DefaultShutdownTimeout
	}
	if c.API.GraphQLPath == "" {
		c.API.GraphQLPath = constants.DefaultGraphQLPath
	}

	// Indexer defaults
	if c.Indexer.Workers == 0 {
		c.Indexer.Workers = constants.DefaultNumWorkers
	}
	if c.Indexer.BatchSize == 0 {
		c.Indexer.BatchSize = constants.DefaultBatchSize
	}
	if c.Indexer.QueueSize == 0 {
		c.Indexer.QueueSize = constants.DefaultJobQueueSize
	}
	if c.Indexer.EventBuffer == 0 {
		c.Indexer.EventBuffer = constants.DefaultEventBufferSize
	}
	if c.Indexer.PublishTimeout == 0 {
		c.Indexer.PublishTimeout = constants.DefaultPublishTimeout
	}
	if c.Indexer.MaxBackoffWait == 0 {
		c.Indexer.MaxBackoffWait = constants.DefaultMaxBackoffWait
	}

	// RPC defaults
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}
	if c.RPC.BackoffBase == 0 {
		c.RPC.BackoffBase = constants.DefaultBackoffBase
	}
	if c.RPC.BackoffMax == 0 {
		c.RPC.BackoffMax = constants.DefaultBackoffMax
	}
	if c.RPC.MaxAttempts == 0 {
		c.RPC.MaxAttempts = constants.DefaultMaxAttempts
	}

	// Per-chain defaults inherit the shared values
	for i := range c.Chains {
		ch := &c.Chains[i]
		if ch.Type == "" {
			ch.Type = ChainTypeEVM
		}
		if ch.BatchSize == 0 {
			ch.BatchSize = c.Indexer.BatchSize
		}
		if ch.RPCTimeout == 0 {
			ch.RPCTimeout = c.RPC.Timeout
		}
		if ch.RateBurst == 0 {
			ch.RateBurst = constants.DefaultEndpointRateBurst
		}
	}

	// Decoder defaults
	if c.Decoder.FourByteURL == "" {
		c.Decoder.FourByteURL = constants.DefaultFourByteURL
	}
	if c.Decoder.SourcifyURL == "" {
		c.Decoder.SourcifyURL = constants.DefaultSourcifyURL
	}
	if c.Decoder.LookupTimeout == 0 {
		c.Decoder.LookupTimeout = constants.DefaultLookupTimeout
	}
	if c.Decoder.UnknownRetryAfter == 0 {
		c.Decoder.UnknownRetryAfter = constants.DefaultUnknownRetryAfter
	}
	if c.Decoder.ResolverQueueSize == 0 {
		c.Decoder.ResolverQueueSize = constants.DefaultResolverQueueSize
	}

	// Broadcaster defaults
	if c.Broadcaster.Path == "" {
		c.Broadcaster.Path = constants.DefaultWebSocketPath
	}
	if c.Broadcaster.MaxClients == 0 {
		c.Broadcaster.MaxClients = constants.DefaultMaxClients
	}
	if c.Broadcaster.SendBuffer == 0 {
		c.Broadcaster.SendBuffer = constants.DefaultSendBufferSize
	}
	if c.Broadcaster.Shards == 0 {
		c.Broadcaster.Shards = constants.DefaultHubShards
	}
	if c.Broadcaster.QueueBackend == "" {
		c.Broadcaster.QueueBackend = QueueBackendMemory
	}
	if c.Broadcaster.QueueRetention == 0 {
		c.Broadcaster.QueueRetention = constants.DefaultQueueRetention
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	// Redis defaults
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = constants.DefaultRedisQueuePrefix
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// Log configuration
	if level := os.Getenv("INDEXER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("INDEXER_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// API configuration
	if host := os.Getenv("INDEXER_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("INDEXER_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_PORT: %w", err)
		}
		c.API.Port = val
	}

	// Indexer configuration
	if workers := os.Getenv("INDEXER_WORKERS"); workers != "" {
		val, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_WORKERS: %w", err)
		}
		c.Indexer.Workers = val
	}
	if batchSize := os.Getenv("INDEXER_BATCH_SIZE"); batchSize != "" {
		val, err := strconv.Atoi(batchSize)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_BATCH_SIZE: %w", err)
		}
		c.Indexer.BatchSize = val
	}

	// RPC configuration
	if timeout := os.Getenv("INDEXER_RPC_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = duration
	}
	if base := os.Getenv("INDEXER_RPC_BACKOFF_BASE"); base != "" {
		duration, err := time.ParseDuration(base)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_RPC_BACKOFF_BASE: %w", err)
		}
		c.RPC.BackoffBase = duration
	}
	if max := os.Getenv("INDEXER_RPC_BACKOFF_MAX"); max != "" {
		duration, err := time.ParseDuration(max)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_RPC_BACKOFF_MAX: %w", err)
		}
		c.RPC.BackoffMax = duration
	}

	// Chain endpoint overrides: INDEXER_CHAIN_<NAME>_ENDPOINTS=url1,url2
	for i := range c.Chains {
		key := "INDEXER_CHAIN_" + envName(c.Chains[i].Name) + "_ENDPOINTS"
		if endpoints := os.Getenv(key); endpoints != "" {
			c.Chains[i].Endpoints = splitList(endpoints)
		}
	}

	// Decoder configuration
	if enabled := os.Getenv("INDEXER_LOOKUP_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_LOOKUP_ENABLED: %w", err)
		}
		c.Decoder.LookupEnabled = val
	}

	// Broadcaster configuration
	if backend := os.Getenv("INDEXER_QUEUE_BACKEND"); backend != "" {
		c.Broadcaster.QueueBackend = backend
	}
	if enabled := os.Getenv("INDEXER_AUTH_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_AUTH_ENABLED: %w", err)
		}
		c.Broadcaster.Auth.Enabled = val
	}
	if secret := os.Getenv("INDEXER_JWT_SECRET"); secret != "" {
		c.Broadcaster.Auth.Secret = secret
	}

	// Storage configuration
	if path := os.Getenv("INDEXER_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}

	// Database configuration
	if enabled := os.Getenv("INDEXER_DB_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_DB_ENABLED: %w", err)
		}
		c.Database.Enabled = val
	}
	if host := os.Getenv("INDEXER_DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if port := os.Getenv("INDEXER_DB_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_DB_PORT: %w", err)
		}
		c.Database.Port = val
	}
	if user := os.Getenv("INDEXER_DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("INDEXER_DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if name := os.Getenv("INDEXER_DB_NAME"); name != "" {
		c.Database.DbName = name
	}

	// Redis configuration
	if addr := os.Getenv("INDEXER_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if password := os.Getenv("INDEXER_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}

	// Kafka configuration
	if brokers := os.Getenv("INDEXER_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
		c.Kafka.Enabled = true
	}
	if topic := os.Getenv("INDEXER_KAFKA_TOPIC"); topic != "" {
		c.Kafka.Topic = topic
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate API configuration
	if c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort {
		return fmt.Errorf("invalid API port %d", c.API.Port)
	}

	// Validate indexer configuration
	if c.Indexer.Workers <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	if c.Indexer.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Indexer.QueueSize <= 0 {
		return fmt.Errorf("job queue size must be positive")
	}

	// Validate RPC configuration
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if c.RPC.BackoffBase <= 0 {
		return fmt.Errorf("RPC backoff base must be positive")
	}
	if c.RPC.BackoffMax < c.RPC.BackoffBase {
		return fmt.Errorf("RPC backoff max must not be smaller than backoff base")
	}
	if c.RPC.MaxAttempts <= 0 {
		return fmt.Errorf("RPC max attempts must be positive")
	}

	// Validate chains
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	validChainTypes := map[string]bool{
		ChainTypeEVM:      true,
		ChainTypeStarknet: true,
	}
	seen := make(map[string]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.Name == "" {
			return fmt.Errorf("chain name is required")
		}
		if seen[ch.Name] {
			return fmt.Errorf("duplicate chain name %q", ch.Name)
		}
		seen[ch.Name] = true
		if !validChainTypes[ch.Type] {
			return fmt.Errorf("invalid chain type %q for chain %q, must be one of: evm, starknet", ch.Type, ch.Name)
		}
		if len(ch.Endpoints) == 0 {
			return fmt.Errorf("chain %q has no RPC endpoints", ch.Name)
		}
		if ch.RateLimit < 0 {
			return fmt.Errorf("chain %q rate limit cannot be negative", ch.Name)
		}
	}

	// Validate broadcaster configuration
	validBackends := map[string]bool{
		QueueBackendMemory: true,
		QueueBackendPebble: true,
		QueueBackendRedis:  true,
	}
	if !validBackends[c.Broadcaster.QueueBackend] {
		return fmt.Errorf("invalid queue backend %q, must be one of: memory, pebble, redis", c.Broadcaster.QueueBackend)
	}
	if c.Broadcaster.QueueBackend == QueueBackendPebble && c.Storage.Path == "" {
		return fmt.Errorf("storage path is required for the pebble queue backend")
	}
	if c.Broadcaster.QueueBackend == QueueBackendRedis && c.Redis.Address == "" {
		return fmt.Errorf("redis address is required for the redis queue backend")
	}
	if c.Broadcaster.Auth.Enabled && c.Broadcaster.Auth.Secret == "" {
		return fmt.Errorf("websocket auth enabled but no secret configured")
	}
	if c.Broadcaster.Shards <= 0 {
		return fmt.Errorf("hub shard count must be positive")
	}

	// Validate decoder configuration
	if c.Decoder.PersistCache && c.Storage.Path == "" {
		return fmt.Errorf("storage path is required to persist the signature cache")
	}

	// Validate database configuration
	if c.Database.Enabled {
		if c.Database.Host == "" || c.Database.DbName == "" {
			return fmt.Errorf("database host and name are required when the database is enabled")
		}
	}

	// Validate Kafka configuration
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka enabled but no brokers configured")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	return nil
}

// Chain returns the configuration of the named chain
func (c *Config) Chain(name string) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

// Load is a convenience method that loads configuration in the following order:
// 1. Set defaults
// 2. Load from file (if provided)
// 3. Load from environment variables (override file)
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Chains read from the file need their per-chain defaults
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func envName(chain string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(chain))
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
