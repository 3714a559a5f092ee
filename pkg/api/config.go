package api

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/product-labo/Meta-sub005/internal/config"
	"github.com/product-labo/Meta-sub005/internal/constants"
)

// Config holds API server configuration
type Config struct {
	// Host is the server host (default: localhost)
	Host string

	// Port is the server port (default: 8080)
	Port int

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration

	// MaxHeaderBytes is the maximum size of request headers
	MaxHeaderBytes int

	// EnableCORS enables CORS middleware
	EnableCORS bool

	// AllowedOrigins is a list of allowed CORS origins
	AllowedOrigins []string

	// WebSocketPath is the progress WebSocket endpoint path (default: /ws)
	WebSocketPath string

	// APIPrefix is the mount point of the job API (default: /api/v1)
	APIPrefix string

	// APIKeys maps accepted job API keys to a label. Empty disables key checks.
	APIKeys map[string]string

	// EnableGraphQL mounts the GraphQL job endpoint under APIPrefix
	EnableGraphQL bool

	// GraphQLPath is the GraphQL endpoint path under APIPrefix (default: /graphql)
	GraphQLPath string

	// ShutdownTimeout is the graceful shutdown timeout
	ShutdownTimeout time.Duration

	// EnableRateLimit enables rate limiting middleware
	EnableRateLimit bool

	// RateLimitPerSecond is the number of requests allowed per second per IP
	RateLimitPerSecond float64

	// RateLimitBurst is the maximum burst size
	RateLimitBurst int
}

// DefaultConfig returns a default API server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:               constants.DefaultAPIHost,
		Port:               constants.DefaultAPIPort,
		ReadTimeout:        constants.DefaultReadTimeout,
		WriteTimeout:       constants.DefaultWriteTimeout,
		IdleTimeout:        constants.DefaultIdleTimeout,
		MaxHeaderBytes:     constants.DefaultMaxHeaderBytes,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		WebSocketPath:      constants.DefaultWebSocketPath,
		APIPrefix:          constants.DefaultAPIPrefix,
		EnableGraphQL:      true,
		GraphQLPath:        constants.DefaultGraphQLPath,
		ShutdownTimeout:    constants.DefaultShutdownTimeout,
		EnableRateLimit:    false,
		RateLimitPerSecond: constants.DefaultRateLimitPerSecond,
		RateLimitBurst:     constants.DefaultRateLimitBurst,
	}
}

// FromConfig builds the server configuration from the indexer configuration
func FromConfig(cfg *config.Config) *Config {
	c := DefaultConfig()
	c.Host = cfg.API.Host
	c.Port = cfg.API.Port
	c.EnableCORS = cfg.API.EnableCORS
	c.AllowedOrigins = cfg.API.AllowedOrigins
	c.EnableRateLimit = cfg.API.EnableRateLimit
	if cfg.API.RateLimit > 0 {
		c.RateLimitPerSecond = cfg.API.RateLimit
	}
	if cfg.API.RateBurst > 0 {
		c.RateLimitBurst = cfg.API.RateBurst
	}
	if cfg.API.ShutdownTimeout > 0 {
		c.ShutdownTimeout = cfg.API.ShutdownTimeout
	}
	if cfg.Broadcaster.Path != "" {
		c.WebSocketPath = cfg.Broadcaster.Path
	}
	c.APIKeys = cfg.API.APIKeys
	c.EnableGraphQL = !cfg.API.DisableGraphQL
	if cfg.API.GraphQLPath != "" {
		c.GraphQLPath = cfg.API.GraphQLPath
	}
	return c
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < constants.MinPort || c.Port > constants.MaxPort {
		return fmt.Errorf("port must be between %d and %d", constants.MinPort, constants.MaxPort)
	}
	if c.ReadTimeout <= 0 {
		return errors.New("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}
	if c.MaxHeaderBytes <= 0 {
		return errors.New("max header bytes must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.WebSocketPath == "" || c.WebSocketPath[0] != '/' {
		return fmt.Errorf("websocket path %q must start with /", c.WebSocketPath)
	}
	if c.APIPrefix == "" || c.APIPrefix[0] != '/' {
		return fmt.Errorf("api prefix %q must start with /", c.APIPrefix)
	}
	if c.EnableGraphQL && (c.GraphQLPath == "" || c.GraphQLPath[0] != '/') {
		return fmt.Errorf("graphql path %q must start with /", c.GraphQLPath)
	}
	if c.EnableRateLimit && (c.RateLimitPerSecond <= 0 || c.RateLimitBurst <= 0) {
		return errors.New("rate limit and burst must be positive when rate limiting is enabled")
	}
	return nil
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
