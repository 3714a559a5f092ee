package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20

	// DefaultRateLimitPerSecond is the default API rate limit (requests per second)
	DefaultRateLimitPerSecond = 100

	// DefaultRateLimitBurst is the default API rate limit burst size
	DefaultRateLimitBurst = 200
)

// API Paths
const (
	// DefaultWebSocketPath is the default progress WebSocket endpoint path
	DefaultWebSocketPath = "/ws"

	// DefaultAPIPrefix is the prefix of the job API
	DefaultAPIPrefix = "/api/v1"

	// DefaultGraphQLPath is the GraphQL endpoint path under the API prefix
	DefaultGraphQLPath = "/graphql"

	// DefaultMetricsPath is the default Prometheus metrics path
	DefaultMetricsPath = "/metrics"

	// DefaultHealthPath is the default health check path
	DefaultHealthPath = "/health"
)

// Indexer Constants
const (
	// DefaultNumWorkers is the default number of concurrent chain workers
	DefaultNumWorkers = 8

	// DefaultBatchSize is the default number of blocks fetched per batch
	DefaultBatchSize = 50

	// DefaultRPCTimeout is the default per-call RPC timeout
	DefaultRPCTimeout = 15 * time.Second

	// DefaultJobQueueSize is the maximum number of queued jobs held in memory
	DefaultJobQueueSize = 10000

	// DefaultEventBufferSize is the orchestrator event channel capacity
	DefaultEventBufferSize = 1024

	// DefaultPublishTimeout bounds how long the orchestrator waits on a full event channel
	DefaultPublishTimeout = 2 * time.Second

	// DefaultMaxBackoffWait is how long a worker waits for an endpoint to leave backoff
	// before failing the job
	DefaultMaxBackoffWait = 2 * time.Minute

	// DefaultRateWindow is the sliding window used for blocks/sec
	DefaultRateWindow = 30 * time.Second
)

// RPC Endpoint Constants
const (
	// DefaultBackoffBase is the base delay applied after the first endpoint failure
	DefaultBackoffBase = 500 * time.Millisecond

	// DefaultBackoffMax caps the backoff delay of a single endpoint
	DefaultBackoffMax = 5 * time.Minute

	// DefaultMaxAttempts is the number of endpoint attempts per RPC call
	DefaultMaxAttempts = 5

	// DefaultEndpointRateBurst is the default limiter burst per endpoint
	DefaultEndpointRateBurst = 50
)

// Decoder Constants
const (
	// DefaultLookupTimeout is the HTTP timeout of external signature lookups
	DefaultLookupTimeout = 10 * time.Second

	// DefaultUnknownRetryAfter is how long a negative lookup result is remembered
	DefaultUnknownRetryAfter = 24 * time.Hour

	// DefaultResolverQueueSize is the capacity of the deferred lookup channel
	DefaultResolverQueueSize = 4096

	// DefaultFourByteURL is the 4byte.directory signature endpoint
	DefaultFourByteURL = "https://www.4byte.directory/api/v1/signatures/"

	// DefaultSourcifyURL is the Sourcify signature lookup endpoint
	DefaultSourcifyURL = "https://api.4byte.sourcify.dev/signature-database/v1/lookup"
)

// Broadcaster Constants
const (
	// DefaultMaxClients is the maximum number of concurrent WebSocket clients
	DefaultMaxClients = 10000

	// DefaultSendBufferSize is the per-client outbound message buffer
	DefaultSendBufferSize = 256

	// DefaultHubShards is the number of wallet shards in the hub
	DefaultHubShards = 64

	// DefaultQueueRetention is how long an offline wallet queue is kept
	DefaultQueueRetention = 7 * 24 * time.Hour

	// DefaultRedisQueuePrefix is the key prefix of redis-backed wallet queues
	DefaultRedisQueuePrefix = "indexer:wsqueue:"
)
