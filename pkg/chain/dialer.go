package chain

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Dialer creates a client for one endpoint of a chain type
type Dialer func(ctx context.Context, chainType Type, url string, logger *zap.Logger) (Client, error)

// Dial is the default Dialer
func Dial(ctx context.Context, chainType Type, url string, logger *zap.Logger) (Client, error) {
	switch chainType {
	case TypeEVM:
		return DialEVM(ctx, url, logger)
	case TypeStarknet:
		return NewStarknetClient(url, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownChainType, chainType)
	}
}

type cacheKey struct {
	chainType Type
	url       string
}

// ClientCache keeps one client per (chain type, endpoint) so workers reuse
// connections across batches and jobs
type ClientCache struct {
	dial   Dialer
	logger *zap.Logger

	mu      sync.Mutex
	clients map[cacheKey]Client
}

// NewClientCache creates a cache; a nil dial uses Dial
func NewClientCache(dial Dialer, logger *zap.Logger) *ClientCache {
	if dial == nil {
		dial = Dial
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientCache{
		dial:    dial,
		logger:  logger,
		clients: make(map[cacheKey]Client),
	}
}

// Get returns the cached client for the endpoint, dialing it on first use
func (c *ClientCache) Get(ctx context.Context, chainType Type, url string) (Client, error) {
	key := cacheKey{chainType: chainType, url: url}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[key]; ok {
		return client, nil
	}
	client, err := c.dial(ctx, chainType, url, c.logger)
	if err != nil {
		return nil, fmt.Errorf("dial %s endpoint %s: %w", chainType, url, err)
	}
	c.clients[key] = client
	return client, nil
}

// Evict closes and forgets the client of an endpoint
func (c *ClientCache) Evict(chainType Type, url string) {
	key := cacheKey{chainType: chainType, url: url}

	c.mu.Lock()
	client, ok := c.clients[key]
	delete(c.clients, key)
	c.mu.Unlock()

	if ok {
		client.Close()
	}
}

// Len returns the number of cached clients
func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// Close closes every cached client
func (c *ClientCache) Close() {
	c.mu.Lock()
	clients := c.clients
	c.clients = make(map[cacheKey]Client)
	c.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
