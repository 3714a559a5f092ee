package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/product-labo/Meta-sub005/internal/constants"
	"github.com/product-labo/Meta-sub005/pkg/metrics"
)

// Config holds the manager-wide endpoint policy
type Config struct {
	// BackoffBase is multiplied by 2^failures to get an endpoint's backoff
	BackoffBase time.Duration
	// BackoffMax caps a single backoff delay
	BackoffMax time.Duration
	// MaxAttempts bounds the endpoints tried by one Do call
	MaxAttempts int
	// CallTimeout is the default per-call timeout
	CallTimeout time.Duration
}

// DefaultConfig returns the default endpoint policy
func DefaultConfig() Config {
	return Config{
		BackoffBase: constants.DefaultBackoffBase,
		BackoffMax:  constants.DefaultBackoffMax,
		MaxAttempts: constants.DefaultMaxAttempts,
		CallTimeout: constants.DefaultRPCTimeout,
	}
}

// ChainOptions overrides the policy of one chain
type ChainOptions struct {
	// CallTimeout overrides Config.CallTimeout when positive
	CallTimeout time.Duration
	// RateLimit is the requests/sec allowed per endpoint; zero means unlimited
	RateLimit float64
	// RateBurst is the limiter burst per endpoint
	RateBurst int
}

// EndpointState is a snapshot of one endpoint
type EndpointState struct {
	URL          string    `json:"url"`
	Failures     int       `json:"failures"`
	BackoffUntil time.Time `json:"backoffUntil"`
	LastError    string    `json:"lastError,omitempty"`
	LastSuccess  time.Time `json:"lastSuccess"`
	Healthy      bool      `json:"healthy"`
}

type endpoint struct {
	state   EndpointState
	limiter *rate.Limiter
}

// pool is the endpoint list of one chain. Each pool has its own lock so
// chains never contend with each other.
type pool struct {
	mu          sync.Mutex
	chain       string
	endpoints   []*endpoint
	cursor      int
	callTimeout time.Duration
}

// Manager rotates between the endpoints of each chain, putting failing
// endpoints into exponential backoff.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	pools map[string]*pool

	now func() time.Time
}

// NewManager creates an endpoint manager with no chains
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}

	return &Manager{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "rpcpool")),
		pools:  make(map[string]*pool),
		now:    time.Now,
	}
}

// AddChain registers the ordered endpoint list of a chain, replacing any
// previous registration.
func (m *Manager) AddChain(chain string, urls []string, opts ChainOptions) error {
	if len(urls) == 0 {
		return fmt.Errorf("%w for chain %s", ErrNoEndpoints, chain)
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = m.cfg.CallTimeout
	}

	p := &pool{chain: chain, callTimeout: timeout}
	seen := make(map[string]bool, len(urls))
	for _, url := range urls {
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		p.endpoints = append(p.endpoints, &endpoint{
			state:   EndpointState{URL: url},
			limiter: rate.NewLimiter(limit, burst),
		})
	}
	if len(p.endpoints) == 0 {
		return fmt.Errorf("%w for chain %s", ErrNoEndpoints, chain)
	}

	m.mu.Lock()
	m.pools[chain] = p
	m.mu.Unlock()

	m.logger.Info("registered chain endpoints",
		zap.String("chain", chain),
		zap.Int("endpoints", len(p.endpoints)),
	)
	return nil
}

// Chains returns the registered chain names, sorted
func (m *Manager) Chains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.pools))
	for name := range m.pools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) pool(chain string) (*pool, error) {
	m.mu.RLock()
	p, ok := m.pools[chain]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	return p, nil
}

// Backoff returns the delay applied after the given number of consecutive
// failures: BackoffBase * 2^failures, capped at BackoffMax.
func (m *Manager) Backoff(failures int) time.Duration {
	delay := m.cfg.BackoffBase
	for i := 0; i < failures; i++ {
		if delay >= m.cfg.BackoffMax/2 {
			return m.cfg.BackoffMax
		}
		delay *= 2
	}
	if delay > m.cfg.BackoffMax {
		return m.cfg.BackoffMax
	}
	return delay
}

// Current returns the endpoint under the cursor when it is healthy,
// otherwise the next healthy one.
func (m *Manager) Current(chain string) (string, error) {
	p, err := m.pool(chain)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := m.now()
	if ep := p.endpoints[p.cursor]; ep.healthy(now) {
		return ep.state.URL, nil
	}
	return p.advance(now)
}

// SwitchToNext moves the cursor to the next endpoint not in backoff
func (m *Manager) SwitchToNext(chain string) (string, error) {
	p, err := m.pool(chain)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advance(m.now())
}

// advance walks the ring once starting after the cursor. Must hold p.mu.
func (p *pool) advance(now time.Time) (string, error) {
	n := len(p.endpoints)
	for i := 1; i <= n; i++ {
		idx := (p.cursor + i) % n
		if p.endpoints[idx].healthy(now) {
			p.cursor = idx
			return p.endpoints[idx].state.URL, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrAllEndpointsInBackoff, p.chain)
}

func (p *pool) find(url string) *endpoint {
	for _, ep := range p.endpoints {
		if ep.state.URL == url {
			return ep
		}
	}
	return nil
}

func (e *endpoint) healthy(now time.Time) bool {
	return !now.Before(e.state.BackoffUntil)
}

// MarkEndpointFailed records a failure and puts the endpoint into backoff.
// Consecutive failures grow the delay until BackoffMax.
func (m *Manager) MarkEndpointFailed(chain, url string, cause error) {
	p, err := m.pool(chain)
	if err != nil {
		return
	}

	p.mu.Lock()
	ep := p.find(url)
	if ep == nil {
		p.mu.Unlock()
		return
	}
	ep.state.Failures++
	delay := m.Backoff(ep.state.Failures)
	ep.state.BackoffUntil = m.now().Add(delay)
	if cause != nil {
		ep.state.LastError = cause.Error()
	}
	failures := ep.state.Failures
	p.mu.Unlock()

	metrics.RPCBackoffs.WithLabelValues(chain).Inc()
	m.logger.Warn("endpoint marked failed",
		zap.String("chain", chain),
		zap.String("url", url),
		zap.Int("failures", failures),
		zap.Duration("backoff", delay),
		zap.Error(cause),
	)
}

// MarkEndpointSucceeded clears the failure count and backoff of an endpoint
func (m *Manager) MarkEndpointSucceeded(chain, url string) {
	p, err := m.pool(chain)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if ep := p.find(url); ep != nil {
		ep.state.Failures = 0
		ep.state.BackoffUntil = time.Time{}
		ep.state.LastSuccess = m.now()
	}
}

// IsHealthy reports whether an endpoint is out of backoff
func (m *Manager) IsHealthy(chain, url string) bool {
	p, err := m.pool(chain)
	if err != nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ep := p.find(url)
	return ep != nil && ep.healthy(m.now())
}

// States returns a snapshot of every endpoint of a chain in list order
func (m *Manager) States(chain string) ([]EndpointState, error) {
	p, err := m.pool(chain)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := m.now()
	out := make([]EndpointState, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = ep.state
		out[i].Healthy = ep.healthy(now)
	}
	return out, nil
}

// NextRetryAt returns when the first endpoint of a chain leaves backoff.
// It returns the current time when an endpoint is already healthy.
func (m *Manager) NextRetryAt(chain string) (time.Time, error) {
	p, err := m.pool(chain)
	if err != nil {
		return time.Time{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := m.now()
	var earliest time.Time
	for _, ep := range p.endpoints {
		if ep.healthy(now) {
			return now, nil
		}
		if earliest.IsZero() || ep.state.BackoffUntil.Before(earliest) {
			earliest = ep.state.BackoffUntil
		}
	}
	return earliest, nil
}

// Do runs fn against the current endpoint of chain with the per-call timeout
// and the endpoint's rate limit. Transient failures put the endpoint into
// backoff and the call moves to the next endpoint, up to MaxAttempts times.
// Terminal failures and caller cancellation return immediately.
func (m *Manager) Do(ctx context.Context, chain string, fn func(ctx context.Context, url string) error) error {
	p, err := m.pool(chain)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		url, err := m.Current(chain)
		if err != nil {
			if lastErr != nil {
				return errors.Join(err, lastErr)
			}
			return err
		}

		if err := p.wait(ctx, url); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		start := time.Now()
		err = fn(callCtx, url)
		cancel()
		metrics.RPCCallDuration.WithLabelValues(chain).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.RPCCalls.WithLabelValues(chain, "ok").Inc()
			m.MarkEndpointSucceeded(chain, url)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		decision := Classify(err)
		if !decision.IsTransient() {
			metrics.RPCCalls.WithLabelValues(chain, "terminal").Inc()
			return &EndpointError{Chain: chain, URL: url, Terminal: true, Err: err}
		}

		metrics.RPCCalls.WithLabelValues(chain, "transient").Inc()
		lastErr = &EndpointError{Chain: chain, URL: url, Err: err}
		m.MarkEndpointFailed(chain, url, err)
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, m.cfg.MaxAttempts, lastErr)
}

func (p *pool) wait(ctx context.Context, url string) error {
	p.mu.Lock()
	ep := p.find(url)
	p.mu.Unlock()
	if ep == nil {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, url)
	}
	return ep.limiter.Wait(ctx)
}
