package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/product-labo/Meta-sub005/pkg/rpcpool"
)

// Health states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status      string                     `json:"status"`
	Timestamp   string                     `json:"timestamp"`
	Uptime      string                     `json:"uptime"`
	Version     string                     `json:"version"`
	QueuedJobs  int                        `json:"queued_jobs"`
	Subscribers int                        `json:"subscribers"`
	Chains      map[string]ChainHealth     `json:"chains,omitempty"`
	Components  map[string]ComponentHealth `json:"components,omitempty"`
}

// ChainHealth represents the endpoints of one chain
type ChainHealth struct {
	Status    string           `json:"status"`
	Healthy   int              `json:"healthy_endpoints"`
	Endpoints []EndpointHealth `json:"endpoints"`
}

// EndpointHealth is the failover state of one endpoint
type EndpointHealth struct {
	URL          string `json:"url"`
	Healthy      bool   `json:"healthy"`
	Failures     int    `json:"failures"`
	BackoffUntil string `json:"backoff_until,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

// ComponentHealth represents the health of a component
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// EndpointStates exposes the failover state of every chain
type EndpointStates interface {
	Chains() []string
	States(chain string) ([]rpcpool.EndpointState, error)
}

// QueueCounter reports the number of queued jobs
type QueueCounter interface {
	QueueLen() int
}

// SubscriberCounter reports the number of connected progress clients
type SubscriberCounter interface {
	ClientCount() int
}

// CheckFunc probes a dependency
type CheckFunc func(ctx context.Context) error

// HealthChecker aggregates the health of the indexer's components
type HealthChecker struct {
	mu sync.RWMutex

	version   string
	startTime time.Time
	now       func() time.Time

	endpoints   EndpointStates
	queue       QueueCounter
	subscribers SubscriberCounter
	checks      map[string]CheckFunc
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		now:       time.Now,
		checks:    make(map[string]CheckFunc),
	}
}

// SetEndpoints sets the endpoint manager reported per chain
func (hc *HealthChecker) SetEndpoints(e EndpointStates) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.endpoints = e
}

// SetQueue sets the job queue counter
func (hc *HealthChecker) SetQueue(q QueueCounter) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.queue = q
}

// SetSubscribers sets the progress client counter
func (hc *HealthChecker) SetSubscribers(s SubscriberCounter) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.subscribers = s
}

// AddCheck registers a dependency probe. A failing probe makes the service unhealthy.
func (hc *HealthChecker) AddCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// Check returns the current health of the service
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	now := hc.now()
	resp := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: now.UTC().Format(time.RFC3339),
		Uptime:    now.Sub(hc.startTime).Truncate(time.Second).String(),
		Version:   hc.version,
	}
	if hc.queue != nil {
		resp.QueuedJobs = hc.queue.QueueLen()
	}
	if hc.subscribers != nil {
		resp.Subscribers = hc.subscribers.ClientCount()
	}

	if hc.endpoints != nil {
		resp.Chains = make(map[string]ChainHealth)
		for _, name := range hc.endpoints.Chains() {
			states, err := hc.endpoints.States(name)
			if err != nil {
				continue
			}
			ch := chainHealth(states)
			resp.Chains[name] = ch
			if ch.Status != StatusHealthy {
				resp.Status = worse(resp.Status, StatusDegraded)
			}
		}
	}

	if len(hc.checks) > 0 {
		resp.Components = make(map[string]ComponentHealth, len(hc.checks))
		names := make([]string, 0, len(hc.checks))
		for name := range hc.checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			start := time.Now()
			err := hc.checks[name](ctx)
			comp := ComponentHealth{Status: StatusHealthy, Latency: time.Since(start).String()}
			if err != nil {
				comp.Status = StatusUnhealthy
				comp.Message = err.Error()
				resp.Status = StatusUnhealthy
			}
			resp.Components[name] = comp
		}
	}

	return resp
}

func chainHealth(states []rpcpool.EndpointState) ChainHealth {
	ch := ChainHealth{Endpoints: make([]EndpointHealth, 0, len(states))}
	for _, s := range states {
		eh := EndpointHealth{
			URL:       s.URL,
			Healthy:   s.Healthy,
			Failures:  s.Failures,
			LastError: s.LastError,
		}
		if !s.Healthy && !s.BackoffUntil.IsZero() {
			eh.BackoffUntil = s.BackoffUntil.UTC().Format(time.RFC3339)
		}
		if s.Healthy {
			ch.Healthy++
		}
		ch.Endpoints = append(ch.Endpoints, eh)
	}
	switch {
	case ch.Healthy == len(states):
		ch.Status = StatusHealthy
	case ch.Healthy > 0:
		ch.Status = StatusDegraded
	default:
		// every endpoint in backoff: jobs on this chain wait
		ch.Status = StatusUnhealthy
	}
	return ch
}

func worse(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// ServeHTTP handles the health endpoint. An unhealthy service answers 503.
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := hc.Check(ctx)
	status := http.StatusOK
	if resp.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
