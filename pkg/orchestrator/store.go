package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/product-labo/Meta-sub005/pkg/chain"
)

// JobStore persists indexing jobs. Implementations must reject a Create for a
// wallet that already has an active job with ErrJobInProgress, and return
// ErrJobNotFound for missing jobs.
type JobStore interface {
	Create(ctx context.Context, job *IndexingJob) error
	Get(ctx context.Context, id string) (*IndexingJob, error)
	Update(ctx context.Context, job *IndexingJob) error
	// ActiveByWallet returns the wallet's queued or running job
	ActiveByWallet(ctx context.Context, walletID string) (*IndexingJob, error)
	// LatestByWallet returns the wallet's most recently created job
	LatestByWallet(ctx context.Context, walletID string) (*IndexingJob, error)
	ListByStatus(ctx context.Context, status Status) ([]*IndexingJob, error)
}

// WalletCompletion is the wallet update written when a job completes
type WalletCompletion struct {
	WalletID         string
	ProjectID        string
	Address          string
	Chain            string
	ChainType        chain.Type
	LastIndexedBlock uint64
	// Transactions and Events are added to the wallet's cumulative totals
	Transactions uint64
	Events       uint64
	SyncedAt     time.Time
}

// WalletStats is the indexing state of a wallet
type WalletStats struct {
	WalletID          string    `json:"walletId"`
	Chain             string    `json:"chain"`
	LastIndexedBlock  uint64    `json:"lastIndexedBlock"`
	TotalTransactions uint64    `json:"totalTransactions"`
	TotalEvents       uint64    `json:"totalEvents"`
	LastSyncedAt      time.Time `json:"lastSyncedAt"`
}

// WalletStore holds per-wallet statistics
type WalletStore interface {
	// Stats returns ok=false for a wallet that was never indexed
	Stats(ctx context.Context, walletID string) (WalletStats, bool, error)
	RecordCompletion(ctx context.Context, c WalletCompletion) error
}

// MemoryJobStore is an in-process JobStore
type MemoryJobStore struct {
	mu     sync.RWMutex
	jobs   map[string]*IndexingJob
	active map[string]string
	latest map[string]string
}

// NewMemoryJobStore creates an empty job store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:   make(map[string]*IndexingJob),
		active: make(map[string]string),
		latest: make(map[string]string),
	}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *IndexingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if id, ok := s.active[job.WalletID]; ok {
		return fmt.Errorf("%w: job %s", ErrJobInProgress, id)
	}

	s.jobs[job.ID] = job.Clone()
	s.latest[job.WalletID] = job.ID
	if job.Status.Active() {
		s.active[job.WalletID] = job.ID
	}
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*IndexingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) Update(ctx context.Context, job *IndexingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	if !job.Status.Active() && s.active[job.WalletID] == job.ID {
		delete(s.active, job.WalletID)
	}
	return nil
}

func (s *MemoryJobStore) ActiveByWallet(ctx context.Context, walletID string) (*IndexingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[walletID]
	if !ok {
		return nil, fmt.Errorf("%w: no active job for wallet %s", ErrJobNotFound, walletID)
	}
	return s.jobs[id].Clone(), nil
}

func (s *MemoryJobStore) LatestByWallet(ctx context.Context, walletID string) (*IndexingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.latest[walletID]
	if !ok {
		return nil, fmt.Errorf("%w: no job for wallet %s", ErrJobNotFound, walletID)
	}
	return s.jobs[id].Clone(), nil
}

func (s *MemoryJobStore) ListByStatus(ctx context.Context, status Status) ([]*IndexingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*IndexingJob
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

// MemoryWalletStore is an in-process WalletStore
type MemoryWalletStore struct {
	mu      sync.RWMutex
	wallets map[string]WalletStats
}

// NewMemoryWalletStore creates an empty wallet store
func NewMemoryWalletStore() *MemoryWalletStore {
	return &MemoryWalletStore{wallets: make(map[string]WalletStats)}
}

// SetLastIndexedBlock seeds a wallet's last indexed block
func (s *MemoryWalletStore) SetLastIndexedBlock(walletID, chainName string, block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.wallets[walletID]
	stats.WalletID = walletID
	stats.Chain = chainName
	stats.LastIndexedBlock = block
	s.wallets[walletID] = stats
}

func (s *MemoryWalletStore) Stats(ctx context.Context, walletID string) (WalletStats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.wallets[walletID]
	return stats, ok, nil
}

func (s *MemoryWalletStore) RecordCompletion(ctx context.Context, c WalletCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.wallets[c.WalletID]
	stats.WalletID = c.WalletID
	stats.Chain = c.Chain
	if c.LastIndexedBlock > stats.LastIndexedBlock {
		stats.LastIndexedBlock = c.LastIndexedBlock
	}
	stats.TotalTransactions += c.Transactions
	stats.TotalEvents += c.Events
	stats.LastSyncedAt = c.SyncedAt
	s.wallets[c.WalletID] = stats
	return nil
}
