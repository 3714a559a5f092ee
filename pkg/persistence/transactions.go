package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/product-labo/Meta-sub005/pkg/chain"
	"github.com/product-labo/Meta-sub005/pkg/decoder"
	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

// TransactionStore stores decoded wallet transactions. Insert returns
// ErrDuplicateTransaction when (wallet, chain, hash) is already stored.
type TransactionStore interface {
	Insert(ctx context.Context, tx *Transaction) error
	CountByWallet(ctx context.Context, walletID, chainName string) (int64, error)
}

// NewTransaction builds the row of a decoded transaction found by a job
func NewTransaction(job *orchestrator.IndexingJob, raw chain.RawTransaction, decoded decoder.DecodedTransaction) (*Transaction, error) {
	var params interface{} = decoded.Params
	if len(decoded.Calls) > 0 {
		params = decoded.Calls
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params of %s: %w", raw.Hash, err)
	}

	events := decoded.Events
	if events == nil {
		events = []decoder.DecodedEvent{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("marshal events of %s: %w", raw.Hash, err)
	}

	return &Transaction{
		ID:              uuid.NewString(),
		WalletID:        job.WalletID,
		Chain:           job.Chain,
		TransactionHash: raw.Hash,
		JobID:           job.ID,
		BlockNumber:     raw.BlockNumber,
		From:            raw.From,
		To:              raw.To,
		Value:           raw.Value,
		Status:          raw.Status,
		Selector:        decoded.Selector,
		FunctionName:    decoded.FunctionName,
		Signature:       decoded.Signature,
		Category:        string(decoded.Category),
		NeedsLookup:     decoded.NeedsLookup,
		RawInput:        decoded.RawInput,
		DecodedParams:   string(paramsJSON),
		Events:          string(eventsJSON),
		EventCount:      len(decoded.Events),
	}, nil
}

// GormTransactionStore stores transactions in PostgreSQL
type GormTransactionStore struct {
	db *gorm.DB
}

// NewGormTransactionStore creates a transaction store
func NewGormTransactionStore(db *gorm.DB) *GormTransactionStore {
	return &GormTransactionStore{db: db}
}

func (s *GormTransactionStore) Insert(ctx context.Context, tx *Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "wallet_id"},
			{Name: "chain"},
			{Name: "transaction_hash"},
		},
		DoNothing: true,
	}).Create(tx)
	if res.Error != nil {
		if IsDuplicateKeyError(res.Error) {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to insert transaction %s: %w", tx.TransactionHash, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateTransaction
	}
	return nil
}

func (s *GormTransactionStore) CountByWallet(ctx context.Context, walletID, chainName string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("wallet_id = ? AND chain = ?", walletID, chainName).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// MemoryTransactionStore is an in-process TransactionStore
type MemoryTransactionStore struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
}

// NewMemoryTransactionStore creates an empty store
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{txs: make(map[string]*Transaction)}
}

func memoryKey(walletID, chainName, hash string) string {
	return walletID + "|" + chainName + "|" + hash
}

func (s *MemoryTransactionStore) Insert(ctx context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(tx.WalletID, tx.Chain, tx.TransactionHash)
	if _, ok := s.txs[key]; ok {
		return ErrDuplicateTransaction
	}
	stored := *tx
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.txs[key] = &stored
	return nil
}

func (s *MemoryTransactionStore) CountByWallet(ctx context.Context, walletID, chainName string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, tx := range s.txs {
		if tx.WalletID == walletID && tx.Chain == chainName {
			n++
		}
	}
	return n, nil
}

// Get returns a stored transaction
func (s *MemoryTransactionStore) Get(walletID, chainName, hash string) (*Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[memoryKey(walletID, chainName, hash)]
	if !ok {
		return nil, false
	}
	c := *tx
	return &c, true
}
