package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

// WalletStore keeps wallet statistics in PostgreSQL
type WalletStore struct {
	db *gorm.DB
}

// NewWalletStore creates a wallet store
func NewWalletStore(db *gorm.DB) *WalletStore {
	return &WalletStore{db: db}
}

func (s *WalletStore) Stats(ctx context.Context, walletID string) (orchestrator.WalletStats, bool, error) {
	var w Wallet
	err := s.db.WithContext(ctx).Where("id = ?", walletID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return orchestrator.WalletStats{}, false, nil
	}
	if err != nil {
		return orchestrator.WalletStats{}, false, fmt.Errorf("failed to load wallet %s: %w", walletID, err)
	}

	stats := orchestrator.WalletStats{
		WalletID:          w.ID,
		Chain:             w.Chain,
		LastIndexedBlock:  w.LastIndexedBlock,
		TotalTransactions: w.TotalTransactions,
		TotalEvents:       w.TotalEvents,
	}
	if w.LastSyncedAt != nil {
		stats.LastSyncedAt = *w.LastSyncedAt
	}
	return stats, true, nil
}

// RecordCompletion upserts the wallet: the last indexed block only moves
// forward and the totals accumulate
func (s *WalletStore) RecordCompletion(ctx context.Context, c orchestrator.WalletCompletion) error {
	synced := c.SyncedAt
	w := &Wallet{
		ID:                c.WalletID,
		ProjectID:         c.ProjectID,
		Address:           c.Address,
		Chain:             c.Chain,
		ChainType:         string(c.ChainType),
		LastIndexedBlock:  c.LastIndexedBlock,
		TotalTransactions: c.Transactions,
		TotalEvents:       c.Events,
		LastSyncedAt:      &synced,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_indexed_block": gorm.Expr("GREATEST(wallets.last_indexed_block, excluded.last_indexed_block)"),
			"total_transactions": gorm.Expr("wallets.total_transactions + excluded.total_transactions"),
			"total_events":       gorm.Expr("wallets.total_events + excluded.total_events"),
			"last_synced_at":     gorm.Expr("excluded.last_synced_at"),
			"updated_at":         gorm.Expr("excluded.updated_at"),
		}),
	}).Create(w)
	if res.Error != nil {
		return fmt.Errorf("failed to record completion for wallet %s: %w", c.WalletID, res.Error)
	}
	return nil
}
