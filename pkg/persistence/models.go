package persistence

import (
	"time"

	"github.com/product-labo/Meta-sub005/pkg/chain"
	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

// Wallet is a tracked wallet with its indexing statistics
type Wallet struct {
	ID                string `gorm:"column:id;primaryKey"`
	ProjectID         string `gorm:"column:project_id;index"`
	Address           string `gorm:"column:address"`
	Chain             string `gorm:"column:chain"`
	ChainType         string `gorm:"column:chain_type"`
	LastIndexedBlock  uint64 `gorm:"column:last_indexed_block"`
	TotalTransactions uint64 `gorm:"column:total_transactions"`
	TotalEvents       uint64 `gorm:"column:total_events"`
	LastSyncedAt      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Transaction is one decoded wallet transaction
type Transaction struct {
	ID              string `gorm:"column:id;primaryKey"`
	WalletID        string `gorm:"column:wallet_id;uniqueIndex:uniq_wallet_chain_tx,priority:1"`
	Chain           string `gorm:"column:chain;uniqueIndex:uniq_wallet_chain_tx,priority:2"`
	TransactionHash string `gorm:"column:transaction_hash;uniqueIndex:uniq_wallet_chain_tx,priority:3"`
	JobID           string `gorm:"column:job_id;index"`
	BlockNumber     uint64 `gorm:"column:block_number;index"`
	From            string `gorm:"column:from_address"`
	To              string `gorm:"column:to_address"`
	Value           string `gorm:"column:value"`
	Status          uint64 `gorm:"column:status"`
	Selector        string `gorm:"column:selector"`
	FunctionName    string `gorm:"column:function_name"`
	Signature       string `gorm:"column:signature"`
	Category        string `gorm:"column:category;index"`
	NeedsLookup     bool   `gorm:"column:needs_lookup"`
	RawInput        string `gorm:"column:raw_input"`
	DecodedParams   string `gorm:"column:decoded_params;type:jsonb"`
	Events          string `gorm:"column:events;type:jsonb"`
	EventCount      int    `gorm:"column:event_count"`
	CreatedAt       time.Time
}

// IndexingJob is the row of an orchestrator job
type IndexingJob struct {
	ID                string  `gorm:"column:id;primaryKey"`
	WalletID          string  `gorm:"column:wallet_id;index"`
	ProjectID         string  `gorm:"column:project_id"`
	Address           string  `gorm:"column:address"`
	Chain             string  `gorm:"column:chain"`
	ChainType         string  `gorm:"column:chain_type"`
	Status            string  `gorm:"column:status;index"`
	StartBlock        uint64  `gorm:"column:start_block"`
	EndBlock          uint64  `gorm:"column:end_block"`
	CurrentBlock      uint64  `gorm:"column:current_block"`
	Priority          int     `gorm:"column:priority"`
	TransactionsFound uint64  `gorm:"column:transactions_found"`
	EventsFound       uint64  `gorm:"column:events_found"`
	BlocksPerSecond   float64 `gorm:"column:blocks_per_second"`
	ErrorMessage      string  `gorm:"column:error_message"`
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

func jobRowFrom(job *orchestrator.IndexingJob) *IndexingJob {
	return &IndexingJob{
		ID:                job.ID,
		WalletID:          job.WalletID,
		ProjectID:         job.ProjectID,
		Address:           job.Address,
		Chain:             job.Chain,
		ChainType:         string(job.ChainType),
		Status:            string(job.Status),
		StartBlock:        job.StartBlock,
		EndBlock:          job.EndBlock,
		CurrentBlock:      job.CurrentBlock,
		Priority:          job.Priority,
		TransactionsFound: job.TransactionsFound,
		EventsFound:       job.EventsFound,
		BlocksPerSecond:   job.BlocksPerSecond,
		ErrorMessage:      job.ErrorMessage,
		CreatedAt:         job.CreatedAt,
		StartedAt:         job.StartedAt,
		CompletedAt:       job.CompletedAt,
	}
}

func (r *IndexingJob) toJob() *orchestrator.IndexingJob {
	return &orchestrator.IndexingJob{
		ID:                r.ID,
		WalletID:          r.WalletID,
		ProjectID:         r.ProjectID,
		Address:           r.Address,
		Chain:             r.Chain,
		ChainType:         chain.Type(r.ChainType),
		Status:            orchestrator.Status(r.Status),
		StartBlock:        r.StartBlock,
		EndBlock:          r.EndBlock,
		CurrentBlock:      r.CurrentBlock,
		Priority:          r.Priority,
		TransactionsFound: r.TransactionsFound,
		EventsFound:       r.EventsFound,
		BlocksPerSecond:   r.BlocksPerSecond,
		ErrorMessage:      r.ErrorMessage,
		CreatedAt:         r.CreatedAt,
		StartedAt:         r.StartedAt,
		CompletedAt:       r.CompletedAt,
	}
}
