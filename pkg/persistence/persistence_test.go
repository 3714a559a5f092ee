package persistence

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/product-labo/Meta-sub005/internal/config"
	"github.com/product-labo/Meta-sub005/pkg/chain"
	"github.com/product-labo/Meta-sub005/pkg/decoder"
	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

func testJob() *orchestrator.IndexingJob {
	return &orchestrator.IndexingJob{
		ID:        "job-1",
		WalletID:  "wallet-1",
		Chain:     "ethereum",
		ChainType: chain.TypeEVM,
		Status:    orchestrator.StatusRunning,
	}
}

func TestMemoryTransactionStoreRejectsDuplicates(t *testing.T) {
	store := NewMemoryTransactionStore()
	ctx := context.Background()

	tx := &Transaction{WalletID: "wallet-1", Chain: "ethereum", TransactionHash: "0xabc"}
	require.NoError(t, store.Insert(ctx, tx))

	dup := &Transaction{WalletID: "wallet-1", Chain: "ethereum", TransactionHash: "0xabc", Selector: "0xa9059cbb"}
	assert.ErrorIs(t, store.Insert(ctx, dup), ErrDuplicateTransaction)

	count, err := store.CountByWallet(ctx, "wallet-1", "ethereum")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// first write wins
	stored, ok := store.Get("wallet-1", "ethereum", "0xabc")
	require.True(t, ok)
	assert.Empty(t, stored.Selector)

	// same hash on another wallet or chain is a different row
	require.NoError(t, store.Insert(ctx, &Transaction{WalletID: "wallet-2", Chain: "ethereum", TransactionHash: "0xabc"}))
	require.NoError(t, store.Insert(ctx, &Transaction{WalletID: "wallet-1", Chain: "polygon", TransactionHash: "0xabc"}))
	count, err = store.CountByWallet(ctx, "wallet-1", "ethereum")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestNewTransaction(t *testing.T) {
	raw := chain.RawTransaction{
		Hash:        "0xfeed",
		BlockNumber: 1500,
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Input:       "0xa9059cbb",
		Value:       "0",
		Status:      1,
	}
	decoded := decoder.DecodedTransaction{
		Hash:         raw.Hash,
		Selector:     "0xa9059cbb",
		RawInput:     raw.Input,
		FunctionName: "transfer",
		Signature:    "transfer(address,uint256)",
		Category:     decoder.CategoryTransfer,
		Params: []decoder.NamedParam{
			{Name: "to", Value: decoder.Param{Kind: decoder.KindAddress, Type: "address", Address: common.HexToAddress("0x3333333333333333333333333333333333333333")}},
			{Name: "amount", Value: decoder.Param{Kind: decoder.KindUint, Type: "uint256", Int: big.NewInt(1000)}},
		},
	}

	tx, err := NewTransaction(testJob(), raw, decoded)
	require.NoError(t, err)

	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "wallet-1", tx.WalletID)
	assert.Equal(t, "ethereum", tx.Chain)
	assert.Equal(t, "job-1", tx.JobID)
	assert.Equal(t, uint64(1500), tx.BlockNumber)
	assert.Equal(t, "transfer", tx.Category)
	assert.Equal(t, "0xa9059cbb", tx.RawInput)
	assert.Contains(t, tx.DecodedParams, `"name":"amount"`)
	assert.Equal(t, "[]", tx.Events)
	assert.Zero(t, tx.EventCount)
}

func TestNewTransactionUnknownSelector(t *testing.T) {
	raw := chain.RawTransaction{Hash: "0xbeef", Input: "0xdeadbeef0001"}
	decoded := decoder.DecodedTransaction{
		Selector:    "0xdeadbeef",
		RawInput:    raw.Input,
		RawParams:   "0x0001",
		Category:    decoder.CategoryUnknown,
		NeedsLookup: true,
		Events:      []decoder.DecodedEvent{{Topic: "0x01", LogIndex: 3}},
	}

	tx, err := NewTransaction(testJob(), raw, decoded)
	require.NoError(t, err)
	assert.True(t, tx.NeedsLookup)
	assert.Equal(t, "unknown", tx.Category)
	assert.Equal(t, "0xdeadbeef0001", tx.RawInput)
	assert.Equal(t, "null", tx.DecodedParams)
	assert.Equal(t, 1, tx.EventCount)
	assert.Contains(t, tx.Events, `"logIndex":3`)
}

func TestNewTransactionStarknetCalls(t *testing.T) {
	decoded := decoder.DecodedTransaction{
		Category: decoder.CategoryTransfer,
		Calls: []decoder.StarknetCall{
			{To: "0x49d", Selector: "0x83af", Name: "transfer", Category: decoder.CategoryTransfer, Calldata: []string{"0x1", "0x2"}},
		},
	}
	tx, err := NewTransaction(testJob(), chain.RawTransaction{Hash: "0x1"}, decoded)
	require.NoError(t, err)
	assert.Contains(t, tx.DecodedParams, `"to":"0x49d"`)
}

func TestConnectionString(t *testing.T) {
	dsn, err := ConnectionString(config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "indexer",
		Password: "secret",
		DbName:   "wallets",
	})
	require.NoError(t, err)
	assert.Equal(t, "host=localhost user=indexer password=secret dbname=wallets port=5432 sslmode=disable TimeZone=UTC", dsn)

	dsn, err = ConnectionString(config.DatabaseConfig{Host: "db", Port: 5433, DbName: "w", SSLMode: "require"})
	require.NoError(t, err)
	assert.Equal(t, "host=db dbname=w port=5433 sslmode=require TimeZone=UTC", dsn)

	_, err = ConnectionString(config.DatabaseConfig{Host: "db", SSLMode: "sometimes"})
	assert.ErrorContains(t, err, "invalid ssl mode")
}

func TestIsDuplicateKeyError(t *testing.T) {
	assert.False(t, IsDuplicateKeyError(nil))
	assert.False(t, IsDuplicateKeyError(errors.New("connection refused")))
	assert.True(t, IsDuplicateKeyError(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyError(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyError(errors.New(`ERROR: duplicate key value violates unique constraint "uniq_wallet_chain_tx" (SQLSTATE 23505)`)))
}

func TestJobRowRoundTrip(t *testing.T) {
	job := testJob()
	job.StartBlock, job.EndBlock, job.CurrentBlock = 1001, 2000, 1500
	job.ErrorMessage = "x"

	got := jobRowFrom(job).toJob()
	assert.Equal(t, job, got)
}
