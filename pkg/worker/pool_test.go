package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-labo/Meta-sub005/internal/testutil"
	"github.com/product-labo/Meta-sub005/pkg/chain"
	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

func TestPoolRunsQueuedJobs(t *testing.T) {
	client := &fakeClient{activity: activityAt(
		chain.RawTransaction{Hash: "0x01", BlockNumber: 3, From: testWallet, Input: "0x", Status: 1},
	)}
	h := newHarness(t, Config{BatchSize: 5}, fakeClients{nodeA: client, nodeB: client})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := h.orch.QueueIndexingJob(ctx, orchestrator.QueueRequest{
			WalletID:  fmt.Sprintf("wallet-%d", i),
			Address:   testWallet,
			Chain:     "ethereum",
			ChainType: chain.TypeEVM,
			EndBlock:  20,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	pool := NewPool(3, h.orch, h.worker, testutil.NewTestLogger(t))
	pool.Start(ctx)

	testutil.Eventually(t, 5*time.Second, func() bool {
		for _, id := range ids {
			status, err := h.orch.GetJobStatus(ctx, id)
			if err != nil || status.Status != orchestrator.StatusCompleted {
				return false
			}
		}
		return true
	}, "all jobs completed")

	pool.Stop()

	for i := range ids {
		stats, ok, err := h.wallets.Stats(ctx, fmt.Sprintf("wallet-%d", i))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(20), stats.LastIndexedBlock)
		assert.Equal(t, uint64(1), stats.TotalTransactions)
	}
}

func TestPoolExitsWhenSourceCloses(t *testing.T) {
	h := newHarness(t, Config{}, fakeClients{})
	pool := NewPool(2, h.orch, h.worker, nil)
	pool.Start(context.Background())

	require.NoError(t, h.orch.Close())

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not exit after the orchestrator closed")
	}
}
