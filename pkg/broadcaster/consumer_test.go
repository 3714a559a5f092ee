package broadcaster

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

func TestConsumerDispatch(t *testing.T) {
	h := newTestHub(t, HubConfig{Shards: 2})
	c := newTestClient(h, "w1", 16)
	require.NoError(t, h.Register(context.Background(), c))

	events := make(chan orchestrator.Event, 8)
	base := orchestrator.Event{
		JobID:      "j1",
		WalletID:   "w1",
		Chain:      "ethereum",
		StartBlock: 1001,
		EndBlock:   2000,
	}

	status := base
	status.Type = orchestrator.EventStatus
	status.Status = orchestrator.StatusRunning
	status.CurrentBlock = 1001

	prog := base
	prog.Type = orchestrator.EventProgress
	prog.Status = orchestrator.StatusRunning
	prog.CurrentBlock = 1500
	prog.Percentage = 50
	prog.TransactionsFound = 4

	done := base
	done.Type = orchestrator.EventComplete
	done.Status = orchestrator.StatusCompleted
	done.CurrentBlock = 2000
	done.TransactionsFound = 9
	done.EventsFound = 12

	events <- status
	events <- prog
	events <- done
	close(events)

	consumer := NewConsumer(h, events, nil)
	require.NoError(t, consumer.Run(context.Background()))

	require.Len(t, c.send, 3)

	msg := decode(t, <-c.send)
	assert.Equal(t, TypeStatus, msg.Type)
	var st StatusData
	require.NoError(t, json.Unmarshal(msg.Data, &st))
	assert.Equal(t, "running", st.Status)

	msg = decode(t, <-c.send)
	var pd ProgressData
	require.NoError(t, json.Unmarshal(msg.Data, &pd))
	assert.Equal(t, ProgressData{
		WalletID:          "w1",
		JobID:             "j1",
		Chain:             "ethereum",
		CurrentBlock:      1500,
		StartBlock:        1001,
		TotalBlocks:       2000,
		TransactionsFound: 4,
		Percentage:        50,
	}, pd)

	msg = decode(t, <-c.send)
	assert.Equal(t, TypeComplete, msg.Type)
	var cd CompleteData
	require.NoError(t, json.Unmarshal(msg.Data, &cd))
	assert.Equal(t, uint64(2000), cd.LastBlock)
	assert.Equal(t, uint64(12), cd.EventsFound)
}

func TestConsumerErrorEvent(t *testing.T) {
	h := newTestHub(t, HubConfig{Shards: 2})
	consumer := NewConsumer(h, nil, nil)

	require.NoError(t, consumer.Dispatch(context.Background(), orchestrator.Event{
		Type:         orchestrator.EventError,
		JobID:        "j1",
		WalletID:     "w1",
		CurrentBlock: 1337,
		Error:        "no endpoint available within 2m0s",
	}))

	queued, err := h.queue.Drain(context.Background(), "w1")
	require.NoError(t, err)
	require.Len(t, queued, 1)
	msg := decode(t, queued[0])
	assert.Equal(t, TypeError, msg.Type)
	var ed ErrorData
	require.NoError(t, json.Unmarshal(msg.Data, &ed))
	assert.Equal(t, uint64(1337), ed.LastBlock)
	assert.Contains(t, ed.Error, "no endpoint available")
}

func TestConsumerStopsOnCancel(t *testing.T) {
	h := newTestHub(t, HubConfig{})
	consumer := NewConsumer(h, make(chan orchestrator.Event), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

// End to end: orchestrator events reach a subscriber in block order.
func TestConsumerWithOrchestrator(t *testing.T) {
	orch := orchestrator.New(orchestrator.Config{}, orchestrator.NewMemoryJobStore(), orchestrator.NewMemoryWalletStore(), nil)
	defer orch.Close()

	h := newTestHub(t, HubConfig{Shards: 4})
	c := newTestClient(h, "wallet-1", 64)
	require.NoError(t, h.Register(context.Background(), c))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewConsumer(h, orch.Events(), nil).Run(ctx) }()

	jobID, err := orch.QueueIndexingJob(ctx, orchestrator.QueueRequest{
		WalletID:   "wallet-1",
		Address:    "0x1111111111111111111111111111111111111111",
		Chain:      "ethereum",
		ChainType:  "evm",
		StartBlock: 1001,
		EndBlock:   2000,
	})
	require.NoError(t, err)
	require.NoError(t, orch.StartJob(ctx, jobID))
	for _, b := range []uint64{1250, 1500, 1750, 2000} {
		require.NoError(t, orch.UpdateJobProgress(ctx, jobID, orchestrator.ProgressUpdate{CurrentBlock: b}))
	}
	require.NoError(t, orch.CompleteJob(ctx, jobID, orchestrator.FinalCounts{}))

	var (
		blocks   []uint64
		complete bool
		lastTS   int64
	)
	deadline := time.After(5 * time.Second)
	for !complete {
		select {
		case raw := <-c.send:
			msg := decode(t, raw)
			assert.GreaterOrEqual(t, msg.Timestamp, lastTS)
			lastTS = msg.Timestamp
			switch msg.Type {
			case TypeProgress:
				blocks = append(blocks, progressBlock(t, raw))
			case TypeComplete:
				complete = true
			}
		case <-deadline:
			t.Fatalf("no complete message, got blocks %v", blocks)
		}
	}
	for i := 1; i < len(blocks); i++ {
		assert.Greater(t, blocks[i], blocks[i-1])
	}
	assert.Contains(t, blocks, uint64(1500))
}
