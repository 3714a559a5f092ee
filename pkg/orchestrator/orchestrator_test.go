package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-labo/Meta-sub005/internal/testutil"
	"github.com/product-labo/Meta-sub005/pkg/chain"
)

const (
	testAddress = "0x1111111111111111111111111111111111111111"
	testChain   = "ethereum"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *MemoryWalletStore) {
	t.Helper()
	wallets := NewMemoryWalletStore()
	o := New(Config{EventBuffer: 256, PublishTimeout: 50 * time.Millisecond}, NewMemoryJobStore(), wallets, testutil.NewTestLogger(t))
	t.Cleanup(func() { _ = o.Close() })
	return o, wallets
}

func queueRequest(walletID string, start, end uint64) QueueRequest {
	return QueueRequest{
		WalletID:   walletID,
		ProjectID:  "project-1",
		Address:    testAddress,
		Chain:      testChain,
		ChainType:  chain.TypeEVM,
		StartBlock: start,
		EndBlock:   end,
	}
}

// drain returns the events currently buffered on the channel
func drain(o *Orchestrator) []Event {
	var out []Event
	for {
		select {
		case ev := <-o.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		name                string
		start, end, current uint64
		want                float64
	}{
		{"at start", 100, 200, 100, 0},
		{"at end", 100, 200, 200, 100},
		{"half", 100, 200, 150, 50},
		{"single block range", 5, 5, 5, 100},
		{"below start clamps", 100, 200, 50, 0},
		{"beyond end clamps", 100, 200, 500, 100},
		{"refresh scenario midpoint", 1001, 2000, 1500, 50},
		{"never 100 before the end", 0, 1000, 999, 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percentage(tt.start, tt.end, tt.current))
		})
	}
}

func TestPercentageMonotonicAndBounded(t *testing.T) {
	ranges := [][2]uint64{{0, 1}, {0, 7}, {10, 1000}, {1001, 2000}, {3, 100003}}
	for _, r := range ranges {
		prev := -1.0
		step := (r[1]-r[0])/500 + 1
		for cur := r[0]; cur <= r[1]; cur += step {
			p := Percentage(r[0], r[1], cur)
			require.GreaterOrEqual(t, p, 0.0)
			require.LessOrEqual(t, p, 100.0)
			require.GreaterOrEqual(t, p, prev, "range %v current %d", r, cur)
			prev = p
		}
		assert.Equal(t, 100.0, Percentage(r[0], r[1], r[1]))
	}
}

func TestQueueIndexingJob(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	id, err := o.QueueIndexingJob(ctx, queueRequest("wallet-1", 10, 20))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	status, err := o.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, status.Status)
	assert.Equal(t, uint64(10), status.CurrentBlock)
	assert.Zero(t, status.TransactionsFound)
	assert.Zero(t, status.EventsFound)
	assert.Equal(t, 0.0, status.Percentage)
	assert.Equal(t, 1, o.QueueLen())

	events := drain(o)
	require.Len(t, events, 1)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, "wallet-1", events[0].WalletID)
}

func TestQueueIndexingJobValidation(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(r *QueueRequest)
		wantErr error
	}{
		{"invalid evm address", func(r *QueueRequest) { r.Address = "0x1234" }, ErrInvalidAddress},
		{"starknet address on evm chain", func(r *QueueRequest) { r.Address = "0x4a3" }, ErrInvalidAddress},
		{"inverted range", func(r *QueueRequest) { r.StartBlock, r.EndBlock = 20, 10 }, ErrInvalidBlockRange},
		{"missing wallet", func(r *QueueRequest) { r.WalletID = "" }, ErrInvalidRequest},
		{"unknown chain type", func(r *QueueRequest) { r.ChainType = "cosmos" }, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := queueRequest("wallet-v", 10, 20)
			tt.mutate(&req)
			_, err := o.QueueIndexingJob(ctx, req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// nothing was created
	_, err := o.GetJobStatusByWallet(ctx, "wallet-v")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Equal(t, 0, o.QueueLen())
}

func TestQueueIndexingJobStarknet(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	req := queueRequest("wallet-sn", 0, 10)
	req.ChainType = chain.TypeStarknet
	req.Chain = "starknet-mainnet"
	req.Address = "0x4A3"

	id, err := o.QueueIndexingJob(context.Background(), req)
	require.NoError(t, err)

	status, err := o.GetJobStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, status.Address, 66)
}

func TestQueueIndexingJobConflict(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	first, err := o.QueueIndexingJob(ctx, queueRequest("wallet-1", 0, 100))
	require.NoError(t, err)

	_, err = o.QueueIndexingJob(ctx, queueRequest("wallet-1", 0, 100))
	assert.ErrorIs(t, err, ErrJobInProgress)

	// still a conflict while running
	require.NoError(t, o.StartJob(ctx, first))
	_, err = o.QueueIndexingJob(ctx, queueRequest("wallet-1", 0, 100))
	assert.ErrorIs(t, err, ErrJobInProgress)

	// other wallets are unaffected
	_, err = o.QueueIndexingJob(ctx, queueRequest("wallet-2", 0, 100))
	assert.NoError(t, err)

	// a terminal job frees the slot
	require.NoError(t, o.FailJob(ctx, first, "boom"))
	_, err = o.QueueIndexingJob(ctx, queueRequest("wallet-1", 0, 100))
	assert.NoError(t, err)
}

func TestQueueIndexingJobConcurrentSameWallet(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	const attempts = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.QueueIndexingJob(ctx, queueRequest("wallet-race", 0, 10))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrJobInProgress):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)
}

func TestJobLifecycleTransitions(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	id, err := o.QueueIndexingJob(ctx, queueRequest("wallet-1", 0, 10))
	require.NoError(t, err)

	// progress and completion require a running job
	assert.ErrorIs(t, o.UpdateJobProgress(ctx, id, ProgressUpdate{CurrentBlock: 5}), ErrInvalidTransition)
	assert.ErrorIs(t, o.CompleteJob(ctx, id, FinalCounts{}), ErrInvalidTransition)

	require.NoError(t, o.StartJob(ctx, id))
	assert.ErrorIs(t, o.StartJob(ctx, id), ErrInvalidTransition)

	status, err := o.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status.Status)
	require.NotNil(t, status.StartedAt)

	require.NoError(t, o.CompleteJob(ctx, id, FinalCounts{TransactionsFound: 3, EventsFound: 4}))
	assert.ErrorIs(t, o.FailJob(ctx, id, "late"), ErrInvalidTransition)
	assert.ErrorIs(t, o.StartJob(ctx, id), ErrInvalidTransition)

	assert.ErrorIs(t, o.StartJob(ctx, "missing"), ErrJobNotFound)
}

func TestUpdateJobProgress(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	id, err := o.QueueIndexingJob(ctx, queueRequest("wallet-1", 100, 200))
	require.NoError(t, err)
	require.NoError(t, o.StartJob(ctx, id))
	drain(o)

	updates := []uint64{120, 150, 140, 150, 500, 10}
	for i, block := range updates {
		require.NoError(t, o.UpdateJobProgress(ctx, id, ProgressUpdate{
			CurrentBlock:      block,
			TransactionsFound: uint64(i),
			EventsFound:       uint64(2 * i),
			BlocksPerSecond:   1.5,
		}))
	}

	status, err := o.GetJobStatus(ctx, id)
	require.NoError(t, err)
	// clamped to the end, never moved backwards
	assert.Equal(t, uint64(200), status.CurrentBlock)
	assert.Equal(t, uint64(5), status.TransactionsFound)
	assert.Equal(t, uint64(10), status.EventsFound)
	assert.Equal(t, 1.5, status.BlocksPerSecond)

	var published []uint64
	for _, ev := range drain(o) {
		require.Equal(t, EventProgress, ev.Type)
		published = append(published, ev.CurrentBlock)
	}
	assert.Equal(t, []uint64{120, 150, 200}, published)
}

func TestFirstProgressAtStartBlockIsPublished(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	id, err := o.QueueIndexingJob(ctx, queueRequest("wallet-1", 100, 200))
	require.NoError(t, err)
	require.NoError(t, o.StartJob(ctx, id))
	drain(o)

	require.NoError(t, o.UpdateJobProgress(ctx, id, ProgressUpdate{CurrentBlock: 100}))
	require.NoError(t, o.UpdateJobProgress(ctx, id, ProgressUpdate{CurrentBlock: 100}))

	events := drain(o)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(100), events[0].CurrentBlock)
}

func TestRefreshScenario(t *testing.T) {
	o, wallets := newTestOrchestrator(t)
	ctx := context.Background()
	wallets.SetLastIndexedBlock("wallet-1", testChain, 1000)

	id, err := o.RefreshWallet(ctx, RefreshRequest{
		WalletID:  "wallet-1",
		ProjectID: "project-1",
		Address:   testAddress,
		Chain:     testChain,
		ChainType: chain.TypeEVM,
		EndBlock:  2000,
	})
	require.NoError(t, err)

	status, err := o.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), status.StartBlock)
	assert.Equal(t, uint64(2000), status.EndBlock)

	require.NoError(t, o.StartJob(ctx, id))
	require.NoError(t, o.UpdateJobProgress(ctx, id, ProgressUpdate{CurrentBlock: 1500, TransactionsFound: 7, EventsFound: 9}))

	status, err = o.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status.Status)
	assert.Equal(t, 50.0, status.Percentage)

	require.NoError(t, o.CompleteJob(ctx, id, FinalCounts{TransactionsFound: 12, EventsFound: 20}))

	status, err = o.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.Status)
	assert.Equal(t, uint64(2000), status.CurrentBlock)
	assert.Equal(t, 100.0, status.Percentage)
	require.NotNil(t, status.CompletedAt)

	stats, ok, err := wallets.Stats(ctx, "wallet-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2000), stats.LastIndexedBlock)
	assert.Equal(t, uint64(12), stats.TotalTransactions)
	assert.Equal(t, uint64(20), stats.TotalEvents)
	assert.False(t, stats.LastSyncedAt.IsZero())

	var types []EventType
	for _, ev := range drain(o) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventStatus, EventStatus, EventProgress, EventComplete}, types)
}

func TestRefreshWallet(t *testing.T) {
	o, wallets := newTestOrchestrator(t)
	ctx := context.Background()

	t.Run("never indexed uses the requested start", func(t *testing.T) {
		id, err := o.RefreshWallet(ctx, RefreshRequest{
			WalletID: "fresh", Address: testAddress, Chain: testChain, ChainType: chain.TypeEVM,
			StartBlock: 42, EndBlock: 100,
		})
		require.NoError(t, err)
		status, err := o.GetJobStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), status.StartBlock)
	})

	t.Run("already at head", func(t *testing.T) {
		wallets.SetLastIndexedBlock("synced", testChain, 500)
		_, err := o.RefreshWallet(ctx, RefreshRequest{
			WalletID: "synced", Address: testAddress, Chain: testChain, ChainType: chain.TypeEVM,
			EndBlock: 500,
		})
		assert.ErrorIs(t, err, ErrNothingToIndex)
	})

	t.Run("cumulative totals across refreshes", func(t *testing.T) {
		for i, end := range []uint64{100, 200} {
			id, err := o.RefreshWallet(ctx, RefreshRequest{
				WalletID: "cumulative", Address: testAddress, Chain: testChain, ChainType: chain.TypeEVM,
				EndBlock: end,
			})
			require.NoError(t, err, "refresh %d", i)
			require.NoError(t, o.StartJob(ctx, id))
			require.NoError(t, o.CompleteJob(ctx, id, FinalCounts{TransactionsFound: 5, EventsFound: 1}))
		}
		stats, _, err := wallets.Stats(ctx, "cumulative")
		require.NoError(t, err)
		assert.Equal(t, uint64(200), stats.LastIndexedBlock)
		assert.Equal(t, uint64(10), stats.TotalTransactions)
		assert.Equal(t, uint64(2), stats.TotalEvents)
	})
}

func TestFailAndCancelJob(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	id, err := o.QueueIndexingJob(ctx, queueRequest("wallet-1", 0, 100))
	require.NoError(t, err)
	require.NoError(t, o.StartJob(ctx, id))
	require.NoError(t, o.UpdateJobProgress(ctx, id, ProgressUpdate{CurrentBlock: 40, TransactionsFound: 2}))
	drain(o)

	require.NoError(t, o.FailJob(ctx, id, "all endpoints in backoff"))

	status, err := o.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)
	assert.Equal(t, "all endpoints in backoff", status.ErrorMessage)
	// partial progress is kept
	assert.Equal(t, uint64(40), status.CurrentBlock)
	assert.Equal(t, uint64(2), status.TransactionsFound)

	events := drain(o)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, uint64(40), events[0].CurrentBlock)
	assert.Equal(t, "all endpoints in backoff", events[0].Error)

	queued, err := o.QueueIndexingJob(ctx, queueRequest("wallet-2", 0, 100))
	require.NoError(t, err)
	require.NoError(t, o.CancelJob(ctx, queued))
	status, err = o.GetJobStatus(ctx, queued)
	require.NoError(t, err)
	assert.Equal(t, CancelledMessage, status.ErrorMessage)
}

func TestGetJobStatusByWallet(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.GetJobStatusByWallet(ctx, "wallet-1")
	assert.ErrorIs(t, err, ErrJobNotFound)

	first, err := o.QueueIndexingJob(ctx, queueRequest("wallet-1", 0, 10))
	require.NoError(t, err)
	status, err := o.GetJobStatusByWallet(ctx, "wallet-1")
	require.NoError(t, err)
	assert.Equal(t, first, status.ID)

	require.NoError(t, o.FailJob(ctx, first, "x"))
	second, err := o.QueueIndexingJob(ctx, queueRequest("wallet-1", 0, 10))
	require.NoError(t, err)
	require.NoError(t, o.StartJob(ctx, second))
	require.NoError(t, o.CompleteJob(ctx, second, FinalCounts{}))

	// no active job: most recent one
	status, err = o.GetJobStatusByWallet(ctx, "wallet-1")
	require.NoError(t, err)
	assert.Equal(t, second, status.ID)
	assert.Equal(t, StatusCompleted, status.Status)
}

func TestGetQueuedJobsOrdering(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	o.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	queue := func(wallet string, priority int) string {
		req := queueRequest(wallet, 0, 10)
		req.Priority = priority
		id, err := o.QueueIndexingJob(ctx, req)
		require.NoError(t, err)
		return id
	}
	low := queue("w-low", 1)
	highOld := queue("w-high-old", 5)
	mid := queue("w-mid", 3)
	highNew := queue("w-high-new", 5)

	jobs, err := o.GetQueuedJobs(ctx)
	require.NoError(t, err)
	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{highOld, highNew, mid, low}, ids)

	// cancelled jobs are skipped by NextJob and absent from the queued list
	require.NoError(t, o.CancelJob(ctx, highNew))

	var popped []string
	for i := 0; i < 3; i++ {
		job, err := o.NextJob(ctx)
		require.NoError(t, err)
		popped = append(popped, job.ID)
	}
	assert.Equal(t, []string{highOld, mid, low}, popped)
}

func TestNextJobBlocksUntilCancelled(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := o.NextJob(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextJobWakesOnQueue(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	got := make(chan string, 1)
	go func() {
		job, err := o.NextJob(ctx)
		if err == nil {
			got <- job.ID
		}
	}()

	time.Sleep(10 * time.Millisecond)
	id, err := o.QueueIndexingJob(ctx, queueRequest("wallet-1", 0, 10))
	require.NoError(t, err)

	select {
	case popped := <-got:
		assert.Equal(t, id, popped)
	case <-time.After(2 * time.Second):
		t.Fatal("NextJob did not wake up")
	}
}

func TestPublishDropsWhenChannelFull(t *testing.T) {
	o := New(Config{EventBuffer: 1, PublishTimeout: 10 * time.Millisecond}, NewMemoryJobStore(), NewMemoryWalletStore(), nil)
	defer o.Close()
	ctx := context.Background()

	id, err := o.QueueIndexingJob(ctx, queueRequest("wallet-1", 0, 100))
	require.NoError(t, err)

	// the channel holds the queued event; these are dropped without blocking
	start := time.Now()
	require.NoError(t, o.StartJob(ctx, id))
	require.NoError(t, o.UpdateJobProgress(ctx, id, ProgressUpdate{CurrentBlock: 10}))
	assert.Less(t, time.Since(start), time.Second)

	events := drain(o)
	require.Len(t, events, 1)
	assert.Equal(t, EventStatus, events[0].Type)

	status, err := o.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), status.CurrentBlock)
}

func TestPublishNeverDropsTerminalEvents(t *testing.T) {
	o := New(Config{EventBuffer: 1, PublishTimeout: 10 * time.Millisecond}, NewMemoryJobStore(), NewMemoryWalletStore(), nil)
	defer o.Close()
	ctx := context.Background()

	id, err := o.QueueIndexingJob(ctx, queueRequest("wallet-1", 0, 100))
	require.NoError(t, err)
	require.NoError(t, o.StartJob(ctx, id))
	require.NoError(t, o.UpdateJobProgress(ctx, id, ProgressUpdate{CurrentBlock: 10}))

	completed := make(chan error, 1)
	go func() { completed <- o.CompleteJob(ctx, id, FinalCounts{TransactionsFound: 2}) }()

	select {
	case err := <-completed:
		t.Fatalf("CompleteJob returned before its event was delivered: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	first := <-o.Events()
	assert.Equal(t, EventStatus, first.Type)
	select {
	case ev := <-o.Events():
		assert.Equal(t, EventComplete, ev.Type)
		assert.Equal(t, id, ev.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("complete event was not delivered")
	}
	require.NoError(t, <-completed)
}

func TestCloseReleasesTerminalPublish(t *testing.T) {
	o := New(Config{EventBuffer: 1, PublishTimeout: 10 * time.Millisecond}, NewMemoryJobStore(), NewMemoryWalletStore(), nil)
	ctx := context.Background()

	id, err := o.QueueIndexingJob(ctx, queueRequest("wallet-1", 0, 100))
	require.NoError(t, err)
	require.NoError(t, o.StartJob(ctx, id))

	failed := make(chan error, 1)
	go func() { failed <- o.FailJob(ctx, id, "rpc unavailable") }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, o.Close())
	select {
	case err := <-failed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("FailJob stayed blocked after Close")
	}

	status, err := o.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)
}

func TestCloseStopsQueueing(t *testing.T) {
	o := New(Config{}, NewMemoryJobStore(), NewMemoryWalletStore(), nil)
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())

	_, err := o.QueueIndexingJob(context.Background(), queueRequest("wallet-1", 0, 10))
	assert.ErrorIs(t, err, ErrClosed)

	_, open := <-o.Events()
	assert.False(t, open)

	_, err = o.NextJob(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecover(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Create(ctx, &IndexingJob{ID: "queued", WalletID: "w1", Status: StatusQueued, EndBlock: 10, CreatedAt: now}))
	require.NoError(t, store.Create(ctx, &IndexingJob{ID: "running", WalletID: "w2", Status: StatusRunning, EndBlock: 10, CreatedAt: now}))
	require.NoError(t, store.Create(ctx, &IndexingJob{ID: "done", WalletID: "w3", Status: StatusCompleted, EndBlock: 10, CreatedAt: now}))

	o := New(Config{}, store, NewMemoryWalletStore(), nil)
	defer o.Close()

	requeued, failed, err := o.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 1, failed)

	job, err := o.NextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "queued", job.ID)

	status, err := o.GetJobStatus(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)
}

type fakeSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (s *fakeSink) Publish(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestSinksReceiveEvents(t *testing.T) {
	o := New(Config{}, NewMemoryJobStore(), NewMemoryWalletStore(), nil)
	sink := &fakeSink{err: errors.New("broker down")}
	o.AddSink(sink)

	_, err := o.QueueIndexingJob(context.Background(), queueRequest("wallet-1", 0, 10))
	require.NoError(t, err)

	// a failing sink does not affect the channel
	assert.Len(t, drain(o), 1)
	require.NoError(t, o.Close())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.events, 1)
	assert.True(t, sink.closed)
}
