package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/product-labo/Meta-sub005/internal/constants"
	"github.com/product-labo/Meta-sub005/pkg/chain"
	"github.com/product-labo/Meta-sub005/pkg/metrics"
)

// Config holds orchestrator settings
type Config struct {
	// QueueSize bounds the number of queued jobs
	QueueSize int
	// EventBuffer is the capacity of the events channel
	EventBuffer int
	// PublishTimeout is how long a progress or status event waits on a full
	// channel before it is dropped. Complete and error events are never dropped.
	PublishTimeout time.Duration
	// LockShards is the number of per-wallet lock shards
	LockShards int
}

// DefaultConfig returns the default orchestrator settings
func DefaultConfig() Config {
	return Config{
		QueueSize:      constants.DefaultJobQueueSize,
		EventBuffer:    constants.DefaultEventBufferSize,
		PublishTimeout: constants.DefaultPublishTimeout,
		LockShards:     64,
	}
}

// QueueRequest describes a new indexing job
type QueueRequest struct {
	WalletID   string     `json:"walletId"`
	ProjectID  string     `json:"projectId"`
	Address    string     `json:"address"`
	Chain      string     `json:"chain"`
	ChainType  chain.Type `json:"chainType"`
	StartBlock uint64     `json:"startBlock"`
	EndBlock   uint64     `json:"endBlock"`
	Priority   int        `json:"priority"`
}

// RefreshRequest asks to index a wallet from its last indexed block to EndBlock
type RefreshRequest struct {
	WalletID  string     `json:"walletId"`
	ProjectID string     `json:"projectId"`
	Address   string     `json:"address"`
	Chain     string     `json:"chain"`
	ChainType chain.Type `json:"chainType"`
	// StartBlock is used when the wallet was never indexed
	StartBlock uint64 `json:"startBlock"`
	EndBlock   uint64 `json:"endBlock"`
	Priority   int    `json:"priority"`
}

// ProgressUpdate is reported by a worker after each batch
type ProgressUpdate struct {
	CurrentBlock      uint64
	TransactionsFound uint64
	EventsFound       uint64
	BlocksPerSecond   float64
}

// FinalCounts are the totals of a completed job
type FinalCounts struct {
	TransactionsFound uint64
	EventsFound       uint64
}

// Orchestrator owns the lifecycle of indexing jobs. Every mutation of a
// wallet's jobs runs under that wallet's lock, so at most one job per wallet
// is ever queued or running, and job events are published in order.
type Orchestrator struct {
	cfg     Config
	jobs    JobStore
	wallets WalletStore
	locks   *KeyedMutex
	queue   *JobQueue
	logger  *zap.Logger

	events chan Event
	done   chan struct{}
	sinks  []EventSink

	// pubMu guards closing the events channel against in-flight publishes
	pubMu     sync.RWMutex
	closed    bool
	closeOnce sync.Once

	// lastPublished is the last progress block published per running job
	lastMu        sync.Mutex
	lastPublished map[string]uint64

	now func() time.Time
}

// New creates an orchestrator
func New(cfg Config, jobs JobStore, wallets WalletStore, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.LockShards <= 0 {
		cfg.LockShards = def.LockShards
	}

	return &Orchestrator{
		cfg:           cfg,
		jobs:          jobs,
		wallets:       wallets,
		locks:         NewKeyedMutex(cfg.LockShards),
		queue:         NewJobQueue(cfg.QueueSize),
		logger:        logger.With(zap.String("component", "orchestrator")),
		events:        make(chan Event, cfg.EventBuffer),
		done:          make(chan struct{}),
		lastPublished: make(map[string]uint64),
		now:           time.Now,
	}
}

// AddSink mirrors every published event to sink. Call before use.
func (o *Orchestrator) AddSink(sink EventSink) {
	o.sinks = append(o.sinks, sink)
}

// Events returns the channel of job events. It is closed by Close.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// QueueLen returns the number of jobs waiting for a worker
func (o *Orchestrator) QueueLen() int {
	return o.queue.Len()
}

// QueueIndexingJob validates and queues a new job, returning its id.
// Returns ErrJobInProgress if the wallet already has an active job.
func (o *Orchestrator) QueueIndexingJob(ctx context.Context, req QueueRequest) (string, error) {
	if o.isClosed() {
		return "", ErrClosed
	}
	if req.WalletID == "" {
		return "", fmt.Errorf("%w: wallet id is required", ErrInvalidRequest)
	}
	if req.Chain == "" {
		return "", fmt.Errorf("%w: chain is required", ErrInvalidRequest)
	}
	chainType, err := chain.ParseType(string(req.ChainType))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	address, err := chain.NormalizeAddress(chainType, req.Address)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if req.StartBlock > req.EndBlock {
		return "", fmt.Errorf("%w: start %d is after end %d", ErrInvalidBlockRange, req.StartBlock, req.EndBlock)
	}

	unlock := o.locks.Lock(req.WalletID)
	defer unlock()

	if active, err := o.jobs.ActiveByWallet(ctx, req.WalletID); err == nil {
		return "", fmt.Errorf("%w: job %s is %s", ErrJobInProgress, active.ID, active.Status)
	} else if !errors.Is(err, ErrJobNotFound) {
		return "", fmt.Errorf("failed to check active job: %w", err)
	}
	if o.queue.Full() {
		return "", ErrQueueFull
	}

	job := &IndexingJob{
		ID:           uuid.NewString(),
		WalletID:     req.WalletID,
		ProjectID:    req.ProjectID,
		Address:      address,
		Chain:        req.Chain,
		ChainType:    chainType,
		Status:       StatusQueued,
		StartBlock:   req.StartBlock,
		EndBlock:     req.EndBlock,
		CurrentBlock: req.StartBlock,
		Priority:     req.Priority,
		CreatedAt:    o.now(),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	if !o.queue.Push(job.ID, job.Priority, job.CreatedAt) {
		job.Status = StatusFailed
		job.ErrorMessage = ErrQueueFull.Error()
		completed := o.now()
		job.CompletedAt = &completed
		if err := o.jobs.Update(ctx, job); err != nil {
			o.logger.Error("failed to release unqueued job", zap.String("job_id", job.ID), zap.Error(err))
		}
		return "", ErrQueueFull
	}

	metrics.JobTransitions.WithLabelValues(string(StatusQueued)).Inc()
	metrics.QueuedJobs.Inc()
	o.logger.Info("job queued",
		zap.String("job_id", job.ID),
		zap.String("wallet_id", job.WalletID),
		zap.String("chain", job.Chain),
		zap.Uint64("start_block", job.StartBlock),
		zap.Uint64("end_block", job.EndBlock),
		zap.Int("priority", job.Priority),
	)
	o.publish(newEvent(EventStatus, job, o.now()))
	return job.ID, nil
}

// RefreshWallet queues a job starting right after the wallet's last indexed
// block. Returns ErrNothingToIndex when the wallet already reached EndBlock.
func (o *Orchestrator) RefreshWallet(ctx context.Context, req RefreshRequest) (string, error) {
	if req.WalletID == "" {
		return "", fmt.Errorf("%w: wallet id is required", ErrInvalidRequest)
	}
	stats, ok, err := o.wallets.Stats(ctx, req.WalletID)
	if err != nil {
		return "", fmt.Errorf("failed to read wallet: %w", err)
	}

	start := req.StartBlock
	if ok {
		if stats.LastIndexedBlock >= req.EndBlock {
			return "", fmt.Errorf("%w: last indexed block %d, requested end %d", ErrNothingToIndex, stats.LastIndexedBlock, req.EndBlock)
		}
		start = stats.LastIndexedBlock + 1
	}

	return o.QueueIndexingJob(ctx, QueueRequest{
		WalletID:   req.WalletID,
		ProjectID:  req.ProjectID,
		Address:    req.Address,
		Chain:      req.Chain,
		ChainType:  req.ChainType,
		StartBlock: start,
		EndBlock:   req.EndBlock,
		Priority:   req.Priority,
	})
}

// StartJob claims a queued job: queued -> running
func (o *Orchestrator) StartJob(ctx context.Context, jobID string) error {
	return o.mutate(ctx, jobID, func(job *IndexingJob) (*Event, error) {
		if job.Status != StatusQueued {
			return nil, fmt.Errorf("%w: cannot start job in status %s", ErrInvalidTransition, job.Status)
		}
		started := o.now()
		job.Status = StatusRunning
		job.StartedAt = &started

		metrics.JobTransitions.WithLabelValues(string(StatusRunning)).Inc()
		metrics.QueuedJobs.Dec()
		ev := newEvent(EventStatus, job, started)
		return &ev, nil
	})
}

// UpdateJobProgress merges a worker's progress into a running job. The
// current block is clamped to the job range and never moves backwards; an
// update that does not advance it is stored without publishing an event.
func (o *Orchestrator) UpdateJobProgress(ctx context.Context, jobID string, update ProgressUpdate) error {
	return o.mutate(ctx, jobID, func(job *IndexingJob) (*Event, error) {
		if job.Status != StatusRunning {
			return nil, fmt.Errorf("%w: cannot update job in status %s", ErrInvalidTransition, job.Status)
		}

		current := clampBlock(update.CurrentBlock, job.StartBlock, job.EndBlock)
		if current > job.CurrentBlock {
			job.CurrentBlock = current
		}
		job.TransactionsFound = update.TransactionsFound
		job.EventsFound = update.EventsFound
		job.BlocksPerSecond = update.BlocksPerSecond

		o.lastMu.Lock()
		last, published := o.lastPublished[job.ID]
		advance := !published || job.CurrentBlock > last
		if advance {
			o.lastPublished[job.ID] = job.CurrentBlock
		}
		o.lastMu.Unlock()

		metrics.ProgressUpdates.Inc()
		if !advance {
			return nil, nil
		}
		ev := newEvent(EventProgress, job, o.now())
		return &ev, nil
	})
}

// CompleteJob finishes a running job and writes the wallet statistics
func (o *Orchestrator) CompleteJob(ctx context.Context, jobID string, counts FinalCounts) error {
	return o.mutate(ctx, jobID, func(job *IndexingJob) (*Event, error) {
		if job.Status != StatusRunning {
			return nil, fmt.Errorf("%w: cannot complete job in status %s", ErrInvalidTransition, job.Status)
		}

		completed := o.now()
		err := o.wallets.RecordCompletion(ctx, WalletCompletion{
			WalletID:         job.WalletID,
			ProjectID:        job.ProjectID,
			Address:          job.Address,
			Chain:            job.Chain,
			ChainType:        job.ChainType,
			LastIndexedBlock: job.EndBlock,
			Transactions:     counts.TransactionsFound,
			Events:           counts.EventsFound,
			SyncedAt:         completed,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record wallet statistics: %w", err)
		}

		job.Status = StatusCompleted
		job.CurrentBlock = job.EndBlock
		job.TransactionsFound = counts.TransactionsFound
		job.EventsFound = counts.EventsFound
		job.CompletedAt = &completed
		o.forget(job.ID)

		metrics.JobTransitions.WithLabelValues(string(StatusCompleted)).Inc()
		ev := newEvent(EventComplete, job, completed)
		return &ev, nil
	})
}

// FailJob marks a queued or running job failed. There is no automatic
// retry: a new job must be queued through RefreshWallet.
func (o *Orchestrator) FailJob(ctx context.Context, jobID, message string) error {
	return o.mutate(ctx, jobID, func(job *IndexingJob) (*Event, error) {
		if job.Status.Terminal() {
			return nil, fmt.Errorf("%w: job already %s", ErrInvalidTransition, job.Status)
		}
		if job.Status == StatusQueued {
			metrics.QueuedJobs.Dec()
		}

		failed := o.now()
		job.Status = StatusFailed
		job.ErrorMessage = message
		job.CompletedAt = &failed
		o.forget(job.ID)

		metrics.JobTransitions.WithLabelValues(string(StatusFailed)).Inc()
		ev := newEvent(EventError, job, failed)
		return &ev, nil
	})
}

// CancelJob fails a job with the cancelled message. A running worker stops
// before its next batch.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	return o.FailJob(ctx, jobID, CancelledMessage)
}

// GetJobStatus returns a job with its progress percentage
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return newJobStatus(job), nil
}

// GetJobStatusByWallet returns the wallet's active job, or its most recent one
func (o *Orchestrator) GetJobStatusByWallet(ctx context.Context, walletID string) (*JobStatus, error) {
	job, err := o.jobs.ActiveByWallet(ctx, walletID)
	if errors.Is(err, ErrJobNotFound) {
		job, err = o.jobs.LatestByWallet(ctx, walletID)
	}
	if err != nil {
		return nil, err
	}
	return newJobStatus(job), nil
}

// GetQueuedJobs returns queued jobs by priority descending, then creation time
func (o *Orchestrator) GetQueuedJobs(ctx context.Context) ([]*JobStatus, error) {
	jobs, err := o.jobs.ListByStatus(ctx, StatusQueued)
	if err != nil {
		return nil, err
	}
	sortQueued(jobs)

	out := make([]*JobStatus, len(jobs))
	for i, job := range jobs {
		out[i] = newJobStatus(job)
	}
	return out, nil
}

func sortQueued(jobs []*IndexingJob) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

// NextJob blocks until a queued job is available and returns it. Jobs that
// left the queued status while waiting (cancelled) are skipped.
func (o *Orchestrator) NextJob(ctx context.Context) (*IndexingJob, error) {
	for {
		id, err := o.queue.Pop(ctx)
		if err != nil {
			return nil, err
		}
		job, err := o.jobs.Get(ctx, id)
		if err != nil {
			o.logger.Warn("queued job vanished", zap.String("job_id", id), zap.Error(err))
			continue
		}
		if job.Status != StatusQueued {
			continue
		}
		return job, nil
	}
}

// Recover restores the queue from the store after a restart. Queued jobs
// are queued again; jobs left running by a previous process are failed so
// their wallets can be refreshed.
func (o *Orchestrator) Recover(ctx context.Context) (requeued, failed int, err error) {
	queued, err := o.jobs.ListByStatus(ctx, StatusQueued)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list queued jobs: %w", err)
	}
	sortQueued(queued)
	for _, job := range queued {
		if !o.queue.Push(job.ID, job.Priority, job.CreatedAt) {
			break
		}
		metrics.QueuedJobs.Inc()
		requeued++
	}

	running, err := o.jobs.ListByStatus(ctx, StatusRunning)
	if err != nil {
		return requeued, 0, fmt.Errorf("failed to list running jobs: %w", err)
	}
	for _, job := range running {
		if err := o.FailJob(ctx, job.ID, "interrupted by restart"); err != nil {
			o.logger.Warn("failed to fail interrupted job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		failed++
	}

	if requeued > 0 || failed > 0 {
		o.logger.Info("recovered jobs", zap.Int("requeued", requeued), zap.Int("failed", failed))
	}
	return requeued, failed, nil
}

// Close stops accepting jobs, wakes waiting workers, closes the events
// channel and the sinks
func (o *Orchestrator) Close() error {
	var errs []error
	o.closeOnce.Do(func() {
		// release publishers waiting on a full channel first
		close(o.done)

		o.pubMu.Lock()
		o.closed = true
		close(o.events)
		o.pubMu.Unlock()

		o.queue.Close()

		for _, sink := range o.sinks {
			if err := sink.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (o *Orchestrator) isClosed() bool {
	o.pubMu.RLock()
	defer o.pubMu.RUnlock()
	return o.closed
}

// mutate loads a job, applies fn under the wallet lock, stores the result
// and publishes the returned event
func (o *Orchestrator) mutate(ctx context.Context, jobID string, fn func(job *IndexingJob) (*Event, error)) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	unlock := o.locks.Lock(job.WalletID)
	defer unlock()

	// re-read under the lock
	job, err = o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	ev, err := fn(job)
	if err != nil {
		return err
	}
	if err := o.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if ev != nil {
		o.publish(*ev)
	}
	return nil
}

func (o *Orchestrator) forget(jobID string) {
	o.lastMu.Lock()
	delete(o.lastPublished, jobID)
	o.lastMu.Unlock()
}

// publish sends ev to the events channel. On a full channel a progress or
// status event waits up to PublishTimeout and is then dropped. Terminal
// events wait until they are delivered or the orchestrator is closed.
func (o *Orchestrator) publish(ev Event) {
	o.pubMu.RLock()
	defer o.pubMu.RUnlock()
	if o.closed {
		return
	}

	for _, sink := range o.sinks {
		if err := sink.Publish(context.Background(), ev); err != nil {
			o.logger.Warn("event sink publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}

	select {
	case o.events <- ev:
		metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
		return
	default:
	}

	var timeout <-chan time.Time
	if !ev.Type.Terminal() {
		timer := time.NewTimer(o.cfg.PublishTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case o.events <- ev:
		metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	case <-timeout:
		metrics.EventsDropped.WithLabelValues(string(ev.Type), "timeout").Inc()
		o.logger.Warn("event channel full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("job_id", ev.JobID),
			zap.String("wallet_id", ev.WalletID),
		)
	case <-o.done:
		metrics.EventsDropped.WithLabelValues(string(ev.Type), "closed").Inc()
		if ev.Type.Terminal() {
			o.logger.Error("orchestrator closed before terminal event was delivered",
				zap.String("type", string(ev.Type)),
				zap.String("job_id", ev.JobID),
				zap.String("wallet_id", ev.WalletID),
			)
		}
	}
}
