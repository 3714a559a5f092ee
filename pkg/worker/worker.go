package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/product-labo/Meta-sub005/internal/constants"
	"github.com/product-labo/Meta-sub005/internal/logger"
	"github.com/product-labo/Meta-sub005/pkg/chain"
	"github.com/product-labo/Meta-sub005/pkg/decoder"
	"github.com/product-labo/Meta-sub005/pkg/metrics"
	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
	"github.com/product-labo/Meta-sub005/pkg/persistence"
	"github.com/product-labo/Meta-sub005/pkg/rpcpool"
)

// JobController is the part of the orchestrator a worker drives
type JobController interface {
	StartJob(ctx context.Context, jobID string) error
	UpdateJobProgress(ctx context.Context, jobID string, update orchestrator.ProgressUpdate) error
	CompleteJob(ctx context.Context, jobID string, counts orchestrator.FinalCounts) error
	FailJob(ctx context.Context, jobID, message string) error
	GetJobStatus(ctx context.Context, jobID string) (*orchestrator.JobStatus, error)
}

// Endpoints runs calls against a chain's healthy endpoint
type Endpoints interface {
	Do(ctx context.Context, chain string, fn func(ctx context.Context, url string) error) error
	NextRetryAt(chain string) (time.Time, error)
}

// ClientSource returns the chain client of an endpoint
type ClientSource interface {
	Get(ctx context.Context, chainType chain.Type, url string) (chain.Client, error)
}

// TransactionDecoder decodes raw transactions
type TransactionDecoder interface {
	Decode(ctx context.Context, chainType chain.Type, tx chain.RawTransaction) decoder.DecodedTransaction
}

// Config holds worker settings
type Config struct {
	// BatchSize is the number of blocks fetched per batch
	BatchSize int
	// ChainBatchSizes overrides BatchSize per chain name
	ChainBatchSizes map[string]int
	// MaxBackoffWait is how long a job waits for an endpoint to leave backoff
	MaxBackoffWait time.Duration
	// RateWindow is the window of the blocks/sec rate
	RateWindow time.Duration
}

// DefaultConfig returns the default worker settings
func DefaultConfig() Config {
	return Config{
		BatchSize:      constants.DefaultBatchSize,
		MaxBackoffWait: constants.DefaultMaxBackoffWait,
		RateWindow:     constants.DefaultRateWindow,
	}
}

// Worker indexes one job at a time
type Worker struct {
	cfg       Config
	jobs      JobController
	endpoints Endpoints
	clients   ClientSource
	decoder   TransactionDecoder
	txs       persistence.TransactionStore
	logger    *zap.Logger
}

// New creates a worker
func New(cfg Config, jobs JobController, endpoints Endpoints, clients ClientSource, dec TransactionDecoder, txs persistence.TransactionStore, log *zap.Logger) *Worker {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxBackoffWait <= 0 {
		cfg.MaxBackoffWait = def.MaxBackoffWait
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}

	return &Worker{
		cfg:       cfg,
		jobs:      jobs,
		endpoints: endpoints,
		clients:   clients,
		decoder:   dec,
		txs:       txs,
		logger:    logger.WithComponent(logger.OrNop(log), "worker"),
	}
}

func (w *Worker) batchSize(chainName string) uint64 {
	if n, ok := w.cfg.ChainBatchSizes[chainName]; ok && n > 0 {
		return uint64(n)
	}
	return uint64(w.cfg.BatchSize)
}

// Run claims a queued job and indexes its block range. The job ends
// completed, failed, or (when cancelled by the user) stops before the next
// batch. The returned error is only for the caller's logging: the job
// status already reflects it.
func (w *Worker) Run(ctx context.Context, job *orchestrator.IndexingJob) error {
	log := logger.WithJob(logger.WithChain(w.logger, job.Chain), job.ID, job.WalletID)

	if err := w.jobs.StartJob(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to start job %s: %w", job.ID, err)
	}
	metrics.RunningWorkers.Inc()
	defer metrics.RunningWorkers.Dec()

	log.Info("indexing started",
		zap.Uint64("start_block", job.StartBlock),
		zap.Uint64("end_block", job.EndBlock),
	)

	var (
		rate         = NewRateTracker(w.cfg.RateWindow)
		batch        = w.batchSize(job.Chain)
		current      = job.StartBlock
		transactions uint64
		events       uint64
		// outageSince is when the current run of endpoint outages began
		outageSince time.Time
	)

	for current <= job.EndBlock {
		if err := ctx.Err(); err != nil {
			return w.fail(log, job, fmt.Errorf("indexing interrupted: %w", err))
		}

		status, err := w.jobs.GetJobStatus(ctx, job.ID)
		if err != nil {
			return w.fail(log, job, fmt.Errorf("failed to read job status: %w", err))
		}
		if status.Status != orchestrator.StatusRunning {
			log.Info("job stopped", zap.String("status", string(status.Status)), zap.String("reason", status.ErrorMessage))
			return nil
		}

		end := current + batch - 1
		if end > job.EndBlock || end < current {
			end = job.EndBlock
		}

		started := time.Now()
		txs, err := w.fetch(ctx, job, current, end)
		if err != nil {
			if !retryable(err) {
				return w.fail(log, job, fmt.Errorf("blocks %d-%d: %w", current, end, err))
			}
			if outageSince.IsZero() {
				outageSince = time.Now()
			}
			if werr := w.waitForEndpoint(ctx, job.Chain, outageSince.Add(w.cfg.MaxBackoffWait)); werr != nil {
				return w.fail(log, job, fmt.Errorf("blocks %d-%d: %w", current, end, errors.Join(werr, err)))
			}
			log.Warn("retrying batch after endpoint outage",
				zap.Uint64("from", current),
				zap.Uint64("to", end),
				zap.Error(err),
			)
			continue
		}
		outageSince = time.Time{}

		found, evs, err := w.store(ctx, job, txs)
		if err != nil {
			return w.fail(log, job, fmt.Errorf("blocks %d-%d: %w", current, end, err))
		}
		transactions += found
		events += evs

		blocks := end - current + 1
		rate.Record(blocks)
		metrics.BlocksIndexed.WithLabelValues(job.Chain).Add(float64(blocks))
		metrics.BatchDuration.WithLabelValues(job.Chain).Observe(time.Since(started).Seconds())

		err = w.jobs.UpdateJobProgress(ctx, job.ID, orchestrator.ProgressUpdate{
			CurrentBlock:      end,
			TransactionsFound: transactions,
			EventsFound:       events,
			BlocksPerSecond:   rate.BlocksPerSecond(),
		})
		if errors.Is(err, orchestrator.ErrInvalidTransition) {
			// cancelled while the batch was running
			log.Info("job stopped during batch", zap.Uint64("block", end))
			return nil
		}
		if err != nil {
			return w.fail(log, job, fmt.Errorf("failed to record progress: %w", err))
		}

		log.Debug("batch indexed",
			zap.Uint64("from", current),
			zap.Uint64("to", end),
			zap.Int("transactions", len(txs)),
			zap.Uint64("new_transactions", found),
		)

		if end == job.EndBlock {
			break
		}
		current = end + 1
	}

	err := w.jobs.CompleteJob(ctx, job.ID, orchestrator.FinalCounts{
		TransactionsFound: transactions,
		EventsFound:       events,
	})
	if errors.Is(err, orchestrator.ErrInvalidTransition) {
		log.Info("job stopped before completion")
		return nil
	}
	if err != nil {
		return w.fail(log, job, fmt.Errorf("failed to complete job: %w", err))
	}

	log.Info("indexing completed",
		zap.Uint64("transactions", transactions),
		zap.Uint64("events", events),
	)
	return nil
}

// fetch reads the wallet's transactions in [from, to] through the endpoint manager
func (w *Worker) fetch(ctx context.Context, job *orchestrator.IndexingJob, from, to uint64) ([]chain.RawTransaction, error) {
	var txs []chain.RawTransaction
	err := w.endpoints.Do(ctx, job.Chain, func(ctx context.Context, url string) error {
		client, err := w.clients.Get(ctx, job.ChainType, url)
		if err != nil {
			return rpcpool.Transient(err)
		}
		txs, err = client.WalletActivity(ctx, job.Address, from, to)
		return err
	})
	return txs, err
}

// store decodes and inserts transactions, returning the number of new
// transactions and their events. Already stored transactions are skipped.
func (w *Worker) store(ctx context.Context, job *orchestrator.IndexingJob, txs []chain.RawTransaction) (uint64, uint64, error) {
	var found, events uint64
	for _, raw := range txs {
		decoded := w.decoder.Decode(ctx, job.ChainType, raw)

		row, err := persistence.NewTransaction(job, raw, decoded)
		if err != nil {
			return found, events, err
		}
		err = w.txs.Insert(ctx, row)
		if errors.Is(err, persistence.ErrDuplicateTransaction) {
			metrics.DuplicateTransactions.WithLabelValues(job.Chain).Inc()
			continue
		}
		if err != nil {
			return found, events, fmt.Errorf("failed to store transaction %s: %w", raw.Hash, err)
		}

		found++
		events += uint64(len(decoded.Events))
		metrics.TransactionsIndexed.WithLabelValues(job.Chain, string(decoded.Category)).Inc()
	}
	return found, events, nil
}

// waitForEndpoint sleeps until the chain's first endpoint leaves backoff.
// It fails when that is later than deadline.
func (w *Worker) waitForEndpoint(ctx context.Context, chainName string, deadline time.Time) error {
	retryAt, err := w.endpoints.NextRetryAt(chainName)
	if err != nil {
		return err
	}
	if retryAt.After(deadline) {
		return fmt.Errorf("no endpoint available within %s", w.cfg.MaxBackoffWait)
	}

	delay := time.Until(retryAt)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fail marks the job failed and returns cause
func (w *Worker) fail(log *zap.Logger, job *orchestrator.IndexingJob, cause error) error {
	// the job must be failed even when ctx was cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.jobs.FailJob(ctx, job.ID, cause.Error()); err != nil && !errors.Is(err, orchestrator.ErrInvalidTransition) {
		log.Error("failed to mark job failed", zap.Error(err))
	}
	log.Warn("indexing failed", zap.Error(cause))
	return cause
}

// retryable reports whether a fetch error is an endpoint outage worth
// waiting out rather than a failure of the job
func retryable(err error) bool {
	return errors.Is(err, rpcpool.ErrAllEndpointsInBackoff) || errors.Is(err, rpcpool.ErrAttemptsExhausted)
}
