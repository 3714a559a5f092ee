package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

// JobSource hands out queued jobs in priority order
type JobSource interface {
	NextJob(ctx context.Context) (*orchestrator.IndexingJob, error)
}

// Pool runs a fixed number of workers pulling jobs from the orchestrator.
// A wallet never has two active jobs, so no two workers index the same wallet.
type Pool struct {
	size   int
	source JobSource
	worker *Worker
	logger *zap.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPool creates a pool of size workers
func NewPool(size int, source JobSource, worker *Worker, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 1
	}
	return &Pool{
		size:   size,
		source: source,
		worker: worker,
		logger: logger.With(zap.String("component", "worker-pool")),
	}
}

// Start launches the workers. They run until ctx is done, Stop is called,
// or the job source is closed.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.size))
}

// Stop cancels running jobs and waits for the workers to exit
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Wait blocks until every worker has exited
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", id))

	for {
		job, err := p.source.NextJob(ctx)
		if err != nil {
			if errors.Is(err, orchestrator.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("failed to take next job", zap.Error(err))
			continue
		}

		if err := p.worker.Run(ctx, job); err != nil {
			log.Warn("job ended with error", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}
