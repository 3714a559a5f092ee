package orchestrator

import (
	"math"
	"time"

	"github.com/product-labo/Meta-sub005/pkg/chain"
)

// Status is the lifecycle state of an indexing job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Active reports whether the status holds the wallet's single active slot
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusRunning
}

// Terminal reports whether the job can no longer change
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CancelledMessage is the error message of a job cancelled by the user
const CancelledMessage = "cancelled"

// IndexingJob is a bounded unit of work indexing [StartBlock, EndBlock] for one wallet
type IndexingJob struct {
	ID        string     `json:"id"`
	WalletID  string     `json:"walletId"`
	ProjectID string     `json:"projectId"`
	Address   string     `json:"address"`
	Chain     string     `json:"chain"`
	ChainType chain.Type `json:"chainType"`
	Status    Status     `json:"status"`

	StartBlock   uint64 `json:"startBlock"`
	EndBlock     uint64 `json:"endBlock"`
	CurrentBlock uint64 `json:"currentBlock"`
	Priority     int    `json:"priority"`

	TransactionsFound uint64  `json:"transactionsFound"`
	EventsFound       uint64  `json:"eventsFound"`
	BlocksPerSecond   float64 `json:"blocksPerSecond"`
	ErrorMessage      string  `json:"errorMessage,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy of the job
func (j *IndexingJob) Clone() *IndexingJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Percentage returns the job's progress
func (j *IndexingJob) Percentage() float64 {
	return Percentage(j.StartBlock, j.EndBlock, j.CurrentBlock)
}

// JobStatus is a job with its computed progress
type JobStatus struct {
	*IndexingJob
	Percentage float64 `json:"percentage"`
}

func newJobStatus(job *IndexingJob) *JobStatus {
	return &JobStatus{IndexingJob: job, Percentage: job.Percentage()}
}

// Percentage computes progress in whole percent: 0 at start, 100 only at
// end, and non-decreasing as current advances. A single-block range is 100.
func Percentage(start, end, current uint64) float64 {
	if end <= start {
		return 100
	}
	if current <= start {
		return 0
	}
	if current >= end {
		return 100
	}
	p := math.Round(float64(current-start) / float64(end-start) * 100)
	// rounding must not report completion early
	if p >= 100 {
		return 99
	}
	return p
}

// clampBlock bounds n to [start, end]
func clampBlock(n, start, end uint64) uint64 {
	if n < start {
		return start
	}
	if n > end {
		return end
	}
	return n
}
