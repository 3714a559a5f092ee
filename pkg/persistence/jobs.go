package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

var activeStatuses = []string{string(orchestrator.StatusQueued), string(orchestrator.StatusRunning)}

// JobStore keeps orchestrator jobs in PostgreSQL. The partial unique index
// created by Migrate rejects a second active job for a wallet.
type JobStore struct {
	db *gorm.DB
}

// NewJobStore creates a job store
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job *orchestrator.IndexingJob) error {
	res := s.db.WithContext(ctx).Create(jobRowFrom(job))
	if res.Error != nil {
		if IsDuplicateKeyError(res.Error) {
			return fmt.Errorf("%w: wallet %s", orchestrator.ErrJobInProgress, job.WalletID)
		}
		return fmt.Errorf("failed to insert job %s: %w", job.ID, res.Error)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*orchestrator.IndexingJob, error) {
	var row IndexingJob
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "job %s", id)
	}
	return row.toJob(), nil
}

func (s *JobStore) Update(ctx context.Context, job *orchestrator.IndexingJob) error {
	res := s.db.WithContext(ctx).
		Model(&IndexingJob{}).
		Where("id = ?", job.ID).
		Select("*").
		Updates(jobRowFrom(job))
	if res.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", orchestrator.ErrJobNotFound, job.ID)
	}
	return nil
}

func (s *JobStore) ActiveByWallet(ctx context.Context, walletID string) (*orchestrator.IndexingJob, error) {
	var row IndexingJob
	err := s.db.WithContext(ctx).
		Where("wallet_id = ? AND status IN ?", walletID, activeStatuses).
		First(&row).Error
	if err != nil {
		return nil, notFound(err, "no active job for wallet %s", walletID)
	}
	return row.toJob(), nil
}

func (s *JobStore) LatestByWallet(ctx context.Context, walletID string) (*orchestrator.IndexingJob, error) {
	var row IndexingJob
	err := s.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		return nil, notFound(err, "no job for wallet %s", walletID)
	}
	return row.toJob(), nil
}

func (s *JobStore) ListByStatus(ctx context.Context, status orchestrator.Status) ([]*orchestrator.IndexingJob, error) {
	var rows []IndexingJob
	err := s.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("priority DESC, created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}

	jobs := make([]*orchestrator.IndexingJob, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toJob()
	}
	return jobs, nil
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", orchestrator.ErrJobNotFound, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("failed to load %s: %w", fmt.Sprintf(format, args...), err)
}
