package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/types"
)

type TrainingJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.TrainingJob) (*types.TrainingJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TrainingJob, error)
	GetLatestActive(ctx context.Context, tx *gorm.DB) (*types.TrainingJob, error)
	ListByType(ctx context.Context, tx *gorm.DB, jobType string, limit int) ([]*types.TrainingJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type trainingJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTrainingJobRepo(db *gorm.DB, baseLog *logger.Logger) TrainingJobRepo {
	return &trainingJobRepo{
		db:  db,
		log: baseLog.With("repo", "TrainingJobRepo"),
	}
}

func (r *trainingJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.TrainingJob) (*types.TrainingJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *trainingJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TrainingJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.TrainingJob
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// GetLatestActive returns the most recent non-terminal job, if any. The
// status endpoint uses it to derive the coarse processing stage label.
func (r *trainingJobRepo) GetLatestActive(ctx context.Context, tx *gorm.DB) (*types.TrainingJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.TrainingJob
	err := transaction.WithContext(ctx).
		Where("status IN ?", []string{types.JobStatusPending, types.JobStatusInProgress}).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *trainingJobRepo) ListByType(ctx context.Context, tx *gorm.DB, jobType string, limit int) ([]*types.TrainingJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := transaction.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}
	var out []*types.TrainingJob
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *trainingJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.TrainingJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}
