package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/types"
)

type BatchTrackingRepo interface {
	Create(ctx context.Context, tx *gorm.DB, batch *types.BatchTracking) (*types.BatchTracking, error)
	GetByBatchNumber(ctx context.Context, tx *gorm.DB, batchNumber int) (*types.BatchTracking, error)
	FindReadyForProcessing(ctx context.Context, tx *gorm.DB, batchSize int) (*types.BatchTracking, error)
	Claim(ctx context.Context, tx *gorm.DB, batchNumber int) (bool, error)
	UpdateByBatchNumber(ctx context.Context, tx *gorm.DB, batchNumber int, updates map[string]interface{}) error
}

type batchTrackingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBatchTrackingRepo(db *gorm.DB, baseLog *logger.Logger) BatchTrackingRepo {
	return &batchTrackingRepo{
		db:  db,
		log: baseLog.With("repo", "BatchTrackingRepo"),
	}
}

func (r *batchTrackingRepo) Create(ctx context.Context, tx *gorm.DB, batch *types.BatchTracking) (*types.BatchTracking, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if batch == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *batchTrackingRepo) GetByBatchNumber(ctx context.Context, tx *gorm.DB, batchNumber int) (*types.BatchTracking, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var batch types.BatchTracking
	err := transaction.WithContext(ctx).
		Where("batch_number = ?", batchNumber).
		Limit(1).
		Find(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == uuid.Nil {
		return nil, nil
	}
	return &batch, nil
}

// FindReadyForProcessing returns a collecting batch that has reached the
// configured size, oldest first. The pipeline worker polls this as its work
// queue; a full collecting row that misses one scan is picked up on the next.
func (r *batchTrackingRepo) FindReadyForProcessing(ctx context.Context, tx *gorm.DB, batchSize int) (*types.BatchTracking, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if batchSize <= 0 {
		return nil, nil
	}
	var batch types.BatchTracking
	err := transaction.WithContext(ctx).
		Where("batch_status = ? AND users_in_batch >= ?", types.BatchStatusCollecting, batchSize).
		Order("batch_number ASC").
		Limit(1).
		Find(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == uuid.Nil {
		return nil, nil
	}
	return &batch, nil
}

// Claim flips the batch to processing. The WHERE clause excludes rows that
// are already processing, so of two concurrent claims exactly one sees
// RowsAffected == 1. This is the duplicate-run guard for the orchestrator.
func (r *batchTrackingRepo) Claim(ctx context.Context, tx *gorm.DB, batchNumber int) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.BatchTracking{}).
		Where("batch_number = ? AND batch_status <> ?", batchNumber, types.BatchStatusProcessing).
		Updates(map[string]interface{}{
			"batch_status": types.BatchStatusProcessing,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *batchTrackingRepo) UpdateByBatchNumber(ctx context.Context, tx *gorm.DB, batchNumber int, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.BatchTracking{}).
		Where("batch_number = ?", batchNumber).
		Updates(updates).Error
}
