package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/types"
)

type BackupRecordRepo interface {
	Create(ctx context.Context, tx *gorm.DB, record *types.BackupRecord) (*types.BackupRecord, error)
	GetByBatchNumber(ctx context.Context, tx *gorm.DB, batchNumber int) (*types.BackupRecord, error)
}

type backupRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBackupRecordRepo(db *gorm.DB, baseLog *logger.Logger) BackupRecordRepo {
	return &backupRecordRepo{
		db:  db,
		log: baseLog.With("repo", "BackupRecordRepo"),
	}
}

func (r *backupRecordRepo) Create(ctx context.Context, tx *gorm.DB, record *types.BackupRecord) (*types.BackupRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if record == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

func (r *backupRecordRepo) GetByBatchNumber(ctx context.Context, tx *gorm.DB, batchNumber int) (*types.BackupRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var record types.BackupRecord
	err := transaction.WithContext(ctx).
		Where("batch_number = ?", batchNumber).
		Order("created_at DESC").
		Limit(1).
		Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == uuid.Nil {
		return nil, nil
	}
	return &record, nil
}
