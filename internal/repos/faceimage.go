package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/types"
)

type FaceImageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, images []*types.FaceImage) ([]*types.FaceImage, error)
	GetBySubjectIDs(ctx context.Context, tx *gorm.DB, subjectIDs []uuid.UUID) ([]*types.FaceImage, error)
	CountBySubjectID(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) (int64, error)
}

type faceImageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFaceImageRepo(db *gorm.DB, baseLog *logger.Logger) FaceImageRepo {
	return &faceImageRepo{
		db:  db,
		log: baseLog.With("repo", "FaceImageRepo"),
	}
}

func (r *faceImageRepo) Create(ctx context.Context, tx *gorm.DB, images []*types.FaceImage) ([]*types.FaceImage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(images) == 0 {
		return []*types.FaceImage{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

func (r *faceImageRepo) GetBySubjectIDs(ctx context.Context, tx *gorm.DB, subjectIDs []uuid.UUID) ([]*types.FaceImage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.FaceImage
	if len(subjectIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("subject_id IN ?", subjectIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *faceImageRepo) CountBySubjectID(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if subjectID == uuid.Nil {
		return 0, nil
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.FaceImage{}).
		Where("subject_id = ?", subjectID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
