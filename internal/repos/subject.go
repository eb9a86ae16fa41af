package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/types"
)

type SubjectRepo interface {
	Create(ctx context.Context, tx *gorm.DB, subject *types.Subject) (*types.Subject, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Subject, error)
	GetByBatchNumber(ctx context.Context, tx *gorm.DB, batchNumber int) ([]*types.Subject, error)
	CountEnrolledWithImages(ctx context.Context, tx *gorm.DB) (int64, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type subjectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubjectRepo(db *gorm.DB, baseLog *logger.Logger) SubjectRepo {
	return &subjectRepo{
		db:  db,
		log: baseLog.With("repo", "SubjectRepo"),
	}
}

func (r *subjectRepo) Create(ctx context.Context, tx *gorm.DB, subject *types.Subject) (*types.Subject, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if subject == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(subject).Error; err != nil {
		return nil, err
	}
	return subject, nil
}

func (r *subjectRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Subject, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var subject types.Subject
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&subject).Error
	if err != nil {
		return nil, err
	}
	if subject.ID == uuid.Nil {
		return nil, nil
	}
	return &subject, nil
}

func (r *subjectRepo) GetByBatchNumber(ctx context.Context, tx *gorm.DB, batchNumber int) ([]*types.Subject, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Subject
	if err := transaction.WithContext(ctx).
		Where("batch_number = ?", batchNumber).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountEnrolledWithImages counts subjects that have at least one stored
// sample. The sync stage refuses to run against an empty dataset.
func (r *subjectRepo) CountEnrolledWithImages(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Subject{}).
		Where("enrolled = ? AND EXISTS (SELECT 1 FROM face_image WHERE face_image.subject_id = subject.id)", true).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *subjectRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Subject{}).
		Where("id = ?", id).
		Updates(updates).Error
}
