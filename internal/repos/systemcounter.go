package repos

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/types"
)

type SystemCounterRepo interface {
	EnsureDefaults(ctx context.Context, tx *gorm.DB, batchSize int) error
	Get(ctx context.Context, tx *gorm.DB, name string) (int, error)
	GetLocked(ctx context.Context, tx *gorm.DB, name string) (int, error)
	Set(ctx context.Context, tx *gorm.DB, name string, value int) error
}

type systemCounterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSystemCounterRepo(db *gorm.DB, baseLog *logger.Logger) SystemCounterRepo {
	return &systemCounterRepo{
		db:  db,
		log: baseLog.With("repo", "SystemCounterRepo"),
	}
}

// EnsureDefaults seeds the three counters on boot. Existing rows are left
// untouched so a restart never resets a half-collected batch.
func (r *systemCounterRepo) EnsureDefaults(ctx context.Context, tx *gorm.DB, batchSize int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	now := time.Now()
	defaults := []*types.SystemCounter{
		{Name: types.CounterBatchSize, Value: batchSize, UpdatedAt: now},
		{Name: types.CounterCurrentBatchNumber, Value: 1, UpdatedAt: now},
		{Name: types.CounterUsersInCurrentBatch, Value: 0, UpdatedAt: now},
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&defaults).Error
}

func (r *systemCounterRepo) Get(ctx context.Context, tx *gorm.DB, name string) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var counter types.SystemCounter
	err := transaction.WithContext(ctx).
		Where("name = ?", name).
		Limit(1).
		Find(&counter).Error
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

// GetLocked reads a counter under SELECT ... FOR UPDATE. Admission uses it
// to serialize the read-increment-write on users_in_current_batch; two
// enrollments finishing in the same tick cannot both observe the same value.
func (r *systemCounterRepo) GetLocked(ctx context.Context, tx *gorm.DB, name string) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var counter types.SystemCounter
	err := transaction.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ?", name).
		Limit(1).
		Find(&counter).Error
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

func (r *systemCounterRepo) Set(ctx context.Context, tx *gorm.DB, name string, value int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.SystemCounter{}).
		Where("name = ?", name).
		Updates(map[string]interface{}{
			"value":      value,
			"updated_at": time.Now(),
		}).Error
}
