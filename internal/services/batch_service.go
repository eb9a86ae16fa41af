package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimacar/facetrack-backend/internal/clients/redis"
	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/repos"
	"github.com/selimacar/facetrack-backend/internal/types"
)

type AdmissionResult struct {
	UsersInBatch  int    `json:"users_in_batch"`
	BatchSize     int    `json:"batch_size"`
	BatchNumber   int    `json:"batch_number"`
	BatchComplete bool   `json:"batch_complete"`
	Message       string `json:"message"`
}

type BatchService interface {
	AdmitSubject(ctx context.Context, subjectID uuid.UUID, sampleCount int) (*AdmissionResult, error)
}

type batchService struct {
	db  *gorm.DB
	log *logger.Logger

	counterRepo  repos.SystemCounterRepo
	trackingRepo repos.BatchTrackingRepo
	subjectRepo  repos.SubjectRepo
	events       redis.EventBus
}

func NewBatchService(
	db *gorm.DB,
	baseLog *logger.Logger,
	counterRepo repos.SystemCounterRepo,
	trackingRepo repos.BatchTrackingRepo,
	subjectRepo repos.SubjectRepo,
	events redis.EventBus,
) BatchService {
	return &batchService{
		db:           db,
		log:          baseLog.With("service", "BatchService"),
		counterRepo:  counterRepo,
		trackingRepo: trackingRepo,
		subjectRepo:  subjectRepo,
		events:       events,
	}
}

// AdmitSubject counts one fully-enrolled subject toward the current batch.
// The users counter is read under a row lock and the tracking row is updated
// in the same transaction, so concurrent admissions serialize instead of
// both reading the same count. Callers must invoke this at most once per
// subject; a retried enrollment that calls it twice is counted twice.
func (s *batchService) AdmitSubject(ctx context.Context, subjectID uuid.UUID, sampleCount int) (*AdmissionResult, error) {
	if subjectID == uuid.Nil {
		return nil, fmt.Errorf("missing subject id")
	}
	if sampleCount <= 0 {
		// An enrollment whose sample upload entirely failed must not occupy
		// a batch slot.
		return nil, fmt.Errorf("subject has no stored samples, not admitting to batch")
	}

	var result *AdmissionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subject, err := s.subjectRepo.GetByID(ctx, tx, subjectID)
		if err != nil {
			return fmt.Errorf("load subject: %w", err)
		}
		if subject == nil {
			return fmt.Errorf("subject not found")
		}

		usersInBatch, err := s.counterRepo.GetLocked(ctx, tx, types.CounterUsersInCurrentBatch)
		if err != nil {
			return fmt.Errorf("lock users counter: %w", err)
		}
		batchSize, err := s.counterRepo.Get(ctx, tx, types.CounterBatchSize)
		if err != nil {
			return fmt.Errorf("read batch size: %w", err)
		}
		if batchSize <= 0 {
			batchSize = 10
		}
		batchNumber, err := s.counterRepo.Get(ctx, tx, types.CounterCurrentBatchNumber)
		if err != nil {
			return fmt.Errorf("read current batch number: %w", err)
		}
		if batchNumber <= 0 {
			batchNumber = 1
		}

		newCount := usersInBatch + 1
		if err := s.counterRepo.Set(ctx, tx, types.CounterUsersInCurrentBatch, newCount); err != nil {
			return fmt.Errorf("increment users counter: %w", err)
		}

		tracking, err := s.trackingRepo.GetByBatchNumber(ctx, tx, batchNumber)
		if err != nil {
			return fmt.Errorf("load batch tracking: %w", err)
		}
		if tracking == nil {
			now := time.Now()
			tracking = &types.BatchTracking{
				ID:           uuid.New(),
				BatchNumber:  batchNumber,
				UsersInBatch: newCount,
				BatchStatus:  types.BatchStatusCollecting,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if _, err := s.trackingRepo.Create(ctx, tx, tracking); err != nil {
				return fmt.Errorf("create batch tracking: %w", err)
			}
		} else {
			if err := s.trackingRepo.UpdateByBatchNumber(ctx, tx, batchNumber, map[string]interface{}{
				"users_in_batch": newCount,
			}); err != nil {
				return fmt.Errorf("update batch tracking: %w", err)
			}
		}

		if err := s.subjectRepo.UpdateFields(ctx, tx, subjectID, map[string]interface{}{
			"batch_number": batchNumber,
			"enrolled":     true,
		}); err != nil {
			return fmt.Errorf("stamp subject batch: %w", err)
		}

		complete := newCount >= batchSize
		message := fmt.Sprintf("Batch %d: %d/%d subjects collected", batchNumber, newCount, batchSize)
		if complete {
			message = fmt.Sprintf("Batch %d is full, training pipeline queued", batchNumber)
		}
		result = &AdmissionResult{
			UsersInBatch:  newCount,
			BatchSize:     batchSize,
			BatchNumber:   batchNumber,
			BatchComplete: complete,
			Message:       message,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Subject admitted to batch",
		"subject_id", subjectID,
		"batch_number", result.BatchNumber,
		"users_in_batch", result.UsersInBatch,
		"batch_complete", result.BatchComplete,
	)
	if s.events != nil {
		pubErr := s.events.Publish(ctx, redis.Event{
			Type: redis.EventBatchAdmitted,
			Data: map[string]any{
				"subject_id":     subjectID,
				"batch_number":   result.BatchNumber,
				"users_in_batch": result.UsersInBatch,
				"batch_complete": result.BatchComplete,
			},
		})
		if pubErr != nil {
			s.log.Debug("Failed to publish admission event", "error", pubErr)
		}
	}
	// No direct pipeline invocation here. A full collecting row is itself
	// the queued work item; the pipeline worker claims it on its next scan,
	// so the enrollment path returns immediately and a crashed dispatch
	// cannot lose the run.
	return result, nil
}
