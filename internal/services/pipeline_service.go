package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimacar/facetrack-backend/internal/clients/recognizer"
	"github.com/selimacar/facetrack-backend/internal/clients/redis"
	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/repos"
	"github.com/selimacar/facetrack-backend/internal/types"
)

type PipelineResult struct {
	Success         bool   `json:"success"`
	BatchNumber     int    `json:"batch_number"`
	NextBatchNumber int    `json:"next_batch_number,omitempty"`
	ModelVersion    string `json:"model_version,omitempty"`
	Message         string `json:"message"`
}

// PipelineConfig holds the fixed orchestration knobs. SettleDelay gives the
// recognition service time to commit one stage's output before the next
// stage reads it.
type PipelineConfig struct {
	SettleDelay    time.Duration
	WorkerInterval time.Duration
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SettleDelay:    3 * time.Second,
		WorkerInterval: 2 * time.Second,
	}
}

type PipelineService interface {
	ProcessBatch(ctx context.Context, batchNumber int) (*PipelineResult, error)
	StartWorker(ctx context.Context)
}

type pipelineService struct {
	db  *gorm.DB
	log *logger.Logger
	cfg PipelineConfig

	counterRepo  repos.SystemCounterRepo
	trackingRepo repos.BatchTrackingRepo
	stages       StageRunner
	backup       BackupService
	rec          recognizer.Client
	events       redis.EventBus
}

func NewPipelineService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg PipelineConfig,
	counterRepo repos.SystemCounterRepo,
	trackingRepo repos.BatchTrackingRepo,
	stages StageRunner,
	backup BackupService,
	rec recognizer.Client,
	events redis.EventBus,
) PipelineService {
	if cfg.WorkerInterval <= 0 {
		cfg = DefaultPipelineConfig()
	}
	return &pipelineService{
		db:           db,
		log:          baseLog.With("service", "PipelineService"),
		cfg:          cfg,
		counterRepo:  counterRepo,
		trackingRepo: trackingRepo,
		stages:       stages,
		backup:       backup,
		rec:          rec,
		events:       events,
	}
}

// StartWorker runs the dispatch loop. A collecting batch that has reached
// the configured size is the queued work item left behind by admission; the
// worker claims and processes it. Failed runs stay claimable for manual
// re-triggering, never re-dispatched automatically.
func (s *pipelineService) StartWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.WorkerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				batchSize, err := s.counterRepo.Get(ctx, nil, types.CounterBatchSize)
				if err != nil {
					s.log.Warn("Worker failed to read batch size", "error", err)
					continue
				}
				ready, err := s.trackingRepo.FindReadyForProcessing(ctx, nil, batchSize)
				if err != nil {
					s.log.Warn("Worker scan failed", "error", err)
					continue
				}
				if ready == nil {
					continue
				}
				if _, err := s.ProcessBatch(ctx, ready.BatchNumber); err != nil {
					s.log.Error("Pipeline run failed", "batch_number", ready.BatchNumber, "error", err)
				}
			}
		}
	}()
}

// ProcessBatch drives one batch through sync, extract, train and backup in
// strict sequence. Stage failures abort the run and close the tracking row
// without advancing any counter, so the same batch number can be re-triggered
// by an operator. Backup failures are logged only.
func (s *pipelineService) ProcessBatch(ctx context.Context, batchNumber int) (*PipelineResult, error) {
	runLog := s.log.With("batch_number", batchNumber)

	// A down recognition service must leave the tracking row untouched, so
	// the probe runs before the claim.
	if err := s.rec.Health(ctx); err != nil {
		return nil, fmt.Errorf("recognition service not ready: %w", err)
	}

	currentBatch, err := s.counterRepo.Get(ctx, nil, types.CounterCurrentBatchNumber)
	if err != nil {
		return nil, fmt.Errorf("read current batch number: %w", err)
	}
	if batchNumber != currentBatch {
		return nil, fmt.Errorf("batch %d is not the current batch (current is %d)", batchNumber, currentBatch)
	}

	tracking, err := s.trackingRepo.GetByBatchNumber(ctx, nil, batchNumber)
	if err != nil {
		return nil, fmt.Errorf("load batch tracking: %w", err)
	}
	if tracking == nil {
		return nil, fmt.Errorf("no tracking record for batch %d", batchNumber)
	}

	claimed, err := s.trackingRepo.Claim(ctx, nil, batchNumber)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	if !claimed {
		return nil, fmt.Errorf("batch %d is already being processed", batchNumber)
	}
	runLog.Info("Batch claimed, starting pipeline", "users_in_batch", tracking.UsersInBatch)

	syncJob, err := s.stages.RunSync(ctx)
	if err != nil {
		return nil, s.abortRun(ctx, runLog, batchNumber, syncJob, "sync", err)
	}
	s.settle(ctx)

	extractJob, err := s.stages.RunExtract(ctx)
	if err != nil {
		return nil, s.abortRun(ctx, runLog, batchNumber, extractJob, "extract", err)
	}
	s.settle(ctx)

	trainJob, err := s.stages.RunTrain(ctx)
	if err != nil {
		return nil, s.abortRun(ctx, runLog, batchNumber, trainJob, "train", err)
	}
	modelVersion := trainJob.ModelVersion
	runLog.Info("Training completed", "model_version", modelVersion, "training_job_id", trainJob.ID)

	backupMessage := ""
	if _, err := s.backup.BackupBatch(ctx, batchNumber, modelVersion); err != nil {
		// Never hold the new model hostage to a backup copy.
		runLog.Error("Batch backup failed, continuing finalization", "error", err)
		backupMessage = fmt.Sprintf(" (backup failed: %v)", err)
	}

	nextBatch, err := s.finalize(ctx, batchNumber, trainJob.ID)
	if err != nil {
		return nil, fmt.Errorf("finalize batch %d: %w", batchNumber, err)
	}
	runLog.Info("Batch finalized", "next_batch_number", nextBatch)

	result := &PipelineResult{
		Success:         true,
		BatchNumber:     batchNumber,
		NextBatchNumber: nextBatch,
		ModelVersion:    modelVersion,
		Message:         fmt.Sprintf("Batch %d trained, model %s, now collecting batch %d%s", batchNumber, modelVersion, nextBatch, backupMessage),
	}
	s.publish(ctx, redis.EventPipelineComplete, map[string]any{
		"batch_number":      batchNumber,
		"next_batch_number": nextBatch,
		"model_version":     modelVersion,
	})
	return result, nil
}

func (s *pipelineService) settle(ctx context.Context) {
	if s.cfg.SettleDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.cfg.SettleDelay):
	}
}

// abortRun closes the tracking row as completed without advancing the batch
// counters. Completed-not-collecting keeps new enrollments out of a phantom
// next batch while an operator decides whether to re-trigger this one.
func (s *pipelineService) abortRun(ctx context.Context, runLog *logger.Logger, batchNumber int, job *types.TrainingJob, stage string, cause error) error {
	// A canceled run context still has to close the tracking row, otherwise
	// it sticks in processing and the claim guard blocks every re-trigger.
	ctx = context.WithoutCancel(ctx)
	now := time.Now()
	updates := map[string]interface{}{
		"batch_status": types.BatchStatusCompleted,
		"completed_at": now,
	}
	if job != nil {
		updates["training_job_id"] = job.ID
	}
	if err := s.trackingRepo.UpdateByBatchNumber(ctx, nil, batchNumber, updates); err != nil {
		runLog.Error("Failed to close tracking record after abort", "error", err)
	}
	runLog.Error("Pipeline aborted", "stage", stage, "error", cause)
	s.publish(ctx, redis.EventPipelineFailed, map[string]any{
		"batch_number": batchNumber,
		"stage":        stage,
		"error":        cause.Error(),
	})
	return fmt.Errorf("pipeline aborted at %s stage for batch %d: %w", stage, batchNumber, cause)
}

func (s *pipelineService) finalize(ctx context.Context, batchNumber int, trainingJobID uuid.UUID) (int, error) {
	nextBatch := batchNumber + 1
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := s.trackingRepo.UpdateByBatchNumber(ctx, tx, batchNumber, map[string]interface{}{
			"batch_status":    types.BatchStatusCompleted,
			"training_job_id": trainingJobID,
			"completed_at":    now,
		}); err != nil {
			return fmt.Errorf("close tracking record: %w", err)
		}
		if err := s.counterRepo.Set(ctx, tx, types.CounterCurrentBatchNumber, nextBatch); err != nil {
			return fmt.Errorf("advance batch counter: %w", err)
		}
		if err := s.counterRepo.Set(ctx, tx, types.CounterUsersInCurrentBatch, 0); err != nil {
			return fmt.Errorf("reset users counter: %w", err)
		}
		if _, err := s.trackingRepo.Create(ctx, tx, &types.BatchTracking{
			ID:           uuid.New(),
			BatchNumber:  nextBatch,
			UsersInBatch: 0,
			BatchStatus:  types.BatchStatusCollecting,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return fmt.Errorf("open next tracking record: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return nextBatch, nil
}

func (s *pipelineService) publish(ctx context.Context, eventType string, data map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, redis.Event{Type: eventType, Data: data}); err != nil {
		s.log.Debug("Failed to publish pipeline event", "error", err)
	}
}
