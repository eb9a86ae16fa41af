package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/repos"
	"github.com/selimacar/facetrack-backend/internal/types"
)

const (
	ProcessingStageSync    = "sync"
	ProcessingStageExtract = "extract"
	ProcessingStageTrain   = "train"
	ProcessingStageBackup  = "backup"
)

type BatchStatusView struct {
	CurrentBatch    int                  `json:"current_batch"`
	UsersInBatch    int                  `json:"users_in_batch"`
	BatchSize       int                  `json:"batch_size"`
	Status          string               `json:"status"`
	UsersRemaining  int                  `json:"users_remaining"`
	ProcessingStage string               `json:"processing_stage,omitempty"`
	Message         string               `json:"message"`
	Tracking        *types.BatchTracking `json:"batch_tracking,omitempty"`
}

type StatusService interface {
	BatchStatus(ctx context.Context) (*BatchStatusView, error)
}

type statusService struct {
	db  *gorm.DB
	log *logger.Logger

	counterRepo  repos.SystemCounterRepo
	trackingRepo repos.BatchTrackingRepo
	jobRepo      repos.TrainingJobRepo
}

func NewStatusService(
	db *gorm.DB,
	baseLog *logger.Logger,
	counterRepo repos.SystemCounterRepo,
	trackingRepo repos.BatchTrackingRepo,
	jobRepo repos.TrainingJobRepo,
) StatusService {
	return &statusService{
		db:           db,
		log:          baseLog.With("service", "StatusService"),
		counterRepo:  counterRepo,
		trackingRepo: trackingRepo,
		jobRepo:      jobRepo,
	}
}

// BatchStatus is a pure read over the counters, the current tracking row and
// the active training job. Two calls with no intervening writes return the
// same view.
func (s *statusService) BatchStatus(ctx context.Context) (*BatchStatusView, error) {
	currentBatch, err := s.counterRepo.Get(ctx, nil, types.CounterCurrentBatchNumber)
	if err != nil {
		return nil, fmt.Errorf("read current batch number: %w", err)
	}
	if currentBatch <= 0 {
		currentBatch = 1
	}
	batchSize, err := s.counterRepo.Get(ctx, nil, types.CounterBatchSize)
	if err != nil {
		return nil, fmt.Errorf("read batch size: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	usersInBatch, err := s.counterRepo.Get(ctx, nil, types.CounterUsersInCurrentBatch)
	if err != nil {
		return nil, fmt.Errorf("read users counter: %w", err)
	}

	tracking, err := s.trackingRepo.GetByBatchNumber(ctx, nil, currentBatch)
	if err != nil {
		return nil, fmt.Errorf("load batch tracking: %w", err)
	}

	status := types.BatchStatusCollecting
	if tracking != nil {
		status = tracking.BatchStatus
	}
	remaining := batchSize - usersInBatch
	if remaining < 0 {
		remaining = 0
	}

	view := &BatchStatusView{
		CurrentBatch:   currentBatch,
		UsersInBatch:   usersInBatch,
		BatchSize:      batchSize,
		Status:         status,
		UsersRemaining: remaining,
		Tracking:       tracking,
	}

	switch status {
	case types.BatchStatusProcessing:
		// The backup step has no job row of its own: an active job names the
		// stage, its absence while processing means backup is running.
		stage := ProcessingStageBackup
		progress := 0
		job, err := s.jobRepo.GetLatestActive(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("load active job: %w", err)
		}
		if job != nil {
			stage = stageLabel(job.JobType)
			progress = job.Progress
		}
		view.ProcessingStage = stage
		view.Message = fmt.Sprintf("Processing batch %d: %s stage at %d%%", currentBatch, stage, progress)
	case types.BatchStatusCompleted:
		view.Message = fmt.Sprintf("Batch %d finished processing", currentBatch)
	default:
		view.Message = fmt.Sprintf("Collecting batch %d: %d of %d subjects enrolled, %d to go", currentBatch, usersInBatch, batchSize, remaining)
	}
	return view, nil
}

func stageLabel(jobType string) string {
	switch jobType {
	case types.JobTypeSync:
		return ProcessingStageSync
	case types.JobTypeExtract:
		return ProcessingStageExtract
	case types.JobTypeTrain:
		return ProcessingStageTrain
	}
	return ProcessingStageBackup
}
