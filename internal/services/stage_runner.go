package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/selimacar/facetrack-backend/internal/clients/recognizer"
	"github.com/selimacar/facetrack-backend/internal/clients/redis"
	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/repos"
	"github.com/selimacar/facetrack-backend/internal/types"
)

// StageRunnerConfig bounds the polling loops. Poll budgets cap the total wait
// per stage (at the default 10s interval: 10 min for sync/extract, 20 min
// for training).
type StageRunnerConfig struct {
	PollInterval        time.Duration
	SyncMaxPolls        int
	ExtractMaxPolls     int
	TrainMaxPolls       int
	MinEmbeddings       int
	MinDistinctSubjects int
}

func DefaultStageRunnerConfig() StageRunnerConfig {
	return StageRunnerConfig{
		PollInterval:        10 * time.Second,
		SyncMaxPolls:        60,
		ExtractMaxPolls:     60,
		TrainMaxPolls:       120,
		MinEmbeddings:       10,
		MinDistinctSubjects: 2,
	}
}

type StageRunner interface {
	RunSync(ctx context.Context) (*types.TrainingJob, error)
	RunExtract(ctx context.Context) (*types.TrainingJob, error)
	RunTrain(ctx context.Context) (*types.TrainingJob, error)
}

type stageRunner struct {
	db  *gorm.DB
	log *logger.Logger
	cfg StageRunnerConfig

	jobRepo     repos.TrainingJobRepo
	subjectRepo repos.SubjectRepo
	rec         recognizer.Client
	events      redis.EventBus
}

func NewStageRunner(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg StageRunnerConfig,
	jobRepo repos.TrainingJobRepo,
	subjectRepo repos.SubjectRepo,
	rec recognizer.Client,
	events redis.EventBus,
) StageRunner {
	if cfg.PollInterval <= 0 {
		cfg = DefaultStageRunnerConfig()
	}
	return &stageRunner{
		db:          db,
		log:         baseLog.With("service", "StageRunner"),
		cfg:         cfg,
		jobRepo:     jobRepo,
		subjectRepo: subjectRepo,
		rec:         rec,
		events:      events,
	}
}

// stageSpec is the per-stage variation point of the shared harness: what to
// call, how long to wait, what must hold before submitting, and which result
// fields to copy off the terminal status.
type stageSpec struct {
	jobType     string
	stage       recognizer.Stage
	maxPolls    int
	readiness   func(ctx context.Context) error
	applyResult func(st *recognizer.StageStatus, updates map[string]interface{})
}

func (sr *stageRunner) RunSync(ctx context.Context) (*types.TrainingJob, error) {
	return sr.run(ctx, stageSpec{
		jobType:  types.JobTypeSync,
		stage:    recognizer.StageSync,
		maxPolls: sr.cfg.SyncMaxPolls,
		readiness: func(ctx context.Context) error {
			count, err := sr.subjectRepo.CountEnrolledWithImages(ctx, nil)
			if err != nil {
				return fmt.Errorf("count enrolled subjects: %w", err)
			}
			if count == 0 {
				return fmt.Errorf("dataset is empty: no enrolled subjects with stored samples")
			}
			return nil
		},
		applyResult: func(st *recognizer.StageStatus, updates map[string]interface{}) {
			if st.UsersProcessed != nil {
				updates["users_processed"] = *st.UsersProcessed
			}
		},
	})
}

func (sr *stageRunner) RunExtract(ctx context.Context) (*types.TrainingJob, error) {
	return sr.run(ctx, stageSpec{
		jobType:  types.JobTypeExtract,
		stage:    recognizer.StageExtract,
		maxPolls: sr.cfg.ExtractMaxPolls,
		readiness: func(ctx context.Context) error {
			stats, err := sr.rec.Stats(ctx)
			if err != nil {
				return fmt.Errorf("fetch dataset stats: %w", err)
			}
			if stats.SubjectsWithData == 0 {
				return fmt.Errorf("no synced subjects to extract embeddings from")
			}
			return nil
		},
		applyResult: func(st *recognizer.StageStatus, updates map[string]interface{}) {
			if st.EmbeddingsCount != nil {
				updates["embeddings_count"] = *st.EmbeddingsCount
			}
			if st.UsersProcessed != nil {
				updates["users_processed"] = *st.UsersProcessed
			}
		},
	})
}

func (sr *stageRunner) RunTrain(ctx context.Context) (*types.TrainingJob, error) {
	return sr.run(ctx, stageSpec{
		jobType:  types.JobTypeTrain,
		stage:    recognizer.StageTrain,
		maxPolls: sr.cfg.TrainMaxPolls,
		readiness: func(ctx context.Context) error {
			stats, err := sr.rec.Stats(ctx)
			if err != nil {
				return fmt.Errorf("fetch dataset stats: %w", err)
			}
			if stats.EmbeddingsCount < sr.cfg.MinEmbeddings {
				return fmt.Errorf("insufficient embeddings: have %d, need at least %d", stats.EmbeddingsCount, sr.cfg.MinEmbeddings)
			}
			if stats.DistinctSubjects < sr.cfg.MinDistinctSubjects {
				return fmt.Errorf("insufficient distinct subjects: have %d, need at least %d", stats.DistinctSubjects, sr.cfg.MinDistinctSubjects)
			}
			return nil
		},
		applyResult: func(st *recognizer.StageStatus, updates map[string]interface{}) {
			if st.Accuracy != nil {
				updates["accuracy"] = *st.Accuracy
			}
			if st.EmbeddingsCount != nil {
				updates["embeddings_count"] = *st.EmbeddingsCount
			}
			if st.ModelVersion != "" {
				updates["model_version"] = st.ModelVersion
			}
		},
	})
}

// run executes one stage to a terminal state. The health probe and readiness
// check run before any job row exists, so configuration and connectivity
// problems never show up as failed training history. Once a job row exists it
// always reaches completed or failed before run returns.
func (sr *stageRunner) run(ctx context.Context, spec stageSpec) (*types.TrainingJob, error) {
	stageLog := sr.log.With("job_type", spec.jobType)

	if err := sr.rec.Health(ctx); err != nil {
		stageLog.Warn("Recognizer health check failed", "error", err)
		return nil, fmt.Errorf("recognizer not ready: %w", err)
	}
	if spec.readiness != nil {
		if err := spec.readiness(ctx); err != nil {
			stageLog.Warn("Stage readiness check failed", "error", err)
			return nil, fmt.Errorf("%s readiness: %w", spec.jobType, err)
		}
	}

	now := time.Now()
	job := &types.TrainingJob{
		ID:        uuid.New(),
		JobType:   spec.jobType,
		Status:    types.JobStatusInProgress,
		Progress:  0,
		Logs:      "submitting to recognition service",
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := sr.jobRepo.Create(ctx, nil, job); err != nil {
		return nil, fmt.Errorf("create training job: %w", err)
	}

	if err := sr.rec.StartStage(ctx, spec.stage); err != nil {
		sr.failJob(ctx, job, fmt.Sprintf("submission failed: %v", err))
		return job, fmt.Errorf("submit %s: %w", spec.jobType, err)
	}

	return sr.poll(ctx, stageLog, spec, job)
}

func (sr *stageRunner) poll(ctx context.Context, stageLog *logger.Logger, spec stageSpec, job *types.TrainingJob) (*types.TrainingJob, error) {
	lastProgress := job.Progress
	lastMessage := job.Logs

	for attempt := 0; attempt < spec.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			sr.failJob(ctx, job, fmt.Sprintf("canceled: %v", ctx.Err()))
			return job, ctx.Err()
		case <-time.After(sr.cfg.PollInterval):
		}

		// Always re-read the service status; an operator can force-fail a
		// stuck run on the service side and the next tick honors it.
		st, err := sr.rec.StageStatus(ctx, spec.stage)
		if err != nil {
			stageLog.Warn("Status poll failed, will retry", "attempt", attempt+1, "error", err)
			continue
		}

		if st.Terminal() {
			if st.Status == recognizer.StatusFailed {
				msg := st.Message
				if msg == "" {
					msg = "recognition service reported failure"
				}
				sr.failJob(ctx, job, msg)
				return job, fmt.Errorf("%s failed: %s", spec.jobType, msg)
			}
			sr.completeJob(ctx, spec, job, st)
			return job, nil
		}

		// Write-if-changed keeps the write volume at one row update per
		// actual progress transition instead of one per tick.
		progress := st.Progress
		if progress < lastProgress {
			progress = lastProgress
		}
		if progress > 100 {
			progress = 100
		}
		if progress != lastProgress || st.Message != lastMessage {
			updates := map[string]interface{}{
				"progress": progress,
				"logs":     st.Message,
			}
			if err := sr.jobRepo.UpdateFields(ctx, nil, job.ID, updates); err != nil {
				stageLog.Warn("Failed to mirror stage progress", "error", err)
			}
			job.Progress = progress
			job.Logs = st.Message
			lastProgress = progress
			lastMessage = st.Message
			sr.publishProgress(ctx, job)
		}
	}

	// Budget exhausted with the service still non-terminal. Recorded
	// distinctly from an execution failure so operators can tell "it broke"
	// from "it never finished".
	timeoutMsg := fmt.Sprintf("timed out: stage still running after %d polls (%s interval)", spec.maxPolls, sr.cfg.PollInterval)
	sr.failJob(ctx, job, timeoutMsg)
	return job, fmt.Errorf("%s timed out: %s", spec.jobType, timeoutMsg)
}

func (sr *stageRunner) completeJob(ctx context.Context, spec stageSpec, job *types.TrainingJob, st *recognizer.StageStatus) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       types.JobStatusCompleted,
		"progress":     100,
		"logs":         st.Message,
		"completed_at": now,
	}
	if spec.applyResult != nil {
		spec.applyResult(st, updates)
	}
	if raw, err := json.Marshal(st); err == nil {
		updates["result"] = datatypes.JSON(raw)
	}
	if err := sr.jobRepo.UpdateFields(ctx, nil, job.ID, updates); err != nil {
		sr.log.Error("Failed to finalize training job", "job_id", job.ID, "error", err)
	}
	job.Status = types.JobStatusCompleted
	job.Progress = 100
	job.Logs = st.Message
	job.CompletedAt = &now
	if st.UsersProcessed != nil {
		job.UsersProcessed = st.UsersProcessed
	}
	if st.EmbeddingsCount != nil {
		job.EmbeddingsCount = st.EmbeddingsCount
	}
	if st.Accuracy != nil {
		job.Accuracy = st.Accuracy
	}
	if st.ModelVersion != "" {
		job.ModelVersion = st.ModelVersion
	}
	sr.publishProgress(ctx, job)
}

func (sr *stageRunner) failJob(ctx context.Context, job *types.TrainingJob, errorMessage string) {
	// The run context may itself be the reason the job is failing; the
	// terminal write must land regardless so no row stays in_progress.
	ctx = context.WithoutCancel(ctx)
	now := time.Now()
	updates := map[string]interface{}{
		"status":        types.JobStatusFailed,
		"error_message": errorMessage,
		"logs":          errorMessage,
		"completed_at":  now,
	}
	if err := sr.jobRepo.UpdateFields(ctx, nil, job.ID, updates); err != nil {
		sr.log.Error("Failed to mark training job failed", "job_id", job.ID, "error", err)
	}
	job.Status = types.JobStatusFailed
	job.ErrorMessage = errorMessage
	job.Logs = errorMessage
	job.CompletedAt = &now
	sr.publishProgress(ctx, job)
}

func (sr *stageRunner) publishProgress(ctx context.Context, job *types.TrainingJob) {
	if sr.events == nil {
		return
	}
	err := sr.events.Publish(ctx, redis.Event{
		Type: redis.EventStageProgress,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"status":   job.Status,
			"progress": job.Progress,
			"message":  job.Logs,
		},
	})
	if err != nil {
		sr.log.Debug("Failed to publish stage progress event", "error", err)
	}
}
