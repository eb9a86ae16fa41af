package services

import (
	"context"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/repos"
	"github.com/selimacar/facetrack-backend/internal/types"
)

type BackupService interface {
	BackupBatch(ctx context.Context, batchNumber int, modelVersion string) (*types.BackupRecord, error)
}

type backupService struct {
	db  *gorm.DB
	log *logger.Logger

	subjectRepo repos.SubjectRepo
	imageRepo   repos.FaceImageRepo
	backupRepo  repos.BackupRecordRepo
	bucket      BucketService

	copyConcurrency int
}

func NewBackupService(
	db *gorm.DB,
	baseLog *logger.Logger,
	subjectRepo repos.SubjectRepo,
	imageRepo repos.FaceImageRepo,
	backupRepo repos.BackupRecordRepo,
	bucket BucketService,
) BackupService {
	return &backupService{
		db:              db,
		log:             baseLog.With("service", "BackupService"),
		subjectRepo:     subjectRepo,
		imageRepo:       imageRepo,
		backupRepo:      backupRepo,
		bucket:          bucket,
		copyConcurrency: 8,
	}
}

// BackupBatch mirrors the face images of one batch's subjects into a
// timestamped backup prefix and records a manifest. Individual copy failures
// are counted, not fatal: the manifest reflects what actually landed.
func (s *backupService) BackupBatch(ctx context.Context, batchNumber int, modelVersion string) (*types.BackupRecord, error) {
	if s.bucket == nil {
		return nil, fmt.Errorf("bucket service not configured")
	}
	subjects, err := s.subjectRepo.GetByBatchNumber(ctx, nil, batchNumber)
	if err != nil {
		return nil, fmt.Errorf("load batch subjects: %w", err)
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("no subjects recorded for batch %d", batchNumber)
	}
	subjectIDs := make([]uuid.UUID, 0, len(subjects))
	for _, subject := range subjects {
		subjectIDs = append(subjectIDs, subject.ID)
	}
	images, err := s.imageRepo.GetBySubjectIDs(ctx, nil, subjectIDs)
	if err != nil {
		return nil, fmt.Errorf("load batch images: %w", err)
	}

	backupFolder := fmt.Sprintf("backups/batch_%d_%s", batchNumber, time.Now().Format("20060102T150405"))

	var copied atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.copyConcurrency)
	for _, image := range images {
		group.Go(func() error {
			dstKey := path.Join(backupFolder, image.SubjectID.String(), path.Base(image.StorageKey))
			if err := s.bucket.CopyFile(groupCtx, image.StorageKey, dstKey); err != nil {
				s.log.Warn("Backup copy failed", "src", image.StorageKey, "error", err)
				return nil
			}
			copied.Add(1)
			return nil
		})
	}
	_ = group.Wait()

	copiedCount := int(copied.Load())
	if copiedCount < len(images) {
		s.log.Warn("Backup finished with missing copies",
			"batch_number", batchNumber,
			"copied", copiedCount,
			"total", len(images),
		)
	}

	record := &types.BackupRecord{
		ID:           uuid.New(),
		BatchNumber:  batchNumber,
		UsersCount:   len(subjects),
		ImagesCount:  copiedCount,
		BackupFolder: backupFolder,
		ModelVersion: modelVersion,
		CreatedAt:    time.Now(),
	}
	if _, err := s.backupRepo.Create(ctx, nil, record); err != nil {
		return nil, fmt.Errorf("write backup manifest: %w", err)
	}
	s.log.Info("Batch backup recorded",
		"batch_number", batchNumber,
		"users", record.UsersCount,
		"images", record.ImagesCount,
		"folder", backupFolder,
	)
	return record, nil
}
