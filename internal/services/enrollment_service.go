package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/repos"
	"github.com/selimacar/facetrack-backend/internal/types"
)

type SampleUpload struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

type UploadResult struct {
	ImagesUploaded int      `json:"images_uploaded"`
	Errors         []string `json:"errors"`
}

type EnrollmentService interface {
	CreateSubject(ctx context.Context, fullName, externalRef string) (*types.Subject, error)
	GetSubject(ctx context.Context, id uuid.UUID) (*types.Subject, error)
	StoreSamples(ctx context.Context, subjectID uuid.UUID, samples []SampleUpload) (*UploadResult, error)
}

type enrollmentService struct {
	db  *gorm.DB
	log *logger.Logger

	subjectRepo repos.SubjectRepo
	imageRepo   repos.FaceImageRepo
	bucket      BucketService
}

func NewEnrollmentService(
	db *gorm.DB,
	baseLog *logger.Logger,
	subjectRepo repos.SubjectRepo,
	imageRepo repos.FaceImageRepo,
	bucket BucketService,
) EnrollmentService {
	return &enrollmentService{
		db:          db,
		log:         baseLog.With("service", "EnrollmentService"),
		subjectRepo: subjectRepo,
		imageRepo:   imageRepo,
		bucket:      bucket,
	}
}

func (s *enrollmentService) CreateSubject(ctx context.Context, fullName, externalRef string) (*types.Subject, error) {
	if fullName == "" {
		return nil, fmt.Errorf("full name is required")
	}
	now := time.Now()
	subject := &types.Subject{
		ID:          uuid.New(),
		FullName:    fullName,
		ExternalRef: externalRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.subjectRepo.Create(ctx, nil, subject); err != nil {
		return nil, fmt.Errorf("create subject: %w", err)
	}
	return subject, nil
}

func (s *enrollmentService) GetSubject(ctx context.Context, id uuid.UUID) (*types.Subject, error) {
	subject, err := s.subjectRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if subject == nil {
		return nil, fmt.Errorf("subject not found")
	}
	return subject, nil
}

// StoreSamples uploads biometric samples to the bucket and records a
// FaceImage row per stored object. Per-file failures are collected instead
// of aborting the whole upload; the caller decides whether the surviving
// count is enough to admit the subject.
func (s *enrollmentService) StoreSamples(ctx context.Context, subjectID uuid.UUID, samples []SampleUpload) (*UploadResult, error) {
	subject, err := s.subjectRepo.GetByID(ctx, nil, subjectID)
	if err != nil {
		return nil, fmt.Errorf("load subject: %w", err)
	}
	if subject == nil {
		return nil, fmt.Errorf("subject not found")
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples provided")
	}

	result := &UploadResult{Errors: []string{}}
	var stored []*types.FaceImage
	for _, sample := range samples {
		imageID := uuid.New()
		key := path.Join("subjects", subjectID.String(), fmt.Sprintf("%s_%s", imageID.String(), path.Base(sample.Filename)))
		if err := s.bucket.UploadFile(ctx, key, sample.Reader); err != nil {
			s.log.Warn("Sample upload failed", "subject_id", subjectID, "filename", sample.Filename, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sample.Filename, err))
			continue
		}
		stored = append(stored, &types.FaceImage{
			ID:         imageID,
			SubjectID:  subjectID,
			StorageKey: key,
			SizeBytes:  sample.Size,
			CreatedAt:  time.Now(),
		})
	}
	if len(stored) > 0 {
		if _, err := s.imageRepo.Create(ctx, nil, stored); err != nil {
			return nil, fmt.Errorf("record face images: %w", err)
		}
	}
	result.ImagesUploaded = len(stored)
	return result, nil
}
