package services

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/selimacar/facetrack-backend/internal/clients/recognizer"
	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/repos"
	"github.com/selimacar/facetrack-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "facetrack_test.db")
	gormDB, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = gormDB.AutoMigrate(
		&types.Subject{},
		&types.FaceImage{},
		&types.TrainingJob{},
		&types.BatchTracking{},
		&types.SystemCounter{},
		&types.BackupRecord{},
	)
	if err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return gormDB
}

type testEnv struct {
	db           *gorm.DB
	log          *logger.Logger
	subjectRepo  repos.SubjectRepo
	imageRepo    repos.FaceImageRepo
	jobRepo      repos.TrainingJobRepo
	trackingRepo repos.BatchTrackingRepo
	counterRepo  repos.SystemCounterRepo
	backupRepo   repos.BackupRecordRepo
}

func newTestEnv(t *testing.T, batchSize int) *testEnv {
	t.Helper()
	gormDB := newTestDB(t)
	log := logger.NewNop()
	env := &testEnv{
		db:           gormDB,
		log:          log,
		subjectRepo:  repos.NewSubjectRepo(gormDB, log),
		imageRepo:    repos.NewFaceImageRepo(gormDB, log),
		jobRepo:      repos.NewTrainingJobRepo(gormDB, log),
		trackingRepo: repos.NewBatchTrackingRepo(gormDB, log),
		counterRepo:  repos.NewSystemCounterRepo(gormDB, log),
		backupRepo:   repos.NewBackupRecordRepo(gormDB, log),
	}
	if err := env.counterRepo.EnsureDefaults(context.Background(), nil, batchSize); err != nil {
		t.Fatalf("seed counters: %v", err)
	}
	return env
}

func (env *testEnv) createSubject(t *testing.T, name string) *types.Subject {
	t.Helper()
	now := time.Now()
	subject := &types.Subject{
		ID:        uuid.New(),
		FullName:  name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := env.subjectRepo.Create(context.Background(), nil, subject); err != nil {
		t.Fatalf("create subject: %v", err)
	}
	return subject
}

func (env *testEnv) createImages(t *testing.T, subjectID uuid.UUID, count int) {
	t.Helper()
	images := make([]*types.FaceImage, 0, count)
	for i := 0; i < count; i++ {
		images = append(images, &types.FaceImage{
			ID:         uuid.New(),
			SubjectID:  subjectID,
			StorageKey: fmt.Sprintf("subjects/%s/sample_%d.jpg", subjectID, i),
			CreatedAt:  time.Now(),
		})
	}
	if _, err := env.imageRepo.Create(context.Background(), nil, images); err != nil {
		t.Fatalf("create images: %v", err)
	}
}

// fakeRecognizer scripts the external service. Each stage pops its status
// sequence one element per poll; the last element repeats.
type fakeRecognizer struct {
	mu        sync.Mutex
	healthErr error
	stats     recognizer.DatasetStats
	statsErr  error
	startErr  map[recognizer.Stage]error
	statuses  map[recognizer.Stage][]recognizer.StageStatus
	started   []recognizer.Stage
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{
		stats: recognizer.DatasetStats{
			TotalSubjects:    10,
			SubjectsWithData: 10,
			TotalImages:      50,
			EmbeddingsCount:  50,
			DistinctSubjects: 10,
		},
		startErr: map[recognizer.Stage]error{},
		statuses: map[recognizer.Stage][]recognizer.StageStatus{},
	}
}

func (f *fakeRecognizer) Health(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeRecognizer) Stats(ctx context.Context) (*recognizer.DatasetStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	stats := f.stats
	return &stats, nil
}

func (f *fakeRecognizer) StartStage(ctx context.Context, stage recognizer.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErr[stage]; err != nil {
		return err
	}
	f.started = append(f.started, stage)
	return nil
}

func (f *fakeRecognizer) StageStatus(ctx context.Context, stage recognizer.Stage) (*recognizer.StageStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.statuses[stage]
	if len(seq) == 0 {
		return &recognizer.StageStatus{Status: recognizer.StatusInProgress}, nil
	}
	st := seq[0]
	if len(seq) > 1 {
		f.statuses[stage] = seq[1:]
	}
	return &st, nil
}

func (f *fakeRecognizer) script(stage recognizer.Stage, statuses ...recognizer.StageStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[stage] = statuses
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func completedStatus(message string) recognizer.StageStatus {
	return recognizer.StageStatus{Status: recognizer.StatusCompleted, Progress: 100, Message: message}
}

// fakeBucket records object operations in memory.
type fakeBucket struct {
	mu      sync.Mutex
	copies  map[string]string // dst -> src
	copyErr error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{copies: map[string]string{}}
}

func (f *fakeBucket) UploadFile(ctx context.Context, key string, file io.Reader) error { return nil }

func (f *fakeBucket) CopyFile(ctx context.Context, srcKey, dstKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copyErr != nil {
		return f.copyErr
	}
	f.copies[dstKey] = srcKey
	return nil
}

func (f *fakeBucket) DeleteFile(ctx context.Context, key string) error { return nil }

func (f *fakeBucket) GetPublicURL(key string) string { return "https://example.test/" + key }

func (f *fakeBucket) copyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.copies)
}
