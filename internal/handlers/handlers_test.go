package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/services"
	"github.com/selimacar/facetrack-backend/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubEnrollment struct {
	subject      *types.Subject
	createErr    error
	upload       *services.UploadResult
	uploadErr    error
	storedCounts []int
}

func (s *stubEnrollment) CreateSubject(ctx context.Context, fullName, externalRef string) (*types.Subject, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.subject, nil
}

func (s *stubEnrollment) GetSubject(ctx context.Context, id uuid.UUID) (*types.Subject, error) {
	return s.subject, nil
}

func (s *stubEnrollment) StoreSamples(ctx context.Context, subjectID uuid.UUID, samples []services.SampleUpload) (*services.UploadResult, error) {
	s.storedCounts = append(s.storedCounts, len(samples))
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	return s.upload, nil
}

type stubBatch struct {
	result   *services.AdmissionResult
	err      error
	admitted []uuid.UUID
}

func (s *stubBatch) AdmitSubject(ctx context.Context, subjectID uuid.UUID, sampleCount int) (*services.AdmissionResult, error) {
	s.admitted = append(s.admitted, subjectID)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubPipeline struct {
	result *services.PipelineResult
	err    error
}

func (s *stubPipeline) ProcessBatch(ctx context.Context, batchNumber int) (*services.PipelineResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubPipeline) StartWorker(ctx context.Context) {}

type stubStatus struct {
	view *services.BatchStatusView
}

func (s *stubStatus) BatchStatus(ctx context.Context) (*services.BatchStatusView, error) {
	return s.view, nil
}

type stubJobsRepo struct {
	jobs map[uuid.UUID]*types.TrainingJob
}

func (s *stubJobsRepo) Create(ctx context.Context, tx *gorm.DB, job *types.TrainingJob) (*types.TrainingJob, error) {
	s.jobs[job.ID] = job
	return job, nil
}

func (s *stubJobsRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TrainingJob, error) {
	return s.jobs[id], nil
}

func (s *stubJobsRepo) GetLatestActive(ctx context.Context, tx *gorm.DB) (*types.TrainingJob, error) {
	return nil, nil
}

func (s *stubJobsRepo) ListByType(ctx context.Context, tx *gorm.DB, jobType string, limit int) ([]*types.TrainingJob, error) {
	var out []*types.TrainingJob
	for _, job := range s.jobs {
		if jobType == "" || job.JobType == jobType {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *stubJobsRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func subjectRouter(enrollment *stubEnrollment, batch *stubBatch) *gin.Engine {
	h := NewSubjectHandler(logger.NewNop(), enrollment, batch)
	r := gin.New()
	r.POST("/api/subjects", h.CreateSubject)
	r.POST("/api/subjects/:id/images", h.UploadImages)
	return r
}

func multipartImages(t *testing.T, filenames ...string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range filenames {
		part, err := writer.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write([]byte("fake image bytes"))
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func TestCreateSubjectValidatesName(t *testing.T) {
	r := subjectRouter(&stubEnrollment{}, &stubBatch{})
	req := httptest.NewRequest(http.MethodPost, "/api/subjects", strings.NewReader(`{"external_ref":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", w.Code)
	}
	var envelope ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_request" {
		t.Fatalf("code=%q, want invalid_request", envelope.Error.Code)
	}
}

func TestCreateSubjectOK(t *testing.T) {
	subject := &types.Subject{ID: uuid.New(), FullName: "Jamie Doe"}
	r := subjectRouter(&stubEnrollment{subject: subject}, &stubBatch{})
	req := httptest.NewRequest(http.MethodPost, "/api/subjects", strings.NewReader(`{"full_name":"Jamie Doe"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestUploadImagesAdmitsSubject(t *testing.T) {
	subjectID := uuid.New()
	enrollment := &stubEnrollment{upload: &services.UploadResult{ImagesUploaded: 2, Errors: []string{}}}
	batch := &stubBatch{result: &services.AdmissionResult{
		UsersInBatch:  4,
		BatchSize:     10,
		BatchNumber:   1,
		BatchComplete: false,
		Message:       "User added to batch 1. 6 more users needed before batch processing begins.",
	}}
	r := subjectRouter(enrollment, batch)

	body, contentType := multipartImages(t, "front.jpg", "left.jpg")
	req := httptest.NewRequest(http.MethodPost, "/api/subjects/"+subjectID.String()+"/images", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ImagesUploaded int    `json:"images_uploaded"`
		UsersInBatch   int    `json:"users_in_batch"`
		BatchSize      int    `json:"batch_size"`
		BatchComplete  bool   `json:"batch_complete"`
		Message        string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ImagesUploaded != 2 || resp.UsersInBatch != 4 || resp.BatchSize != 10 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(batch.admitted) != 1 || batch.admitted[0] != subjectID {
		t.Fatalf("admission called with %v, want [%s]", batch.admitted, subjectID)
	}
}

func TestUploadImagesNothingStored(t *testing.T) {
	enrollment := &stubEnrollment{upload: &services.UploadResult{ImagesUploaded: 0, Errors: []string{"front.jpg: corrupt"}}}
	batch := &stubBatch{}
	r := subjectRouter(enrollment, batch)

	body, contentType := multipartImages(t, "front.jpg")
	req := httptest.NewRequest(http.MethodPost, "/api/subjects/"+uuid.NewString()+"/images", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d, want 422", w.Code)
	}
	if len(batch.admitted) != 0 {
		t.Fatal("subject admitted despite zero stored samples")
	}
}

func TestUploadImagesRejectsBadSubjectID(t *testing.T) {
	r := subjectRouter(&stubEnrollment{}, &stubBatch{})
	body, contentType := multipartImages(t, "front.jpg")
	req := httptest.NewRequest(http.MethodPost, "/api/subjects/not-a-uuid/images", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", w.Code)
	}
}

func TestProcessBatchRejectsBadNumber(t *testing.T) {
	h := NewPipelineHandler(logger.NewNop(), &stubPipeline{}, &stubStatus{})
	r := gin.New()
	r.POST("/api/pipeline/batches/:number/process", h.ProcessBatch)

	for _, number := range []string{"zero", "0", "-3"} {
		req := httptest.NewRequest(http.MethodPost, "/api/pipeline/batches/"+number+"/process", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("number %q: status=%d, want 400", number, w.Code)
		}
	}
}

func TestProcessBatchConflictOnPipelineError(t *testing.T) {
	h := NewPipelineHandler(logger.NewNop(), &stubPipeline{err: fmt.Errorf("batch 1 is already being processed")}, &stubStatus{})
	r := gin.New()
	r.POST("/api/pipeline/batches/:number/process", h.ProcessBatch)

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/batches/1/process", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409", w.Code)
	}
}

func TestGetStatusReturnsView(t *testing.T) {
	h := NewPipelineHandler(logger.NewNop(), &stubPipeline{}, &stubStatus{view: &services.BatchStatusView{
		CurrentBatch:   2,
		UsersInBatch:   3,
		BatchSize:      10,
		Status:         types.BatchStatusCollecting,
		UsersRemaining: 7,
		Message:        "Collecting batch 2: 3 of 10 subjects enrolled, 7 to go",
	}})
	r := gin.New()
	r.GET("/api/pipeline/status", h.GetStatus)

	req := httptest.NewRequest(http.MethodGet, "/api/pipeline/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	var view services.BatchStatusView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.CurrentBatch != 2 || view.UsersRemaining != 7 {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestGetJobByID(t *testing.T) {
	repo := &stubJobsRepo{jobs: map[uuid.UUID]*types.TrainingJob{}}
	job := &types.TrainingJob{ID: uuid.New(), JobType: types.JobTypeTrain, Status: types.JobStatusCompleted}
	repo.jobs[job.ID] = job
	h := NewJobsHandler(repo)
	r := gin.New()
	r.GET("/api/jobs/:id", h.GetJobByID)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d for unknown job, want 404", w.Code)
	}
}
