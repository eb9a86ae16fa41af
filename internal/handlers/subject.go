package handlers

import (
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/services"
)

type SubjectHandler struct {
	log        *logger.Logger
	enrollment services.EnrollmentService
	batch      services.BatchService
}

func NewSubjectHandler(log *logger.Logger, enrollment services.EnrollmentService, batch services.BatchService) *SubjectHandler {
	return &SubjectHandler{
		log:        log.With("handler", "SubjectHandler"),
		enrollment: enrollment,
		batch:      batch,
	}
}

type createSubjectRequest struct {
	FullName    string `json:"full_name" binding:"required"`
	ExternalRef string `json:"external_ref"`
}

// POST /api/subjects
func (h *SubjectHandler) CreateSubject(c *gin.Context) {
	var req createSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	subject, err := h.enrollment.CreateSubject(c.Request.Context(), req.FullName, req.ExternalRef)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "create_subject_failed", err)
		return
	}
	RespondOK(c, gin.H{"subject": subject})
}

// POST /api/subjects/:id/images
// Multipart upload of a subject's biometric samples. When at least one
// sample lands, the subject is admitted to the current batch; the admission
// outcome rides along in the response so the enrollment UI can show batch
// progress without another round trip.
func (h *SubjectHandler) UploadImages(c *gin.Context) {
	subjectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_subject_id", err)
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_multipart", err)
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		RespondError(c, http.StatusBadRequest, "no_images", errNoImages)
		return
	}

	samples := make([]services.SampleUpload, 0, len(files))
	opened := make([]multipart.File, 0, len(files))
	var openErrors []string
	for _, fileHeader := range files {
		f, err := fileHeader.Open()
		if err != nil {
			openErrors = append(openErrors, fileHeader.Filename+": "+err.Error())
			continue
		}
		opened = append(opened, f)
		samples = append(samples, services.SampleUpload{
			Filename: fileHeader.Filename,
			Size:     fileHeader.Size,
			Reader:   f,
		})
	}
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	upload := &services.UploadResult{Errors: openErrors}
	if len(samples) > 0 {
		upload, err = h.enrollment.StoreSamples(c.Request.Context(), subjectID, samples)
		closeAll()
		if err != nil {
			RespondError(c, http.StatusBadRequest, "upload_failed", err)
			return
		}
		upload.Errors = append(openErrors, upload.Errors...)
	}

	if upload.ImagesUploaded == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"images_uploaded": 0,
			"errors":          upload.Errors,
			"message":         "no samples stored, subject not admitted to batch",
		})
		return
	}

	admission, err := h.batch.AdmitSubject(c.Request.Context(), subjectID, upload.ImagesUploaded)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "admission_failed", err)
		return
	}

	RespondOK(c, gin.H{
		"images_uploaded": upload.ImagesUploaded,
		"errors":          upload.Errors,
		"users_in_batch":  admission.UsersInBatch,
		"batch_size":      admission.BatchSize,
		"batch_complete":  admission.BatchComplete,
		"message":         admission.Message,
	})
}

var errNoImages = &noImagesError{}

type noImagesError struct{}

func (*noImagesError) Error() string { return "multipart field 'images' is empty" }
