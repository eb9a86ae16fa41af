package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobTypeSync    = "sync"
	JobTypeExtract = "extract_embeddings"
	JobTypeTrain   = "train_model"

	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// TrainingJob is one row per pipeline stage execution. Rows are append-only:
// the stage runner that created a job is the only writer for its lifetime,
// and terminal rows are never deleted so the training history stays auditable.
type TrainingJob struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobType         string         `gorm:"column:job_type;not null;index" json:"job_type"` // sync|extract_embeddings|train_model
	Status          string         `gorm:"column:status;not null;index" json:"status"`     // pending|in_progress|completed|failed
	Progress        int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Logs            string         `gorm:"column:logs" json:"logs"`
	EmbeddingsCount *int           `gorm:"column:embeddings_count" json:"embeddings_count,omitempty"`
	UsersProcessed  *int           `gorm:"column:users_processed" json:"users_processed,omitempty"`
	Accuracy        *float64       `gorm:"column:accuracy" json:"accuracy,omitempty"`
	ModelVersion    string         `gorm:"column:model_version" json:"model_version,omitempty"`
	ErrorMessage    string         `gorm:"column:error_message" json:"error_message,omitempty"`
	Result          datatypes.JSON `gorm:"type:jsonb;column:result" json:"result,omitempty"`
	StartedAt       time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt     *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (TrainingJob) TableName() string { return "training_job" }

// Terminal reports whether the job reached a final state.
func (j *TrainingJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
