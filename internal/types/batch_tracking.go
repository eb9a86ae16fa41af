package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	BatchStatusCollecting = "collecting"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
)

// BatchTracking is one row per batch number. At most one row is in
// collecting or processing state at any time; that row is the current batch.
type BatchTracking struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BatchNumber   int        `gorm:"column:batch_number;not null;uniqueIndex" json:"batch_number"`
	UsersInBatch  int        `gorm:"column:users_in_batch;not null;default:0" json:"users_in_batch"`
	BatchStatus   string     `gorm:"column:batch_status;not null;index" json:"batch_status"` // collecting|processing|completed
	TrainingJobID *uuid.UUID `gorm:"type:uuid;column:training_job_id" json:"training_job_id,omitempty"`
	CompletedAt   *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
}

func (BatchTracking) TableName() string { return "batch_tracking" }
