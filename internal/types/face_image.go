package types

import (
	"time"

	"github.com/google/uuid"
)

type FaceImage struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectID  uuid.UUID `gorm:"type:uuid;not null;index" json:"subject_id"`
	Subject    *Subject  `gorm:"constraint:OnDelete:CASCADE;foreignKey:SubjectID;references:ID" json:"subject,omitempty"`
	StorageKey string    `gorm:"column:storage_key;not null" json:"storage_key"`
	SizeBytes  int64     `gorm:"column:size_bytes" json:"size_bytes"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (FaceImage) TableName() string { return "face_image" }
