package types

import (
	"time"

	"github.com/google/uuid"
)

// Subject is an enrolled person. BatchNumber is stamped by batch admission
// once the subject's samples finished uploading, so the backup step can find
// the cohort that a pipeline run covered.
type Subject struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FullName    string    `gorm:"column:full_name;not null" json:"full_name"`
	ExternalRef string    `gorm:"column:external_ref;index" json:"external_ref"`
	BatchNumber int       `gorm:"column:batch_number;index;default:0" json:"batch_number"`
	Enrolled    bool      `gorm:"column:enrolled;not null;default:false" json:"enrolled"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Subject) TableName() string { return "subject" }
