package types

import (
	"time"

	"github.com/google/uuid"
)

// BackupRecord is the manifest written once per completed batch backup.
type BackupRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BatchNumber  int       `gorm:"column:batch_number;not null;index" json:"batch_number"`
	UsersCount   int       `gorm:"column:users_count;not null;default:0" json:"users_count"`
	ImagesCount  int       `gorm:"column:images_count;not null;default:0" json:"images_count"`
	BackupFolder string    `gorm:"column:backup_folder;not null" json:"backup_folder"`
	ModelVersion string    `gorm:"column:model_version" json:"model_version"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

func (BackupRecord) TableName() string { return "backup_record" }
