package types

import "time"

const (
	CounterBatchSize           = "batch_size"
	CounterCurrentBatchNumber  = "current_batch_number"
	CounterUsersInCurrentBatch = "users_in_current_batch"
)

// SystemCounter holds the named batch counters. They are denormalized copies
// of the current BatchTracking row so the status endpoint can read them
// without scanning batches; both are written inside the same transaction.
type SystemCounter struct {
	Name      string    `gorm:"column:name;primaryKey" json:"name"`
	Value     int       `gorm:"column:value;not null;default:0" json:"value"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (SystemCounter) TableName() string { return "system_counter" }
