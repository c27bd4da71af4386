package models

import "time"

type SyncJobStatus string

const (
	JobStatusPending    SyncJobStatus = "pending"
	JobStatusProcessing SyncJobStatus = "processing"
	JobStatusCompleted  SyncJobStatus = "completed"
	JobStatusFailed     SyncJobStatus = "failed"
)

type SyncJobKind string

const (
	JobKindMailSync        SyncJobKind = "mail_sync"
	JobKindFulfillmentSync SyncJobKind = "fulfillment_sync"
)

// SyncJob is an externally-enqueued request for one sync run. TargetID is a
// mailbox id (mail_sync) or credential id (fulfillment_sync); empty means all
// sources for the user.
type SyncJob struct {
	ID          string        `gorm:"column:id;primaryKey"`
	Kind        SyncJobKind   `gorm:"column:kind"`
	UserID      string        `gorm:"column:user_id;index"`
	TargetID    string        `gorm:"column:target_id"`
	Status      SyncJobStatus `gorm:"column:status;index"`
	Attempts    int           `gorm:"column:attempts"`
	LastError   *string       `gorm:"column:last_error"`
	CreatedAt   time.Time     `gorm:"column:created_at"`
	UpdatedAt   time.Time     `gorm:"column:updated_at"`
	ProcessedAt *time.Time    `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_job"
}
