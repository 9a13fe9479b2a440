package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusAttempted Status = "attempted"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusAttempted, StatusSuccess, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Entry is one notification event as reported by the scheduler.
// EntityID is nil for tenant-level events.
type Entry struct {
	OrgID      snowflake.ID
	EntityType string
	EntityID   *snowflake.ID
	Campaign   string
	Status     Status
	Attempt    int
	Message    string
	Error      string
	Metadata   map[string]any
}

// NotificationLog is an append-only row of notification_logs.
type NotificationLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID      snowflake.ID      `json:"org_id"`
	EntityType string            `json:"entity_type"`
	EntityID   *snowflake.ID     `json:"entity_id,omitempty"`
	Campaign   string            `json:"campaign"`
	Status     Status            `json:"status"`
	Attempt    int               `json:"attempt"`
	Message    *string           `json:"message,omitempty"`
	Error      *string           `json:"error,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	RunID      *string           `json:"run_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (NotificationLog) TableName() string {
	return "notification_logs"
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	OrgID    snowflake.ID
	EntityID *snowflake.ID
	Campaign string
	Status   Status
	RunID    string
	Cursor   *Cursor
	Limit    int
}
