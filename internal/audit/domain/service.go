package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/notifier/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListRequest struct {
	pagination.Pagination
	OrgID    snowflake.ID
	EntityID *snowflake.ID
	Campaign string
	Status   Status
	RunID    string
}

type ListResponse struct {
	pagination.PageInfo
	Logs []NotificationLog `json:"logs"`
}

// Service records notification events. Record failures are logged and
// returned, but callers are free to ignore them.
type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *NotificationLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*NotificationLog, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidCampaign     = errors.New("invalid_campaign")
)
