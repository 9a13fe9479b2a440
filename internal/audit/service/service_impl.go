package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/notifier/internal/audit/domain"
	"github.com/smallbiznis/notifier/internal/audit/masking"
	obscontext "github.com/smallbiznis/notifier/internal/observability/context"
	obslogger "github.com/smallbiznis/notifier/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/notifier/internal/observability/metrics"
	"github.com/smallbiznis/notifier/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    auditdomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    auditdomain.Repository
	metrics *obsmetrics.Metrics
	now     func() time.Time
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("audit.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		metrics: p.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	if entry.OrgID == 0 {
		return auditdomain.ErrInvalidOrganization
	}
	if !entry.Status.Valid() {
		return auditdomain.ErrInvalidStatus
	}
	campaign := strings.TrimSpace(entry.Campaign)
	if campaign == "" {
		return auditdomain.ErrInvalidCampaign
	}
	entityType := strings.TrimSpace(entry.EntityType)
	if entityType == "" {
		entityType = "tenant"
	}

	payload := map[string]any{}
	for key, value := range entry.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if actorType, actorID := obscontext.ActorFromContext(ctx); actorType != "" {
		payload["actor"] = actorType + ":" + actorID
	}

	row := auditdomain.NotificationLog{
		ID:         s.genID.Generate(),
		OrgID:      entry.OrgID,
		EntityType: entityType,
		EntityID:   entry.EntityID,
		Campaign:   campaign,
		Status:     entry.Status,
		Attempt:    entry.Attempt,
		Message:    optionalString(entry.Message),
		Error:      optionalString(entry.Error),
		Metadata:   datatypes.JSONMap(masking.MaskMetadata(payload)),
		RunID:      optionalString(obscontext.RunIDFromContext(ctx)),
		CreatedAt:  s.now(),
	}

	if err := s.repo.Insert(ctx, s.db, &row); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("failed to write notification log",
			zap.String("campaign", campaign),
			zap.String("status", string(entry.Status)),
			zap.Error(err),
		)
		s.metrics.RecordAuditFailure(ctx, string(entry.Status))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	if req.OrgID == 0 {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidOrganization
	}
	if req.Status != "" && !req.Status.Valid() {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidStatus
	}

	decoded, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
	}
	var cursor *auditdomain.Cursor
	if decoded != nil {
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.Cursor{ID: id, CreatedAt: decoded.CreatedAt}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		OrgID:    req.OrgID,
		EntityID: req.EntityID,
		Campaign: req.Campaign,
		Status:   req.Status,
		RunID:    req.RunID,
		Cursor:   cursor,
		Limit:    limit,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	items, pageInfo, err := pagination.Page(items, limit, func(item *auditdomain.NotificationLog) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String(), CreatedAt: item.CreatedAt.UTC()}
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	logs := make([]auditdomain.NotificationLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}
	return auditdomain.ListResponse{PageInfo: pageInfo, Logs: logs}, nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
