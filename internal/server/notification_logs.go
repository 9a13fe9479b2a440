package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/notifier/internal/audit/domain"
	"github.com/smallbiznis/notifier/pkg/db/pagination"
)

type listNotificationLogsQuery struct {
	OrgID     string `form:"org_id"`
	EntityID  string `form:"entity_id"`
	Campaign  string `form:"campaign"`
	Status    string `form:"status"`
	RunID     string `form:"run_id"`
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

func (s *Server) ListNotificationLogs(c *gin.Context) {
	var query listNotificationLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	orgID, err := parseOptionalSnowflakeID(query.OrgID)
	if err != nil || orgID == nil {
		AbortWithError(c, newValidationError("org_id", "invalid_org_id", "org_id is required"))
		return
	}
	entityID, err := parseOptionalSnowflakeID(query.EntityID)
	if err != nil {
		AbortWithError(c, newValidationError("entity_id", "invalid_entity_id", "invalid entity_id"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		OrgID:    *orgID,
		EntityID: entityID,
		Campaign: strings.TrimSpace(query.Campaign),
		Status:   auditdomain.Status(strings.TrimSpace(query.Status)),
		RunID:    strings.TrimSpace(query.RunID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Logs, "page_info": resp.PageInfo})
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed == 0 {
		return nil, errors.New("invalid_snowflake_id")
	}
	return &parsed, nil
}
