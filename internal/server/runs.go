package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TriggerRun performs one batch immediately. A run already holding the lock
// makes this one report locked instead of waiting.
func (s *Server) TriggerRun(c *gin.Context) {
	// The batch outlives a client that hangs up.
	ctx := context.WithoutCancel(c.Request.Context())
	summary, err := s.runner.RunOnce(ctx)
	if err != nil && summary.StartedAt.IsZero() {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if summary.Locked {
		status = http.StatusConflict
	}
	body := gin.H{"data": summary}
	if err != nil {
		s.log.Warn("manual run finished with errors", zap.String("run_id", summary.RunID), zap.Error(err))
		body["error"] = err.Error()
	}
	c.JSON(status, body)
}
