package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/notifier/internal/audit/domain"
	"github.com/smallbiznis/notifier/internal/notification/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationErrors carries field-level problems found by a handler.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

func (v *ValidationErrors) Error() string {
	codes := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		codes = append(codes, e.Code)
	}
	return "validation error: " + strings.Join(codes, ",")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{Errors: []FieldError{{Field: field, Code: code, Message: message}}}
}

type errorBody struct {
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// errorRule maps a sentinel to its response. The first match wins.
type errorRule struct {
	target  error
	status  int
	typ     string
	message string
}

// validationSentinels are service errors whose code names the bad field.
var validationSentinels = []error{
	ErrInvalidRequest,
	auditdomain.ErrInvalidOrganization,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidStatus,
	auditdomain.ErrInvalidCampaign,
	domain.ErrUnknownCampaign,
}

var errorRules = []errorRule{
	{domain.ErrTenantNotFound, http.StatusNotFound, "not_found", "not found"},
	{gorm.ErrRecordNotFound, http.StatusNotFound, "not_found", "not found"},
	{domain.ErrMissingBaseURL, http.StatusServiceUnavailable, "misconfigured", "APP_BASE_URL is not configured"},
	{ErrServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable", "service unavailable"},
}

// ErrorHandlingMiddleware renders the last handler error as JSON unless the
// handler already wrote a response.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Written() {
			return
		}
		last := c.Errors.Last()
		if last == nil {
			return
		}
		status, body := mapError(last.Err)
		c.AbortWithStatusJSON(status, gin.H{"error": body})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorBody) {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, errorBody{Type: "validation_error", Message: "validation error", Errors: vErr.Errors}
	}
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			code := sentinel.Error()
			return http.StatusBadRequest, errorBody{
				Type:    "validation_error",
				Message: "validation error",
				Errors:  []FieldError{{Field: fieldForCode(code), Code: code, Message: "invalid value"}},
			}
		}
	}
	for _, rule := range errorRules {
		if errors.Is(err, rule.target) {
			return rule.status, errorBody{Type: rule.typ, Message: rule.message}
		}
	}
	return http.StatusInternalServerError, errorBody{Type: "internal_error", Message: "internal server error"}
}

// classifyErrorForLog gives the request logger the type and code the client saw.
func classifyErrorForLog(err error) (string, string) {
	_, body := mapError(err)
	if len(body.Errors) > 0 {
		return body.Type, body.Errors[0].Code
	}
	return body.Type, body.Type
}

func fieldForCode(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "unknown_campaign":
		return "campaign"
	case "invalid_organization":
		return "org_id"
	}
	return strings.TrimPrefix(code, "invalid_")
}
