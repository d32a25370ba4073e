package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/weekplan/internal/platform/auth"
)

// AuditEntry records who changed which schedule or template, and how.
type AuditEntry struct {
	UserID       string
	UserRoles    []string
	TenantID     string
	ResourceType string // schedules, templates
	ResourceID   string
	Action       string // draft, publish, archive, lock, create, clone...
	DryRun       bool
	IPAddress    string
	Path         string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// readOnlyPosts are POST routes that compute a result without changing
// state.
var readOnlyPosts = map[string]bool{
	"validate":      true,
	"preview-slots": true,
}

// Audit logs every state-changing request under /api/v1/ after the handler
// has run, so the entry carries the final status.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditable(req.Method, path) {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c)
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					entry.StatusCode = he.Code
				} else if entry.StatusCode < http.StatusBadRequest {
					entry.StatusCode = http.StatusInternalServerError
				}
			}

			evt := logger.Info()
			if entry.StatusCode >= http.StatusBadRequest {
				evt = logger.Warn()
			}
			evt.
				Str("type", "schedule_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("tenant_id", entry.TenantID).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Bool("dry_run", entry.DryRun).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("schedule_change")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context) AuditEntry {
	req := c.Request()
	ctx := req.Context()
	entry := AuditEntry{
		Timestamp:  time.Now().UTC(),
		Path:       req.URL.Path,
		Method:     req.Method,
		IPAddress:  c.RealIP(),
		StatusCode: c.Response().Status,
		UserID:     auth.UserIDFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
		ResourceID: c.Param("id"),
		DryRun:     c.QueryParam("dry_run") == "true",
	}
	entry.TenantID, _ = c.Get("tenant_id").(string)
	entry.RequestID, _ = c.Get("request_id").(string)
	entry.ResourceType, entry.Action = classify(req.Method, req.URL.Path)
	return entry
}

func isAuditable(method, path string) bool {
	if !strings.HasPrefix(path, "/api/v1/") {
		return false
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	_, action := classify(method, path)
	return !readOnlyPosts[action]
}

// classify splits an API path into its resource collection and the action
// performed on it.
//
//	POST /api/v1/schedules/publish          -> schedules, publish
//	POST /api/v1/schedules/<id>/archive     -> schedules, archive
//	POST /api/v1/templates                  -> templates, create
//	PUT  /api/v1/templates/<id>             -> templates, update
//	POST /api/v1/templates/<id>/clone       -> templates, clone
func classify(method, path string) (resource, action string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", strings.ToLower(method)
	}
	resource = segments[0]
	switch {
	case len(segments) > 2:
		return resource, segments[len(segments)-1]
	case len(segments) == 2 && method == http.MethodPost:
		return resource, segments[1]
	}
	switch method {
	case http.MethodPost:
		return resource, "create"
	case http.MethodPut, http.MethodPatch:
		return resource, "update"
	case http.MethodDelete:
		return resource, "delete"
	}
	return resource, strings.ToLower(method)
}
