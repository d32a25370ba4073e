// Package httputil holds request helpers shared by the HTTP handlers.
package httputil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/weekplan/internal/domain/plan"
	"github.com/ehr/weekplan/internal/platform/apperr"
)

// SetVersion writes the weak ETag for a versioned document.
func SetVersion(c echo.Context, version int) {
	c.Response().Header().Set("ETag", FormatETag(version))
}

func FormatETag(version int) string {
	return fmt.Sprintf(`W/"%d"`, version)
}

// ParseETag accepts W/"3", "3" or 3.
func ParseETag(etag string) (int, error) {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	v, err := strconv.Atoi(etag)
	if err != nil {
		return 0, fmt.Errorf("ETag must contain a numeric version: %s", etag)
	}
	return v, nil
}

// RequiredVersion reads the expected version from the "version" query
// parameter, falling back to If-Match.
func RequiredVersion(c echo.Context) (int, error) {
	if raw := c.QueryParam("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return 0, apperr.BadRequest("invalid version %q", raw)
		}
		return v, nil
	}
	if raw := c.Request().Header.Get("If-Match"); raw != "" {
		v, err := ParseETag(raw)
		if err != nil {
			return 0, apperr.BadRequest("invalid If-Match header: %v", err)
		}
		return v, nil
	}
	return 0, apperr.BadRequest("version is required")
}

func PathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid id")
	}
	return id, nil
}

// QueryUUID returns nil when the parameter is absent.
func QueryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.BadRequest("invalid %s", name)
	}
	return &id, nil
}

// QueryDate returns nil when the parameter is absent.
func QueryDate(c echo.Context, name string) (*plan.Date, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := plan.ParseDate(raw)
	if err != nil {
		return nil, apperr.BadRequest("invalid %s: %v", name, err)
	}
	return &d, nil
}

// Bind decodes the request body and reports decode failures as BAD_REQUEST.
func Bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		if he, ok := err.(*echo.HTTPError); ok {
			return apperr.BadRequest("invalid request body: %v", he.Message)
		}
		return apperr.BadRequest("invalid request body: %v", err)
	}
	return nil
}
