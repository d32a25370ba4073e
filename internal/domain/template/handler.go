package template

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/weekplan/internal/platform/apperr"
	"github.com/ehr/weekplan/internal/platform/auth"
	"github.com/ehr/weekplan/internal/platform/httputil"
	"github.com/ehr/weekplan/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleScheduler, auth.RolePhysician, auth.RoleRegistrar))
	readGroup.GET("/templates", h.SearchTemplates)
	readGroup.GET("/templates/:id", h.GetTemplate)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleScheduler))
	writeGroup.POST("/templates", h.CreateTemplate)
	writeGroup.PUT("/templates/:id", h.UpdateTemplate)
	writeGroup.POST("/templates/:id/clone", h.CloneTemplate)
}

func (h *Handler) SearchTemplates(c echo.Context) error {
	pg := pagination.FromContext(c)
	var params SearchParams
	if raw := c.QueryParam("scope"); raw != "" {
		scope := Scope(raw)
		if scope != ScopeGlobal && scope != ScopeDepartment && scope != ScopeDoctor {
			return apperr.BadRequest("invalid scope %q", raw)
		}
		params.Scope = &scope
	}
	ownerID, err := httputil.QueryUUID(c, "owner_id")
	if err != nil {
		return err
	}
	params.OwnerID = ownerID
	if raw := c.QueryParam("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return apperr.BadRequest("invalid active %q", raw)
		}
		params.Active = &active
	}
	params.Name = c.QueryParam("name")

	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Template{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetTemplate(c echo.Context) error {
	id, err := httputil.PathID(c)
	if err != nil {
		return err
	}
	var version *int
	if raw := c.QueryParam("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return apperr.BadRequest("invalid version %q", raw)
		}
		version = &v
	}
	t, err := h.svc.Snapshot(c.Request().Context(), id, version)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, t.Version)
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CreateTemplate(c echo.Context) error {
	var req CreateRequest
	if err := httputil.Bind(c, &req); err != nil {
		return err
	}
	t, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, t.Version)
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) UpdateTemplate(c echo.Context) error {
	id, err := httputil.PathID(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := httputil.Bind(c, &req); err != nil {
		return err
	}
	if req.Version == 0 {
		if req.Version, err = httputil.RequiredVersion(c); err != nil {
			return err
		}
	}
	t, err := h.svc.Update(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, t.Version)
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CloneTemplate(c echo.Context) error {
	id, err := httputil.PathID(c)
	if err != nil {
		return err
	}
	var req CloneRequest
	if err := httputil.Bind(c, &req); err != nil {
		return err
	}
	t, err := h.svc.Clone(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, t.Version)
	return c.JSON(http.StatusCreated, t)
}
