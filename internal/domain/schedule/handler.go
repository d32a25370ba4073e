package schedule

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/weekplan/internal/domain/plan"
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
	readGroup.GET("/schedules/bootstrap", h.Bootstrap)
	readGroup.GET("/schedules/search", h.SearchSchedules)
	readGroup.GET("/schedules/:id", h.GetSchedule)
	readGroup.GET("/schedules/:id/version", h.GetVersion)
	readGroup.POST("/schedules/validate", h.ValidatePlan)
	readGroup.POST("/schedules/preview-slots", h.PreviewSlots)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleScheduler))
	writeGroup.POST("/schedules/draft", h.SaveDraft)
	writeGroup.POST("/schedules/apply-template", h.ApplyTemplate)
	writeGroup.POST("/schedules/publish", h.Publish)
	writeGroup.POST("/schedules/copy", h.CopyWeek)
	writeGroup.POST("/schedules/copy-last-week", h.CopyLastWeek)
	writeGroup.POST("/schedules/:id/archive", h.Archive)
	writeGroup.POST("/schedules/:id/lock", h.Lock)
	writeGroup.POST("/schedules/:id/unlock", h.Unlock)
}

func (h *Handler) Bootstrap(c echo.Context) error {
	doctorID, err := httputil.QueryUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	week, err := httputil.QueryDate(c, "week_start")
	if err != nil {
		return err
	}
	resp, err := h.svc.Bootstrap(c.Request().Context(), doctorID, week)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ValidatePlan(c echo.Context) error {
	var req PlanRequest
	if err := httputil.Bind(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.Validate(c.Request().Context(), req))
}

func (h *Handler) PreviewSlots(c echo.Context) error {
	var req PlanRequest
	if err := httputil.Bind(c, &req); err != nil {
		return err
	}
	proj, err := h.svc.Preview(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, proj)
}

func (h *Handler) SaveDraft(c echo.Context) error {
	var req PlanRequest
	if err := httputil.Bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.SaveDraft(c.Request().Context(), req)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, res.Version)
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ApplyTemplate(c echo.Context) error {
	var req ApplyTemplateRequest
	if err := httputil.Bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.ApplyTemplate(c.Request().Context(), req)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, res.Version)
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Publish(c echo.Context) error {
	var req PublishRequest
	if err := httputil.Bind(c, &req); err != nil {
		return err
	}
	if req.Version == 0 {
		v, err := httputil.RequiredVersion(c)
		if err != nil {
			return err
		}
		req.Version = v
	}
	res, err := h.svc.Publish(c.Request().Context(), req)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, res.Version)
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CopyWeek(c echo.Context) error {
	var req CopyRequest
	if err := httputil.Bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.CopyWeek(c.Request().Context(), req)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, res.Version)
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CopyLastWeek(c echo.Context) error {
	var req CopyRequest
	if err := httputil.Bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.CopyLastWeek(c.Request().Context(), req)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, res.Version)
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) SearchSchedules(c echo.Context) error {
	pg := pagination.FromContext(c)
	var params SearchParams
	if raw := c.QueryParam("mode"); raw != "" {
		mode := plan.Mode(raw)
		if !mode.Valid() {
			return apperr.BadRequest("invalid mode %q", raw)
		}
		params.Mode = &mode
	}
	doctorID, err := httputil.QueryUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	params.DoctorID = doctorID
	week, err := httputil.QueryDate(c, "week_start")
	if err != nil {
		return err
	}
	params.WeekStartDate = week
	if raw := c.QueryParam("status"); raw != "" {
		status := Status(raw)
		if !status.Valid() {
			return apperr.BadRequest("invalid status %q", raw)
		}
		params.Status = &status
	}

	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Schedule{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := httputil.PathID(c)
	if err != nil {
		return err
	}
	sched, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, sched.Version)
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) GetVersion(c echo.Context) error {
	id, err := httputil.PathID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetVersion(c.Request().Context(), id)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, v)
	return c.JSON(http.StatusOK, map[string]int{"version": v})
}

func (h *Handler) Archive(c echo.Context) error {
	id, err := httputil.PathID(c)
	if err != nil {
		return err
	}
	version, err := httputil.RequiredVersion(c)
	if err != nil {
		return err
	}
	sched, err := h.svc.Archive(c.Request().Context(), id, version)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, sched.Version)
	return c.JSON(http.StatusOK, sched)
}

type lockRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Lock(c echo.Context) error {
	id, err := httputil.PathID(c)
	if err != nil {
		return err
	}
	version, err := httputil.RequiredVersion(c)
	if err != nil {
		return err
	}
	var req lockRequest
	if c.Request().ContentLength > 0 {
		if err := httputil.Bind(c, &req); err != nil {
			return err
		}
	}
	sched, err := h.svc.Lock(c.Request().Context(), id, version, req.Reason)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, sched.Version)
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) Unlock(c echo.Context) error {
	id, err := httputil.PathID(c)
	if err != nil {
		return err
	}
	version, err := httputil.RequiredVersion(c)
	if err != nil {
		return err
	}
	sched, err := h.svc.Unlock(c.Request().Context(), id, version)
	if err != nil {
		return err
	}
	httputil.SetVersion(c, sched.Version)
	return c.JSON(http.StatusOK, sched)
}
