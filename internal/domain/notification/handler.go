package notification

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/pkg/pagination"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.List)
	api.GET("/notifications/unread-count", h.UnreadCount)
	api.POST("/notifications/:id/read", h.MarkRead)
	api.GET("/notifications/preferences", h.GetPreferences)
	api.PUT("/notifications/preferences", h.UpdatePreferences)
}

func (h *Handler) List(c echo.Context) error {
	page := pagination.FromContext(c)
	unreadOnly := c.QueryParam("unread") == "true"
	items, total, err := h.svc.List(c.Request().Context(), unreadOnly, page.Limit, page.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}

func (h *Handler) UnreadCount(c echo.Context) error {
	n, err := h.svc.UnreadCount(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"unread": n})
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.MarkRead(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) GetPreferences(c echo.Context) error {
	prefs, err := h.svc.GetPreferences(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, prefs)
}

type preferencesRequest struct {
	ScheduleCreated   bool `json:"schedule_created"`
	ScheduleUpdated   bool `json:"schedule_updated"`
	ScheduleCancelled bool `json:"schedule_cancelled"`
	SelfEcho          bool `json:"self_echo"`
	SMSEnabled        bool `json:"sms_enabled"`
}

func (h *Handler) UpdatePreferences(c echo.Context) error {
	var req preferencesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	prefs := &Preferences{
		ScheduleCreated:   req.ScheduleCreated,
		ScheduleUpdated:   req.ScheduleUpdated,
		ScheduleCancelled: req.ScheduleCancelled,
		SelfEcho:          req.SelfEcho,
		SMSEnabled:        req.SMSEnabled,
	}
	if err := h.svc.UpdatePreferences(c.Request().Context(), prefs); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, prefs)
}
