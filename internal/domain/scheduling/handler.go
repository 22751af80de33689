package scheduling

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/schedule/quick", h.CreateOneOff)
	api.POST("/schedule/recurring", h.CreateRecurring)
	api.PATCH("/appointments/:id", h.UpdateTimeSlot)
	api.DELETE("/appointments/:id", h.DeleteAppointment)

	api.GET("/schedule/calendar", h.Calendar,
		auth.RequireRole(auth.RoleCoordinator, auth.RoleAdministrative, auth.RoleSocialAssistant))
	api.GET("/schedule/patient", h.PatientCalendar)
	api.GET("/schedule/family", h.FamilyCalendar, auth.RequireRole(auth.RoleFamilyPatient))
	api.GET("/schedule/provider", h.ProviderCalendar, auth.RequireRole(auth.RoleProvider))
}

type quickScheduleRequest struct {
	ProviderID     uuid.UUID  `json:"provider_id" validate:"required"`
	PatientID      uuid.UUID  `json:"patient_id" validate:"required"`
	Date           string     `json:"date" validate:"required"`
	StartTime      string     `json:"start_time" validate:"required"`
	EndTime        string     `json:"end_time" validate:"required"`
	ServiceID      *uuid.UUID `json:"service_id"`
	Description    *string    `json:"description"`
	PrescriptionID *uuid.UUID `json:"prescription_id"`
}

func (h *Handler) CreateOneOff(c echo.Context) error {
	var req quickScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date")
	}
	start, err := ParseTimeOfDay(req.StartTime)
	if err != nil {
		return err
	}
	end, err := ParseTimeOfDay(req.EndTime)
	if err != nil {
		return err
	}

	slot, err := h.svc.CreateOneOff(c.Request().Context(), OneOffRequest{
		ProviderID:     req.ProviderID,
		PatientID:      req.PatientID,
		Date:           date,
		StartTime:      start,
		EndTime:        end,
		ServiceID:      req.ServiceID,
		PrescriptionID: req.PrescriptionID,
		Description:    req.Description,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, slot)
}

type recurringScheduleRequest struct {
	ProviderID     uuid.UUID  `json:"provider_id" validate:"required"`
	PatientID      uuid.UUID  `json:"patient_id" validate:"required"`
	Weekdays       []int      `json:"weekdays" validate:"required,min=1"`
	StartDate      string     `json:"start_date" validate:"required"`
	EndDate        string     `json:"end_date" validate:"required"`
	StartTime      string     `json:"start_time" validate:"required"`
	EndTime        string     `json:"end_time" validate:"required"`
	ServiceID      *uuid.UUID `json:"service_id"`
	PrescriptionID *uuid.UUID `json:"prescription_id"`
}

func (h *Handler) CreateRecurring(c echo.Context) error {
	var req recurringScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start_date")
	}
	endDate, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid end_date")
	}
	start, err := ParseTimeOfDay(req.StartTime)
	if err != nil {
		return err
	}
	end, err := ParseTimeOfDay(req.EndTime)
	if err != nil {
		return err
	}

	result, err := h.svc.CreateRecurring(c.Request().Context(), RecurringRequest{
		ProviderID:     req.ProviderID,
		PatientID:      req.PatientID,
		Weekdays:       req.Weekdays,
		StartDate:      startDate,
		EndDate:        endDate,
		StartTime:      start,
		EndTime:        end,
		ServiceID:      req.ServiceID,
		PrescriptionID: req.PrescriptionID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

type updateSlotRequest struct {
	Date           *string    `json:"date"`
	StartTime      *string    `json:"start_time"`
	EndTime        *string    `json:"end_time"`
	Status         *string    `json:"status"`
	Description    *string    `json:"description"`
	ServiceID      *uuid.UUID `json:"service_id"`
	PrescriptionID *uuid.UUID `json:"prescription_id"`
}

func (h *Handler) UpdateTimeSlot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateSlotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	patch := SlotPatch{
		Status:         req.Status,
		Description:    req.Description,
		ServiceID:      req.ServiceID,
		PrescriptionID: req.PrescriptionID,
	}
	if req.Date != nil {
		date, err := time.Parse("2006-01-02", *req.Date)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date")
		}
		patch.Date = &date
	}
	if req.StartTime != nil {
		start, err := ParseTimeOfDay(*req.StartTime)
		if err != nil {
			return err
		}
		patch.StartTime = &start
	}
	if req.EndTime != nil {
		end, err := ParseTimeOfDay(*req.EndTime)
		if err != nil {
			return err
		}
		patch.EndTime = &end
	}

	slot, err := h.svc.UpdateTimeSlot(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	strategy := c.QueryParam("strategy")
	reason := c.QueryParam("reason")
	if err := h.svc.DeleteAppointment(c.Request().Context(), id, strategy, reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func dateRange(c echo.Context) (time.Time, time.Time, error) {
	now := time.Now()
	from := DateOnly(now)
	to := from.AddDate(0, 1, 0)

	if v := c.QueryParam("start_date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, echo.NewHTTPError(http.StatusBadRequest, "invalid start_date")
		}
		from = parsed
	}
	if v := c.QueryParam("end_date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, echo.NewHTTPError(http.StatusBadRequest, "invalid end_date")
		}
		to = parsed
	}

	switch c.QueryParam("view") {
	case "day":
		to = from
	case "week":
		to = from.AddDate(0, 0, 6)
	case "month":
		to = from.AddDate(0, 1, -1)
	}
	return from, to, nil
}

func (h *Handler) Calendar(c echo.Context) error {
	from, to, err := dateRange(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Calendar(c.Request().Context(), from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"calendar_data": items})
}

func (h *Handler) PatientCalendar(c echo.Context) error {
	from, to, err := dateRange(c)
	if err != nil {
		return err
	}
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	items, err := h.svc.PatientCalendar(c.Request().Context(), patientID, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"calendar_data": items})
}

func (h *Handler) FamilyCalendar(c echo.Context) error {
	from, to, err := dateRange(c)
	if err != nil {
		return err
	}
	var patientID *uuid.UUID
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = &id
	}
	view, err := h.svc.FamilyCalendar(c.Request().Context(), patientID, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) ProviderCalendar(c echo.Context) error {
	from, to, err := dateRange(c)
	if err != nil {
		return err
	}
	providerID, err := uuid.Parse(c.QueryParam("provider_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "provider_id is required")
	}
	items, err := h.svc.ProviderCalendar(c.Request().Context(), providerID, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"calendar_data": items})
}
