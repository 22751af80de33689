package careorders

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/pagination"
)

type Handler struct {
	svc      *CareService
	validate *validator.Validate
}

func NewHandler(svc *CareService) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/services", h.ListServices)
	api.GET("/services/:id", h.GetService)

	staff := api.Group("", auth.RequireRole(auth.RoleCoordinator, auth.RoleAdministrative))
	staff.POST("/services", h.CreateService)
	staff.POST("/prescriptions", h.CreatePrescription)
	staff.PATCH("/prescriptions/:id", h.ReviewPrescription)
	staff.PATCH("/demands/:id", h.UpdateDemand)

	api.GET("/prescriptions", h.ListPrescriptions)
	api.POST("/demands", h.CreateDemand,
		auth.RequireRole(auth.RolePatient, auth.RoleFamilyPatient, auth.RoleCoordinator,
			auth.RoleAdministrative, auth.RoleSocialAssistant))
	api.GET("/demands", h.ListDemands)
	api.GET("/demands/:id", h.GetDemand)
}

type createServiceRequest struct {
	Name        string  `json:"name" validate:"required"`
	Price       string  `json:"price" validate:"required"`
	Description *string `json:"description"`
}

func (h *Handler) CreateService(c echo.Context) error {
	var req createServiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid price")
	}
	svc := &Service{Name: req.Name, Price: price, Description: req.Description}
	if err := h.svc.CreateService(c.Request().Context(), svc); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, svc)
}

func (h *Handler) GetService(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	svc, err := h.svc.GetService(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, svc)
}

func (h *Handler) ListServices(c echo.Context) error {
	items, err := h.svc.ListServices(c.Request().Context())
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Service{}
	}
	return c.JSON(http.StatusOK, items)
}

type createPrescriptionRequest struct {
	PatientID        uuid.UUID  `json:"patient_id" validate:"required"`
	ServiceID        uuid.UUID  `json:"service_id" validate:"required"`
	StartDate        string     `json:"start_date" validate:"required"`
	EndDate          *string    `json:"end_date"`
	FrequencyPerWeek int        `json:"frequency_per_week" validate:"required,min=1"`
	Medication       *string    `json:"medication"`
	Instructions     *string    `json:"instructions"`
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	var req createPrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start_date")
	}
	p := &Prescription{
		PatientID:        req.PatientID,
		ServiceID:        req.ServiceID,
		StartDate:        start,
		FrequencyPerWeek: req.FrequencyPerWeek,
		Medication:       req.Medication,
		Instructions:     req.Instructions,
	}
	if req.EndDate != nil {
		end, err := time.Parse("2006-01-02", *req.EndDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid end_date")
		}
		p.EndDate = &end
	}
	if err := h.svc.CreatePrescription(c.Request().Context(), p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ReviewPrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.ReviewPrescription(c.Request().Context(), id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	items, err := h.svc.ListPrescriptions(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Prescription{}
	}
	return c.JSON(http.StatusOK, items)
}

type createDemandRequest struct {
	PatientID          uuid.UUID  `json:"patient_id" validate:"required"`
	ServiceID          uuid.UUID  `json:"service_id" validate:"required"`
	Title              string     `json:"title" validate:"required"`
	Description        *string    `json:"description"`
	Reason             *string    `json:"reason"`
	Priority           string     `json:"priority"`
	PreferredStartDate *string    `json:"preferred_start_date"`
	Frequency          *string    `json:"frequency"`
	DurationWeeks      *int       `json:"duration_weeks"`
}

func (h *Handler) CreateDemand(c echo.Context) error {
	var req createDemandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d := &ServiceDemand{
		PatientID:     req.PatientID,
		ServiceID:     req.ServiceID,
		Title:         req.Title,
		Description:   req.Description,
		Reason:        req.Reason,
		Priority:      req.Priority,
		Frequency:     req.Frequency,
		DurationWeeks: req.DurationWeeks,
	}
	if req.PreferredStartDate != nil {
		start, err := time.Parse("2006-01-02", *req.PreferredStartDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid preferred_start_date")
		}
		d.PreferredStartDate = &start
	}
	if err := h.svc.CreateDemand(c.Request().Context(), d); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDemand(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDemand(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDemands(c echo.Context) error {
	var f DemandFilter
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	f.Status = c.QueryParam("status")

	p := pagination.FromContext(c)
	items, total, err := h.svc.ListDemands(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*ServiceDemand{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

type updateDemandRequest struct {
	Status             *string    `json:"status"`
	AssignedProviderID *uuid.UUID `json:"assigned_provider_id"`
	Priority           *string    `json:"priority"`
}

func (h *Handler) UpdateDemand(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateDemandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.UpdateDemand(c.Request().Context(), id, DemandUpdate{
		Status:             req.Status,
		AssignedProviderID: req.AssignedProviderID,
		Priority:           req.Priority,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}
