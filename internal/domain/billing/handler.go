package billing

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
)

// CronTokenHeader authenticates the scheduled invoice run.
const CronTokenHeader = "X-Cron-Token"

type Handler struct {
	svc       *Service
	validate  *validator.Validate
	cronToken string
}

func NewHandler(svc *Service, cronToken string) *Handler {
	return &Handler{svc: svc, validate: validator.New(), cronToken: cronToken}
}

// RegisterRoutes mounts the authenticated invoice endpoints on api. The cron
// endpoint bypasses user authentication and is mounted separately on open.
func (h *Handler) RegisterRoutes(api, open *echo.Group) {
	api.GET("/invoices", h.ListInvoices)
	api.GET("/invoices/:id", h.GetInvoice)

	coord := api.Group("", auth.RequireRole(auth.RoleCoordinator))
	coord.POST("/invoices/generate", h.Generate)
	coord.POST("/invoices/generate-monthly", h.GenerateMonthly)

	api.PATCH("/invoices/:id/status", h.SetStatus,
		auth.RequireRole(auth.RoleCoordinator, auth.RoleAdministrative))

	open.POST("/invoices/cron-generate", h.CronGenerate)
}

type generateRequest struct {
	PatientID   uuid.UUID `json:"patient_id" validate:"required"`
	PeriodStart string    `json:"period_start" validate:"required"`
	PeriodEnd   string    `json:"period_end" validate:"required"`
}

func (h *Handler) Generate(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	start, err := time.ParseInLocation("2006-01-02", req.PeriodStart, time.Local)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid period_start")
	}
	end, err := time.ParseInLocation("2006-01-02", req.PeriodEnd, time.Local)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid period_end")
	}

	inv, replayed, err := h.svc.Generate(c.Request().Context(), req.PatientID, start, end)
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	return c.JSON(status, echo.Map{"invoice": inv, "replayed": replayed})
}

func (h *Handler) GenerateMonthly(c echo.Context) error {
	year, month, err := yearMonth(c)
	if err != nil {
		return err
	}
	result, err := h.svc.GenerateMonthly(c.Request().Context(), year, month)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// CronGenerate is the unauthenticated entry point for the scheduler. It
// requires the shared token header; without a configured token the endpoint
// refuses everything.
func (h *Handler) CronGenerate(c echo.Context) error {
	token := c.Request().Header.Get(CronTokenHeader)
	if h.cronToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.cronToken)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid cron token")
	}

	year, month, err := yearMonth(c)
	if err != nil {
		return err
	}
	// The cron caller has no user session; run as the system scheduler.
	ctx := auth.WithActor(c.Request().Context(), auth.SystemActor())
	result, err := h.svc.GenerateMonthly(ctx, year, month)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func yearMonth(c echo.Context) (int, time.Month, error) {
	now := time.Now()
	year, month := now.Year(), now.Month()
	if v := c.QueryParam("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid year")
		}
		year = n
	}
	if v := c.QueryParam("month"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 12 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid month")
		}
		month = time.Month(n)
	}
	return year, month, nil
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inv, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	invoices, err := h.svc.ListForPatient(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"invoices": invoices})
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req setStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.SetStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}
