package identity

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/pagination"
)

type Handler struct {
	svc      *Service
	guard    *auth.Guard
	validate *validator.Validate
}

func NewHandler(svc *Service, guard *auth.Guard) *Handler {
	return &Handler{svc: svc, guard: guard, validate: validator.New()}
}

// RegisterRoutes mounts the identity endpoints. Activation runs before the
// user has a session and is mounted on the unauthenticated open group.
func (h *Handler) RegisterRoutes(api, open *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleCoordinator, auth.RoleAdministrative))
	staff.POST("/users", h.CreateUser)
	staff.GET("/users", h.ListUsers)
	staff.GET("/users/:id", h.GetUser)
	staff.POST("/users/:id/anonymize", h.AnonymizeUser)
	staff.POST("/patients", h.CreatePatient)
	staff.GET("/patients", h.ListPatients)
	staff.PATCH("/patients/:id/rate", h.SetHourlyRate)
	staff.POST("/family-links", h.LinkFamily)
	staff.DELETE("/family-links/:id", h.UnlinkFamily)
	staff.POST("/providers", h.CreateProvider)
	staff.GET("/providers", h.ListProviders)
	staff.GET("/providers/:id", h.GetProvider)

	open.POST("/users/activate", h.ActivateUser)

	api.GET("/patients/:id", h.GetPatient)
	api.GET("/family-links", h.ListOwnFamilyLinks)
}

type createUserRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	FirstName string  `json:"first_name" validate:"required"`
	LastName  string  `json:"last_name" validate:"required"`
	Phone     *string `json:"phone"`
	Role      string  `json:"role" validate:"required,oneof=patient family_patient provider coordinator administrative social_assistant administrator"`
}

func (h *Handler) CreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u := &User{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Role:      req.Role,
	}
	if err := h.svc.CreateUser(c.Request().Context(), u); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListUsers(c echo.Context) error {
	p := pagination.FromContext(c)
	users, total, err := h.svc.ListUsers(c.Request().Context(), c.QueryParam("role"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, p.Limit, p.Offset))
}

func (h *Handler) ActivateUser(c echo.Context) error {
	var req struct {
		Token string `json:"token" validate:"required"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.ActivateUser(c.Request().Context(), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) AnonymizeUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Anonymize(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type createPatientRequest struct {
	UserID           uuid.UUID `json:"user_id" validate:"required"`
	Gender           *string   `json:"gender"`
	BloodType        *string   `json:"blood_type"`
	EmergencyContact *string   `json:"emergency_contact"`
	AutonomyScore    *int      `json:"autonomy_score"`
	IllnessNotes     *string   `json:"illness_notes"`
	DoctorName       *string   `json:"doctor_name"`
	DoctorPhone      *string   `json:"doctor_phone"`
	HourlyRate       *string   `json:"hourly_rate"`
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req createPatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := &Patient{
		UserID:           req.UserID,
		Gender:           req.Gender,
		BloodType:        req.BloodType,
		EmergencyContact: req.EmergencyContact,
		AutonomyScore:    req.AutonomyScore,
		IllnessNotes:     req.IllnessNotes,
		DoctorName:       req.DoctorName,
		DoctorPhone:      req.DoctorPhone,
	}
	if req.HourlyRate != nil {
		rate, err := decimal.NewFromString(*req.HourlyRate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid hourly_rate")
		}
		p.HourlyRate = &rate
	}
	if err := h.svc.CreatePatient(c.Request().Context(), p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)
	if err := h.guard.Can(ctx, actor, auth.VerbView, auth.Resource{
		Kind: auth.ResourcePatientRecord, PatientID: id,
	}); err != nil {
		return err
	}
	p, err := h.svc.GetPatient(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) SetHourlyRate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		HourlyRate string `json:"hourly_rate" validate:"required"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rate, err := decimal.NewFromString(req.HourlyRate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid hourly_rate")
	}
	p, err := h.svc.SetHourlyRate(c.Request().Context(), id, rate)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

type linkFamilyRequest struct {
	UserID    uuid.UUID `json:"user_id" validate:"required"`
	PatientID uuid.UUID `json:"patient_id" validate:"required"`
	Link      string    `json:"link" validate:"required"`
}

func (h *Handler) LinkFamily(c echo.Context) error {
	var req linkFamilyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	fp := &FamilyPatient{UserID: req.UserID, PatientID: req.PatientID, Link: req.Link}
	if err := h.svc.LinkFamily(c.Request().Context(), fp); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, fp)
}

func (h *Handler) UnlinkFamily(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.UnlinkFamily(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListOwnFamilyLinks(c echo.Context) error {
	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)
	links, err := h.svc.FamilyLinksForUser(ctx, actor.UserID)
	if err != nil {
		return err
	}
	if links == nil {
		links = []*FamilyPatient{}
	}
	return c.JSON(http.StatusOK, links)
}

type createProviderRequest struct {
	UserID           uuid.UUID  `json:"user_id" validate:"required"`
	DefaultServiceID *uuid.UUID `json:"default_service_id"`
	IsInternal       bool       `json:"is_internal"`
}

func (h *Handler) CreateProvider(c echo.Context) error {
	var req createProviderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := &Provider{UserID: req.UserID, DefaultServiceID: req.DefaultServiceID, IsInternal: req.IsInternal}
	if err := h.svc.CreateProvider(c.Request().Context(), p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProvider(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetProvider(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProviders(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListProviders(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}
